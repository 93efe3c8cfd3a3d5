package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"bloglytics/internal/models"
	"bloglytics/internal/services"
	"bloglytics/internal/store"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUsers map[uint]*models.User

func (f fakeUsers) GetByID(_ context.Context, id uint) (*models.User, error) {
	if u, ok := f[id]; ok {
		return u, nil
	}
	return nil, store.ErrNotFound
}

// fakeTokens 只认识 "valid" 这个 token
type fakeTokens struct {
	exp time.Time
}

func (f fakeTokens) Parse(token string) (*services.Claims, error) {
	if token != "valid" {
		return nil, errors.New("bad token")
	}
	return &services.Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "1",
		ExpiresAt: jwt.NewNumericDate(f.exp),
	}}, nil
}

func newAuthEngine(tokens fakeTokens) *gin.Engine {
	gin.SetMode(gin.TestMode)
	users := fakeUsers{1: {ID: 1, FullName: "Ann", Email: "ann@example.com", Role: models.RoleBlogger, IsActive: true}}

	r := gin.New()
	r.Use(sessions.Sessions(SessionName, NewSessionStore([]byte("test-secret"), false)))
	r.GET("/seed", func(c *gin.Context) {
		session := sessions.Default(c)
		SetSessionUser(session, users[1])
		if raw := c.Query("exp"); raw != "" {
			n, _ := strconv.ParseInt(raw, 10, 64)
			SetSessionExpiry(session, time.Unix(n, 0))
		}
		_ = session.Save()
	})
	r.Use(LoadUser(users, tokens))
	r.GET("/me", func(c *gin.Context) {
		if u := CurrentUser(c); u != nil {
			c.String(http.StatusOK, u.FullName)
			return
		}
		c.String(http.StatusOK, "anonymous")
	})
	return r
}

func serve(r *gin.Engine, path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	var last *http.Cookie
	for _, ck := range w.Result().Cookies() {
		if ck.Name == SessionName {
			last = ck
		}
	}
	require.NotNil(t, last, "no session cookie")
	return last
}

func TestLoadUserHonoursSessionExpiry(t *testing.T) {
	r := newAuthEngine(fakeTokens{exp: time.Now().Add(time.Hour)})

	future := strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10)
	ck := sessionCookie(t, serve(r, "/seed?exp="+future))
	assert.Equal(t, "Ann", serve(r, "/me", ck).Body.String())

	past := strconv.FormatInt(time.Now().Add(-time.Minute).Unix(), 10)
	ck = sessionCookie(t, serve(r, "/seed?exp="+past))
	w := serve(r, "/me", ck)
	assert.Equal(t, "anonymous", w.Body.String())
	// 过期后 session 被清空重写
	cleared := sessionCookie(t, w)
	assert.Equal(t, "anonymous", serve(r, "/me", cleared).Body.String())

	// 没有过期时间的 session 不再被信任
	ck = sessionCookie(t, serve(r, "/seed"))
	assert.Equal(t, "anonymous", serve(r, "/me", ck).Body.String())
}

func TestLoadUserRestoresFromAuthToken(t *testing.T) {
	exp := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	r := newAuthEngine(fakeTokens{exp: exp})

	past := strconv.FormatInt(time.Now().Add(-time.Minute).Unix(), 10)
	stale := sessionCookie(t, serve(r, "/seed?exp="+past))
	token := &http.Cookie{Name: AuthCookie, Value: "valid"}

	w := serve(r, "/me", stale, token)
	assert.Equal(t, "Ann", w.Body.String())

	// 恢复出的 session 带上 token 的过期时间，单独使用也有效
	restored := sessionCookie(t, w)
	assert.Zero(t, restored.MaxAge)
	assert.Equal(t, "Ann", serve(r, "/me", restored).Body.String())

	assert.Equal(t, "anonymous", serve(r, "/me", &http.Cookie{Name: AuthCookie, Value: "forged"}).Body.String())
}

func TestSessionExpired(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	r := gin.New()
	r.Use(sessions.Sessions(SessionName, NewSessionStore([]byte("test-secret"), false)))
	var got []bool
	r.GET("/", func(c *gin.Context) {
		session := sessions.Default(c)
		got = append(got, sessionExpired(session, now))
		SetSessionExpiry(session, now.Add(time.Second))
		got = append(got, sessionExpired(session, now))
		SetSessionExpiry(session, now)
		got = append(got, sessionExpired(session, now))
		session.Set(SessionExpiresAt, int(now.Add(time.Minute).Unix()))
		got = append(got, sessionExpired(session, now))
	})
	serve(r, "/")
	assert.Equal(t, []bool{true, false, true, false}, got)
}
