package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bloglytics/internal/models"
	"bloglytics/internal/services"
	"bloglytics/internal/store"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
)

const CheckUserKey = "user"

// session keys
const (
	SessionUserID    = "user_id"
	SessionUserName  = "user_name"
	SessionUserEmail = "user_email"
	SessionUserRole  = "user_role"
	SessionExpiresAt = "auth_expires"
	AuthCookie       = "AuthToken"
	SessionName      = "bloglytics_session"
)

// NewSessionStore returns the cookie store behind the gin session. Cookies
// default to browser-session lifetime; Login widens a single save with
// SessionOptions when remember-me is checked.
func NewSessionStore(secret []byte, secure bool) sessions.Store {
	store := cookie.NewStore(secret)
	store.Options(SessionOptions(0, secure))
	return store
}

func SessionOptions(maxAge int, secure bool) sessions.Options {
	return sessions.Options{
		Path:     "/",
		MaxAge:   maxAge,
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

type UserLoader interface {
	GetByID(ctx context.Context, id uint) (*models.User, error)
}

type TokenParser interface {
	Parse(token string) (*services.Claims, error)
}

// SetSessionUser writes the identity into the gin session.
func SetSessionUser(session sessions.Session, u *models.User) {
	session.Set(SessionUserID, u.ID)
	session.Set(SessionUserName, u.FullName)
	session.Set(SessionUserEmail, u.Email)
	session.Set(SessionUserRole, u.Role)
}

// SetSessionExpiry stores when the login behind the session ends.
func SetSessionExpiry(session sessions.Session, t time.Time) {
	session.Set(SessionExpiresAt, t.Unix())
}

// sessionExpired 没有过期时间的旧 session 也算过期
func sessionExpired(session sessions.Session, now time.Time) bool {
	var exp int64
	switch v := session.Get(SessionExpiresAt).(type) {
	case int64:
		exp = v
	case int:
		exp = int64(v)
	default:
		return true
	}
	return !now.Before(time.Unix(exp, 0))
}

func sessionUserID(session sessions.Session) uint {
	switch v := session.Get(SessionUserID).(type) {
	case uint:
		return v
	case int:
		return uint(v)
	case int64:
		return uint(v)
	}
	return 0
}

// LoadUser resolves the current user from the session, falling back to the
// AuthToken cookie. A session past its login expiry is dropped first, and
// deactivated accounts are logged out.
func LoadUser(users UserLoader, tokens TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		userID := sessionUserID(session)
		if userID != 0 && sessionExpired(session, time.Now()) {
			session.Clear()
			_ = session.Save()
			userID = 0
		}

		var restored *services.Claims
		if userID == 0 {
			if raw, err := c.Cookie(AuthCookie); err == nil && raw != "" {
				if claims, err := tokens.Parse(raw); err == nil {
					if id, err := claims.UserID(); err == nil {
						userID = id
						restored = claims
					}
				}
			}
		}
		if userID == 0 {
			c.Next()
			return
		}

		user, err := users.GetByID(c.Request.Context(), userID)
		if err != nil || !user.IsActive {
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				c.Error(err)
			}
			session.Clear()
			_ = session.Save()
			c.Next()
			return
		}

		if restored != nil {
			SetSessionUser(session, user)
			if restored.ExpiresAt != nil {
				SetSessionExpiry(session, restored.ExpiresAt.Time)
			}
			_ = session.Save()
		}
		c.Set(CheckUserKey, user)
		c.Next()
	}
}

// CurrentUser returns the user set by LoadUser, or nil.
func CurrentUser(c *gin.Context) *models.User {
	if u, ok := c.Get(CheckUserKey); ok {
		if user, ok := u.(*models.User); ok {
			return user
		}
	}
	return nil
}

// WantsJSON is true for AJAX callers.
func WantsJSON(c *gin.Context) bool {
	if c.GetHeader("X-Requested-With") == "XMLHttpRequest" {
		return true
	}
	return strings.Contains(c.GetHeader("Accept"), "application/json")
}

// AuthRequired ensures a user is logged in
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if CurrentUser(c) == nil {
			if WantsJSON(c) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Please login first"})
				return
			}
			c.Redirect(http.StatusFound, "/login?returnUrl="+url.QueryEscape(c.Request.URL.RequestURI()))
			c.Abort()
			return
		}
		c.Next()
	}
}

// AdminRequired 页面请求跳回 /dashboard，AJAX 返回 403
func AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user.IsAdmin() {
			c.Next()
			return
		}
		if c.Request.Method == http.MethodGet && !WantsJSON(c) {
			if user == nil {
				c.Redirect(http.StatusFound, "/login")
				c.Abort()
				return
			}
			session := sessions.Default(c)
			session.AddFlash("Access denied. Admin privileges required.", "error")
			_ = session.Save()
			c.Redirect(http.StatusFound, "/dashboard")
			c.Abort()
			return
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "message": "Access denied"})
	}
}
