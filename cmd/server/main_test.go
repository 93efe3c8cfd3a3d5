package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bloglytics/internal/config"
	"bloglytics/internal/db"
	"bloglytics/internal/handlers"
	"bloglytics/internal/middleware"
	"bloglytics/internal/models"
	"bloglytics/internal/services"
	"bloglytics/internal/store"
	"bloglytics/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadTemplatesRendersViews(t *testing.T) {
	r := loadTemplates(filepath.Join("..", "..", "web", "templates"))

	w := httptest.NewRecorder()
	require.NoError(t, r.Instance(handlers.ViewLogin, gin.H{
		"Title":        "Login",
		"CurrentPath":  "/login",
		"ReturnURL":    "/blogs/mine",
		"Errors":       map[string]string{"email": "Please enter a valid email address."},
		"FlashSuccess": []interface{}{"You have been logged out successfully."},
	}).Render(w))
	body := w.Body.String()
	assert.Contains(t, body, "<title>Login - Bloglytics</title>")
	assert.Contains(t, body, "Please enter a valid email address.")
	assert.Contains(t, body, "You have been logged out successfully.")
	assert.Contains(t, body, `value="/blogs/mine"`)

	w = httptest.NewRecorder()
	require.NoError(t, r.Instance(handlers.ViewError, gin.H{
		"Title":       "Not Found",
		"CurrentPath": "/x",
		"Code":        404,
		"Error":       "<b>gone</b>",
	}).Render(w))
	assert.Contains(t, w.Body.String(), "&lt;b&gt;gone&lt;/b&gt;")
}

func TestLoadTemplatesRendersBlogList(t *testing.T) {
	r := loadTemplates(filepath.Join("..", "..", "web", "templates"))
	now := time.Now()
	posts := []models.BlogPost{{
		ID:          7,
		Title:       "Go tips",
		Content:     "Some *content* here",
		Status:      models.StatusPublished,
		PublishedAt: &now,
		CreatedAt:   now,
		Author:      models.User{FullName: "Ann"},
		Category:    models.Category{Name: "Technology"},
	}}

	w := httptest.NewRecorder()
	require.NoError(t, r.Instance(handlers.ViewBlogList, gin.H{
		"Title":            "All Blogs",
		"CurrentPath":      "/blogs",
		"Posts":            posts,
		"Pagination":       utils.NewPagination(1, 9, 1),
		"PageBase":         "/blogs?",
		"Categories":       []models.Category{{ID: 1, Name: "Technology", IsActive: true}},
		"SelectedCategory": "",
		"Search":           "",
	}).Render(w))
	body := w.Body.String()
	assert.Contains(t, body, "Go tips")
	assert.Contains(t, body, `href="/blogs/7"`)
}

func TestTimeAgo(t *testing.T) {
	now := time.Now()
	assert.Equal(t, "just now", timeAgo(now))
	assert.Equal(t, "1 minute ago", timeAgo(now.Add(-90*time.Second)))
	assert.Equal(t, "3 hours ago", timeAgo(now.Add(-3*time.Hour-time.Minute)))
	assert.Equal(t, "2 days ago", timeAgo(&[]time.Time{now.Add(-49 * time.Hour)}[0]))
	assert.Equal(t, "", timeAgo((*time.Time)(nil)))
	assert.Equal(t, "", timeAgo("nope"))
}

func TestEnsureAdmin(t *testing.T) {
	g, err := db.Open("sqlite", filepath.Join(t.TempDir(), "admin.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(g))
	users := store.NewUserStore(g)
	ctx := context.Background()

	u, created, err := ensureAdmin(ctx, users, "root@example.com", "Root", "secret123")
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, u.IsAdmin())

	_, _, err = ensureAdmin(ctx, users, "short@example.com", "Short", "123")
	assert.Error(t, err)

	blogger := &models.User{Email: "b@example.com", PasswordHash: "x", FullName: "B", Role: models.RoleBlogger}
	_, err = users.Create(ctx, blogger)
	require.NoError(t, err)

	u, created, err = ensureAdmin(ctx, users, "b@example.com", "ignored", "")
	require.NoError(t, err)
	assert.False(t, created)

	got, err := users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, got.Role)
	assert.True(t, got.IsActive)
	assert.Equal(t, "x", got.PasswordHash)
}

func TestRootCommandWiring(t *testing.T) {
	root := newRootCommand()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["migrate"])
	assert.True(t, names["create-admin"])
	assert.NotNil(t, root.Flags().Lookup(templatesDirFlag))
}

func newTestEngine(t *testing.T) (*gin.Engine, *handlers.Deps) {
	t.Helper()
	dir := t.TempDir()
	vars := map[string]string{
		"APP_ENV":      "test",
		"DB_DRIVER":    "sqlite",
		"DATABASE_URL": filepath.Join(dir, "engine.db"),
		"UPLOAD_DIR":   filepath.Join(dir, "uploads"),
	}
	cfg, err := config.LoadFromEnv(func(k string) string { return vars[k] })
	require.NoError(t, err)
	g, err := db.Open(cfg.DBDriver, cfg.DatabaseURL)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(g))

	deps, err := buildDeps(cfg, g, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	r := newEngine(cfg, deps, filepath.Join("..", "..", "web", "templates"), filepath.Join("..", "..", "web", "static"))
	return r, deps
}

func TestEngineCompressesPages(t *testing.T) {
	r, _ := newTestEngine(t)

	req := httptest.NewRequest(http.MethodGet, "/robots.txt", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))

	req = httptest.NewRequest(http.MethodGet, "/robots.txt", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.Contains(t, w.Body.String(), "Sitemap:")
}

func TestEngineSessionCookieFollowsRememberMe(t *testing.T) {
	r, deps := newTestEngine(t)
	hash, err := services.HashPassword("secret123")
	require.NoError(t, err)
	_, err = deps.Users.Create(context.Background(), &models.User{
		Email: "ann@example.com", PasswordHash: hash, FullName: "Ann",
		Role: models.RoleBlogger, IsActive: true, EmailConfirmed: true,
	})
	require.NoError(t, err)

	login := func(form url.Values) map[string]*http.Cookie {
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusFound, w.Code, w.Body.String())
		out := map[string]*http.Cookie{}
		for _, ck := range w.Result().Cookies() {
			out[ck.Name] = ck
		}
		require.Contains(t, out, middleware.SessionName)
		require.Contains(t, out, middleware.AuthCookie)
		return out
	}

	plain := login(url.Values{"email": {"ann@example.com"}, "password": {"secret123"}})
	assert.Zero(t, plain[middleware.SessionName].MaxAge)
	assert.Empty(t, plain[middleware.SessionName].RawExpires)
	assert.Zero(t, plain[middleware.AuthCookie].MaxAge)

	remembered := login(url.Values{"email": {"ann@example.com"}, "password": {"secret123"}, "remember_me": {"true"}})
	assert.Equal(t, 2592000, remembered[middleware.SessionName].MaxAge)
	assert.Equal(t, 2592000, remembered[middleware.AuthCookie].MaxAge)

	// 记住我只作用于登录那一次写入，后续请求仍用浏览器会话 cookie
	req := httptest.NewRequest(http.MethodGet, "/logout", nil)
	req.AddCookie(remembered[middleware.SessionName])
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	for _, ck := range w.Result().Cookies() {
		if ck.Name == middleware.SessionName {
			assert.Zero(t, ck.MaxAge)
		}
	}
}

func TestEngineHidesReplyButtonOnReplies(t *testing.T) {
	r, deps := newTestEngine(t)
	ctx := context.Background()
	u := &models.User{Email: "ann@example.com", PasswordHash: "x", FullName: "Ann", Role: models.RoleBlogger, IsActive: true}
	_, err := deps.Users.Create(ctx, u)
	require.NoError(t, err)
	cat := &models.Category{Name: "Technology", IsActive: true}
	_, err = deps.Categories.Create(ctx, cat)
	require.NoError(t, err)
	post := &models.BlogPost{Title: "Threads", Content: "body", AuthorID: u.ID, CategoryID: cat.ID, Status: models.StatusPublished}
	_, err = deps.Blogs.Create(ctx, post)
	require.NoError(t, err)

	root := &models.Comment{PostID: post.ID, UserID: u.ID, Content: "root", IsApproved: true}
	_, err = deps.Comments.Create(ctx, root)
	require.NoError(t, err)
	reply := &models.Comment{PostID: post.ID, UserID: u.ID, Content: "first reply", ParentCommentID: &root.ID, IsApproved: true}
	_, err = deps.Comments.Create(ctx, reply)
	require.NoError(t, err)
	nested := &models.Comment{PostID: post.ID, UserID: u.ID, Content: "reply to reply", ParentCommentID: &reply.ID, IsApproved: true}
	_, err = deps.Comments.Create(ctx, nested)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/blogs/%d", post.ID), nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "reply to reply")
	assert.Equal(t, 1, strings.Count(body, `js-reply" data-comment-id`))
	assert.Contains(t, body, fmt.Sprintf(`data-comment-id="%d"`, root.ID))
}
