package handlers

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"bloglytics/internal/config"
	"bloglytics/internal/middleware"
	"bloglytics/internal/services"
	"bloglytics/internal/store"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// 模板名称
const (
	ViewHome           = "home/index.html"
	ViewBlogList       = "blog/list.html"
	ViewBlogTrending   = "blog/trending.html"
	ViewBlogDetail     = "blog/detail.html"
	ViewBlogForm       = "blog/form.html"
	ViewMyBlogs        = "blog/mine.html"
	ViewLogin          = "auth/login.html"
	ViewRegister       = "auth/register.html"
	ViewVerifyOTP      = "auth/verify_otp.html"
	ViewForgotPassword = "auth/forgot_password.html"
	ViewResetPassword  = "auth/reset_password.html"
	ViewDashboard      = "dashboard/index.html"
	ViewUserProfile    = "user/profile.html"
	ViewSettings       = "user/settings.html"
	ViewAdminIndex     = "admin/index.html"
	ViewAdminBlogs     = "admin/blogs.html"
	ViewAdminUsers     = "admin/users.html"
	ViewAdminCategory  = "admin/categories.html"
	ViewAdminComments  = "admin/comments.html"
	ViewError          = "error.html"
)

const (
	flashSuccess = "success"
	flashError   = "error"
)

// Deps bundles what the handlers need. Built once in cmd/server.
type Deps struct {
	Config     config.Config
	Logger     *slog.Logger
	Identity   *services.IdentityService
	Users      *store.UserStore
	Blogs      *store.BlogStore
	Categories *store.CategoryStore
	Comments   *store.CommentStore
	Stats      *store.StatsStore
	Blobs      services.BlobStore
	Captcha    *services.CaptchaService
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// Render helper to inject common variables like 'current user' and flashes
func Render(c *gin.Context, code int, name string, obj gin.H) {
	if obj == nil {
		obj = gin.H{}
	}

	if user := middleware.CurrentUser(c); user != nil {
		obj["CurrentUser"] = user
		obj["IsAdmin"] = user.IsAdmin()
	}
	obj["CurrentPath"] = c.Request.URL.Path

	session := sessions.Default(c)
	if msgs := session.Flashes(flashSuccess); len(msgs) > 0 {
		obj["FlashSuccess"] = msgs
	}
	if msgs := session.Flashes(flashError); len(msgs) > 0 {
		obj["FlashError"] = msgs
	}
	_ = session.Save()

	c.HTML(code, name, obj)
}

// RenderError 简单错误页
func RenderError(c *gin.Context, code int, message string) {
	Render(c, code, ViewError, gin.H{"Title": http.StatusText(code), "Code": code, "Error": message})
}

func addFlash(c *gin.Context, kind, message string) {
	session := sessions.Default(c)
	session.AddFlash(message, kind)
	_ = session.Save()
}

// redirectWith sets a flash and issues a 302.
func redirectWith(c *gin.Context, kind, message, location string) {
	addFlash(c, kind, message)
	c.Redirect(http.StatusFound, location)
}

func jsonResult(c *gin.Context, code int, success bool, message string) {
	c.JSON(code, gin.H{"success": success, "message": message})
}

// fail logs the root cause and shows a generic page.
func (d *Deps) fail(c *gin.Context, op string, err error) {
	d.logger().ErrorContext(c.Request.Context(), op, "error", err, "path", c.Request.URL.Path)
	RenderError(c, http.StatusInternalServerError, "Something went wrong. Please try again later.")
}

func (d *Deps) failJSON(c *gin.Context, op string, err error) {
	d.logger().ErrorContext(c.Request.Context(), op, "error", err, "path", c.Request.URL.Path)
	jsonResult(c, http.StatusInternalServerError, false, "Something went wrong")
}

// pageBase builds "path?k=v&" for pagination links, skipping empty values.
func pageBase(path string, q url.Values) string {
	for k, v := range q {
		if len(v) == 0 || v[0] == "" {
			q.Del(k)
		}
	}
	if len(q) == 0 {
		return path + "?"
	}
	return path + "?" + q.Encode() + "&"
}

// safeReturnURL only accepts local paths.
func safeReturnURL(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return ""
	}
	return raw
}
