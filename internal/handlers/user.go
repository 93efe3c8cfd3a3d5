package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"bloglytics/internal/middleware"
	"bloglytics/internal/services"
	"bloglytics/internal/store"
	"bloglytics/internal/utils"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

const profilePageSize = 9

type UserHandler struct {
	*Deps
}

func NewUserHandler(d *Deps) *UserHandler {
	return &UserHandler{Deps: d}
}

// Profile 作者主页，只列已发布文章
func (h *UserHandler) Profile(c *gin.Context) {
	id, ok := utils.ParseID(c.Param("id"))
	if !ok {
		RenderError(c, http.StatusNotFound, "Author not found.")
		return
	}
	ctx := c.Request.Context()

	author, err := h.Users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			RenderError(c, http.StatusNotFound, "Author not found.")
			return
		}
		h.fail(c, "get author", err)
		return
	}
	if !author.IsActive {
		RenderError(c, http.StatusNotFound, "Author not found.")
		return
	}

	page := utils.StringToInt(c.Query("page"))
	if page < 1 {
		page = 1
	}
	posts, total, err := h.Blogs.ListPublishedByAuthor(ctx, id, store.Page{Number: page, Size: profilePageSize})
	if err != nil {
		h.fail(c, "author posts", err)
		return
	}
	stats, err := h.Stats.DashboardStats(ctx, &id)
	if err != nil {
		h.fail(c, "author stats", err)
		return
	}

	Render(c, http.StatusOK, ViewUserProfile, gin.H{
		"Title":      author.FullName,
		"Author":     author,
		"Posts":      posts,
		"TotalViews": stats.TotalViews,
		"Pagination": utils.NewPagination(page, profilePageSize, total),
		"PageBase":   fmt.Sprintf("/users/%d?", id),
	})
}

func (h *UserHandler) renderSettings(c *gin.Context, code int, extra gin.H) {
	user := middleware.CurrentUser(c)
	data := gin.H{
		"Title":       "Settings",
		"ProfileForm": ProfileForm{FullName: user.FullName},
	}
	for k, v := range extra {
		data[k] = v
	}
	Render(c, code, ViewSettings, data)
}

func (h *UserHandler) ShowSettings(c *gin.Context) {
	h.renderSettings(c, http.StatusOK, nil)
}

// UpdateProfile 修改显示名称，同时刷新 session 里的名字
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	user := middleware.CurrentUser(c)
	var form ProfileForm
	if err := c.ShouldBind(&form); err != nil {
		h.renderSettings(c, http.StatusBadRequest, gin.H{"ProfileForm": form, "ProfileErrors": fieldErrors(err)})
		return
	}

	ctx := c.Request.Context()
	if err := h.Identity.UpdateProfile(ctx, user.ID, form.FullName); err != nil {
		var ve *services.ValidationError
		if errors.As(err, &ve) {
			h.renderSettings(c, http.StatusBadRequest, gin.H{"ProfileForm": form, "ProfileErrors": fieldErrors(err)})
			return
		}
		h.fail(c, "update profile", err)
		return
	}

	updated, err := h.Users.GetByID(ctx, user.ID)
	if err != nil {
		h.fail(c, "reload user", err)
		return
	}
	session := sessions.Default(c)
	middleware.SetSessionUser(session, updated)
	_ = session.Save()

	redirectWith(c, flashSuccess, "Profile updated.", "/settings")
}

func (h *UserHandler) ChangePassword(c *gin.Context) {
	user := middleware.CurrentUser(c)
	var form PasswordForm
	if err := c.ShouldBind(&form); err != nil {
		h.renderSettings(c, http.StatusBadRequest, gin.H{"PasswordErrors": fieldErrors(err)})
		return
	}

	err := h.Identity.ChangePassword(c.Request.Context(), user.ID, form.CurrentPassword, form.Password)
	var ve *services.ValidationError
	switch {
	case err == nil:
	case errors.Is(err, services.ErrInvalidCredentials):
		h.renderSettings(c, http.StatusBadRequest, gin.H{
			"PasswordErrors": map[string]string{"current_password": "Current password is incorrect."},
		})
		return
	case errors.As(err, &ve):
		h.renderSettings(c, http.StatusBadRequest, gin.H{"PasswordErrors": fieldErrors(err)})
		return
	default:
		h.fail(c, "change password", err)
		return
	}

	redirectWith(c, flashSuccess, "Password changed.", "/settings")
}
