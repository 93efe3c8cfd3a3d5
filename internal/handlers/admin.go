package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"bloglytics/internal/middleware"
	"bloglytics/internal/models"
	"bloglytics/internal/store"
	"bloglytics/internal/utils"

	"github.com/gin-gonic/gin"
)

const (
	adminPageSize       = 20
	adminOverviewLimit  = 5
	moderationListLimit = 50
)

// AdminHandler 后台管理；路由组已挂 AdminRequired
type AdminHandler struct {
	*Deps
}

func NewAdminHandler(d *Deps) *AdminHandler {
	return &AdminHandler{Deps: d}
}

func pageParam(c *gin.Context) int {
	page := utils.StringToInt(c.Query("page"))
	if page < 1 {
		return 1
	}
	return page
}

func (h *AdminHandler) Index(c *gin.Context) {
	ctx := c.Request.Context()
	stats, err := h.Stats.AdminStats(ctx)
	if err != nil {
		h.fail(c, "admin stats", err)
		return
	}
	recent, _, err := h.Blogs.ListForAdmin(ctx, store.AdminPostFilter{Page: store.Page{Number: 1, Size: adminOverviewLimit}})
	if err != nil {
		h.fail(c, "admin recent blogs", err)
		return
	}
	pending, err := h.Comments.ListPending(ctx)
	if err != nil {
		h.fail(c, "admin pending comments", err)
		return
	}
	if len(pending) > adminOverviewLimit {
		pending = pending[:adminOverviewLimit]
	}

	Render(c, http.StatusOK, ViewAdminIndex, gin.H{
		"Title":           "Admin Dashboard",
		"Stats":           stats,
		"RecentBlogs":     recent,
		"PendingComments": pending,
	})
}

func (h *AdminHandler) ListBlogs(c *gin.Context) {
	page := pageParam(c)
	status := c.Query("status")
	if !models.ValidStatus(status) {
		status = ""
	}
	search := strings.TrimSpace(c.Query("search"))

	posts, total, err := h.Blogs.ListForAdmin(c.Request.Context(), store.AdminPostFilter{
		Status: status,
		Search: search,
		Page:   store.Page{Number: page, Size: adminPageSize},
	})
	if err != nil {
		h.fail(c, "admin list blogs", err)
		return
	}
	Render(c, http.StatusOK, ViewAdminBlogs, gin.H{
		"Title":      "Manage Blogs",
		"Posts":      posts,
		"Pagination": utils.NewPagination(page, adminPageSize, total),
		"PageBase":   pageBase("/admin/blogs", url.Values{"status": {status}, "search": {search}}),
		"Status":     status,
		"Search":     search,
		"Statuses":   []string{models.StatusDraft, models.StatusPublished, models.StatusArchived},
	})
}

func (h *AdminHandler) ListUsers(c *gin.Context) {
	page := pageParam(c)
	users, total, err := h.Users.ListForAdmin(c.Request.Context(), store.Page{Number: page, Size: adminPageSize})
	if err != nil {
		h.fail(c, "admin list users", err)
		return
	}
	Render(c, http.StatusOK, ViewAdminUsers, gin.H{
		"Title":      "Manage Users",
		"Users":      users,
		"Pagination": utils.NewPagination(page, adminPageSize, total),
	})
}

func (h *AdminHandler) ListCategories(c *gin.Context) {
	cats, err := h.Categories.ListAll(c.Request.Context())
	if err != nil {
		h.fail(c, "admin list categories", err)
		return
	}
	Render(c, http.StatusOK, ViewAdminCategory, gin.H{
		"Title":      "Manage Categories",
		"Categories": cats,
	})
}

func (h *AdminHandler) ListComments(c *gin.Context) {
	ctx := c.Request.Context()
	pending, err := h.Comments.ListPending(ctx)
	if err != nil {
		h.fail(c, "admin pending comments", err)
		return
	}
	recent, err := h.Comments.ListForModeration(ctx, moderationListLimit)
	if err != nil {
		h.fail(c, "admin recent comments", err)
		return
	}
	Render(c, http.StatusOK, ViewAdminComments, gin.H{
		"Title":           "Manage Comments",
		"PendingComments": pending,
		"RecentComments":  recent,
	})
}

// idParam 解析 :id，失败时直接返回 404 JSON
func idParam(c *gin.Context, notFoundMsg string) (uint, bool) {
	id, ok := utils.ParseID(c.Param("id"))
	if !ok {
		jsonResult(c, http.StatusNotFound, false, notFoundMsg)
	}
	return id, ok
}

func (h *AdminHandler) DeleteBlog(c *gin.Context) {
	id, ok := idParam(c, "Blog not found")
	if !ok {
		return
	}
	post, err := h.Blogs.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			jsonResult(c, http.StatusNotFound, false, "Blog not found")
			return
		}
		h.failJSON(c, "admin get blog", err)
		return
	}
	removeBlog(c, h.Deps, post)
}

func (h *AdminHandler) ChangeBlogStatus(c *gin.Context) {
	id, ok := idParam(c, "Blog not found")
	if !ok {
		return
	}
	var form StatusForm
	if err := c.ShouldBind(&form); err != nil {
		jsonResult(c, http.StatusBadRequest, false, "Invalid status")
		return
	}
	if err := h.Blogs.ChangeStatus(c.Request.Context(), id, form.Status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			jsonResult(c, http.StatusNotFound, false, "Blog not found")
			return
		}
		h.failJSON(c, "change blog status", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Blog status updated", "status": form.Status})
}

// ToggleUserStatus 启用/停用账号，管理员不能停用自己
func (h *AdminHandler) ToggleUserStatus(c *gin.Context) {
	id, ok := idParam(c, "User not found")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if id == middleware.CurrentUser(c).ID {
		jsonResult(c, http.StatusBadRequest, false, "You cannot deactivate your own account")
		return
	}
	target, err := h.Users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			jsonResult(c, http.StatusNotFound, false, "User not found")
			return
		}
		h.failJSON(c, "admin get user", err)
		return
	}
	active := !target.IsActive
	if err := h.Users.SetActive(ctx, id, active); err != nil {
		h.failJSON(c, "set user active", err)
		return
	}
	h.logger().InfoContext(ctx, "user status changed", "user_id", id, "active", active, "by", middleware.CurrentUser(c).ID)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "User status updated", "isActive": active})
}

func (h *AdminHandler) ApproveComment(c *gin.Context) {
	h.moderate(c, "Comment approved", h.Comments.Approve)
}

func (h *AdminHandler) RejectComment(c *gin.Context) {
	h.moderate(c, "Comment rejected", h.Comments.Reject)
}

func (h *AdminHandler) moderate(c *gin.Context, okMsg string, op func(context.Context, uint) error) {
	id, ok := idParam(c, "Comment not found")
	if !ok {
		return
	}
	if err := op(c.Request.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			jsonResult(c, http.StatusNotFound, false, "Comment not found")
			return
		}
		h.failJSON(c, "moderate comment", err)
		return
	}
	jsonResult(c, http.StatusOK, true, okMsg)
}

func (h *AdminHandler) DeleteComment(c *gin.Context) {
	id, ok := idParam(c, "Comment not found")
	if !ok {
		return
	}
	deleted, err := h.Comments.Delete(c.Request.Context(), id)
	if err != nil {
		h.failJSON(c, "delete comment", err)
		return
	}
	if !deleted {
		jsonResult(c, http.StatusNotFound, false, "Comment not found")
		return
	}
	jsonResult(c, http.StatusOK, true, "Comment deleted")
}

func (h *AdminHandler) AddCategory(c *gin.Context) {
	var form CategoryForm
	if err := c.ShouldBind(&form); err != nil || strings.TrimSpace(form.Name) == "" {
		jsonResult(c, http.StatusBadRequest, false, "Category name is required")
		return
	}
	cat := &models.Category{
		Name:        strings.TrimSpace(form.Name),
		Description: strings.TrimSpace(form.Description),
		IsActive:    true,
	}
	if _, err := h.Categories.Create(c.Request.Context(), cat); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			jsonResult(c, http.StatusConflict, false, "Category already exists")
			return
		}
		h.failJSON(c, "create category", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Category added successfully", "id": cat.ID})
}

func (h *AdminHandler) ToggleCategory(c *gin.Context) {
	id, ok := idParam(c, "Category not found")
	if !ok {
		return
	}
	active, err := h.Categories.Toggle(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			jsonResult(c, http.StatusNotFound, false, "Category not found")
			return
		}
		h.failJSON(c, "toggle category", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Category status updated", "isActive": active})
}

// DeleteCategory 有文章引用时拒绝删除
func (h *AdminHandler) DeleteCategory(c *gin.Context) {
	id, ok := idParam(c, "Category not found")
	if !ok {
		return
	}
	err := h.Categories.Delete(c.Request.Context(), id)
	switch {
	case err == nil:
		jsonResult(c, http.StatusOK, true, "Category deleted")
	case errors.Is(err, store.ErrNotFound):
		jsonResult(c, http.StatusNotFound, false, "Category not found")
	case errors.Is(err, store.ErrCategoryInUse):
		jsonResult(c, http.StatusConflict, false, "Cannot delete a category that still has blogs")
	default:
		h.failJSON(c, "delete category", err)
	}
}
