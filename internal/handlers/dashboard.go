package handlers

import (
	"net/http"

	"bloglytics/internal/middleware"

	"github.com/gin-gonic/gin"
)

const dashboardListLimit = 5

type DashboardHandler struct {
	*Deps
}

func NewDashboardHandler(d *Deps) *DashboardHandler {
	return &DashboardHandler{Deps: d}
}

// Index 博主看自己的数据，管理员看全站
func (h *DashboardHandler) Index(c *gin.Context) {
	ctx := c.Request.Context()
	user := middleware.CurrentUser(c)

	var scope *uint
	if !user.IsAdmin() {
		id := user.ID
		scope = &id
	}

	stats, err := h.Stats.DashboardStats(ctx, scope)
	if err != nil {
		h.fail(c, "dashboard stats", err)
		return
	}
	recent, err := h.Blogs.RecentByAuthor(ctx, scope, dashboardListLimit)
	if err != nil {
		h.fail(c, "dashboard recent", err)
		return
	}
	top, err := h.Blogs.TopByViews(ctx, scope, dashboardListLimit)
	if err != nil {
		h.fail(c, "dashboard top", err)
		return
	}
	comments, err := h.Comments.RecentApproved(ctx, scope, dashboardListLimit)
	if err != nil {
		h.fail(c, "dashboard comments", err)
		return
	}

	Render(c, http.StatusOK, ViewDashboard, gin.H{
		"Title":          "Dashboard",
		"Stats":          stats,
		"RecentBlogs":    recent,
		"TopBlogs":       top,
		"RecentComments": comments,
		"GlobalScope":    scope == nil,
	})
}
