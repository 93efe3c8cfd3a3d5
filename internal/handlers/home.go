package handlers

import (
	"net/http"

	"bloglytics/internal/store"
	"bloglytics/internal/utils"

	"github.com/gin-gonic/gin"
)

const (
	homePageSize  = 6
	featuredLimit = 3
	popularLimit  = 5
)

type HomeHandler struct {
	*Deps
}

func NewHomeHandler(d *Deps) *HomeHandler {
	return &HomeHandler{Deps: d}
}

// Index 首页: 热门推荐 + 最新文章 + 最受欢迎 + 分类
func (h *HomeHandler) Index(c *gin.Context) {
	ctx := c.Request.Context()
	page := utils.StringToInt(c.Query("page"))
	if page < 1 {
		page = 1
	}

	featured, err := h.Blogs.Trending(ctx, store.TrendingWindow, featuredLimit)
	if err != nil {
		h.fail(c, "home featured", err)
		return
	}
	posts, total, err := h.Blogs.ListPublished(ctx, store.Page{Number: page, Size: homePageSize})
	if err != nil {
		h.fail(c, "home posts", err)
		return
	}
	popular, err := h.Blogs.Popular(ctx, popularLimit)
	if err != nil {
		h.fail(c, "home popular", err)
		return
	}
	categories, err := h.Categories.ListActive(ctx)
	if err != nil {
		h.fail(c, "home categories", err)
		return
	}

	Render(c, http.StatusOK, ViewHome, gin.H{
		"Title":      "Home",
		"Featured":   featured,
		"Posts":      posts,
		"Popular":    popular,
		"Categories": categories,
		"Pagination": utils.NewPagination(page, homePageSize, total),
		"PageBase":   "/?",
	})
}
