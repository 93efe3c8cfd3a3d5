package handlers

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"bloglytics/internal/middleware"
	"bloglytics/internal/models"
	"bloglytics/internal/services"
	"bloglytics/internal/store"
	"bloglytics/internal/utils"

	"github.com/gin-gonic/gin"
)

const (
	blogPageSize     = 9
	trendingLimit    = 12
	relatedLimit     = 3
	featuredImageKey = "featured_image"
)

type BlogHandler struct {
	*Deps
}

func NewBlogHandler(d *Deps) *BlogHandler {
	return &BlogHandler{Deps: d}
}

// List 博客列表，支持 ?category= 与 ?search=
func (h *BlogHandler) List(c *gin.Context) {
	ctx := c.Request.Context()
	page := utils.StringToInt(c.Query("page"))
	if page < 1 {
		page = 1
	}
	category := strings.TrimSpace(c.Query("category"))
	search := strings.TrimSpace(c.Query("search"))
	p := store.Page{Number: page, Size: blogPageSize}

	var (
		posts []models.BlogPost
		total int64
		err   error
	)
	switch {
	case search != "":
		posts, total, err = h.Blogs.Search(ctx, search, p)
	case category != "":
		posts, total, err = h.Blogs.ListByCategory(ctx, category, p)
	default:
		posts, total, err = h.Blogs.ListPublished(ctx, p)
	}
	if err != nil {
		h.fail(c, "list blogs", err)
		return
	}

	categories, err := h.Categories.ListActive(ctx)
	if err != nil {
		h.fail(c, "list categories", err)
		return
	}

	title := "All Blogs"
	if search != "" {
		title = fmt.Sprintf("Search: %s", search)
	} else if category != "" {
		title = category
	}
	Render(c, http.StatusOK, ViewBlogList, gin.H{
		"Title":            title,
		"Posts":            posts,
		"Pagination":       utils.NewPagination(page, blogPageSize, total),
		"PageBase":         pageBase("/blogs", url.Values{"category": {category}, "search": {search}}),
		"Categories":       categories,
		"SelectedCategory": category,
		"Search":           search,
	})
}

func (h *BlogHandler) Trending(c *gin.Context) {
	ctx := c.Request.Context()
	posts, err := h.Blogs.Trending(ctx, store.TrendingWindow, trendingLimit)
	if err != nil {
		h.fail(c, "trending blogs", err)
		return
	}
	categories, err := h.Categories.ListActive(ctx)
	if err != nil {
		h.fail(c, "list categories", err)
		return
	}
	Render(c, http.StatusOK, ViewBlogTrending, gin.H{
		"Title":      "Trending",
		"Posts":      posts,
		"Categories": categories,
	})
}

// Detail 文章详情；非发布状态只对作者和管理员可见，且不计浏览量
func (h *BlogHandler) Detail(c *gin.Context) {
	id, ok := utils.ParseID(c.Param("id"))
	if !ok {
		redirectWith(c, flashError, "Blog not found.", "/blogs")
		return
	}
	ctx := c.Request.Context()
	user := middleware.CurrentUser(c)

	post, err := h.Blogs.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			redirectWith(c, flashError, "Blog not found.", "/blogs")
			return
		}
		h.fail(c, "get blog", err)
		return
	}
	if !post.IsPublished() && !user.CanManage(post.AuthorID) {
		redirectWith(c, flashError, "Blog not found.", "/blogs")
		return
	}

	if post.IsPublished() {
		if err := h.Blogs.IncrementView(ctx, post.ID); err != nil {
			h.logger().WarnContext(ctx, "increment view", "post_id", post.ID, "error", err)
		} else {
			post.ViewCount++
		}
	}

	comments, err := h.Comments.ListApprovedForPost(ctx, post.ID)
	if err != nil {
		h.fail(c, "list comments", err)
		return
	}
	related, err := h.Blogs.Related(ctx, post, relatedLimit)
	if err != nil {
		h.fail(c, "related blogs", err)
		return
	}

	hasLiked := false
	if user != nil {
		if hasLiked, err = h.Blogs.HasLiked(ctx, post.ID, user.ID); err != nil {
			h.fail(c, "has liked", err)
			return
		}
	}

	Render(c, http.StatusOK, ViewBlogDetail, gin.H{
		"Title":        post.Title,
		"Post":         post,
		"ContentHTML":  utils.RenderMarkdown(post.Content),
		"Comments":     comments,
		"CommentCount": countComments(comments),
		"RelatedBlogs": related,
		"HasUserLiked": hasLiked,
		"LikeCount":    post.LikeCount,
		"CanEdit":      user.CanManage(post.AuthorID),
		"CanDelete":    user.CanManage(post.AuthorID),
	})
}

func countComments(list []models.Comment) int {
	n := len(list)
	for _, c := range list {
		n += countComments(c.Replies)
	}
	return n
}

// Mine 我的文章
func (h *BlogHandler) Mine(c *gin.Context) {
	user := middleware.CurrentUser(c)
	posts, err := h.Blogs.ListByAuthor(c.Request.Context(), user.ID, 0)
	if err != nil {
		h.fail(c, "list my blogs", err)
		return
	}

	var published, drafts, archived []models.BlogPost
	var views, likes, comments int
	for _, p := range posts {
		switch p.Status {
		case models.StatusPublished:
			published = append(published, p)
		case models.StatusArchived:
			archived = append(archived, p)
		default:
			drafts = append(drafts, p)
		}
		views += p.ViewCount
		likes += p.LikeCount
		comments += p.CommentCount
	}

	Render(c, http.StatusOK, ViewMyBlogs, gin.H{
		"Title":          "My Blogs",
		"PublishedBlogs": published,
		"DraftBlogs":     drafts,
		"ArchivedBlogs":  archived,
		"TotalViews":     views,
		"TotalLikes":     likes,
		"TotalComments":  comments,
	})
}

func (h *BlogHandler) renderForm(c *gin.Context, code int, post *models.BlogPost, form BlogForm, errs map[string]string) {
	categories, err := h.Categories.ListActive(c.Request.Context())
	if err != nil {
		h.fail(c, "list categories", err)
		return
	}
	title, action := "New Blog", "/blogs/new"
	if post != nil {
		title, action = "Edit Blog", fmt.Sprintf("/blogs/%d/edit", post.ID)
	}
	Render(c, code, ViewBlogForm, gin.H{
		"Title":      title,
		"Action":     action,
		"Post":       post,
		"Form":       form,
		"Errors":     errs,
		"Categories": categories,
		"Statuses":   []string{models.StatusDraft, models.StatusPublished, models.StatusArchived},
	})
}

func (h *BlogHandler) ShowCreate(c *gin.Context) {
	h.renderForm(c, http.StatusOK, nil, BlogForm{Status: models.StatusDraft}, nil)
}

// checkCategory 分类必须存在且启用
func (h *BlogHandler) checkCategory(c *gin.Context, id uint) (bool, error) {
	cat, err := h.Categories.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return cat.IsActive, nil
}

// saveUpload stores the optional featured image; "" when no file was sent.
func (h *BlogHandler) saveUpload(c *gin.Context, userID uint) (string, map[string]string, error) {
	header, err := c.FormFile(featuredImageKey)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return "", nil, nil
		}
		return "", nil, err
	}
	var file multipart.File
	if file, err = header.Open(); err != nil {
		return "", nil, err
	}
	defer file.Close()

	path, err := h.Blobs.Save(c.Request.Context(), userID, header.Filename, header.Size, file)
	switch {
	case err == nil:
		return path, nil, nil
	case errors.Is(err, services.ErrUnsupportedImage):
		return "", map[string]string{featuredImageKey: "Only JPG, PNG and GIF images are allowed."}, nil
	case errors.Is(err, services.ErrImageTooLarge):
		return "", map[string]string{featuredImageKey: fmt.Sprintf("Image must be at most %d MB.", h.Config.MaxUploadBytes>>20)}, nil
	}
	return "", nil, err
}

// bindBlogForm validates the form, its category and the upload.
// ok=false means a response has already been written.
func (h *BlogHandler) bindBlogForm(c *gin.Context, post *models.BlogPost) (form BlogForm, image string, ok bool) {
	user := middleware.CurrentUser(c)
	if err := c.ShouldBind(&form); err != nil {
		h.renderForm(c, http.StatusBadRequest, post, form, fieldErrors(err))
		return form, "", false
	}
	form.Title = strings.TrimSpace(form.Title)
	form.Summary = strings.TrimSpace(form.Summary)
	if form.Status == "" {
		form.Status = models.StatusDraft
	}
	if form.Title == "" {
		h.renderForm(c, http.StatusBadRequest, post, form, map[string]string{"title": "This field is required."})
		return form, "", false
	}

	active, err := h.checkCategory(c, form.CategoryID)
	if err != nil {
		h.fail(c, "check category", err)
		return form, "", false
	}
	if !active {
		h.renderForm(c, http.StatusBadRequest, post, form, map[string]string{"category_id": "Please choose a valid category."})
		return form, "", false
	}

	image, errs, err := h.saveUpload(c, user.ID)
	if err != nil {
		h.fail(c, "save upload", err)
		return form, "", false
	}
	if errs != nil {
		h.renderForm(c, http.StatusBadRequest, post, form, errs)
		return form, "", false
	}
	return form, image, true
}

func (h *BlogHandler) Create(c *gin.Context) {
	user := middleware.CurrentUser(c)
	form, image, ok := h.bindBlogForm(c, nil)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	post := &models.BlogPost{
		Title:         form.Title,
		Content:       form.Content,
		Summary:       form.Summary,
		FeaturedImage: image,
		AuthorID:      user.ID,
		CategoryID:    form.CategoryID,
		Status:        form.Status,
	}
	if _, err := h.Blogs.Create(ctx, post); err != nil {
		// 文章写入失败，回收已上传的图片
		if image != "" && !h.Blobs.Delete(image) {
			h.logger().WarnContext(ctx, "orphaned upload", "path", image)
		}
		h.fail(c, "create blog", err)
		return
	}

	h.logger().InfoContext(ctx, "blog created", "post_id", post.ID, "author_id", user.ID, "status", post.Status)
	redirectWith(c, flashSuccess, fmt.Sprintf("Blog '%s' created successfully!", post.Title), "/blogs/mine")
}

// loadEditable fetches the post and enforces author-or-admin.
func (h *BlogHandler) loadEditable(c *gin.Context) (*models.BlogPost, bool) {
	user := middleware.CurrentUser(c)
	id, ok := utils.ParseID(c.Param("id"))
	if !ok {
		redirectWith(c, flashError, "Blog not found.", "/blogs/mine")
		return nil, false
	}
	post, err := h.Blogs.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			redirectWith(c, flashError, "Blog not found.", "/blogs/mine")
			return nil, false
		}
		h.fail(c, "get blog", err)
		return nil, false
	}
	if !user.CanManage(post.AuthorID) {
		redirectWith(c, flashError, "You don't have permission to edit this blog.", "/blogs/mine")
		return nil, false
	}
	return post, true
}

func (h *BlogHandler) ShowEdit(c *gin.Context) {
	post, ok := h.loadEditable(c)
	if !ok {
		return
	}
	form := BlogForm{
		Title:      post.Title,
		Content:    post.Content,
		Summary:    post.Summary,
		CategoryID: post.CategoryID,
		Status:     post.Status,
	}
	h.renderForm(c, http.StatusOK, post, form, nil)
}

func (h *BlogHandler) Update(c *gin.Context) {
	post, ok := h.loadEditable(c)
	if !ok {
		return
	}
	form, image, ok := h.bindBlogForm(c, post)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	oldImage := post.FeaturedImage
	post.Title = form.Title
	post.Content = form.Content
	post.Summary = form.Summary
	post.CategoryID = form.CategoryID
	post.Status = form.Status
	if image != "" {
		post.FeaturedImage = image
	} else if c.PostForm("remove_image") == "on" {
		post.FeaturedImage = ""
	}

	if err := h.Blogs.Update(ctx, post); err != nil {
		if image != "" && !h.Blobs.Delete(image) {
			h.logger().WarnContext(ctx, "orphaned upload", "path", image)
		}
		if errors.Is(err, store.ErrNotFound) {
			redirectWith(c, flashError, "Blog not found.", "/blogs/mine")
			return
		}
		h.fail(c, "update blog", err)
		return
	}
	if oldImage != "" && oldImage != post.FeaturedImage && !h.Blobs.Delete(oldImage) {
		h.logger().WarnContext(ctx, "old image not removed", "path", oldImage)
	}

	redirectWith(c, flashSuccess, "Blog updated successfully!", fmt.Sprintf("/blogs/%d", post.ID))
}

// Delete AJAX 删除，作者或管理员
func (h *BlogHandler) Delete(c *gin.Context) {
	user := middleware.CurrentUser(c)
	ctx := c.Request.Context()
	id, ok := utils.ParseID(c.Param("id"))
	if !ok {
		jsonResult(c, http.StatusNotFound, false, "Blog not found")
		return
	}
	post, err := h.Blogs.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			jsonResult(c, http.StatusNotFound, false, "Blog not found")
			return
		}
		h.failJSON(c, "get blog", err)
		return
	}
	if !user.CanManage(post.AuthorID) {
		jsonResult(c, http.StatusForbidden, false, "Permission denied")
		return
	}
	removeBlog(c, h.Deps, post)
}

// removeBlog deletes the post row, then its image. Shared with the admin action.
func removeBlog(c *gin.Context, d *Deps, post *models.BlogPost) {
	ctx := c.Request.Context()
	deleted, err := d.Blogs.Delete(ctx, post.ID)
	if err != nil {
		d.failJSON(c, "delete blog", err)
		return
	}
	if !deleted {
		jsonResult(c, http.StatusNotFound, false, "Blog not found")
		return
	}
	if post.FeaturedImage != "" && !d.Blobs.Delete(post.FeaturedImage) {
		d.logger().WarnContext(ctx, "image not removed", "path", post.FeaturedImage)
	}
	d.logger().InfoContext(ctx, "blog deleted", "post_id", post.ID)
	jsonResult(c, http.StatusOK, true, "Blog deleted successfully")
}

// Like 点赞/取消点赞
func (h *BlogHandler) Like(c *gin.Context) {
	user := middleware.CurrentUser(c)
	if user == nil {
		jsonResult(c, http.StatusUnauthorized, false, "Please login to like posts")
		return
	}
	ctx := c.Request.Context()
	id, ok := utils.ParseID(c.Param("id"))
	if !ok {
		jsonResult(c, http.StatusNotFound, false, "Blog not found")
		return
	}
	post, err := h.Blogs.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			jsonResult(c, http.StatusNotFound, false, "Blog not found")
			return
		}
		h.failJSON(c, "get blog", err)
		return
	}
	if !post.IsPublished() {
		jsonResult(c, http.StatusNotFound, false, "Blog not found")
		return
	}

	liked, count, err := h.Blogs.ToggleLike(ctx, post.ID, user.ID)
	if err != nil {
		h.failJSON(c, "toggle like", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "liked": liked, "likeCount": count})
}

func (h *BlogHandler) AddComment(c *gin.Context) {
	user := middleware.CurrentUser(c)
	ctx := c.Request.Context()
	id, ok := utils.ParseID(c.Param("id"))
	if !ok {
		redirectWith(c, flashError, "Blog not found.", "/blogs")
		return
	}
	post, err := h.Blogs.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			redirectWith(c, flashError, "Blog not found.", "/blogs")
			return
		}
		h.fail(c, "get blog", err)
		return
	}
	back := fmt.Sprintf("/blogs/%d#comments", post.ID)
	if !post.IsPublished() {
		redirectWith(c, flashError, "Comments are closed for this blog.", back)
		return
	}

	var form CommentForm
	if err := c.ShouldBind(&form); err != nil || strings.TrimSpace(form.Content) == "" {
		redirectWith(c, flashError, "Invalid comment.", back)
		return
	}
	if form.ParentCommentID != nil && *form.ParentCommentID == 0 {
		form.ParentCommentID = nil
	}

	approved := !h.Config.CommentsRequireApproval || user.IsAdmin()
	comment := &models.Comment{
		PostID:          post.ID,
		UserID:          user.ID,
		ParentCommentID: form.ParentCommentID,
		Content:         strings.TrimSpace(form.Content),
		IsApproved:      approved,
	}
	if _, err := h.Comments.Create(ctx, comment); err != nil {
		if errors.Is(err, store.ErrInvalidParent) {
			redirectWith(c, flashError, "Invalid comment.", back)
			return
		}
		h.fail(c, "create comment", err)
		return
	}

	if approved {
		redirectWith(c, flashSuccess, "Comment added successfully!", back)
		return
	}
	redirectWith(c, flashSuccess, "Your comment has been submitted and is awaiting approval.", back)
}
