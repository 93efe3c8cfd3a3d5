package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"bloglytics/internal/middleware"
	"bloglytics/internal/services"

	"github.com/gin-gonic/gin"
)

const inlineImageKey = "image"

// 盗链提示图
const hotlinkSVG = `<svg width="200" height="200" xmlns="http://www.w3.org/2000/svg">
  <rect width="100%" height="100%" fill="#f8f9fa"/>
  <text x="50%" y="50%" font-family="Arial" font-size="14" fill="#6c757d" text-anchor="middle">
    Hosted on Bloglytics
  </text>
</svg>`

// ImageHandler serves editor uploads. Featured images go through the blog form instead.
type ImageHandler struct {
	*Deps
}

func NewImageHandler(d *Deps) *ImageHandler {
	return &ImageHandler{Deps: d}
}

// Upload 编辑器内联图片 (JSON)，返回可以直接写进 Markdown 的地址
func (h *ImageHandler) Upload(c *gin.Context) {
	user := middleware.CurrentUser(c)
	header, err := c.FormFile(inlineImageKey)
	if err != nil {
		jsonResult(c, http.StatusBadRequest, false, "Please choose an image to upload")
		return
	}
	file, err := header.Open()
	if err != nil {
		h.failJSON(c, "open upload", err)
		return
	}
	defer file.Close()

	path, err := h.Blobs.Save(c.Request.Context(), user.ID, header.Filename, header.Size, file)
	switch {
	case err == nil:
	case errors.Is(err, services.ErrUnsupportedImage):
		jsonResult(c, http.StatusBadRequest, false, "Only JPG, PNG and GIF images are allowed")
		return
	case errors.Is(err, services.ErrImageTooLarge):
		jsonResult(c, http.StatusBadRequest, false, fmt.Sprintf("Image must be at most %d MB", h.Config.MaxUploadBytes>>20))
		return
	default:
		h.failJSON(c, "save inline image", err)
		return
	}

	h.logger().InfoContext(c.Request.Context(), "inline image uploaded", "user_id", user.ID, "path", path)
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"url":      path,
		"markdown": fmt.Sprintf("![%s](%s)", imageAlt(header.Filename), path),
	})
}

var altReplacer = strings.NewReplacer("[", "", "]", "", "(", "", ")", "", "\\", "", "\r", " ", "\n", " ")

// imageAlt 文件名去掉扩展名和 Markdown 控制字符后作为 alt
func imageAlt(filename string) string {
	name := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	name = strings.TrimSuffix(name, filepath.Ext(name))
	name = strings.Join(strings.Fields(altReplacer.Replace(name)), " ")
	if name == "" || name == "." || name == "/" {
		return "image"
	}
	return name
}

// HotlinkGuard 跨站嵌入上传图片时返回提示图
func HotlinkGuard() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isAllowedRequest(c) {
			c.Next()
			return
		}
		c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
		c.Data(http.StatusOK, "image/svg+xml", []byte(hotlinkSVG))
		c.Abort()
	}
}

// isAllowedRequest 根据 Sec-Fetch-* 判断是否站内请求
func isAllowedRequest(c *gin.Context) bool {
	switch c.GetHeader("Sec-Fetch-Site") {
	case "", "same-origin", "same-site", "none":
		return true
	}
	// 新标签页直接打开图片
	return c.GetHeader("Sec-Fetch-Mode") == "navigate"
}
