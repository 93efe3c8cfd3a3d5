package handlers

import (
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bloglytics/internal/models"
	"bloglytics/internal/utils"

	"github.com/gin-gonic/gin"
)

const (
	sitemapPostLimit = 500
	feedPostLimit    = 20
	feedExcerptLen   = 300
)

type SEOHandler struct {
	*Deps
}

func NewSEOHandler(d *Deps) *SEOHandler {
	return &SEOHandler{Deps: d}
}

// RobotsTxt 禁止爬取后台、账号和 JSON 接口
func (h *SEOHandler) RobotsTxt(c *gin.Context) {
	content := fmt.Sprintf(`User-agent: *
Allow: /

Disallow: /dashboard
Disallow: /admin/
Disallow: /blogs/mine
Disallow: /blogs/new
Disallow: /settings
Disallow: /login
Disallow: /register
Disallow: /verify-otp
Disallow: /forgot-password
Disallow: /reset-password
Disallow: /captcha

Sitemap: %s/sitemap.xml
`, h.Config.SiteBase())

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.String(http.StatusOK, content)
}

func lastModified(p *models.BlogPost) time.Time {
	switch {
	case p.UpdatedAt != nil:
		return *p.UpdatedAt
	case p.PublishedAt != nil:
		return *p.PublishedAt
	}
	return p.CreatedAt
}

func writeSitemapURL(b *strings.Builder, loc, lastmod, changefreq string, priority float64) {
	fmt.Fprintf(b, "  <url>\n    <loc>%s</loc>\n    <lastmod>%s</lastmod>\n    <changefreq>%s</changefreq>\n    <priority>%.1f</priority>\n  </url>\n",
		html.EscapeString(loc), lastmod, changefreq, priority)
}

// SitemapXML 首页、列表、分类页和最近发布的文章
func (h *SEOHandler) SitemapXML(c *gin.Context) {
	ctx := c.Request.Context()
	site := h.Config.SiteBase()
	today := time.Now().UTC().Format("2006-01-02")

	posts, err := h.Blogs.Recent(ctx, sitemapPostLimit)
	if err != nil {
		h.logger().ErrorContext(ctx, "sitemap posts", "error", err)
		c.String(http.StatusInternalServerError, "sitemap unavailable")
		return
	}
	categories, err := h.Categories.ListActive(ctx)
	if err != nil {
		h.logger().ErrorContext(ctx, "sitemap categories", "error", err)
		c.String(http.StatusInternalServerError, "sitemap unavailable")
		return
	}

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">` + "\n")

	writeSitemapURL(&b, site+"/", today, "daily", 1.0)
	writeSitemapURL(&b, site+"/blogs", today, "hourly", 0.9)
	writeSitemapURL(&b, site+"/blogs/trending", today, "daily", 0.8)
	for _, cat := range categories {
		writeSitemapURL(&b, site+"/blogs?category="+url.QueryEscape(cat.Name), today, "daily", 0.7)
	}

	now := time.Now()
	for i := range posts {
		p := &posts[i]
		// 越新的文章优先级越高
		priority, changefreq := 0.6, "weekly"
		if p.PublishedAt != nil {
			switch age := now.Sub(*p.PublishedAt); {
			case age < 7*24*time.Hour:
				priority, changefreq = 0.8, "daily"
			case age < 30*24*time.Hour:
				priority = 0.7
			}
		}
		writeSitemapURL(&b, fmt.Sprintf("%s/blogs/%d", site, p.ID), lastModified(p).Format("2006-01-02"), changefreq, priority)
	}
	b.WriteString("</urlset>")

	c.Header("Content-Type", "application/xml; charset=utf-8")
	c.String(http.StatusOK, b.String())
}

// RSSFeed RSS 2.0，最近发布的文章
func (h *SEOHandler) RSSFeed(c *gin.Context) {
	ctx := c.Request.Context()
	site := h.Config.SiteBase()

	posts, err := h.Blogs.Recent(ctx, feedPostLimit)
	if err != nil {
		h.logger().ErrorContext(ctx, "feed posts", "error", err)
		c.String(http.StatusInternalServerError, "feed unavailable")
		return
	}

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<rss version="2.0" xmlns:atom="http://www.w3.org/2005/Atom">` + "\n  <channel>\n")
	b.WriteString("    <title>Bloglytics</title>\n")
	fmt.Fprintf(&b, "    <link>%s/</link>\n", html.EscapeString(site))
	b.WriteString("    <description>Latest posts from Bloglytics authors</description>\n")
	b.WriteString("    <language>en</language>\n")
	fmt.Fprintf(&b, "    <lastBuildDate>%s</lastBuildDate>\n", time.Now().UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "    <atom:link href=\"%s/feed.xml\" rel=\"self\" type=\"application/rss+xml\"/>\n", html.EscapeString(site))

	for i := range posts {
		p := &posts[i]
		link := fmt.Sprintf("%s/blogs/%d", site, p.ID)
		desc := html.EscapeString(utils.Excerpt(p.Summary, p.Content, feedExcerptLen))
		pub := p.CreatedAt
		if p.PublishedAt != nil {
			pub = *p.PublishedAt
		}

		b.WriteString("    <item>\n")
		fmt.Fprintf(&b, "      <title>%s</title>\n", html.EscapeString(p.Title))
		fmt.Fprintf(&b, "      <link>%s</link>\n", html.EscapeString(link))
		fmt.Fprintf(&b, "      <description><![CDATA[<p>%s</p><p><a href=\"%s\">Read more</a></p>]]></description>\n", cdataSafe(desc), html.EscapeString(link))
		fmt.Fprintf(&b, "      <author>%s</author>\n", html.EscapeString(p.Author.FullName))
		fmt.Fprintf(&b, "      <category>%s</category>\n", html.EscapeString(p.Category.Name))
		fmt.Fprintf(&b, "      <pubDate>%s</pubDate>\n", pub.UTC().Format(time.RFC1123Z))
		fmt.Fprintf(&b, "      <guid isPermaLink=\"true\">%s</guid>\n", html.EscapeString(link))
		b.WriteString("    </item>\n")
	}
	b.WriteString("  </channel>\n</rss>")

	c.Header("Content-Type", "application/rss+xml; charset=utf-8")
	c.String(http.StatusOK, b.String())
}

// cdataSafe 防止内容提前结束 CDATA
func cdataSafe(s string) string {
	return strings.ReplaceAll(s, "]]>", "]]]]><![CDATA[>")
}
