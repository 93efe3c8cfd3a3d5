package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderMarkdownSanitizes(t *testing.T) {
	out := string(RenderMarkdown("# Title\n\n<script>alert(1)</script>\n\n[x](javascript:alert(1)) **bold**"))

	assert.Contains(t, out, "<h1")
	assert.Contains(t, out, "<strong>bold</strong>")
	assert.NotContains(t, out, "<script")
	assert.NotContains(t, out, "javascript:")
}

func TestRenderMarkdownEnhancesLinksAndImages(t *testing.T) {
	out := string(RenderMarkdown("[ext](https://example.com) [local](/blogs/1)\n\n![pic](https://example.com/a.png)"))

	assert.Contains(t, out, `target="_blank"`)
	assert.Contains(t, out, `loading="lazy"`)
	assert.Contains(t, out, "img-fluid")
	// 站内链接不加 target
	assert.Equal(t, 1, strings.Count(out, `target="_blank"`))
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "short summary", Excerpt("short summary", "ignored", 50))
	assert.Equal(t, "Heading some text", Excerpt("", "# Heading\n\nsome *text*", 50))

	long := strings.Repeat("word ", 40)
	got := Excerpt("", long, 30)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.LessOrEqual(t, len([]rune(got)), 33)
}

func TestTruncateCountsRunes(t *testing.T) {
	assert.Equal(t, "你好世界", Truncate("你好世界", 4))
	assert.Equal(t, "你好...", Truncate("你好世界", 2))
	assert.Equal(t, "abc", Truncate("abc", 0))
}

func TestPlainText(t *testing.T) {
	assert.Equal(t, "a b c", PlainText("<p>a</p>\n<p> b <em>c</em></p>"))
}
