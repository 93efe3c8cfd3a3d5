package utils

import (
	"strings"

	"github.com/gosimple/slug"
)

const MaxSlugLength = 100

// Slugify derives a URL-safe identifier from a title. Not unique.
func Slugify(title string) string {
	s := slug.Make(title)
	if len(s) > MaxSlugLength {
		s = s[:MaxSlugLength]
		if i := strings.LastIndex(s, "-"); i > 0 {
			s = s[:i]
		}
	}
	if s == "" {
		return "post"
	}
	return s
}
