package store

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

var (
	ErrNotFound      = errors.New("not_found")
	ErrDuplicate     = errors.New("duplicate")
	ErrCategoryInUse = errors.New("category_in_use")
	ErrInvalidParent = errors.New("invalid_parent_comment")
)

// Clock returns the current time. Stores default to UTC wall time.
type Clock func() time.Time

func utcNow() time.Time { return time.Now().UTC() }

// Page describes a 1-based offset page.
type Page struct {
	Number int
	Size   int
}

func (p Page) normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = 10
	}
	return p
}

func (p Page) Offset() int {
	p = p.normalize()
	return (p.Number - 1) * p.Size
}

// TotalPages is at least 1 so templates can always render "page 1 of N".
func TotalPages(total int64, size int) int {
	if size < 1 {
		return 1
	}
	n := int((total + int64(size) - 1) / int64(size))
	if n == 0 {
		n = 1
	}
	return n
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern lowercases kw and wraps it for a substring LIKE with ESCAPE '\'.
func likePattern(kw string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(strings.TrimSpace(kw))) + "%"
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
