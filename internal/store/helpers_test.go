package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"bloglytics/internal/db"
	"bloglytics/internal/models"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db") + "?_busy_timeout=5000&_foreign_keys=on"
	g, err := db.Open("sqlite", dsn)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(g))
	t.Cleanup(func() {
		if sqlDB, err := g.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return g
}

// fakeClock is safe to read from concurrent goroutines.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func mustUser(t *testing.T, g *gorm.DB, email string, role string) *models.User {
	t.Helper()
	u := &models.User{
		Email:          email,
		PasswordHash:   "x",
		FullName:       "User " + email,
		Role:           role,
		IsActive:       true,
		EmailConfirmed: true,
	}
	_, err := NewUserStore(g).Create(context.Background(), u)
	require.NoError(t, err)
	return u
}

func mustCategory(t *testing.T, g *gorm.DB, name string) *models.Category {
	t.Helper()
	c := &models.Category{Name: name, IsActive: true}
	_, err := NewCategoryStore(g).Create(context.Background(), c)
	require.NoError(t, err)
	return c
}

func mustPost(t *testing.T, s *BlogStore, author *models.User, cat *models.Category, status string, n int) *models.BlogPost {
	t.Helper()
	p := &models.BlogPost{
		Title:      fmt.Sprintf("Post %d", n),
		Content:    fmt.Sprintf("content of post %d", n),
		AuthorID:   author.ID,
		CategoryID: cat.ID,
		Status:     status,
	}
	_, err := s.Create(context.Background(), p)
	require.NoError(t, err)
	return p
}
