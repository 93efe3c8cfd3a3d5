package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bloglytics/internal/models"
	"bloglytics/internal/utils"

	"gorm.io/gorm"
)

const (
	activeCategoriesKey = "categories:active"
	categoryCacheTTL    = time.Minute
)

type CategoryStore struct {
	db    *gorm.DB
	cache *utils.GlobalCache
	now   Clock
}

func NewCategoryStore(db *gorm.DB) *CategoryStore {
	return &CategoryStore{db: db, cache: utils.NewCache(16), now: utcNow}
}

func (s *CategoryStore) ListAll(ctx context.Context) ([]models.Category, error) {
	var cats []models.Category
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&cats).Error; err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return cats, s.fillPostCounts(ctx, cats, false)
}

// ListActive returns active categories with their published post counts.
// The result is cached briefly and dropped on any category or post change.
func (s *CategoryStore) ListActive(ctx context.Context) ([]models.Category, error) {
	if cached, ok := s.cache.Get(activeCategoriesKey).([]models.Category); ok {
		return cached, nil
	}

	var cats []models.Category
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Order("name ASC").Find(&cats).Error; err != nil {
		return nil, fmt.Errorf("list active categories: %w", err)
	}
	if err := s.fillPostCounts(ctx, cats, true); err != nil {
		return nil, err
	}
	s.cache.Set(activeCategoriesKey, cats, categoryCacheTTL)
	return cats, nil
}

func (s *CategoryStore) Get(ctx context.Context, id uint) (*models.Category, error) {
	var cat models.Category
	if err := s.db.WithContext(ctx).First(&cat, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &cat, nil
}

func (s *CategoryStore) GetByName(ctx context.Context, name string) (*models.Category, error) {
	var cat models.Category
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&cat).Error; err != nil {
		return nil, notFound(err)
	}
	return &cat, nil
}

func (s *CategoryStore) Create(ctx context.Context, cat *models.Category) (uint, error) {
	cat.ID = 0
	cat.Name = strings.TrimSpace(cat.Name)
	cat.CreatedAt = s.now()

	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Category{}).Where("LOWER(name) = ?", strings.ToLower(cat.Name)).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("check category name: %w", err)
	}
	if n > 0 {
		return 0, ErrDuplicate
	}

	if err := s.db.WithContext(ctx).Create(cat).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return 0, ErrDuplicate
		}
		return 0, fmt.Errorf("create category: %w", err)
	}
	s.Invalidate()
	return cat.ID, nil
}

func (s *CategoryStore) Update(ctx context.Context, cat *models.Category) error {
	res := s.db.WithContext(ctx).Model(&models.Category{}).Where("id = ?", cat.ID).Updates(map[string]interface{}{
		"name":        strings.TrimSpace(cat.Name),
		"description": cat.Description,
		"is_active":   cat.IsActive,
	})
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return ErrDuplicate
		}
		return fmt.Errorf("update category %d: %w", cat.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	s.Invalidate()
	return nil
}

func (s *CategoryStore) SetActive(ctx context.Context, id uint, active bool) error {
	res := s.db.WithContext(ctx).Model(&models.Category{}).Where("id = ?", id).Update("is_active", active)
	if res.Error != nil {
		return fmt.Errorf("set category %d active: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	s.Invalidate()
	return nil
}

// Toggle flips IsActive and returns the new value.
func (s *CategoryStore) Toggle(ctx context.Context, id uint) (bool, error) {
	cat, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if err := s.SetActive(ctx, id, !cat.IsActive); err != nil {
		return false, err
	}
	return !cat.IsActive, nil
}

// Delete refuses while any post, of any status, still points at the category.
func (s *CategoryStore) Delete(ctx context.Context, id uint) error {
	n, err := s.CountPosts(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrCategoryInUse
	}
	res := s.db.WithContext(ctx).Delete(&models.Category{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete category %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	s.Invalidate()
	return nil
}

func (s *CategoryStore) CountPosts(ctx context.Context, id uint) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.BlogPost{}).Where("category_id = ?", id).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count category posts: %w", err)
	}
	return n, nil
}

// Invalidate drops the cached active list. BlogStore calls it after writes.
func (s *CategoryStore) Invalidate() {
	s.cache.Delete(activeCategoriesKey)
}

type categoryCount struct {
	CategoryID uint
	N          int
}

func (s *CategoryStore) fillPostCounts(ctx context.Context, cats []models.Category, publishedOnly bool) error {
	if len(cats) == 0 {
		return nil
	}
	q := s.db.WithContext(ctx).Model(&models.BlogPost{}).Select("category_id, COUNT(*) AS n")
	if publishedOnly {
		q = q.Where("status = ?", models.StatusPublished)
	}
	var rows []categoryCount
	if err := q.Group("category_id").Scan(&rows).Error; err != nil {
		return fmt.Errorf("count posts per category: %w", err)
	}
	counts := make(map[uint]int, len(rows))
	for _, r := range rows {
		counts[r.CategoryID] = r.N
	}
	for i := range cats {
		cats[i].PostCount = counts[cats[i].ID]
	}
	return nil
}
