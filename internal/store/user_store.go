package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bloglytics/internal/models"

	"gorm.io/gorm"
)

type UserStore struct {
	db  *gorm.DB
	now Clock
}

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db, now: utcNow}
}

func (s *UserStore) WithClock(now Clock) *UserStore {
	s.now = now
	return s
}

func (s *UserStore) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// GetByEmail matches on the trimmed, lower-cased address.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).First(&u).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *UserStore) EmailExists(ctx context.Context, email string) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("email = ?", normalizeEmail(email)).Count(&n).Error; err != nil {
		return false, fmt.Errorf("check email: %w", err)
	}
	return n > 0, nil
}

func (s *UserStore) Create(ctx context.Context, u *models.User) (uint, error) {
	return createUser(s.db.WithContext(ctx), u, s.now())
}

func createUser(tx *gorm.DB, u *models.User, now time.Time) (uint, error) {
	u.ID = 0
	u.CreatedAt = now
	u.UpdatedAt = now
	u.Email = normalizeEmail(u.Email)
	if u.Role == "" {
		u.Role = models.RoleBlogger
	}
	if err := tx.Create(u).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return 0, ErrDuplicate
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return u.ID, nil
}

func (s *UserStore) TouchLastLogin(ctx context.Context, id uint) error {
	now := s.now()
	return s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).UpdateColumn("last_login_at", now).Error
}

func (s *UserStore) SetActive(ctx context.Context, id uint, active bool) error {
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update("is_active", active)
	if res.Error != nil {
		return fmt.Errorf("set user %d active: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *UserStore) SetRole(ctx context.Context, id uint, role string) error {
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update("role", role)
	if res.Error != nil {
		return fmt.Errorf("set user %d role: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateProfile changes the display name.
func (s *UserStore) UpdateProfile(ctx context.Context, id uint, fullName string) error {
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).
		Updates(map[string]any{"full_name": fullName, "updated_at": s.now()})
	if res.Error != nil {
		return fmt.Errorf("update user %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *UserStore) SetPasswordHash(ctx context.Context, id uint, hash string) error {
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).
		Updates(map[string]any{"password_hash": hash, "updated_at": s.now()})
	if res.Error != nil {
		return fmt.Errorf("set user %d password: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

type userCount struct {
	ID uint
	N  int
}

// ListForAdmin pages users newest first with their post and comment counts.
func (s *UserStore) ListForAdmin(ctx context.Context, page Page) ([]models.User, int64, error) {
	page = page.normalize()
	var total int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	var users []models.User
	err := s.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").
		Limit(page.Size).Offset(page.Offset()).
		Find(&users).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	if len(users) == 0 {
		return users, total, nil
	}

	ids := make([]uint, len(users))
	for i := range users {
		ids[i] = users[i].ID
	}
	var blogs, comments []userCount
	if err := s.db.WithContext(ctx).Model(&models.BlogPost{}).
		Select("author_id AS id, COUNT(*) AS n").Where("author_id IN ?", ids).
		Group("author_id").Scan(&blogs).Error; err != nil {
		return nil, 0, fmt.Errorf("count user posts: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&models.Comment{}).
		Select("user_id AS id, COUNT(*) AS n").Where("user_id IN ?", ids).
		Group("user_id").Scan(&comments).Error; err != nil {
		return nil, 0, fmt.Errorf("count user comments: %w", err)
	}
	blogMap := make(map[uint]int, len(blogs))
	for _, r := range blogs {
		blogMap[r.ID] = r.N
	}
	commentMap := make(map[uint]int, len(comments))
	for _, r := range comments {
		commentMap[r.ID] = r.N
	}
	for i := range users {
		users[i].BlogCount = blogMap[users[i].ID]
		users[i].CommentCount = commentMap[users[i].ID]
	}
	return users, total, nil
}
