package store

import (
	"context"
	"errors"
	"fmt"

	"bloglytics/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ResetTokenStore struct {
	db  *gorm.DB
	now Clock
}

func NewResetTokenStore(db *gorm.DB) *ResetTokenStore {
	return &ResetTokenStore{db: db, now: utcNow}
}

func (s *ResetTokenStore) WithClock(now Clock) *ResetTokenStore {
	s.now = now
	return s
}

func (s *ResetTokenStore) Create(ctx context.Context, t *models.PasswordResetToken) error {
	t.ID = 0
	t.IsUsed = false
	t.UsedAt = nil
	t.CreatedAt = s.now()
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(t).Error; err != nil {
		return fmt.Errorf("create reset token: %w", err)
	}
	return nil
}

// FindValid returns the unused, unexpired token for userID with tokenHash.
func (s *ResetTokenStore) FindValid(ctx context.Context, userID uint, tokenHash string) (*models.PasswordResetToken, error) {
	return s.findValid(s.db.WithContext(ctx), userID, tokenHash)
}

func (s *ResetTokenStore) findValid(tx *gorm.DB, userID uint, tokenHash string) (*models.PasswordResetToken, error) {
	var t models.PasswordResetToken
	err := tx.Where("user_id = ? AND token_hash = ? AND is_used = ? AND expires_at > ?", userID, tokenHash, false, s.now()).
		First(&t).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// Consume marks the token used and stores the new password hash in one
// transaction. A token that is missing, used or expired gives ErrNotFound.
func (s *ResetTokenStore) Consume(ctx context.Context, userID uint, tokenHash, passwordHash string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := s.findValid(tx, userID, tokenHash)
		if err != nil {
			return err
		}

		now := s.now()
		// is_used = false 条件防止并发重复使用
		res := tx.Model(&models.PasswordResetToken{}).
			Where("id = ? AND is_used = ?", t.ID, false).
			Updates(map[string]interface{}{"is_used": true, "used_at": now})
		if res.Error != nil {
			return fmt.Errorf("mark reset token used: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}

		res = tx.Model(&models.User{}).Where("id = ?", userID).Updates(map[string]interface{}{
			"password_hash": passwordHash,
			"updated_at":    now,
		})
		if res.Error != nil {
			return fmt.Errorf("update password: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errors.New("update password: user vanished")
		}
		return nil
	})
}

// PurgeExpired drops tokens that can no longer be used.
func (s *ResetTokenStore) PurgeExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("is_used = ? OR expires_at <= ?", true, s.now()).Delete(&models.PasswordResetToken{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge reset tokens: %w", res.Error)
	}
	return res.RowsAffected, nil
}
