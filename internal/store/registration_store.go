package store

import (
	"context"
	"fmt"
	"time"

	"bloglytics/internal/models"

	"gorm.io/gorm"
)

// RegistrationStore keeps sign-ups that are waiting for their OTP.
type RegistrationStore struct {
	db  *gorm.DB
	now Clock
}

func NewRegistrationStore(db *gorm.DB) *RegistrationStore {
	return &RegistrationStore{db: db, now: utcNow}
}

func (s *RegistrationStore) WithClock(now Clock) *RegistrationStore {
	s.now = now
	return s
}

// Put replaces any pending registration for the same email.
func (s *RegistrationStore) Put(ctx context.Context, p *models.PendingRegistration) error {
	p.Email = normalizeEmail(p.Email)
	now := s.now()
	p.CreatedAt = now
	p.UpdatedAt = now
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("email = ?", p.Email).Delete(&models.PendingRegistration{}).Error; err != nil {
			return fmt.Errorf("supersede pending registration: %w", err)
		}
		if err := tx.Create(p).Error; err != nil {
			return fmt.Errorf("create pending registration: %w", err)
		}
		return nil
	})
}

func (s *RegistrationStore) GetByEmail(ctx context.Context, email string) (*models.PendingRegistration, error) {
	var p models.PendingRegistration
	if err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *RegistrationStore) GetByHandle(ctx context.Context, handle string) (*models.PendingRegistration, error) {
	var p models.PendingRegistration
	if err := s.db.WithContext(ctx).Where("handle = ?", handle).First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// Refresh swaps in a new code and expiry for the pending email.
func (s *RegistrationStore) Refresh(ctx context.Context, email, codeHash string, expiresAt time.Time) (*models.PendingRegistration, error) {
	email = normalizeEmail(email)
	res := s.db.WithContext(ctx).Model(&models.PendingRegistration{}).Where("email = ?", email).Updates(map[string]interface{}{
		"code_hash":  codeHash,
		"expires_at": expiresAt,
		"updated_at": s.now(),
	})
	if res.Error != nil {
		return nil, fmt.Errorf("refresh pending registration: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.GetByEmail(ctx, email)
}

// RecordFailure counts a wrong code. Once max failures are reached the
// pending record is dropped and removed is true.
func (s *RegistrationStore) RecordFailure(ctx context.Context, handle string, max int) (attempts int, removed bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.PendingRegistration{}).Where("handle = ?", handle).
			UpdateColumn("attempts", gorm.Expr("attempts + 1"))
		if res.Error != nil {
			return fmt.Errorf("count otp failure: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		var p models.PendingRegistration
		if err := tx.Select("attempts").Where("handle = ?", handle).First(&p).Error; err != nil {
			return fmt.Errorf("load otp attempts: %w", err)
		}
		attempts = p.Attempts
		if attempts < max {
			return nil
		}
		if err := tx.Where("handle = ?", handle).Delete(&models.PendingRegistration{}).Error; err != nil {
			return fmt.Errorf("drop pending registration: %w", err)
		}
		removed = true
		return nil
	})
	return attempts, removed, err
}

// Complete consumes the pending record and creates the user atomically.
// A second call for the same handle gets ErrNotFound.
func (s *RegistrationStore) Complete(ctx context.Context, handle string, u *models.User) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("handle = ?", handle).Delete(&models.PendingRegistration{})
		if res.Error != nil {
			return fmt.Errorf("consume pending registration: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		_, err := createUser(tx, u, s.now())
		return err
	})
}

// PurgeExpired removes abandoned sign-ups.
func (s *RegistrationStore) PurgeExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at <= ?", s.now()).Delete(&models.PendingRegistration{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge pending registrations: %w", res.Error)
	}
	return res.RowsAffected, nil
}
