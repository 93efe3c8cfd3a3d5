package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"bloglytics/internal/models"
	"bloglytics/internal/store"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

// MaxOtpAttempts wrong codes drop the pending registration.
const MaxOtpAttempts = 5

// OtpChallenge describes a pending registration waiting for its code.
type OtpChallenge struct {
	Handle    string
	Email     string
	ExpiresAt time.Time
	Delivered bool
}

// IdentityService 负责注册、登录、找回密码
type IdentityService struct {
	Users         *store.UserStore
	Registrations *store.RegistrationStore
	ResetTokens   *store.ResetTokenStore
	Notifier      Notifier
	Tokens        *TokenIssuer
	Logger        *slog.Logger

	OTPTTL   time.Duration
	ResetTTL time.Duration
	// SiteURL is used to build absolute reset links, without trailing slash.
	SiteURL string
	Now     func() time.Time
}

func (s *IdentityService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func hashSecret(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}

func secretsEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// newOTP returns a uniform code in [100000, 999999].
func newOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

func newResetToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func ValidateEmail(email string) error {
	if err := validate.Var(email, "required,email,max=255"); err != nil {
		return invalid("email", "Please enter a valid email address")
	}
	return nil
}

func ValidatePassword(password string) error {
	n := utf8.RuneCountInString(password)
	if n < MinPasswordLength || n > MaxPasswordLength {
		return invalid("password", fmt.Sprintf("Password must be between %d and %d characters", MinPasswordLength, MaxPasswordLength))
	}
	return nil
}

func validateRegistration(email, fullName, password string) error {
	fields := map[string]string{}
	if err := ValidateEmail(email); err != nil {
		fields["email"] = err.(*ValidationError).Fields["email"]
	}
	if n := utf8.RuneCountInString(strings.TrimSpace(fullName)); n < 2 || n > 100 {
		fields["full_name"] = "Full name must be between 2 and 100 characters"
	}
	if err := ValidatePassword(password); err != nil {
		fields["password"] = err.(*ValidationError).Fields["password"]
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// ValidateCredentials returns the active, confirmed user for email/password.
// Only store failures come back as something other than ErrInvalidCredentials.
func (s *IdentityService) ValidateCredentials(ctx context.Context, email, password string) (*models.User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	u, err := s.Users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !u.IsActive || !u.EmailConfirmed {
		return nil, ErrInvalidCredentials
	}
	ok, err := VerifyPassword(u.PasswordHash, password)
	if err != nil {
		s.Logger.Warn("unreadable password hash", "user_id", u.ID, "err", err)
		return nil, ErrInvalidCredentials
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// BeginRegistration stores a pending registration and mails the code.
// A newer call for the same email replaces the older one.
func (s *IdentityService) BeginRegistration(ctx context.Context, email, fullName, password string) (*OtpChallenge, error) {
	if err := validateRegistration(email, fullName, password); err != nil {
		return nil, err
	}
	email = normalizeEmail(email)
	fullName = strings.TrimSpace(fullName)

	exists, err := s.Users.EmailExists(ctx, email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrEmailAlreadyRegistered
	}

	pwHash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	code, err := newOTP()
	if err != nil {
		return nil, err
	}

	pending := &models.PendingRegistration{
		Handle:       uuid.NewString(),
		Email:        email,
		FullName:     fullName,
		PasswordHash: pwHash,
		CodeHash:     hashSecret(code),
		ExpiresAt:    s.now().Add(s.OTPTTL),
	}
	if err := s.Registrations.Put(ctx, pending); err != nil {
		return nil, fmt.Errorf("save pending registration: %w", err)
	}

	delivered := s.sendOTP(ctx, pending, code)
	return &OtpChallenge{Handle: pending.Handle, Email: email, ExpiresAt: pending.ExpiresAt, Delivered: delivered}, nil
}

func (s *IdentityService) sendOTP(ctx context.Context, p *models.PendingRegistration, code string) bool {
	return s.Notifier.Notify(ctx, KindOTP, p.Email, map[string]any{
		"Name":    p.FullName,
		"Code":    code,
		"Minutes": int(s.OTPTTL / time.Minute),
	})
}

func (s *IdentityService) ResendOtp(ctx context.Context, email string) (*OtpChallenge, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, ErrSessionExpired
	}
	code, err := newOTP()
	if err != nil {
		return nil, err
	}
	pending, err := s.Registrations.Refresh(ctx, email, hashSecret(code), s.now().Add(s.OTPTTL))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionExpired
		}
		return nil, err
	}
	delivered := s.sendOTP(ctx, pending, code)
	return &OtpChallenge{Handle: pending.Handle, Email: email, ExpiresAt: pending.ExpiresAt, Delivered: delivered}, nil
}

// VerifyOtp turns the pending registration into a Blogger account.
func (s *IdentityService) VerifyOtp(ctx context.Context, email, code string) (*models.User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, ErrSessionExpired
	}
	pending, err := s.Registrations.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionExpired
		}
		return nil, err
	}
	if s.now().After(pending.ExpiresAt) {
		return nil, ErrChallengeExpired
	}
	if !secretsEqual(pending.CodeHash, hashSecret(strings.TrimSpace(code))) {
		// resend 不重置计数
		_, removed, err := s.Registrations.RecordFailure(ctx, pending.Handle, MaxOtpAttempts)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil, ErrSessionExpired
		case err != nil:
			return nil, err
		case removed:
			s.Logger.Warn("pending registration dropped after failed codes", "email", email)
			return nil, ErrTooManyAttempts
		}
		return nil, ErrInvalidCode
	}

	u := &models.User{
		Email:          pending.Email,
		FullName:       pending.FullName,
		PasswordHash:   pending.PasswordHash,
		Role:           models.RoleBlogger,
		IsActive:       true,
		EmailConfirmed: true,
	}
	if err := s.Registrations.Complete(ctx, pending.Handle, u); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil, ErrSessionExpired
		case errors.Is(err, store.ErrDuplicate):
			return nil, ErrEmailAlreadyRegistered
		}
		return nil, err
	}
	s.Logger.Info("user registered", "user_id", u.ID, "email", u.Email)
	return u, nil
}

// PendingEmail resolves the handle kept in the browser session.
func (s *IdentityService) PendingEmail(ctx context.Context, handle string) (string, error) {
	if handle == "" {
		return "", ErrSessionExpired
	}
	p, err := s.Registrations.GetByHandle(ctx, handle)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrSessionExpired
		}
		return "", err
	}
	return p.Email, nil
}

func (s *IdentityService) IssueSession(u *models.User, rememberMe bool) (*Session, error) {
	return s.Tokens.Issue(u, rememberMe)
}

func (s *IdentityService) ParseSession(token string) (*Claims, error) {
	return s.Tokens.Parse(token)
}

func (s *IdentityService) RecordLogin(ctx context.Context, userID uint) error {
	return s.Users.TouchLastLogin(ctx, userID)
}

// RequestPasswordReset mails a reset link when an active account exists.
// Unknown addresses are not an error.
func (s *IdentityService) RequestPasswordReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if ValidateEmail(email) != nil {
		return nil
	}
	u, err := s.Users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if !u.IsActive {
		return nil
	}

	token, err := newResetToken()
	if err != nil {
		return err
	}
	rec := &models.PasswordResetToken{
		UserID:    u.ID,
		TokenHash: hashSecret(token),
		ExpiresAt: s.now().Add(s.ResetTTL),
	}
	if err := s.ResetTokens.Create(ctx, rec); err != nil {
		return fmt.Errorf("save reset token: %w", err)
	}

	q := url.Values{}
	q.Set("token", token)
	q.Set("email", email)
	link := s.SiteURL + "/reset-password?" + q.Encode()
	if !s.Notifier.Notify(ctx, KindPasswordReset, email, map[string]any{
		"Name":    u.FullName,
		"Link":    link,
		"Minutes": int(s.ResetTTL / time.Minute),
	}) {
		s.Logger.Warn("reset mail not delivered", "user_id", u.ID)
	}
	return nil
}

func (s *IdentityService) resetTarget(ctx context.Context, email, token string) (*models.User, string, error) {
	email = normalizeEmail(email)
	token = strings.TrimSpace(token)
	if email == "" || token == "" {
		return nil, "", ErrInvalidOrExpiredToken
	}
	u, err := s.Users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, "", ErrInvalidOrExpiredToken
		}
		return nil, "", err
	}
	return u, hashSecret(token), nil
}

func (s *IdentityService) CheckResetToken(ctx context.Context, email, token string) error {
	u, tokenHash, err := s.resetTarget(ctx, email, token)
	if err != nil {
		return err
	}
	if _, err := s.ResetTokens.FindValid(ctx, u.ID, tokenHash); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidOrExpiredToken
		}
		return err
	}
	return nil
}

func (s *IdentityService) ResetPassword(ctx context.Context, email, token, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	u, tokenHash, err := s.resetTarget(ctx, email, token)
	if err != nil {
		return err
	}
	pwHash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.ResetTokens.Consume(ctx, u.ID, tokenHash, pwHash); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidOrExpiredToken
		}
		return err
	}
	s.Logger.Info("password reset", "user_id", u.ID)
	return nil
}

// UpdateProfile validates and stores a new display name.
func (s *IdentityService) UpdateProfile(ctx context.Context, userID uint, fullName string) error {
	fullName = strings.TrimSpace(fullName)
	if n := utf8.RuneCountInString(fullName); n < 2 || n > 100 {
		return invalid("full_name", "Full name must be between 2 and 100 characters")
	}
	return s.Users.UpdateProfile(ctx, userID, fullName)
}

// ChangePassword requires the current password. A wrong one is
// ErrInvalidCredentials.
func (s *IdentityService) ChangePassword(ctx context.Context, userID uint, current, next string) error {
	u, err := s.Users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	ok, err := VerifyPassword(u.PasswordHash, current)
	if err != nil || !ok {
		return ErrInvalidCredentials
	}
	if err := ValidatePassword(next); err != nil {
		return err
	}
	pwHash, err := HashPassword(next)
	if err != nil {
		return err
	}
	if err := s.Users.SetPasswordHash(ctx, userID, pwHash); err != nil {
		return err
	}
	s.Logger.Info("password changed", "user_id", userID)
	return nil
}
