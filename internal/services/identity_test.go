package services

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"bloglytics/internal/models"
	"bloglytics/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type identityFixture struct {
	svc      *IdentityService
	users    *store.UserStore
	notifier *fakeNotifier
	clock    *fakeClock
}

func newIdentityFixture(t *testing.T) *identityFixture {
	t.Helper()
	g := newTestDB(t)
	clock := newFakeClock()
	users := store.NewUserStore(g).WithClock(clock.Now)
	notifier := &fakeNotifier{}
	svc := &IdentityService{
		Users:         users,
		Registrations: store.NewRegistrationStore(g).WithClock(clock.Now),
		ResetTokens:   store.NewResetTokenStore(g).WithClock(clock.Now),
		Notifier:      notifier,
		Tokens: &TokenIssuer{
			Secret:     []byte("test-secret-test-secret-test-secret"),
			Issuer:     "bloglytics",
			Audience:   "bloglytics-web",
			TTL:        8 * time.Hour,
			RememberMe: 30 * 24 * time.Hour,
			Now:        clock.Now,
		},
		Logger:   discardLogger(),
		OTPTTL:   10 * time.Minute,
		ResetTTL: time.Hour,
		SiteURL:  "http://blog.test",
		Now:      clock.Now,
	}
	return &identityFixture{svc: svc, users: users, notifier: notifier, clock: clock}
}

func (f *identityFixture) register(t *testing.T, email, password string) *models.User {
	t.Helper()
	ctx := context.Background()
	ch, err := f.svc.BeginRegistration(ctx, email, "Jane Doe", password)
	require.NoError(t, err)
	code := f.notifier.last(t).Data["Code"].(string)
	u, err := f.svc.VerifyOtp(ctx, ch.Email, code)
	require.NoError(t, err)
	return u
}

func TestRegistrationHappyPath(t *testing.T) {
	ctx := context.Background()
	f := newIdentityFixture(t)

	ch, err := f.svc.BeginRegistration(ctx, " Jane@Example.com ", "Jane Doe", "secret123")
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", ch.Email)
	assert.True(t, ch.Delivered)
	assert.Equal(t, f.clock.Now().Add(10*time.Minute), ch.ExpiresAt)

	msg := f.notifier.last(t)
	assert.Equal(t, KindOTP, msg.Kind)
	assert.Equal(t, "jane@example.com", msg.Recipient)
	code := msg.Data["Code"].(string)
	require.Len(t, code, 6)
	assert.GreaterOrEqual(t, code, "100000")

	email, err := f.svc.PendingEmail(ctx, ch.Handle)
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", email)

	u, err := f.svc.VerifyOtp(ctx, email, code)
	require.NoError(t, err)
	assert.Equal(t, models.RoleBlogger, u.Role)
	assert.True(t, u.IsActive)
	assert.True(t, u.EmailConfirmed)

	_, err = f.svc.VerifyOtp(ctx, email, code)
	assert.ErrorIs(t, err, ErrSessionExpired)

	got, err := f.svc.ValidateCredentials(ctx, "JANE@example.com", "secret123")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
}

func TestRegistrationRejectsExistingEmail(t *testing.T) {
	ctx := context.Background()
	f := newIdentityFixture(t)
	f.register(t, "jane@example.com", "secret123")

	_, err := f.svc.BeginRegistration(ctx, "jane@example.com", "Other", "secret123")
	assert.ErrorIs(t, err, ErrEmailAlreadyRegistered)
}

func TestRegistrationValidation(t *testing.T) {
	ctx := context.Background()
	f := newIdentityFixture(t)

	_, err := f.svc.BeginRegistration(ctx, "not-an-email", "J", "123")
	require.ErrorIs(t, err, ErrValidation)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "email")
	assert.Contains(t, ve.Fields, "full_name")
	assert.Contains(t, ve.Fields, "password")
}

func TestVerifyOtpFailures(t *testing.T) {
	ctx := context.Background()
	f := newIdentityFixture(t)

	_, err := f.svc.VerifyOtp(ctx, "nobody@example.com", "123456")
	assert.ErrorIs(t, err, ErrSessionExpired)

	_, err = f.svc.BeginRegistration(ctx, "jane@example.com", "Jane Doe", "secret123")
	require.NoError(t, err)
	code := f.notifier.last(t).Data["Code"].(string)

	wrong := "999999"
	if code == wrong {
		wrong = "100000"
	}
	_, err = f.svc.VerifyOtp(ctx, "jane@example.com", wrong)
	assert.ErrorIs(t, err, ErrInvalidCode)

	f.clock.Advance(10*time.Minute + time.Second)
	_, err = f.svc.VerifyOtp(ctx, "jane@example.com", code)
	assert.ErrorIs(t, err, ErrChallengeExpired)
}

func TestResendOtpReplacesCode(t *testing.T) {
	ctx := context.Background()
	f := newIdentityFixture(t)

	_, err := f.svc.ResendOtp(ctx, "jane@example.com")
	assert.ErrorIs(t, err, ErrSessionExpired)

	first, err := f.svc.BeginRegistration(ctx, "jane@example.com", "Jane Doe", "secret123")
	require.NoError(t, err)
	oldCode := f.notifier.last(t).Data["Code"].(string)

	f.clock.Advance(9 * time.Minute)
	again, err := f.svc.ResendOtp(ctx, "jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, first.Handle, again.Handle)
	assert.True(t, again.ExpiresAt.After(first.ExpiresAt))
	newCode := f.notifier.last(t).Data["Code"].(string)

	f.clock.Advance(5 * time.Minute)
	if oldCode != newCode {
		_, err = f.svc.VerifyOtp(ctx, "jane@example.com", oldCode)
		assert.ErrorIs(t, err, ErrInvalidCode)
	}
	_, err = f.svc.VerifyOtp(ctx, "jane@example.com", newCode)
	assert.NoError(t, err)
}

func TestValidateCredentials(t *testing.T) {
	ctx := context.Background()
	f := newIdentityFixture(t)
	u := f.register(t, "jane@example.com", "secret123")

	_, err := f.svc.ValidateCredentials(ctx, "jane@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.svc.ValidateCredentials(ctx, "nobody@example.com", "secret123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.svc.ValidateCredentials(ctx, "", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	require.NoError(t, f.users.SetActive(ctx, u.ID, false))
	_, err = f.svc.ValidateCredentials(ctx, "jane@example.com", "secret123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func resetTokenFrom(t *testing.T, link string) string {
	t.Helper()
	parsed, err := url.Parse(link)
	require.NoError(t, err)
	return parsed.Query().Get("token")
}

func TestPasswordResetFlow(t *testing.T) {
	ctx := context.Background()
	f := newIdentityFixture(t)
	f.register(t, "jane@example.com", "secret123")

	require.NoError(t, f.svc.RequestPasswordReset(ctx, "jane@example.com"))
	msg := f.notifier.last(t)
	assert.Equal(t, KindPasswordReset, msg.Kind)
	link := msg.Data["Link"].(string)
	assert.True(t, strings.HasPrefix(link, "http://blog.test/reset-password?"))
	token := resetTokenFrom(t, link)
	require.NotEmpty(t, token)

	require.NoError(t, f.svc.CheckResetToken(ctx, "jane@example.com", token))
	assert.ErrorIs(t, f.svc.CheckResetToken(ctx, "jane@example.com", "bogus"), ErrInvalidOrExpiredToken)

	require.NoError(t, f.svc.ResetPassword(ctx, "jane@example.com", token, "brandnew1"))
	assert.ErrorIs(t, f.svc.ResetPassword(ctx, "jane@example.com", token, "another1"), ErrInvalidOrExpiredToken)

	_, err := f.svc.ValidateCredentials(ctx, "jane@example.com", "brandnew1")
	assert.NoError(t, err)
	_, err = f.svc.ValidateCredentials(ctx, "jane@example.com", "secret123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestPasswordResetUnknownEmailIsSilent(t *testing.T) {
	ctx := context.Background()
	f := newIdentityFixture(t)

	require.NoError(t, f.svc.RequestPasswordReset(ctx, "ghost@example.com"))
	assert.Empty(t, f.notifier.sent)
	assert.ErrorIs(t, f.svc.ResetPassword(ctx, "ghost@example.com", "x", "brandnew1"), ErrInvalidOrExpiredToken)
}

func TestPasswordResetExpires(t *testing.T) {
	ctx := context.Background()
	f := newIdentityFixture(t)
	f.register(t, "jane@example.com", "secret123")

	require.NoError(t, f.svc.RequestPasswordReset(ctx, "jane@example.com"))
	token := resetTokenFrom(t, f.notifier.last(t).Data["Link"].(string))

	f.clock.Advance(time.Hour + time.Minute)
	assert.ErrorIs(t, f.svc.ResetPassword(ctx, "jane@example.com", token, "brandnew1"), ErrInvalidOrExpiredToken)
}

func TestNotifierFailureDoesNotAbortRegistration(t *testing.T) {
	ctx := context.Background()
	f := newIdentityFixture(t)
	f.notifier.fail = true

	ch, err := f.svc.BeginRegistration(ctx, "jane@example.com", "Jane Doe", "secret123")
	require.NoError(t, err)
	assert.False(t, ch.Delivered)
}

func TestUpdateProfile(t *testing.T) {
	ctx := context.Background()
	f := newIdentityFixture(t)
	u := f.register(t, "jane@example.com", "secret123")

	var ve *ValidationError
	require.ErrorAs(t, f.svc.UpdateProfile(ctx, u.ID, " J "), &ve)
	assert.Contains(t, ve.Fields, "full_name")

	require.NoError(t, f.svc.UpdateProfile(ctx, u.ID, "  Jane Smith "))
	got, err := f.users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jane Smith", got.FullName)

	assert.ErrorIs(t, f.svc.UpdateProfile(ctx, 9999, "Nobody Here"), store.ErrNotFound)
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	f := newIdentityFixture(t)
	u := f.register(t, "jane@example.com", "secret123")

	assert.ErrorIs(t, f.svc.ChangePassword(ctx, u.ID, "wrong", "newsecret1"), ErrInvalidCredentials)

	var ve *ValidationError
	require.ErrorAs(t, f.svc.ChangePassword(ctx, u.ID, "secret123", "123"), &ve)
	assert.Contains(t, ve.Fields, "password")

	require.NoError(t, f.svc.ChangePassword(ctx, u.ID, "secret123", "newsecret1"))
	_, err := f.svc.ValidateCredentials(ctx, "jane@example.com", "secret123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.svc.ValidateCredentials(ctx, "jane@example.com", "newsecret1")
	assert.NoError(t, err)
}

func TestVerifyOtpDropsRegistrationAfterTooManyFailures(t *testing.T) {
	ctx := context.Background()
	f := newIdentityFixture(t)

	_, err := f.svc.BeginRegistration(ctx, "jane@example.com", "Jane Doe", "secret123")
	require.NoError(t, err)
	code := f.notifier.last(t).Data["Code"].(string)
	wrong := "999999"
	if code == wrong {
		wrong = "100000"
	}

	for i := 1; i < MaxOtpAttempts; i++ {
		_, err = f.svc.VerifyOtp(ctx, "jane@example.com", wrong)
		require.ErrorIs(t, err, ErrInvalidCode, "attempt %d", i)
	}

	// 重发不会重置计数
	_, err = f.svc.ResendOtp(ctx, "jane@example.com")
	require.NoError(t, err)
	code = f.notifier.last(t).Data["Code"].(string)
	wrong = "999999"
	if code == wrong {
		wrong = "100000"
	}

	_, err = f.svc.VerifyOtp(ctx, "jane@example.com", wrong)
	assert.ErrorIs(t, err, ErrTooManyAttempts)

	_, err = f.svc.VerifyOtp(ctx, "jane@example.com", code)
	assert.ErrorIs(t, err, ErrSessionExpired)
	exists, err := f.users.EmailExists(ctx, "jane@example.com")
	require.NoError(t, err)
	assert.False(t, exists)
}
