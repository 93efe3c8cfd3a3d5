package services

import (
	"testing"
	"time"

	"bloglytics/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIssuer(clock *fakeClock) *TokenIssuer {
	return &TokenIssuer{
		Secret:     []byte("test-secret-test-secret-test-secret"),
		Issuer:     "bloglytics",
		Audience:   "bloglytics-web",
		TTL:        8 * time.Hour,
		RememberMe: 30 * 24 * time.Hour,
		Now:        clock.Now,
	}
}

func TestTokenIssueAndParse(t *testing.T) {
	clock := newFakeClock()
	issuer := newIssuer(clock)
	u := &models.User{ID: 42, Email: "jane@example.com", FullName: "Jane", Role: models.RoleAdmin}

	s, err := issuer.Issue(u, false)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(8*time.Hour), s.ExpiresAt)
	assert.Zero(t, s.MaxAge)
	assert.NotEmpty(t, s.Claims.ID)

	claims, err := issuer.Parse(s.Token)
	require.NoError(t, err)
	id, err := claims.UserID()
	require.NoError(t, err)
	assert.EqualValues(t, 42, id)
	assert.Equal(t, "jane@example.com", claims.Email)
	assert.Equal(t, models.RoleAdmin, claims.Role)

	clock.Advance(8*time.Hour + time.Second)
	_, err = issuer.Parse(s.Token)
	assert.Error(t, err)
}

func TestTokenRememberMeAlignsCookie(t *testing.T) {
	clock := newFakeClock()
	issuer := newIssuer(clock)

	s, err := issuer.Issue(&models.User{ID: 1}, true)
	require.NoError(t, err)
	assert.Equal(t, 30*24*3600, s.MaxAge)
	assert.Equal(t, clock.Now().Add(30*24*time.Hour), s.ExpiresAt)

	clock.Advance(29 * 24 * time.Hour)
	_, err = issuer.Parse(s.Token)
	assert.NoError(t, err)
}

func TestTokenRejectsForeignIssuerAndSecret(t *testing.T) {
	clock := newFakeClock()
	issuer := newIssuer(clock)
	s, err := issuer.Issue(&models.User{ID: 1}, false)
	require.NoError(t, err)

	other := newIssuer(clock)
	other.Issuer = "someone-else"
	_, err = other.Parse(s.Token)
	assert.Error(t, err)

	wrongKey := newIssuer(clock)
	wrongKey.Secret = []byte("another-secret-another-secret-xxxx")
	_, err = wrongKey.Parse(s.Token)
	assert.Error(t, err)

	_, err = issuer.Parse("not.a.token")
	assert.Error(t, err)
}
