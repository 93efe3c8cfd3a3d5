package services

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"bloglytics/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims 是 AuthToken 中携带的身份信息
type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// UserID parses the subject back into a user id.
func (c *Claims) UserID() (uint, error) {
	n, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad subject %q: %w", c.Subject, err)
	}
	return uint(n), nil
}

type Session struct {
	Token     string
	Claims    *Claims
	ExpiresAt time.Time
	// MaxAge is the cookie lifetime in seconds, 0 for a browser session cookie.
	MaxAge int
}

type TokenIssuer struct {
	Secret     []byte
	Issuer     string
	Audience   string
	TTL        time.Duration
	RememberMe time.Duration
	Now        func() time.Time
}

func (t *TokenIssuer) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

// Issue signs an HS256 token. With rememberMe the token and the cookie
// share the long lifetime.
func (t *TokenIssuer) Issue(u *models.User, rememberMe bool) (*Session, error) {
	if len(t.Secret) == 0 {
		return nil, errors.New("token issuer: empty secret")
	}
	now := t.now()
	ttl := t.TTL
	if rememberMe {
		ttl = t.RememberMe
	}
	exp := now.Add(ttl)

	claims := &Claims{
		Email: u.Email,
		Name:  u.FullName,
		Role:  u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatUint(uint64(u.ID), 10),
			Issuer:    t.Issuer,
			Audience:  jwt.ClaimStrings{t.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.Secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	s := &Session{Token: signed, Claims: claims, ExpiresAt: exp}
	if rememberMe {
		s.MaxAge = int(ttl / time.Second)
	}
	return s, nil
}

func (t *TokenIssuer) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return t.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.Issuer),
		jwt.WithAudience(t.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	return claims, nil
}
