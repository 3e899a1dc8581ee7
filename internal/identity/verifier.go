// Package identity verifies caller tokens and produces the authenticated
// identity consumed by the core. Tokens are HMAC-SHA256 JWTs carrying the
// subject id, email, and display name; a token that merely decodes is never
// accepted without a valid signature.
package identity

import (
	"errors"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"spacedrive/pkg/domain"
)

const (
	defaultIssuer   = "spacedrive-auth"
	defaultAudience = "spacedrive-api"
	defaultLeeway   = 30 * time.Second
)

// Config configures token verification.
type Config struct {
	Secret   string
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// Verifier validates identity tokens.
type Verifier struct {
	secret   []byte
	issuer   string
	audience string
	leeway   time.Duration
}

type identityClaims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

// NewVerifier creates a token verifier.
func NewVerifier(cfg Config) (*Verifier, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("identity verifier requires a secret")
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = defaultIssuer
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		audience = defaultAudience
	}
	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = defaultLeeway
	}
	return &Verifier{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		leeway:   leeway,
	}, nil
}

// Verify validates the token signature and claims and returns the identity.
func (v *Verifier) Verify(token string) (domain.Identity, error) {
	claims := identityClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil || !parsed.Valid {
		if err == nil {
			err = errors.New("invalid token")
		}
		return domain.Identity{}, err
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return domain.Identity{}, errors.New("token subject missing")
	}
	email := strings.ToLower(strings.TrimSpace(claims.Email))
	if email == "" {
		return domain.Identity{}, errors.New("token email missing")
	}
	return domain.Identity{
		ID:          subject,
		Email:       email,
		DisplayName: strings.TrimSpace(claims.Name),
	}, nil
}
