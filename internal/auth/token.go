package auth

import (
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/spec-kit/user-management/internal/config"
)

var (
	// ErrMalformedToken covers parse failures, bad signatures and unexpected algorithms.
	ErrMalformedToken = errors.New("malformed token")
	// ErrTokenExpired is returned when the current time is at or past the token expiry.
	ErrTokenExpired = errors.New("token expired")
)

// Claim names the codec owns.
const (
	claimSubject   = "sub"
	claimIssuedAt  = "iat"
	claimExpiresAt = "exp"
)

// Registered claims the parser checks. Extra claims may not set them.
var validatedClaims = map[string]struct{}{
	claimSubject:   {},
	claimIssuedAt:  {},
	claimExpiresAt: {},
	"nbf":          {},
	"aud":          {},
	"iss":          {},
}

// TokenManager handles issuing and validating JWT tokens. It holds no mutable
// state and is safe for concurrent use.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// TokenOption customises a TokenManager.
type TokenOption func(*TokenManager)

// WithClock replaces the wall clock used for issuance and expiry checks.
func WithClock(now func() time.Time) TokenOption {
	return func(tm *TokenManager) {
		if now != nil {
			tm.now = now
		}
	}
}

// NewTokenManager builds a new manager from an immutable token configuration.
func NewTokenManager(cfg config.TokenConfig, opts ...TokenOption) (*TokenManager, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("token secret must not be empty")
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("token ttl must be positive, got %s", cfg.TTL)
	}
	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)

	tm := &TokenManager{secret: secret, ttl: cfg.TTL, now: time.Now}
	for _, opt := range opts {
		opt(tm)
	}
	return tm, nil
}

// TTL returns the fixed lifetime of issued tokens.
func (tm *TokenManager) TTL() time.Duration {
	return tm.ttl
}

// Issue builds and signs a token for subject. Expiry is always issued-at plus the TTL.
func (tm *TokenManager) Issue(subject string, extraClaims map[string]any) (string, time.Time, error) {
	issuedAt := tm.now().Truncate(jwt.TimePrecision)
	expiresAt := issuedAt.Add(tm.ttl)

	claims := make(jwt.MapClaims, len(extraClaims)+3)
	for k, v := range extraClaims {
		if _, reserved := validatedClaims[k]; reserved {
			continue
		}
		claims[k] = v
	}
	claims[claimSubject] = subject
	claims[claimIssuedAt] = jwt.NewNumericDate(issuedAt)
	claims[claimExpiresAt] = jwt.NewNumericDate(expiresAt)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// Subject returns the token subject after verifying signature and expiry.
func (tm *TokenManager) Subject(tokenStr string) (string, error) {
	claims, err := tm.parse(tokenStr, true)
	if err != nil {
		return "", err
	}
	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return "", ErrMalformedToken
	}
	return subject, nil
}

// Expiry returns the token expiry after verifying the signature. It does not
// reject expired tokens so callers can report when a token lapsed.
func (tm *TokenManager) Expiry(tokenStr string) (time.Time, error) {
	claims, err := tm.parse(tokenStr, false)
	if err != nil {
		return time.Time{}, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, ErrMalformedToken
	}
	return exp.Time, nil
}

// claims returns every claim carried by a signed, unexpired token.
func (tm *TokenManager) claims(tokenStr string) (map[string]any, error) {
	claims, err := tm.parse(tokenStr, true)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// IsStructurallyValid reports whether the token parses and its signature
// verifies, regardless of expiry.
func (tm *TokenManager) IsStructurallyValid(tokenStr string) bool {
	_, err := tm.parse(tokenStr, false)
	return err == nil
}

// Validate reports whether the token is signed, unexpired and issued to
// principal. It never returns an error.
func (tm *TokenManager) Validate(tokenStr string, principal *Principal) bool {
	if principal == nil {
		return false
	}
	subject, err := tm.Subject(tokenStr)
	if err != nil {
		return false
	}
	return subject == principal.Subject
}

func (tm *TokenManager) parse(tokenStr string, checkExpiry bool) (jwt.MapClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(tm.now),
		jwt.WithStrictDecoding(),
	}
	if checkExpiry {
		opts = append(opts, jwt.WithExpirationRequired())
	} else {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return tm.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if !parsed.Valid {
		return nil, ErrMalformedToken
	}
	return claims, nil
}
