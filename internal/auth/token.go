package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/shehryarbajwa/sweetlink/internal/clock"
)

// Scope is the class of capability a token grants
type Scope string

const (
	// ScopeCLI tokens authorize control-plane callers
	ScopeCLI Scope = "cli"
	// ScopeSession tokens authorize a single tab to register one session id
	ScopeSession Scope = "session"
)

// Errors returned by Verify. All of them match ErrAuth with errors.Is.
var (
	ErrAuth          = errors.New("auth error")
	ErrMissingToken  = fmt.Errorf("%w: missing token", ErrAuth)
	ErrInvalidToken  = fmt.Errorf("%w: invalid token", ErrAuth)
	ErrTokenExpired  = fmt.Errorf("%w: token expired", ErrAuth)
	ErrScopeMismatch = fmt.Errorf("%w: token scope mismatch", ErrAuth)
)

// Claims is the payload of a SweetLink token
type Claims struct {
	Scope     Scope  `json:"scope"`
	SessionID string `json:"sessionId,omitempty"`
	jwt.RegisteredClaims
}

// Authority issues and verifies HS256 tokens. Tokens cannot be revoked;
// expiry is the only way they stop working.
type Authority struct {
	secret []byte
	clock  clock.Clock
	issuer string
}

// NewAuthority creates a token authority signing with secret
func NewAuthority(secret string, clk clock.Clock) *Authority {
	if clk == nil {
		clk = clock.Real()
	}
	return &Authority{
		secret: []byte(secret),
		clock:  clk,
		issuer: "sweetlink",
	}
}

// Issue mints a token for subject. Session-scoped tokens are bound to
// subject as their session id.
func (a *Authority) Issue(scope Scope, subject string, ttl time.Duration) (string, time.Time, error) {
	if len(a.secret) == 0 {
		return "", time.Time{}, errors.New("auth: signing secret is empty")
	}
	if scope != ScopeCLI && scope != ScopeSession {
		return "", time.Time{}, fmt.Errorf("auth: unknown scope %q", scope)
	}
	if scope == ScopeSession && subject == "" {
		return "", time.Time{}, errors.New("auth: session tokens need a session id")
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.New("auth: ttl must be positive")
	}

	now := a.clock.Now()
	expiresAt := now.Add(ttl)
	claims := Claims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	if scope == ScopeSession {
		claims.SessionID = subject
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks signature, expiry and scope
func (a *Authority) Verify(token string, expected Scope) (*Claims, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	if len(a.secret) == 0 {
		return nil, ErrInvalidToken
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(a.issuer),
		jwt.WithTimeFunc(a.clock.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Scope != expected {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrScopeMismatch, claims.Scope, expected)
	}
	if claims.Scope == ScopeSession && claims.SessionID == "" {
		return nil, fmt.Errorf("%w: session token without session id", ErrInvalidToken)
	}
	return claims, nil
}
