// Package auth issues and verifies the two token families used by the
// orchestrator (short-lived crawler claim tokens and user session tokens),
// hashes passwords, and derives pseudonymous location keys.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// ScopeClaim authorizes slice claiming, ScopeIngest batch ingestion.
	ScopeClaim  = "claim"
	ScopeIngest = "ingest"

	issuer   = "dormitricity-orchestrator"
	audience = "gh-actions"

	// Clock skew tolerated when validating expiry.
	leeway = 30 * time.Second
)

// ErrBadToken is returned for any token that fails verification.
var ErrBadToken = errors.New("invalid token")

// CrawlerClaims is the payload of a crawler claim token. It is scoped to
// exactly one job: a token minted for job A cannot touch job B.
type CrawlerClaims struct {
	JobID string   `json:"job_id"`
	Scope []string `json:"scope"`
	jwt.RegisteredClaims
}

// HasScope reports whether the token carries the given scope.
func (c *CrawlerClaims) HasScope(scope string) bool {
	for _, s := range c.Scope {
		if s == scope {
			return true
		}
	}
	return false
}

// UserClaims is the payload of a user session token.
type UserClaims struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Auth holds the signing secrets.
type Auth struct {
	actionsSecret []byte
	userSecret    []byte
	dormHashKey   []byte
}

// New creates an Auth from the three configured secrets.
func New(actionsSecret, userSecret, dormHashKey string) *Auth {
	return &Auth{
		actionsSecret: []byte(actionsSecret),
		userSecret:    []byte(userSecret),
		dormHashKey:   []byte(dormHashKey),
	}
}

// SignCrawlerToken mints a claim credential for one job, valid for ttl.
func (a *Auth) SignCrawlerToken(jobID string, scopes []string, ttl time.Duration) (string, error) {
	claims := &CrawlerClaims{
		JobID: jobID,
		Scope: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.actionsSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign crawler token: %w", err)
	}
	return token, nil
}

// VerifyCrawlerToken validates signature and expiry of a claim credential.
func (a *Auth) VerifyCrawlerToken(tokenStr string) (*CrawlerClaims, error) {
	claims := &CrawlerClaims{}
	if err := a.parse(tokenStr, claims, a.actionsSecret); err != nil {
		return nil, err
	}
	return claims, nil
}

// SignUserToken mints a session token for a logged-in user.
func (a *Auth) SignUserToken(uid, email string, ttl time.Duration) (string, error) {
	claims := &UserClaims{
		UID:   uid,
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.userSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign user token: %w", err)
	}
	return token, nil
}

// VerifyUserToken validates a session token.
func (a *Auth) VerifyUserToken(tokenStr string) (*UserClaims, error) {
	claims := &UserClaims{}
	if err := a.parse(tokenStr, claims, a.userSecret); err != nil {
		return nil, err
	}
	return claims, nil
}

func (a *Auth) parse(tokenStr string, claims jwt.Claims, secret []byte) error {
	token, err := jwt.ParseWithClaims(tokenStr, claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return secret, nil
		},
		jwt.WithLeeway(leeway),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return ErrBadToken
	}
	return nil
}
