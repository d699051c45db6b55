// Package auth issues and checks the bearer tokens that authorise token
// issuance. Tokens are HS256 JWTs signed with a shared secret.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ScopeIssue is the scope required to issue tokens.
const ScopeIssue = "issue"

const ctxIssuerClaims = "ecochain_issuer_claims"

// IssuerClaims are the JWT claims of an issuer token.
type IssuerClaims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

// Issuer signs and verifies issuer tokens.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewIssuer creates an Issuer. ttl defaults to 24 hours.
func NewIssuer(secret, issuer string, ttl time.Duration) (*Issuer, error) {
	if len(secret) < 16 {
		return nil, errors.New("issuer secret must be at least 16 bytes")
	}
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: []byte(secret), issuer: issuer, ttl: ttl}, nil
}

// Issue creates a signed token for subject with the issue scope.
func (i *Issuer) Issue(subject string) (string, error) {
	now := time.Now().UTC()
	claims := IssuerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			ID:        uuid.New().String(),
		},
		Scope: ScopeIssue,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign issuer token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates an issuer token, returning its claims.
func (i *Issuer) Verify(tokenStr string) (*IssuerClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&IssuerClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return i.secret, nil
		},
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify issuer token: %w", err)
	}
	claims, ok := token.Claims.(*IssuerClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid issuer token claims")
	}
	if claims.Scope != ScopeIssue {
		return nil, fmt.Errorf("token scope %q cannot issue", claims.Scope)
	}
	return claims, nil
}

// RequireIssuer returns a gin middleware that rejects requests without a
// valid issuer bearer token and stores the claims on the context.
func RequireIssuer(i *Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer token required",
			})
			return
		}

		claims, err := i.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token: " + err.Error(),
			})
			return
		}

		c.Set(ctxIssuerClaims, claims)
		c.Next()
	}
}

// ClaimsFromCtx returns the claims stored by RequireIssuer, or nil.
func ClaimsFromCtx(c *gin.Context) *IssuerClaims {
	v, _ := c.Get(ctxIssuerClaims)
	claims, _ := v.(*IssuerClaims)
	return claims
}
