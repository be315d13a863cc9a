// Package auth resolves the calling buyer from a bearer JWT issued by the identity provider.
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

const contextKeyUserID = "auth.user_id"

var (
	ErrMissingToken  = errors.New("missing bearer token")
	ErrNotConfigured = errors.New("authentication not configured")
)

// Claims are the JWT claims issued by the identity provider. The subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Validator checks HS256 tokens signed with the provider's shared secret
type Validator struct {
	secret []byte
	issuer string
}

// NewValidator returns nil when secret is empty; a nil validator rejects every request.
func NewValidator(secret, issuer string) *Validator {
	if secret == "" {
		return nil
	}
	return &Validator{secret: []byte(secret), issuer: issuer}
}

// Validate parses and validates a JWT token string
func (v *Validator) Validate(tokenStr string) (*Claims, error) {
	if v == nil {
		return nil, ErrNotConfigured
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token subject is required")
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return nil, fmt.Errorf("token subject is not a user id: %w", err)
	}
	return claims, nil
}

// Issue signs a token for subject. Used by tests and local tooling.
func (v *Validator) Issue(subject string, ttl time.Duration) (string, error) {
	if v == nil {
		return "", ErrNotConfigured
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: "authenticated",
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", fmt.Errorf("invalid Authorization header format (expected 'Bearer <token>')")
	}
	return strings.TrimSpace(parts[1]), nil
}

// Middleware rejects requests without a valid bearer token and stores the subject
// on the gin context.
func Middleware(v *Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated", "details": err.Error()})
			return
		}

		claims, err := v.Validate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Set(contextKeyUserID, claims.Subject)
		c.Next()
	}
}

// UserID returns the authenticated subject, or "" when the request was not authenticated
func UserID(c *gin.Context) string {
	return c.GetString(contextKeyUserID)
}
