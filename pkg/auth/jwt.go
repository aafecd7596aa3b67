package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mahaj/travelchat/pkg/model"
)

const defaultTTL = 24 * time.Hour

type Claims struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	Handle      string `json:"handle,omitempty"`
	jwt.RegisteredClaims
}

// Identity returns the user identity carried by the token.
func (c *Claims) Identity() model.UserIdentity {
	return model.UserIdentity{ID: c.UserID, DisplayName: c.DisplayName, Handle: c.Handle}
}

type contextKey string

const UserKey contextKey = "user"

// WithClaims stores validated claims on the request context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, UserKey, claims)
}

// FromContext returns the claims stored by WithClaims.
func FromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(UserKey).(*Claims)
	return claims, ok
}

// Issuer signs and validates HS256 tokens with a shared secret.
type Issuer struct {
	key []byte
	ttl time.Duration
}

func NewIssuer(secret string) *Issuer {
	return &Issuer{key: []byte(secret), ttl: defaultTTL}
}

// GenerateToken creates a new JWT token for the given user
func (i *Issuer) GenerateToken(user model.UserIdentity) (string, error) {
	if user.ID == "" {
		return "", errors.New("user id is required")
	}
	claims := &Claims{
		UserID:      user.ID,
		DisplayName: user.DisplayName,
		Handle:      user.Handle,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(i.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.key)
}

// ValidateToken parses and validates a JWT token
func (i *Issuer) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return i.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.UserID == "" {
		return nil, errors.New("token has no user id")
	}

	return claims, nil
}

// Inspect decodes the claims of a token without verifying its signature.
// Clients use it to discard credentials that have already expired; the
// server stays the authority on validity.
func Inspect(tokenString string, now time.Time) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.ExpiresAt != nil && !claims.ExpiresAt.After(now) {
		return nil, jwt.ErrTokenExpired
	}
	return claims, nil
}

// BearerToken strips an optional "Bearer " prefix.
func BearerToken(header string) string {
	if len(header) > 7 && header[:7] == "Bearer " {
		return header[7:]
	}
	return header
}
