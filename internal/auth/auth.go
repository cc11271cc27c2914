package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/johndosdos/messenger/internal/model"
)

// MakeJWT signs an HS256 access token for userID. The gateway never issues
// tokens itself; this is used by tests and the load client.
func MakeJWT(userID int64, issuer, tokenSecret string, expiresIn time.Duration) (string, error) {
	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
	})

	return token.SignedString([]byte(tokenSecret))
}

// ValidateJWT checks signature and expiry and returns the user id carried in
// the subject claim.
func ValidateJWT(tokenString, tokenSecret string) (int64, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(t *jwt.Token) (any, error) { return []byte(tokenSecret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return 0, fmt.Errorf("internal/auth: failed to parse token: %w", err)
	}

	if !token.Valid {
		return 0, errors.New("internal/auth: token is invalid")
	}

	if claims.Subject == "" {
		return 0, errors.New("internal/auth: subject claim is missing")
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("internal/auth: subject is not a user id: %w", err)
	}
	return userID, nil
}

// TokenResolver verifies tokens locally and only asks the wrapped resolver for
// the profile of the user the token belongs to.
type TokenResolver struct {
	next   Resolver
	secret string
}

func NewTokenResolver(next Resolver, secret string) *TokenResolver {
	return &TokenResolver{next: next, secret: secret}
}

func (r *TokenResolver) ProfileByToken(ctx context.Context, token string) (model.Profile, error) {
	userID, err := ValidateJWT(token, r.secret)
	if err != nil {
		return model.Profile{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return r.next.ProfileByID(ctx, userID)
}

func (r *TokenResolver) ProfileByID(ctx context.Context, userID int64) (model.Profile, error) {
	return r.next.ProfileByID(ctx, userID)
}
