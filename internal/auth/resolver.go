// Package auth resolves user profiles from connection tokens and user ids.
package auth

import (
	"context"
	"errors"

	"github.com/johndosdos/messenger/internal/model"
)

// ErrNotFound covers unknown users, invalid or expired tokens, and any
// downstream failure of the identity service.
var ErrNotFound = errors.New("internal/auth: user not found")

// Resolver is the identity capability consumed by chat sessions.
type Resolver interface {
	ProfileByToken(ctx context.Context, token string) (model.Profile, error)
	ProfileByID(ctx context.Context, userID int64) (model.Profile, error)
}
