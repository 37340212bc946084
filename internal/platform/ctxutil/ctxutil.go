package ctxutil

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey int

const accountIDKey ctxKey = iota

// WithAccountID scopes a context to the account a generation batch belongs
// to. Platform clients read it back for audit keys.
func WithAccountID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, accountIDKey, id)
}

func AccountID(ctx context.Context) uuid.UUID {
	if v, ok := ctx.Value(accountIDKey).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}
