package auth

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

type contextKey string

// ContextKeyCaller is the context key for the authenticated caller address
const ContextKeyCaller contextKey = "caller"

// WithCaller adds the authenticated caller to the context
func WithCaller(ctx context.Context, caller common.Address) context.Context {
	return context.WithValue(ctx, ContextKeyCaller, caller)
}

// CallerFromContext retrieves the authenticated caller from the context
func CallerFromContext(ctx context.Context) (common.Address, bool) {
	caller, ok := ctx.Value(ContextKeyCaller).(common.Address)
	return caller, ok
}
