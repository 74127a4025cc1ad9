package middleware

import (
	"context"

	"github.com/floworc/floworc/scope"
)

// Scope returns middleware that restores the execution's tenant into the
// context, so handlers see the same tenant scope as the caller that
// created the flow.
func Scope() Middleware {
	return func(ctx context.Context, ex *Execution, next Handler) error {
		ctx = scope.Restore(ctx, ex.Tenant)
		return next(ctx)
	}
}
