// Package scope carries multi-tenant identity (client account and
// engagement) through context.Context.
//
// Every flow read and write is scoped to exactly one tenant. The scope is
// attached to the context at the request boundary and restored from flow
// records when background services (reconciliation, health monitor) act on
// a flow outside a request.
package scope

import "context"

// Tenant is a (client account, engagement) pair. All records and
// operations belong to exactly one tenant.
type Tenant struct {
	ClientAccountID string `json:"client_account_id"`
	EngagementID    string `json:"engagement_id"`
}

// IsZero reports whether the tenant carries no identity.
func (t Tenant) IsZero() bool {
	return t.ClientAccountID == "" && t.EngagementID == ""
}

type ctxKey struct{}

// Capture extracts the tenant from the context.
// Returns a zero Tenant if no scope is present.
func Capture(ctx context.Context) Tenant {
	t, _ := ctx.Value(ctxKey{}).(Tenant)
	return t
}

// Restore attaches the tenant to the context. If the tenant is zero the
// context is returned unchanged (no-op).
func Restore(ctx context.Context, t Tenant) context.Context {
	if t.IsZero() {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, t)
}
