package multitenancy

import "context"

type tenantKey struct{}

// WithTenant returns a copy of ctx carrying code as the current tenant.
// Derived contexts inherit the binding; the parent is left untouched.
func WithTenant(ctx context.Context, code string) context.Context {
	return context.WithValue(ctx, tenantKey{}, code)
}

// TenantFrom reports the tenant code bound to ctx, if any.
func TenantFrom(ctx context.Context) (string, bool) {
	code, ok := ctx.Value(tenantKey{}).(string)
	return code, ok
}

// RunScoped executes fn with the ambient tenant bound to code. The binding
// lives only on the context handed to fn, so it is gone on every exit path,
// panics included, and never leaks into the caller's context.
func RunScoped(ctx context.Context, code string, fn func(context.Context) error) error {
	return fn(WithTenant(ctx, code))
}
