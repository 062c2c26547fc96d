package multitenancy

import (
	"errors"
	"fmt"
)

// ErrTenantNotFound reports a tenant code absent from the source-of-truth
// registry. NotFoundError wraps it with the offending code.
var ErrTenantNotFound = errors.New("tenant not found")

// ValidationError reports an operation referencing a tenant code that is
// unknown, inactive or malformed. It is surfaced to the immediate caller and
// never silently downgraded.
type ValidationError struct {
	Code   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("tenant [%s] invalid: %s", e.Code, e.Reason)
}

// ProvisioningError reports a failed pool creation or connectivity validation
// for one tenant. Batch callers treat it as data and keep going; single-tenant
// callers propagate it.
type ProvisioningError struct {
	Code string
	Err  error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning tenant [%s]: %v", e.Code, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// MigrationError reports a schema apply that still failed after its single
// repair-and-retry pass. Fatal for the affected tenant's provisioning attempt,
// isolated from sibling tenants in a batch.
type MigrationError struct {
	// Code is the tenant code, or empty when the management scope failed.
	Code  string
	Table string
	Err   error
}

func (e *MigrationError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("migrating %s: %v", e.Table, e.Err)
	}
	return fmt.Sprintf("migrating %s for tenant [%s]: %v", e.Table, e.Code, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

// NotFoundError names the tenant code an operation referenced but the
// source-of-truth registry does not hold.
type NotFoundError struct {
	Code string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tenant [%s] not found", e.Code)
}

func (e *NotFoundError) Unwrap() error { return ErrTenantNotFound }

// RoutingError reports an ambient context bound to a code with no live
// registry entry. The registry and the bound context have drifted, which is
// an ordering bug in the caller rather than user input.
type RoutingError struct {
	Code string
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("no live database registered for tenant [%s]", e.Code)
}
