package domain

import (
	"fmt"
	"strings"
)

// Roles propagated by the platform gateway. SUPER_ADMIN bypasses all
// document access filtering; every other role is restricted to public
// documents plus an explicit whitelist.
const (
	RoleSuperAdmin = "SUPER_ADMIN"
	RoleAdmin      = "ADMIN"
	RoleUser       = "USER"
)

// AccessTypePublic marks a document visible to every authenticated user.
const AccessTypePublic = "public"

// AccessFilter restricts vector searches to documents the requester may
// see. A nil or unrestricted filter applies no restriction.
type AccessFilter struct {
	Role string
	// Unrestricted is true for the highest-privilege role only.
	Unrestricted bool
	// Public is always true for restricted filters.
	Public bool
	// WhitelistedDocs are document ids the user may see in addition to
	// public documents.
	WhitelistedDocs []string
}

// NewUnrestrictedFilter returns the empty filter used for SUPER_ADMIN.
func NewUnrestrictedFilter(role string) *AccessFilter {
	return &AccessFilter{Role: role, Unrestricted: true, Public: true}
}

// NewRestrictedFilter returns the public-OR-whitelist filter used for
// every non-privileged role.
func NewRestrictedFilter(role string, whitelist []string) *AccessFilter {
	return &AccessFilter{Role: role, Public: true, WhitelistedDocs: whitelist}
}

// Restricts reports whether the filter constrains search results.
func (f *AccessFilter) Restricts() bool {
	return f != nil && !f.Unrestricted
}

// Expression renders the filter as an opaque expression string for
// logging and metrics. It is not executed.
func (f *AccessFilter) Expression() string {
	if !f.Restricts() {
		return ""
	}
	if len(f.WhitelistedDocs) == 0 {
		return "access_type = public"
	}
	return fmt.Sprintf("access_type = public OR document_id IN (%s)",
		strings.Join(f.WhitelistedDocs, ", "))
}
