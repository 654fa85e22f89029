package tenants

import "github.com/0Ankit0/identitykit/users"

// Tenant is an organization the current user belongs to, as seen from the
// client: the membership carries the caller's own role within that tenant.
// Exactly one tenant is "active" at a time; the active ID is mirrored into
// the durable keyring so a restart lands in the same tenant.
type Tenant struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Role users.RoleType `json:"role"` // Role of the current user within this tenant
}

// Find returns the tenant with the given ID from the membership list.
func Find(memberships []Tenant, tenantID string) (Tenant, bool) {
	for _, t := range memberships {
		if t.ID == tenantID {
			return t, true
		}
	}
	return Tenant{}, false
}
