package enums

import "fmt"

// ActorRole is the platform role of whoever drives an order operation.
type ActorRole string

const (
	ActorRoleCustomer   ActorRole = "customer"
	ActorRoleRetailer   ActorRole = "retailer"
	ActorRoleWholesaler ActorRole = "wholesaler"
	ActorRoleAdmin      ActorRole = "admin"
	ActorRoleSystem     ActorRole = "system"
)

var validActorRoles = []ActorRole{
	ActorRoleCustomer,
	ActorRoleRetailer,
	ActorRoleWholesaler,
	ActorRoleAdmin,
	ActorRoleSystem,
}

// String implements fmt.Stringer.
func (r ActorRole) String() string {
	return string(r)
}

// IsValid reports whether the value is a known ActorRole.
func (r ActorRole) IsValid() bool {
	for _, candidate := range validActorRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// IsPrivileged reports whether the role bypasses buyer/seller ownership checks.
func (r ActorRole) IsPrivileged() bool {
	return r == ActorRoleAdmin || r == ActorRoleSystem
}

// ParseActorRole converts raw input into an ActorRole.
func ParseActorRole(value string) (ActorRole, error) {
	for _, candidate := range validActorRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid actor role %q", value)
}
