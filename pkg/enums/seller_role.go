package enums

import "fmt"

// SellerRole identifies which marketplace tier owns a listing or an order.
type SellerRole string

const (
	SellerRoleWholesaler SellerRole = "wholesaler"
	SellerRoleRetailer   SellerRole = "retailer"
)

var validSellerRoles = []SellerRole{
	SellerRoleWholesaler,
	SellerRoleRetailer,
}

// String implements fmt.Stringer.
func (r SellerRole) String() string {
	return string(r)
}

// IsValid reports whether the value is a known SellerRole.
func (r SellerRole) IsValid() bool {
	for _, candidate := range validSellerRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseSellerRole converts raw input into a SellerRole.
func ParseSellerRole(value string) (SellerRole, error) {
	for _, candidate := range validSellerRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid seller role %q", value)
}

// SellerRoleFor returns the seller tier that owns listings of the given kind.
func SellerRoleFor(kind ListingKind) SellerRole {
	if kind == ListingKindRetailer {
		return SellerRoleRetailer
	}
	return SellerRoleWholesaler
}
