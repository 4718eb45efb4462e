package types

import "strings"

type Role string

const (
	RoleCustomer Role = "customer"
	RoleMerchant Role = "merchant"
)

// ParseRole maps a free-form role string onto a Role. Anything that is not
// recognisably a merchant is treated as a customer.
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "merchant", "seller", "store_owner":
		return RoleMerchant
	default:
		return RoleCustomer
	}
}

func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleMerchant
}

func (r Role) String() string {
	return string(r)
}
