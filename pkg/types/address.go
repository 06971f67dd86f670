package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// Address is the delivery destination captured on an order; stored as JSON.
type Address struct {
	Name       string  `json:"name,omitempty"`
	Line1      string  `json:"line1" validate:"required"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city" validate:"required"`
	State      string  `json:"state" validate:"required"`
	PostalCode string  `json:"postal_code" validate:"required"`
	Country    string  `json:"country"`
	Phone      string  `json:"phone,omitempty"`
}

// Normalize trims fields and defaults the country.
func (a Address) Normalize() Address {
	a.Name = strings.TrimSpace(a.Name)
	a.Line1 = strings.TrimSpace(a.Line1)
	a.City = strings.TrimSpace(a.City)
	a.State = strings.TrimSpace(a.State)
	a.PostalCode = strings.TrimSpace(a.PostalCode)
	a.Country = strings.ToUpper(strings.TrimSpace(a.Country))
	if a.Country == "" {
		a.Country = "US"
	}
	if a.Line2 != nil {
		trimmed := strings.TrimSpace(*a.Line2)
		if trimmed == "" {
			a.Line2 = nil
		} else {
			a.Line2 = &trimmed
		}
	}
	return a
}

// Value serializes the address to JSON.
func (a Address) Value() (driver.Value, error) {
	if strings.TrimSpace(a.Line1) == "" {
		return nil, fmt.Errorf("address: missing line1")
	}
	return json.Marshal(a)
}

// Scan decodes a JSON column into the address.
func (a *Address) Scan(value interface{}) error {
	if value == nil {
		*a = Address{}
		return nil
	}
	raw, err := asJSON(value)
	if err != nil {
		return fmt.Errorf("address: %w", err)
	}
	return json.Unmarshal(raw, a)
}

func asJSON(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported scan type %T", value)
	}
}
