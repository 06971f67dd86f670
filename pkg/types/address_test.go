package types

import "testing"

func TestAddressRoundTripThroughDriverValue(t *testing.T) {
	line2 := "  Suite 4 "
	addr := Address{Line1: " 12 Market St ", Line2: &line2, City: "Austin", State: "TX", PostalCode: "78701"}.Normalize()

	value, err := addr.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}

	var decoded Address
	if err := decoded.Scan(value); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if decoded.Line1 != "12 Market St" {
		t.Fatalf("unexpected line1 %q", decoded.Line1)
	}
	if decoded.Line2 == nil || *decoded.Line2 != "Suite 4" {
		t.Fatalf("unexpected line2 %v", decoded.Line2)
	}
	if decoded.Country != "US" {
		t.Fatalf("expected default country US, got %q", decoded.Country)
	}
}

func TestAddressValueRequiresLine1(t *testing.T) {
	if _, err := (Address{City: "Austin"}).Value(); err == nil {
		t.Fatal("expected missing line1 to fail")
	}
}

func TestAddressScanStringAndNil(t *testing.T) {
	var addr Address
	if err := addr.Scan(`{"line1":"1 Main","city":"Reno","state":"NV","postal_code":"89501","country":"US"}`); err != nil {
		t.Fatalf("Scan string: %v", err)
	}
	if addr.City != "Reno" {
		t.Fatalf("unexpected city %q", addr.City)
	}
	if err := addr.Scan(nil); err != nil {
		t.Fatalf("Scan nil: %v", err)
	}
	if addr.Line1 != "" {
		t.Fatalf("expected zero address after nil scan")
	}
	if err := addr.Scan(42); err == nil {
		t.Fatal("expected unsupported type error")
	}
}
