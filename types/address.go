package types

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strings"
)

// Address is a postal address embedded in users and orders.
type Address struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zip_code"`
	Country string `json:"country"`
}

// Complete reports whether every field of the address is non-blank.
func (a Address) Complete() bool {
	for _, field := range []string{a.Street, a.City, a.State, a.ZipCode, a.Country} {
		if strings.TrimSpace(field) == "" {
			return false
		}
	}
	return true
}

// Trimmed returns a copy of the address with surrounding whitespace removed.
func (a Address) Trimmed() Address {
	return Address{
		Street:  strings.TrimSpace(a.Street),
		City:    strings.TrimSpace(a.City),
		State:   strings.TrimSpace(a.State),
		ZipCode: strings.TrimSpace(a.ZipCode),
		Country: strings.TrimSpace(a.Country),
	}
}

// Value stores the address as a JSON document.
func (a Address) Value() (driver.Value, error) {
	return json.Marshal(a)
}

// Scan reads an address stored as a JSON document.
func (a *Address) Scan(src any) error {
	switch data := src.(type) {
	case []byte:
		return json.Unmarshal(data, a)
	case string:
		return json.Unmarshal([]byte(data), a)
	case nil:
		*a = Address{}
		return nil
	default:
		return errors.New("unsupported address column type")
	}
}
