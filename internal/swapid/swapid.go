// Package swapid defines the opaque identifier shared by every swap.
package swapid

import (
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"
)

// ID is a 128-bit identifier assigned once, at swap creation, and never reused.
type ID uuid.UUID

// New assigns a fresh, globally unique ID.
func New() ID {
	return ID(uuid.New())
}

// Parse decodes the canonical hyphenated hex form produced by String.
func Parse(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ID{}, fmt.Errorf("swapid: %w", err)
	}
	return ID(u), nil
}

func (id ID) String() string {
	return uuid.UUID(id).String()
}

func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Value implements driver.Valuer so an ID can be written directly via database/sql.
func (id ID) Value() (driver.Value, error) {
	return id.String(), nil
}

// Scan implements sql.Scanner so an ID can be read directly via database/sql.
func (id *ID) Scan(src any) error {
	switch v := src.(type) {
	case string:
		parsed, err := Parse(v)
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	case []byte:
		return id.Scan(string(v))
	default:
		return fmt.Errorf("swapid: cannot scan %T", src)
	}
}
