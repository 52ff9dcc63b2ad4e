package schema

import (
	"fmt"

	"github.com/google/uuid"
)

// ID is the opaque 16-byte primary key used by every core table.
// IDs are preserved across migration, never regenerated.
type ID [16]byte

// ZeroID is the all-zero sentinel. Rows keyed by ZeroID are reserved
// placeholder slots and are never touched by DeleteAll.
var ZeroID ID

// NewID returns a fresh random ID.
func NewID() ID {
	return ID(uuid.New())
}

// ParseID parses the canonical UUID text form into an ID.
func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ZeroID, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return ID(u), nil
}

// MustParseID is ParseID that panics on error. Test fixtures only.
func MustParseID(s string) ID {
	id, err := ParseID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// String renders the ID in canonical UUID text form.
func (id ID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether the ID is the all-zero sentinel.
func (id ID) IsZero() bool {
	return id == ZeroID
}

// MarshalText renders the ID as canonical UUID text, so JSON status files
// and snapshots stay human-readable.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText parses the canonical UUID text form.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// CoerceID converts a value read from a data plane into an ID.
// Accepts ID, uuid.UUID, [16]byte via ID, string and []byte text forms.
func CoerceID(v any) (ID, error) {
	switch val := v.(type) {
	case ID:
		return val, nil
	case uuid.UUID:
		return ID(val), nil
	case [16]byte:
		return ID(val), nil
	case string:
		return ParseID(val)
	case []byte:
		return ParseID(string(val))
	default:
		return ZeroID, fmt.Errorf("cannot coerce %T to id", v)
	}
}
