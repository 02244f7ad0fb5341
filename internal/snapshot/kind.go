package snapshot

import (
	"strings"

	"github.com/goccy/go-json"
)

// Kind is the SNMP base type code of a series.
type Kind int

const (
	KindUnknown   Kind = 0
	KindFloating  Kind = 1
	KindCounter32 Kind = 32
	KindCounter64 Kind = 64
)

// ParseKind maps a base_type string to its Kind, ignoring case.
// Empty or unrecognised names map to KindUnknown.
func ParseKind(name string) Kind {
	switch strings.ToLower(name) {
	case "floating":
		return KindFloating
	case "counter32":
		return KindCounter32
	case "counter64":
		return KindCounter64
	default:
		return KindUnknown
	}
}

// String returns the base_type name of k, or "" for KindUnknown.
func (k Kind) String() string {
	switch k {
	case KindFloating:
		return "floating"
	case KindCounter32:
		return "counter32"
	case KindCounter64:
		return "counter64"
	default:
		return ""
	}
}

// MarshalJSON encodes k as its base_type name, or null when unknown.
func (k Kind) MarshalJSON() ([]byte, error) {
	if k == KindUnknown {
		return []byte("null"), nil
	}
	return json.Marshal(k.String())
}
