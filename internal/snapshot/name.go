package snapshot

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/xtxerr/infoset/internal/errors"
)

var nameRegex = regexp.MustCompile(`^(\d+)_([0-9a-f]+)\.json$`)

// Name is the identity encoded in a spool filename:
// <unix-timestamp>_<hex-device-id>.json
type Name struct {
	Timestamp int64
	DeviceID  string
}

// ParseName parses a spool file base name.
func ParseName(base string) (Name, error) {
	m := nameRegex.FindStringSubmatch(base)
	if m == nil {
		return Name{}, fmt.Errorf("%q: %w", base, errors.ErrInvalidFilename)
	}

	ts, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return Name{}, fmt.Errorf("%q: timestamp: %w", base, errors.ErrInvalidFilename)
	}

	return Name{Timestamp: ts, DeviceID: m[2]}, nil
}

// String returns the canonical file name.
func (n Name) String() string {
	return fmt.Sprintf("%d_%s.json", n.Timestamp, n.DeviceID)
}
