// Package ident derives the stable identifiers used across infoset.
package ident

import (
	"crypto/sha256"
	"encoding/hex"
)

// SeriesID returns the identifier of the series (deviceID, label, index).
//
// The three parts are concatenated without separators before hashing, so
// identifiers match those already stored by earlier deployments.
func SeriesID(deviceID, label, index string) string {
	return digest(deviceID + label + index)
}

// DeviceID returns the hex device identifier an agent uses for hostname.
func DeviceID(agent, hostname string) string {
	return digest(agent + hostname)
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
