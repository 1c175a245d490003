// Package id generates opaque identifiers for chat messages and requests.
package id

import (
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewID returns a random UUIDv4 encoded as 26 lowercase base32 characters.
func NewID() (string, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid: %w", err)
	}
	return strings.ToLower(encoding.EncodeToString(u[:])), nil
}

// NewPrefixed returns NewID prefixed with prefix and an underscore, falling
// back to a nil-UUID body when the random source fails.
func NewPrefixed(prefix string) string {
	body, err := NewID()
	if err != nil {
		body = strings.ToLower(encoding.EncodeToString(uuid.Nil[:]))
	}
	return prefix + "_" + body
}
