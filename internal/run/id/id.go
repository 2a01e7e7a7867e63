// Package id generates and checks run identifiers.
package id

import (
	"encoding/hex"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Prefix starts every run identifier.
const Prefix = "run-"

var pattern = regexp.MustCompile(`^run-\d{8}T\d{6}-[0-9a-f]{8}$`)

// Generate returns a new identifier of the form run-<UTC time>-<8 hex>,
// e.g. run-20240309T143005-1f0c2a9b. Identifiers sort by creation second.
func Generate() string {
	return format(time.Now(), uuid.New())
}

func format(t time.Time, u uuid.UUID) string {
	return Prefix + t.UTC().Format("20060102T150405") + "-" + hex.EncodeToString(u[:4])
}

// Valid reports whether s has the shape produced by Generate.
func Valid(s string) bool {
	return pattern.MatchString(s)
}
