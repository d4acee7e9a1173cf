// Package id generates the identifiers used for API nonces and journal
// trade IDs.
package id

import (
	"github.com/oklog/ulid/v2"
)

// New returns a ULID string. IDs minted within the same millisecond stay
// lexicographically increasing, so journal rows and order records sort in
// creation order. Safe for concurrent use.
func New() string {
	return ulid.Make().String()
}
