// Package uuid generates canonical and temporary record identifiers.
package uuid

import (
	"strings"

	"github.com/google/uuid"
)

// TempPrefix marks ids assigned locally before the server has confirmed a record.
const TempPrefix = "tmp_"

// New returns a random RFC 4122 v4 identifier.
func New() string {
	return uuid.NewString()
}

// NewTemp returns a locally-assigned identifier that no server will ever issue.
func NewTemp() string {
	return TempPrefix + uuid.NewString()
}

// IsTemp reports whether id was produced by NewTemp.
func IsTemp(id string) bool {
	return strings.HasPrefix(id, TempPrefix)
}
