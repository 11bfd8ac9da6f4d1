package utils

import (
	"github.com/google/uuid"
)

// GenerateBinID returns a new bin identifier: a random 128-bit value in
// canonical lowercase form. Collisions are treated as negligible and are
// not handled defensively.
func GenerateBinID() string {
	return uuid.NewString()
}
