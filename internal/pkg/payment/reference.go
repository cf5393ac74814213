package payment

import (
	"strings"

	"github.com/google/uuid"
)

// NewReference returns a human readable reference such as PP-1A2B3C4D.
func NewReference(prefix string) string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return prefix + "-" + id[:8]
}
