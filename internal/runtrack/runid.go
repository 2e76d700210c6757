package runtrack

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewRunID mints a run identifier of the form
// "run-20240131T120405Z-9f1c2d3e". The UTC timestamp prefix makes ids
// sort in creation order; the uuid suffix keeps two runs started in the
// same second from colliding.
func NewRunID(now time.Time) string {
	return fmt.Sprintf("run-%s-%s", now.UTC().Format("20060102T150405Z"), uuid.NewString()[:8])
}
