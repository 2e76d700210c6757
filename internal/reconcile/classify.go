package reconcile

import (
	"errors"

	"endpoint-reconciler/internal/models"
	"endpoint-reconciler/internal/snsclient"
)

// Verdict is the classified result of one remote check or delete.
type Verdict struct {
	Status      models.Status
	Reason      string
	ErrorDetail *string
}

// ClassifyCheck maps a status-check response or failure onto the outcome
// taxonomy. Pure: no I/O, no retries. Failures passed in are final, the
// retry controller has already spent its budget.
func ClassifyCheck(attrs snsclient.EndpointAttributes, err error) Verdict {
	if err != nil {
		switch {
		case errors.Is(err, snsclient.ErrNotFound):
			return Verdict{Status: models.StatusNotFound, Reason: "endpoint does not exist", ErrorDetail: detail(err)}
		case errors.Is(err, snsclient.ErrInvalidParameter):
			return Verdict{Status: models.StatusInvalid, Reason: "malformed endpoint identifier", ErrorDetail: detail(err)}
		default:
			return Verdict{Status: models.StatusError, Reason: "remote call failed after retries", ErrorDetail: detail(err)}
		}
	}
	if !attrs.Enabled {
		return Verdict{Status: models.StatusDisabled, Reason: "endpoint disabled"}
	}
	if attrs.Token == "" {
		return Verdict{Status: models.StatusDisabled, Reason: "no delivery token"}
	}
	return Verdict{Status: models.StatusEnabled, Reason: "endpoint enabled"}
}

// ClassifyDelete maps a deletion attempt onto the taxonomy. Deleting an
// already-absent endpoint is an idempotent success, not an error.
func ClassifyDelete(err error) Verdict {
	if err == nil {
		return Verdict{Status: models.StatusDeleted, Reason: "endpoint removed"}
	}
	switch {
	case errors.Is(err, snsclient.ErrNotFound):
		return Verdict{Status: models.StatusAlreadyDeleted, Reason: "endpoint was already gone"}
	case errors.Is(err, snsclient.ErrInvalidParameter):
		return Verdict{Status: models.StatusInvalid, Reason: "malformed endpoint identifier", ErrorDetail: detail(err)}
	default:
		return Verdict{Status: models.StatusError, Reason: "remote call failed after retries", ErrorDetail: detail(err)}
	}
}

func detail(err error) *string {
	s := err.Error()
	return &s
}
