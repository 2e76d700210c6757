package reconcile

import (
	"errors"
	"fmt"
	"testing"

	"endpoint-reconciler/internal/models"
	"endpoint-reconciler/internal/snsclient"
)

func TestClassifyCheck(t *testing.T) {
	tests := []struct {
		name   string
		attrs  snsclient.EndpointAttributes
		err    error
		status models.Status
		reason string
	}{
		{"enabled with token", snsclient.EndpointAttributes{Enabled: true, Token: "abc"}, nil, models.StatusEnabled, "endpoint enabled"},
		{"disabled", snsclient.EndpointAttributes{Enabled: false}, nil, models.StatusDisabled, "endpoint disabled"},
		{"enabled missing token", snsclient.EndpointAttributes{Enabled: true, Token: ""}, nil, models.StatusDisabled, "no delivery token"},
		{"not found", snsclient.EndpointAttributes{}, fmt.Errorf("wrap: %w", snsclient.ErrNotFound), models.StatusNotFound, "endpoint does not exist"},
		{"invalid parameter", snsclient.EndpointAttributes{}, fmt.Errorf("wrap: %w", snsclient.ErrInvalidParameter), models.StatusInvalid, "malformed endpoint identifier"},
		{"other failure", snsclient.EndpointAttributes{}, errors.New("throttled"), models.StatusError, "remote call failed after retries"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := ClassifyCheck(tt.attrs, tt.err)
			if v.Status != tt.status {
				t.Fatalf("status = %s, want %s", v.Status, tt.status)
			}
			if v.Reason != tt.reason {
				t.Fatalf("reason = %q, want %q", v.Reason, tt.reason)
			}
			if tt.err != nil && v.ErrorDetail == nil {
				t.Fatalf("expected error detail for %s", tt.name)
			}
		})
	}
}

func TestClassifyDelete(t *testing.T) {
	if v := ClassifyDelete(nil); v.Status != models.StatusDeleted {
		t.Fatalf("delete success = %s, want %s", v.Status, models.StatusDeleted)
	}
	if v := ClassifyDelete(fmt.Errorf("wrap: %w", snsclient.ErrNotFound)); v.Status != models.StatusAlreadyDeleted {
		t.Fatalf("delete of absent endpoint = %s, want %s", v.Status, models.StatusAlreadyDeleted)
	}
	if v := ClassifyDelete(fmt.Errorf("wrap: %w", snsclient.ErrInvalidParameter)); v.Status != models.StatusInvalid {
		t.Fatalf("delete with bad arn = %s, want %s", v.Status, models.StatusInvalid)
	}
	if v := ClassifyDelete(errors.New("throttled")); v.Status != models.StatusError {
		t.Fatalf("delete failure = %s, want %s", v.Status, models.StatusError)
	}
}
