package reconcile

import (
	"testing"

	"endpoint-reconciler/internal/models"
)

func TestSplitBatches(t *testing.T) {
	records := make([]models.Record, 10)
	for i := range records {
		records[i] = models.Record{ID: int64(i + 1)}
	}

	batches := splitBatches(records, 4)
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}
	for i, want := range []int{4, 4, 2} {
		if len(batches[i]) != want {
			t.Fatalf("batch %d size = %d, want %d", i, len(batches[i]), want)
		}
	}
	if batches[2][1].ID != 10 {
		t.Fatalf("order not preserved: last id = %d", batches[2][1].ID)
	}

	if got := splitBatches(nil, 4); got != nil {
		t.Fatalf("expected nil for empty input, got %v", got)
	}
	if got := splitBatches(records, 0); got != nil {
		t.Fatalf("expected nil for zero size, got %v", got)
	}
}
