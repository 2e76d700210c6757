package reconcile

import (
	"endpoint-reconciler/internal/models"
)

// splitBatches cuts an ordered chunk into fixed-size groups, preserving
// order. The last group may be short.
func splitBatches(records []models.Record, size int) [][]models.Record {
	if size <= 0 || len(records) == 0 {
		return nil
	}
	batches := make([][]models.Record, 0, (len(records)+size-1)/size)
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		batches = append(batches, records[start:end])
	}
	return batches
}
