package models

import (
	"time"
)

// RunState enumerates run lifecycle states persisted in Postgres.
const (
	RunStarting  = "starting"
	RunActive    = "active"
	RunExhausted = "exhausted"
)

// RunMode selects which remote operation a run performs.
const (
	ModeCheck  = "check"
	ModeDelete = "delete"
)

// SourceTable describes where source endpoint rows live.
type SourceTable struct {
	Table     string `json:"table"`
	IDColumn  string `json:"id_column"`
	ARNColumn string `json:"arn_column"`
}

// Run identifies one logical reconciliation execution. Only BatchCount
// and State change after creation.
type Run struct {
	ID         string      `json:"run_id"`
	Mode       string      `json:"mode"`
	Source     SourceTable `json:"source"`
	State      string      `json:"state"`
	BatchCount int         `json:"batch_count"`
	StartedAt  time.Time   `json:"started_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// Record is one source row: a stable ordinal plus the endpoint ARN the
// remote protocol addresses. Owned by the external store, never mutated.
type Record struct {
	ID  int64  `json:"id"`
	ARN string `json:"arn"`
}
