package models

import (
	"time"
)

// Status is the fixed outcome taxonomy for a checked or deleted endpoint.
type Status string

const (
	StatusEnabled        Status = "ENABLED"
	StatusDisabled       Status = "DISABLED"
	StatusNotFound       Status = "NOT_FOUND"
	StatusInvalid        Status = "INVALID"
	StatusError          Status = "ERROR"
	StatusDeleted        Status = "DELETED"
	StatusAlreadyDeleted Status = "ALREADY_DELETED"
)

// Outcome is the durable result of processing one Record within a run.
// Created exactly once per record per run; appended, never mutated.
type Outcome struct {
	RunID       string    `json:"run_id"`
	RecordID    int64     `json:"record_id"`
	EndpointARN string    `json:"endpoint_arn"`
	Status      Status    `json:"status"`
	Reason      string    `json:"reason"`
	ErrorDetail *string   `json:"error_detail,omitempty"`
	RetryCount  int       `json:"retry_count"`
	BatchNumber int       `json:"batch_number"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// Watermark is the resume cursor derived from persisted outcomes:
// the highest record ordinal covered by a run, plus how many outcomes exist.
type Watermark struct {
	MaxRecordID  int64 `json:"max_record_id"`
	OutcomeCount int64 `json:"outcome_count"`
}
