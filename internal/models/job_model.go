package models

import (
	"encoding/json"
	"time"
)

type Job struct {
	ID          string          `db:"id" json:"id"`
	Type        string          `db:"type" json:"type"`
	Payload     json.RawMessage `db:"payload" json:"payload"`
	Status      string          `db:"status" json:"status"`
	Attempt     int             `db:"attempt" json:"attempt"`
	MaxAttempts int             `db:"max_attempts" json:"max_attempts"`
	DueAt       time.Time       `db:"due_at" json:"due_at"`
	LastError   string          `db:"last_error" json:"last_error,omitempty"`
	Result      json.RawMessage `db:"result" json:"result,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

type JobAttempt struct {
	ID        int64     `db:"id" json:"id"`
	JobID     string    `db:"job_id" json:"job_id"`
	Attempt   int       `db:"attempt" json:"attempt"`
	Error     string    `db:"error" json:"error"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

const (
	JobStatusScheduled  = "scheduled"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)
