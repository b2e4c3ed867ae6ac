package models

import "time"

type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobDone      JobState = "done"
	JobDiscarded JobState = "discarded"
	JobFailed    JobState = "failed"
)

// JobKindProductDataFetch enriches one product from TBDB.
const JobKindProductDataFetch = "product_data_fetch"

// Job is a persisted background task.
type Job struct {
	ID             uint     `gorm:"primaryKey" json:"id"`
	Kind           string   `gorm:"index;not null" json:"kind"`
	ProductID      uint     `gorm:"index" json:"product_id"`
	Force          bool     `json:"force"`
	ConcurrencyKey string   `json:"concurrency_key,omitempty"`
	State          JobState `gorm:"index;not null;default:pending" json:"state"`
	Attempts       int      `json:"attempts"`
	// RetryReason names the retry bucket the attempts count against.
	RetryReason string     `json:"retry_reason,omitempty"`
	RunAt       time.Time  `gorm:"index" json:"run_at"`
	LockedAt    *time.Time `json:"locked_at,omitempty"`
	LastError   string     `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
