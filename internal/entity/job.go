package entity

import (
	"time"

	"github.com/google/uuid"
)

// JobType names the worker role that produced an audit row.
type JobType string

const (
	JobTypeEdit   JobType = "edit"
	JobTypeUpload JobType = "upload"
)

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Job is an audit record of one worker attempt. A video accumulates one row
// per delivery that made it past the idempotency gate.
type Job struct {
	ID         uuid.UUID  `json:"id"`
	VideoID    uuid.UUID  `json:"video_id"`
	Type       JobType    `json:"type"`
	Status     JobStatus  `json:"status"`
	Attempts   int        `json:"attempts"`
	Log        *string    `json:"log,omitempty"`
	Error      *string    `json:"error,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Priority lanes for webhook deliveries, matching the queue's low/normal/high.
const (
	PriorityLow    = 0
	PriorityNormal = 1
	PriorityHigh   = 2
)

// Delivery is one webhook to hand to the push queue.
type Delivery struct {
	Type    JobType
	Payload WebhookPayload
	Delay   time.Duration
	Retries int
	// DedupID lets the queue collapse repeated publishes of the same work.
	DedupID string
}

// ClampPriority maps an optional payload priority onto a lane.
func ClampPriority(p *int) int {
	if p == nil {
		return PriorityNormal
	}
	switch {
	case *p < PriorityLow:
		return PriorityLow
	case *p > PriorityHigh:
		return PriorityHigh
	}
	return *p
}
