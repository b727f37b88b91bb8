package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Run statuses
const (
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusSkipped   = "skipped"
)

// Run triggers
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
)

// JobReport is the terminal result of one job execution
type JobReport struct {
	Summary string `json:"summary" bson:"summary"`
	Total   int    `json:"total" bson:"total"`
	Updated int    `json:"updated" bson:"updated"`
	Skipped int    `json:"skipped" bson:"skipped"`
	Failed  int    `json:"failed" bson:"failed"`
	LogPath string `json:"log_path,omitempty" bson:"log_path,omitempty"`
}

// NotificationAttempt represents a single webhook delivery attempt
type NotificationAttempt struct {
	AttemptNumber int       `json:"attempt_number" bson:"attempt_number"`
	Timestamp     time.Time `json:"timestamp" bson:"timestamp"`
	StatusCode    int       `json:"status_code,omitempty" bson:"status_code,omitempty"`
	Error         string    `json:"error,omitempty" bson:"error,omitempty"`
	DurationMs    int64     `json:"duration_ms" bson:"duration_ms"`
}

// Notification records the delivery of a run notification
type Notification struct {
	WebhookURL  string                `json:"webhook_url" bson:"webhook_url"`
	Attempts    []NotificationAttempt `json:"attempts" bson:"attempts"`
	FinalStatus string                `json:"final_status" bson:"final_status"` // "delivered", "failed"
	CompletedAt time.Time             `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
}

// JobRun represents a complete job run history document
type JobRun struct {
	ID            primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	CorrelationID string             `json:"correlation_id" bson:"correlation_id"`
	JobName       string             `json:"job_name" bson:"job_name"`
	LockName      string             `json:"lock_name" bson:"lock_name"`
	TriggeredBy   string             `json:"triggered_by" bson:"triggered_by"`
	RunAs         string             `json:"run_as" bson:"run_as"`
	PodID         string             `json:"pod_id" bson:"pod_id"`
	StartedAt     time.Time          `json:"started_at" bson:"started_at"`
	DurationMs    int64              `json:"duration_ms" bson:"duration_ms"`
	Status        string             `json:"status" bson:"status"` // "completed", "failed"
	Report        JobReport          `json:"report" bson:"report"`
	Error         string             `json:"error,omitempty" bson:"error,omitempty"`
	Notification  *Notification      `json:"notification,omitempty" bson:"notification,omitempty"`
}

// JobRunSummary represents a summary for list responses
type JobRunSummary struct {
	ID            string `json:"id"`
	CorrelationID string `json:"correlation_id"`
	JobName       string `json:"job_name"`
	TriggeredBy   string `json:"triggered_by"`
	StartedAt     string `json:"started_at"`
	DurationMs    int64  `json:"duration_ms"`
	Status        string `json:"status"`
	Updated       int    `json:"updated"`
	Failed        int    `json:"failed"`
	Summary       string `json:"summary,omitempty"`
}

// ToSummary converts JobRun to JobRunSummary
func (jr *JobRun) ToSummary() JobRunSummary {
	var startedAt string
	if !jr.StartedAt.IsZero() {
		startedAt = jr.StartedAt.Format(time.RFC3339)
	}

	return JobRunSummary{
		ID:            jr.ID.Hex(),
		CorrelationID: jr.CorrelationID,
		JobName:       jr.JobName,
		TriggeredBy:   jr.TriggeredBy,
		StartedAt:     startedAt,
		DurationMs:    jr.DurationMs,
		Status:        jr.Status,
		Updated:       jr.Report.Updated,
		Failed:        jr.Report.Failed,
		Summary:       jr.Report.Summary,
	}
}

// JobInfo describes a registered job for listing
type JobInfo struct {
	Name      string     `json:"name"`
	LockName  string     `json:"lock_name"`
	Schedule  string     `json:"schedule,omitempty"`
	Scheduled bool       `json:"scheduled"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	LockTTLMs int64      `json:"lock_ttl_ms"`
}
