package notify

import (
	"fmt"
	"time"

	"github.com/dandantas/custodian/internal/model"
)

// RunPayload is the JSON body posted for a finished job run
type RunPayload struct {
	Text          string `json:"text"`
	JobName       string `json:"job_name"`
	Status        string `json:"status"`
	CorrelationID string `json:"correlation_id"`
	PodID         string `json:"pod_id"`
	Summary       string `json:"summary,omitempty"`
	Total         int    `json:"total"`
	Updated       int    `json:"updated"`
	Skipped       int    `json:"skipped"`
	Failed        int    `json:"failed"`
	LogPath       string `json:"log_path,omitempty"`
	Error         string `json:"error,omitempty"`
	DurationMs    int64  `json:"duration_ms"`
	Timestamp     string `json:"timestamp"`
}

// FormatRunPayload builds the notification body for a job run
func FormatRunPayload(run *model.JobRun) RunPayload {
	var text string
	switch run.Status {
	case model.RunStatusFailed:
		text = fmt.Sprintf("Job %s failed: %s", run.JobName, run.Error)
	default:
		text = fmt.Sprintf("Job %s %s: %s", run.JobName, run.Status, run.Report.Summary)
	}

	return RunPayload{
		Text:          text,
		JobName:       run.JobName,
		Status:        run.Status,
		CorrelationID: run.CorrelationID,
		PodID:         run.PodID,
		Summary:       run.Report.Summary,
		Total:         run.Report.Total,
		Updated:       run.Report.Updated,
		Skipped:       run.Report.Skipped,
		Failed:        run.Report.Failed,
		LogPath:       run.Report.LogPath,
		Error:         run.Error,
		DurationMs:    run.DurationMs,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
}
