// Package reconcile repairs authorities whose stored CRC does not match the
// checksum of their name.
package reconcile

import (
	"context"
	"fmt"

	"github.com/dandantas/custodian/internal/auditlog"
	"github.com/dandantas/custodian/internal/batch"
	"github.com/dandantas/custodian/internal/i18n"
	"github.com/dandantas/custodian/internal/model"
	"go.uber.org/zap"
)

// DefaultLogName is the audit file name, without extension
const DefaultLogName = "FixAuthorityCrcValuesPatch"

// Config configures a reconciliation job
type Config struct {
	LogDir  string
	LogName string
	Batch   batch.Options
}

// Job scans for CRC mismatches and repairs them in batches
type Job struct {
	store    Store
	triggers TriggerToggle
	loc      *i18n.Localizer
	cfg      Config
}

// NewJob creates a reconciliation job
func NewJob(store Store, triggers TriggerToggle, loc *i18n.Localizer, cfg Config) *Job {
	if cfg.LogName == "" {
		cfg.LogName = DefaultLogName
	}
	if cfg.Batch.Name == "" {
		cfg.Batch.Name = cfg.LogName
	}
	return &Job{
		store:    store,
		triggers: triggers,
		loc:      loc,
		cfg:      cfg,
	}
}

// Execute runs one reconciliation pass. A scan failure aborts before any
// repair. Per-item failures are only visible in the audit log and the
// report counts.
func (j *Job) Execute(ctx context.Context) (model.JobReport, error) {
	audit, err := auditlog.Open(j.cfg.LogDir, j.cfg.LogName)
	if err != nil {
		return model.JobReport{}, err
	}
	defer func() {
		if err := audit.Close(); err != nil {
			zap.S().Warnw("Failed to close audit log", "path", audit.Path(), "error", err)
		}
	}()

	ids, err := Collect(NewScanner(j.store).Mismatches(ctx))
	if err != nil {
		msg := j.loc.Text(i18n.KeyCrcScanFailed, err.Error())
		zap.S().Errorw(msg, "error", err)
		audit.WriteLine(msg)
		return model.JobReport{LogPath: audit.Path()}, err
	}

	zap.S().Infow("Found authorities with mismatching CRC", "count", len(ids))

	worker := &correctiveWorker{
		store:    j.store,
		triggers: j.triggers,
		audit:    audit,
		loc:      j.loc,
	}
	res, err := batch.NewProcessor[int64](j.cfg.Batch, worker).Process(ctx, ids)

	report := model.JobReport{
		Summary: Summarize(j.loc, res.Updated, audit.Path()),
		Total:   res.Total,
		Updated: res.Updated,
		Skipped: res.Skipped,
		Failed:  res.Failed,
		LogPath: audit.Path(),
	}
	if res.Failed > 0 {
		zap.S().Warnw("Some authorities could not be repaired",
			"failed", res.Failed,
			"last_error_entry", res.LastErrorEntry,
			"last_error", res.LastError,
		)
	}
	if err != nil {
		return report, fmt.Errorf("failed to process authorities: %w", err)
	}

	return report, nil
}

// Summarize renders the terminal result of a run
func Summarize(loc *i18n.Localizer, updated int, logPath string) string {
	return loc.Text(i18n.KeyCrcResult, updated, logPath)
}
