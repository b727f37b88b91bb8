package reconcile

import (
	"context"
	"errors"
	"strconv"

	"github.com/dandantas/custodian/internal/batch"
	"github.com/dandantas/custodian/internal/i18n"
	"github.com/dandantas/custodian/internal/identity"
	"github.com/dandantas/custodian/internal/model"
	"go.uber.org/zap"
)

const savepointPrefix = "fix_crc"

// AuditSink receives audit lines once they are durable
type AuditSink interface {
	WriteLines(lines []string)
}

// correctiveWorker repairs the CRC of each authority in its own savepoint
// inside one transaction per batch
type correctiveWorker struct {
	store    Store
	triggers TriggerToggle
	audit    AuditSink
	loc      *i18n.Localizer
}

var _ batch.Worker[int64] = (*correctiveWorker)(nil)

func (w *correctiveWorker) BeforeProcess(ctx context.Context) (context.Context, error) {
	w.triggers.Disable()
	return identity.WithUser(ctx, identity.SystemUser), nil
}

func (w *correctiveWorker) AfterProcess(context.Context) error {
	w.triggers.Enable()
	return nil
}

func (w *correctiveWorker) ProcessBatch(ctx context.Context, ids []int64) ([]batch.Outcome, error) {
	tx, err := w.store.BeginBatch(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	outcomes := make([]batch.Outcome, len(ids))
	lines := make([]string, 0, len(ids))

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		outcome, line, err := w.repair(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		outcomes[i] = outcome
		if line != "" {
			lines = append(lines, line)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	w.audit.WriteLines(lines)

	return outcomes, nil
}

// repair fixes one authority. A returned error means the batch transaction
// itself is unusable; item failures are reported through the outcome.
func (w *correctiveWorker) repair(ctx context.Context, tx Tx, id int64) (batch.Outcome, string, error) {
	sp, err := tx.CreateSavepoint(ctx, savepointPrefix)
	if err != nil {
		return batch.Outcome{}, "", err
	}

	a, err := tx.GetAuthority(ctx, id)
	if err != nil {
		if rbErr := tx.RollbackToSavepoint(ctx, sp); rbErr != nil {
			return batch.Outcome{}, "", errors.Join(err, rbErr)
		}
		zap.S().Warnw("Failed to read authority", "authority_id", id, "error", err)
		line := w.loc.Text(i18n.KeyCrcUnableToChange, strconv.FormatInt(id, 10), "", "null", "null", err.Error())
		return batch.Outcome{Status: batch.StatusFailed, Err: err}, line, nil
	}

	if a == nil {
		// deleted since the scan
		if err := tx.ReleaseSavepoint(ctx, sp); err != nil {
			return batch.Outcome{}, "", err
		}
		return batch.Outcome{Status: batch.StatusSkipped}, "", nil
	}

	oldCRC := model.FormatCRC(a.CRC)
	newCRC := Checksum(a.Key())

	if err := tx.UpdateCRC(ctx, id, newCRC); err != nil {
		if rbErr := tx.RollbackToSavepoint(ctx, sp); rbErr != nil {
			return batch.Outcome{}, "", errors.Join(err, rbErr)
		}
		zap.S().Warnw("Failed to update authority CRC",
			"authority_id", id,
			"authority", a.Key(),
			"old_crc", oldCRC,
			"new_crc", newCRC,
			"error", err,
		)
		line := w.loc.Text(i18n.KeyCrcUnableToChange,
			strconv.FormatInt(id, 10), a.Key(), oldCRC, strconv.FormatInt(newCRC, 10), err.Error())
		return batch.Outcome{Status: batch.StatusFailed, Err: err}, line, nil
	}

	if err := tx.ReleaseSavepoint(ctx, sp); err != nil {
		return batch.Outcome{}, "", err
	}

	line := w.loc.Text(i18n.KeyCrcFixed,
		strconv.FormatInt(id, 10), a.Key(), oldCRC, strconv.FormatInt(newCRC, 10))
	return batch.Outcome{Status: batch.StatusUpdated}, line, nil
}

// BatchFailed records an item whose batch could not be committed
func (w *correctiveWorker) BatchFailed(ctx context.Context, id int64, err error) {
	name, oldCRC, newCRC := "", "null", "null"
	if a, getErr := w.store.GetAuthority(ctx, id); getErr == nil && a != nil {
		name = a.Key()
		oldCRC = model.FormatCRC(a.CRC)
		newCRC = strconv.FormatInt(Checksum(a.Key()), 10)
	}

	w.audit.WriteLines([]string{
		w.loc.Text(i18n.KeyCrcUnableToChange, strconv.FormatInt(id, 10), name, oldCRC, newCRC, err.Error()),
	})
}
