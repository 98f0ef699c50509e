// Package audit records the structured audit trail. Entries are appended
// synchronously to the store and mirrored on the event bus for live
// observers.
package audit

import (
	"context"
	"time"

	"github.com/vlm-project/vlmcore/core/logger"
	"github.com/vlm-project/vlmcore/core/model"
	"github.com/vlm-project/vlmcore/core/store"
	"github.com/vlm-project/vlmcore/internal/eventbus"
)

// Recorder writes audit entries.
type Recorder struct {
	store store.Store
	bus   *eventbus.Bus
	log   logger.Logger
}

// NewRecorder creates a Recorder. The bus may be nil.
func NewRecorder(st store.Store, bus *eventbus.Bus, log logger.Logger) *Recorder {
	return &Recorder{store: st, bus: bus, log: log}
}

// Record appends the entry. A store failure is logged, never propagated: an
// unwritable audit trail must not fail the operation it describes.
func (r *Recorder) Record(ctx context.Context, level, message, eventType, transactionID string) {
	entry := model.AuditEntry{
		Time:          time.Now().UTC(),
		Level:         level,
		Message:       message,
		Source:        "server",
		Type:          eventType,
		TransactionID: transactionID,
	}
	if err := r.store.AppendAudit(ctx, entry); err != nil {
		r.log.Errorf("audit append failed (tx=%s): %v", transactionID, err)
	}
	if r.bus != nil {
		r.bus.Publish(entry)
	}
}
