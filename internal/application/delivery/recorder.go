package delivery

import (
	"context"
	"fmt"

	"github.com/comnecter/verifymail/internal/domain"
	"github.com/comnecter/verifymail/internal/metrics"
	"go.uber.org/zap"
)

// OutcomeStore persists delivery outcomes onto verification code records.
type OutcomeStore interface {
	RecordOutcome(ctx context.Context, email string, o domain.Outcome) error
}

// OutcomeRecorder performs one write-back per delivery attempt and never fails its caller.
type OutcomeRecorder struct {
	store OutcomeStore
	log   *zap.SugaredLogger
}

func NewOutcomeRecorder(store OutcomeStore, log *zap.SugaredLogger) *OutcomeRecorder {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &OutcomeRecorder{store: store, log: log}
}

// Record attempts the update once. Failures are logged and swallowed; the return value
// only reports whether the write landed.
func (r *OutcomeRecorder) Record(ctx context.Context, ref domain.RecordRef, o domain.Outcome) bool {
	if err := r.store.RecordOutcome(ctx, ref.ID, o); err != nil {
		err = fmt.Errorf("record outcome on %s: %w: %w", ref, domain.ErrPersistence, err)
		metrics.OutcomeWriteFailures.Inc()
		r.log.Errorw("error updating verification record", "ref", ref.String(), "email_sent", o.Sent, "err", err)
		return false
	}
	r.log.Infow("verification record updated", "ref", ref.String(), "email_sent", o.Sent)
	return true
}
