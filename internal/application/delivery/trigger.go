package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/comnecter/verifymail/internal/domain"
	"github.com/comnecter/verifymail/internal/metrics"
	"github.com/comnecter/verifymail/internal/pkg/id"
	"go.uber.org/zap"
)

// ConfigResolver yields the delivery configuration for one invocation.
type ConfigResolver interface {
	Resolve() (domain.DeliveryConfiguration, error)
}

// EmailSender performs one delivery attempt against the provider.
type EmailSender interface {
	Send(ctx context.Context, apiKey string, msg domain.EmailMessage) error
}

// RecordReader reads the current state of a verification code record.
type RecordReader interface {
	Get(ctx context.Context, email string) (*domain.VerificationCode, error)
}

// Alerter notifies operators about invocations that ended without an outcome.
type Alerter interface {
	Alert(ctx context.Context, subject, message string) error
}

// TriggerState is a step of the per-record reactive state machine:
// created -> validating -> {dropped | already_delivered | sending} -> {sent | failed}.
type TriggerState string

const (
	StateCreated    TriggerState = "created"
	StateValidating TriggerState = "validating"
	StateDropped    TriggerState = "dropped"
	StateSending    TriggerState = "sending"
	StateSent       TriggerState = "sent"
	StateFailed     TriggerState = "failed"
	// StateAlreadyDelivered ends a redelivered event whose record already carries an outcome.
	StateAlreadyDelivered TriggerState = "already_delivered"
	// StateUnconfigured ends an invocation whose configuration could not be resolved.
	// No outcome is written: the record stays in its created state.
	StateUnconfigured TriggerState = "unconfigured"
)

// TriggerResult describes how an invocation ended. Err is informational only.
type TriggerResult struct {
	State    TriggerState
	Err      error
	Recorded bool
}

// TriggerDeps holds dependencies for TriggerHandler. Resolver, Sender, Recorder and
// Records are required.
type TriggerDeps struct {
	Resolver ConfigResolver
	Composer *Composer
	Sender   EmailSender
	Recorder *OutcomeRecorder
	Records  RecordReader
	Alerter  Alerter // optional
	Now      func() time.Time
	NewID    func() string
	Logger   *zap.SugaredLogger
}

// TriggerHandler reacts to verification code creation events. Handle never fails:
// delivery failures are recorded on the record, everything else is logged, so an
// at-least-once trigger platform has nothing to retry.
type TriggerHandler struct {
	deps TriggerDeps
}

func NewTriggerHandler(deps TriggerDeps) (*TriggerHandler, error) {
	switch {
	case deps.Resolver == nil:
		return nil, errors.New("trigger handler: resolver is required")
	case deps.Sender == nil:
		return nil, errors.New("trigger handler: sender is required")
	case deps.Recorder == nil:
		return nil, errors.New("trigger handler: recorder is required")
	case deps.Records == nil:
		return nil, errors.New("trigger handler: record reader is required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = id.New
	}
	if deps.Composer == nil {
		deps.Composer = NewComposer(deps.Now)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	return &TriggerHandler{deps: deps}, nil
}

func (h *TriggerHandler) Handle(ctx context.Context, ev domain.CreatedEvent) TriggerResult {
	res := h.handle(ctx, ev)
	metrics.TriggerOutcomes.WithLabelValues(string(res.State)).Inc()
	return res
}

func (h *TriggerHandler) handle(ctx context.Context, ev domain.CreatedEvent) TriggerResult {
	log := h.deps.Logger.With("invocation_id", h.deps.NewID(), "event_id", ev.EventID, "ref", ev.Ref.String())
	rec := ev.Record
	log.Debugw("verification code created", "state", StateValidating)

	if !rec.Deliverable() {
		err := fmt.Errorf("missing email or code in verification document: %w", domain.ErrValidation)
		log.Errorw("dropping verification event", "state", StateDropped, "has_email", rec.Email != "", "has_code", rec.Code != "")
		return TriggerResult{State: StateDropped, Err: err}
	}

	ref := ev.Ref
	if ref.ID == "" {
		ref.ID = rec.Email
	}

	dc, err := h.deps.Resolver.Resolve()
	if err != nil {
		log.Errorw("cannot resolve delivery configuration, leaving record untouched", "state", StateUnconfigured, "err", err)
		h.alert(ctx, log, ref, err)
		return TriggerResult{State: StateUnconfigured, Err: err}
	}

	current, err := h.deps.Records.Get(ctx, ref.ID)
	switch {
	case err != nil:
		log.Warnw("could not read record before sending, sending anyway", "err", err)
	case current.Delivered():
		log.Infow("outcome already recorded, skipping redelivered event", "state", StateAlreadyDelivered,
			"email_sent", *current.EmailSent)
		return TriggerResult{State: StateAlreadyDelivered}
	}

	msg := h.deps.Composer.Compose(rec.Email, rec.Code, dc.SenderEmail)
	log.Infow("attempting to send verification email", "state", StateSending, "to", rec.Email, "from", dc.SenderEmail)

	sendErr := h.deps.Sender.Send(ctx, dc.APIKey, msg)
	outcome := domain.Outcome{Sent: sendErr == nil, SentAt: h.deps.Now()}
	state := StateSent
	if sendErr != nil {
		outcome.Error = errorMessage(sendErr)
		state = StateFailed
		log.Errorw("error sending verification email", "state", state, "to", rec.Email, "err", sendErr)
	} else {
		log.Infow("verification email sent", "state", state, "to", rec.Email)
	}

	recorded := h.deps.Recorder.Record(ctx, ref, outcome)
	return TriggerResult{State: state, Err: sendErr, Recorded: recorded}
}

func (h *TriggerHandler) alert(ctx context.Context, log *zap.SugaredLogger, ref domain.RecordRef, cause error) {
	if h.deps.Alerter == nil {
		return
	}
	msg := fmt.Sprintf("Verification email for %s was not attempted: %v", ref, cause)
	if err := h.deps.Alerter.Alert(ctx, "verifymail: delivery not configured", msg); err != nil {
		log.Warnw("could not publish operator alert", "err", err)
	}
}

// errorMessage is the text persisted in emailError.
func errorMessage(err error) string {
	var perr *domain.ProviderError
	if errors.As(err, &perr) {
		return perr.Error()
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "Unknown error"
}
