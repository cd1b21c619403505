package delivery

import (
	"context"

	"github.com/comnecter/verifymail/internal/domain"
	"github.com/comnecter/verifymail/internal/metrics"
	"github.com/comnecter/verifymail/internal/pkg/validate"
	"go.uber.org/zap"
)

// ManualRequest is the body of a direct send call.
type ManualRequest struct {
	Email string `json:"email" validate:"required"`
	Code  string `json:"code" validate:"required"`
}

// ManualResponse acknowledges a successful direct send.
type ManualResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ManualDeps holds dependencies for ManualHandler.
type ManualDeps struct {
	Resolver ConfigResolver
	Composer *Composer
	Sender   EmailSender
	Logger   *zap.SugaredLogger
}

// ManualHandler sends a verification email synchronously. It never touches storage.
type ManualHandler struct {
	deps ManualDeps
}

func NewManualHandler(deps ManualDeps) *ManualHandler {
	if deps.Composer == nil {
		deps.Composer = NewComposer(nil)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	return &ManualHandler{deps: deps}
}

// Send returns *domain.CallableError with code invalid-argument or internal on failure.
func (h *ManualHandler) Send(ctx context.Context, req ManualRequest) (*ManualResponse, error) {
	if err := validate.Struct(req); err != nil {
		metrics.ManualRequests.WithLabelValues(domain.CodeInvalidArgument).Inc()
		return nil, &domain.CallableError{
			Code:    domain.CodeInvalidArgument,
			Message: "Email and code are required",
			Err:     err,
		}
	}

	dc, err := h.deps.Resolver.Resolve()
	if err != nil {
		return nil, h.internal(err)
	}

	msg := h.deps.Composer.Compose(req.Email, req.Code, dc.SenderEmail)
	if err := h.deps.Sender.Send(ctx, dc.APIKey, msg); err != nil {
		return nil, h.internal(err)
	}

	metrics.ManualRequests.WithLabelValues("success").Inc()
	h.deps.Logger.Infow("verification email sent via manual call", "to", req.Email)
	return &ManualResponse{Success: true, Message: "Email sent successfully"}, nil
}

func (h *ManualHandler) internal(err error) error {
	metrics.ManualRequests.WithLabelValues(domain.CodeInternal).Inc()
	h.deps.Logger.Errorw("error sending email", "err", err)
	return &domain.CallableError{
		Code:    domain.CodeInternal,
		Message: "Failed to send email",
		Details: errorMessage(err),
		Err:     err,
	}
}
