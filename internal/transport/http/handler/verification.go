package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/comnecter/verifymail/internal/application/delivery"
	"github.com/comnecter/verifymail/internal/domain"
)

// ManualSender is the application service behind the callable endpoint.
type ManualSender interface {
	Send(ctx context.Context, req delivery.ManualRequest) (*delivery.ManualResponse, error)
}

// VerificationHandler exposes the manual verification email send.
type VerificationHandler struct {
	svc ManualSender
}

func NewVerificationHandler(svc ManualSender) *VerificationHandler {
	return &VerificationHandler{svc: svc}
}

func (h *VerificationHandler) SendManual(w http.ResponseWriter, r *http.Request) {
	var req CallableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeCallableError(w, &domain.CallableError{
			Code:    domain.CodeInvalidArgument,
			Message: "invalid request body",
		})
		return
	}

	resp, err := h.svc.Send(r.Context(), req.Payload())
	if err != nil {
		var cerr *domain.CallableError
		if !errors.As(err, &cerr) {
			cerr = &domain.CallableError{Code: domain.CodeInternal, Message: "Failed to send email", Details: err.Error()}
		}
		writeCallableError(w, cerr)
		return
	}
	writeJSON(w, http.StatusOK, ResultEnvelope{Result: resp})
}
