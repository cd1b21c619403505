package handler

import (
	"encoding/json"
	"net/http"

	"github.com/comnecter/verifymail/internal/application/delivery"
	"github.com/comnecter/verifymail/internal/domain"
)

// MessageEnvelope is the generic response wrapper.
type MessageEnvelope struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CallableRequest accepts both a bare body and the callable {"data": {...}} wrapper.
type CallableRequest struct {
	Data *delivery.ManualRequest `json:"data,omitempty"`
	delivery.ManualRequest
}

// Payload returns the wrapped request when present.
func (r CallableRequest) Payload() delivery.ManualRequest {
	if r.Data != nil {
		return *r.Data
	}
	return r.ManualRequest
}

// ResultEnvelope wraps a successful callable response.
type ResultEnvelope struct {
	Result *delivery.ManualResponse `json:"result"`
}

// CallableErrorBody is the error object of a failed callable response.
type CallableErrorBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ErrorEnvelope wraps a failed callable response.
type ErrorEnvelope struct {
	Error CallableErrorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Error: msg})
}

func writeCallableError(w http.ResponseWriter, cerr *domain.CallableError) {
	status := http.StatusInternalServerError
	if cerr.Code == domain.CodeInvalidArgument {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, ErrorEnvelope{Error: CallableErrorBody{
		Status:  cerr.Code,
		Message: cerr.Message,
		Details: cerr.Details,
	}})
}
