package domain

import (
	"errors"
	"net/http"
	"strings"
)

// Sentinel errors for domain-level error discrimination.
// Handlers and trigger sources branch on these with errors.Is instead of inspecting vendor errors.
var (
	ErrNotFound      = errors.New("not found")
	ErrConfiguration = errors.New("configuration error")
	ErrValidation    = errors.New("validation error")
	ErrProvider      = errors.New("provider error")
	ErrPersistence   = errors.New("persistence error")
)

// ProviderErrorDetail is one diagnostic entry returned by the delivery provider.
type ProviderErrorDetail struct {
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Help    string `json:"help,omitempty"`
}

// ProviderError is a rejected or failed delivery attempt.
// StatusCode is zero when the request never reached the provider.
type ProviderError struct {
	StatusCode int
	Message    string
	Details    []ProviderErrorDetail
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.StatusCode != 0 {
		if text := http.StatusText(e.StatusCode); text != "" {
			return text
		}
	}
	return "Unknown error"
}

func (e *ProviderError) Is(target error) bool { return target == ErrProvider }

// Callable error codes, as surfaced to manual callers.
const (
	CodeInvalidArgument = "invalid-argument"
	CodeInternal        = "internal"
)

// CallableError is the structured failure returned by the manual endpoint.
type CallableError struct {
	Code    string
	Message string
	Details string
	Err     error
}

func (e *CallableError) Error() string {
	var b strings.Builder
	b.WriteString(e.Code)
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Details != "" {
		b.WriteString(" (")
		b.WriteString(e.Details)
		b.WriteString(")")
	}
	return b.String()
}

func (e *CallableError) Unwrap() error { return e.Err }
