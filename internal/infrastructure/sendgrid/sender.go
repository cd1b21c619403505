package sendgrid

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/comnecter/verifymail/internal/domain"
	"github.com/comnecter/verifymail/internal/metrics"
	"github.com/sendgrid/rest"
	sg "github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

// DefaultHost is the public SendGrid API host.
const DefaultHost = "https://api.sendgrid.com"

const sendEndpoint = "/v3/mail/send"

// EmailSender performs a single delivery attempt with the given credential.
type EmailSender interface {
	Send(ctx context.Context, apiKey string, msg domain.EmailMessage) error
}

type sender struct {
	host string
	log  *zap.SugaredLogger
}

func NewSender(host string, log *zap.SugaredLogger) EmailSender {
	if host == "" {
		host = DefaultHost
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &sender{host: strings.TrimRight(host, "/"), log: log}
}

// Send posts the message to the v3 mail-send API exactly once.
// Any failure is returned as *domain.ProviderError.
func (s *sender) Send(ctx context.Context, apiKey string, msg domain.EmailMessage) error {
	req := sg.GetRequest(apiKey, sendEndpoint, s.host)
	req.Method = rest.Post
	req.Body = mail.GetRequestBody(buildMail(msg))

	s.log.Infow("sending email", "to", msg.To, "from", msg.From.Email)
	start := time.Now()
	resp, err := rest.SendWithContext(ctx, req)
	metrics.ProviderLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.ProviderSends.WithLabelValues("error").Inc()
		s.log.Errorw("provider request failed", "to", msg.To, "err", err)
		return &domain.ProviderError{Message: err.Error()}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		metrics.ProviderSends.WithLabelValues("accepted").Inc()
		s.log.Infow("email accepted by provider", "to", msg.To, "status", resp.StatusCode)
		return nil
	}

	metrics.ProviderSends.WithLabelValues("rejected").Inc()
	perr := parseErrorResponse(resp.StatusCode, resp.Body)
	s.log.Errorw("provider rejected email", "to", msg.To, "status", resp.StatusCode, "body", resp.Body)
	for _, d := range perr.Details {
		s.log.Errorw("provider error detail", "message", orUnknown(d.Message), "field", orNA(d.Field))
	}
	return perr
}

func buildMail(msg domain.EmailMessage) *mail.SGMailV3 {
	from := mail.NewEmail(msg.From.Name, msg.From.Email)
	to := mail.NewEmail("", msg.To)
	return mail.NewSingleEmail(from, msg.Subject, to, msg.Text, msg.HTML)
}

// parseErrorResponse extracts the provider's diagnostics from an error body of the form
// {"errors":[{"message":"...","field":"...","help":"..."}]}.
func parseErrorResponse(status int, body string) *domain.ProviderError {
	perr := &domain.ProviderError{StatusCode: status}
	var payload struct {
		Errors []domain.ProviderErrorDetail `json:"errors"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err == nil {
		perr.Details = payload.Errors
	}
	for _, d := range perr.Details {
		if d.Message != "" {
			perr.Message = d.Message
			break
		}
	}
	return perr
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown error"
	}
	return s
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
