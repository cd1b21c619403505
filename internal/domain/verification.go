package domain

import "time"

// DynamoDB attribute names of a verification code record.
// The outcome fields are written back by the delivery pipeline.
const (
	FieldEmail       = "email"
	FieldCode        = "code"
	FieldEmailSent   = "emailSent"
	FieldEmailSentAt = "emailSentAt"
	FieldEmailError  = "emailError"
)

// VerificationCode is one outstanding request to deliver a numeric code by email.
// PK: email. The outcome fields stay nil until a delivery attempt completes.
type VerificationCode struct {
	Email       string     `json:"email" dynamodbav:"email"`
	Code        string     `json:"code" dynamodbav:"code"`
	EmailSent   *bool      `json:"emailSent,omitempty" dynamodbav:"emailSent,omitempty"`
	EmailSentAt *time.Time `json:"emailSentAt,omitempty" dynamodbav:"emailSentAt,omitempty"`
	EmailError  *string    `json:"emailError,omitempty" dynamodbav:"emailError,omitempty"`
}

// Deliverable reports whether both required fields are present.
func (v VerificationCode) Deliverable() bool {
	return v.Email != "" && v.Code != ""
}

// Delivered reports whether an outcome has already been recorded.
func (v VerificationCode) Delivered() bool {
	return v.EmailSent != nil
}

// CreatedEvent is delivered by a change-capture source when a record is created.
type CreatedEvent struct {
	EventID string
	Ref     RecordRef
	Record  VerificationCode
}

// Outcome is the terminal result of one delivery attempt.
type Outcome struct {
	Sent   bool
	SentAt time.Time
	Error  string
}

// Fields returns the attribute updates that persist the outcome.
// emailError is only present for failed deliveries.
func (o Outcome) Fields() map[string]interface{} {
	fields := map[string]interface{}{
		FieldEmailSent:   o.Sent,
		FieldEmailSentAt: o.SentAt.UTC(),
	}
	if !o.Sent {
		msg := o.Error
		if msg == "" {
			msg = "Unknown error"
		}
		fields[FieldEmailError] = msg
	}
	return fields
}

// Where a DeliveryConfiguration value was resolved from.
const (
	SourceEnv     = "env"
	SourceLegacy  = "legacy"
	SourceDefault = "default"
)

// DeliveryConfiguration is the provider credential and sender identity for one invocation.
type DeliveryConfiguration struct {
	APIKey       string
	SenderEmail  string
	APIKeySource string
	SenderSource string
}
