package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathTemplate_MatchAndRef(t *testing.T) {
	tmpl, err := ParsePathTemplate("verification_codes/{email}")
	require.NoError(t, err)
	assert.Equal(t, "verification_codes", tmpl.Collection())
	assert.Equal(t, "email", tmpl.Param())

	ref, err := tmpl.Match("verification_codes/a@x.com")
	require.NoError(t, err)
	assert.Equal(t, RecordRef{Collection: "verification_codes", ID: "a@x.com"}, ref)
	assert.Equal(t, "verification_codes/a@x.com", ref.String())
	assert.Equal(t, ref, tmpl.Ref("a@x.com"))
}

func TestPathTemplate_MatchRejectsOtherCollections(t *testing.T) {
	tmpl, err := ParsePathTemplate("verification_codes/{email}")
	require.NoError(t, err)

	for _, p := range []string{"users/a@x.com", "verification_codes/", "verification_codes/a/b", "verification_codes"} {
		_, err := tmpl.Match(p)
		assert.ErrorIs(t, err, ErrValidation, p)
	}
}

func TestParsePathTemplate_Invalid(t *testing.T) {
	for _, tmpl := range []string{"", "verification_codes", "verification_codes/email", "/{email}", "a/{}"} {
		_, err := ParsePathTemplate(tmpl)
		assert.Error(t, err, tmpl)
	}
}

func TestOutcomeFields_Success(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := Outcome{Sent: true, SentAt: at}.Fields()
	assert.Equal(t, true, f[FieldEmailSent])
	assert.Equal(t, at, f[FieldEmailSentAt])
	_, hasErr := f[FieldEmailError]
	assert.False(t, hasErr)
}

func TestOutcomeFields_FailureAlwaysCarriesError(t *testing.T) {
	f := Outcome{Sent: false, SentAt: time.Now(), Error: "Forbidden"}.Fields()
	assert.Equal(t, false, f[FieldEmailSent])
	assert.Equal(t, "Forbidden", f[FieldEmailError])

	f = Outcome{Sent: false, SentAt: time.Now()}.Fields()
	assert.Equal(t, "Unknown error", f[FieldEmailError])
}

func TestProviderError_MessageFallbacks(t *testing.T) {
	assert.Equal(t, "The from address does not match", (&ProviderError{StatusCode: 403, Message: "The from address does not match"}).Error())
	assert.Equal(t, "Unauthorized", (&ProviderError{StatusCode: 401}).Error())
	assert.Equal(t, "Unknown error", (&ProviderError{}).Error())

	var err error = &ProviderError{StatusCode: 400}
	assert.True(t, errors.Is(err, ErrProvider))
}

func TestCallableError_Unwrap(t *testing.T) {
	cause := &ProviderError{StatusCode: 401}
	err := &CallableError{Code: CodeInternal, Message: "Failed to send email", Details: cause.Error(), Err: cause}
	assert.True(t, errors.Is(err, ErrProvider))
	assert.Equal(t, "internal: Failed to send email (Unauthorized)", err.Error())
}

func TestVerificationCode_Deliverable(t *testing.T) {
	assert.True(t, VerificationCode{Email: "a@x.com", Code: "123456"}.Deliverable())
	assert.False(t, VerificationCode{Email: "a@x.com"}.Deliverable())
	assert.False(t, VerificationCode{Code: "123456"}.Deliverable())

	sent := true
	assert.True(t, VerificationCode{EmailSent: &sent}.Delivered())
	assert.False(t, VerificationCode{}.Delivered())
}
