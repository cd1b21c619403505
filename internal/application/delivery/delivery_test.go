package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/comnecter/verifymail/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockResolver struct{ mock.Mock }

func (m *mockResolver) Resolve() (domain.DeliveryConfiguration, error) {
	args := m.Called()
	return args.Get(0).(domain.DeliveryConfiguration), args.Error(1)
}

type mockSender struct{ mock.Mock }

func (m *mockSender) Send(ctx context.Context, apiKey string, msg domain.EmailMessage) error {
	return m.Called(ctx, apiKey, msg).Error(0)
}

type mockStore struct{ mock.Mock }

func (m *mockStore) Get(ctx context.Context, email string) (*domain.VerificationCode, error) {
	args := m.Called(ctx, email)
	v, _ := args.Get(0).(*domain.VerificationCode)
	return v, args.Error(1)
}

func (m *mockStore) RecordOutcome(ctx context.Context, email string, o domain.Outcome) error {
	return m.Called(ctx, email, o).Error(0)
}

type mockAlerter struct{ mock.Mock }

func (m *mockAlerter) Alert(ctx context.Context, subject, message string) error {
	return m.Called(ctx, subject, message).Error(0)
}

// --- helpers ---

var fixedNow = time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func validConfig() domain.DeliveryConfiguration {
	return domain.DeliveryConfiguration{
		APIKey:       "SG.key",
		SenderEmail:  "noreply@comnecter.com",
		APIKeySource: domain.SourceEnv,
		SenderSource: domain.SourceDefault,
	}
}

func createdEvent(email, code string) domain.CreatedEvent {
	return domain.CreatedEvent{
		EventID: "evt-1",
		Ref:     domain.RecordRef{Collection: "verification_codes", ID: email},
		Record:  domain.VerificationCode{Email: email, Code: code},
	}
}

type triggerFixture struct {
	resolver *mockResolver
	sender   *mockSender
	store    *mockStore
	alerter  *mockAlerter
	handler  *TriggerHandler
}

func newTriggerFixture() *triggerFixture {
	f := &triggerFixture{
		resolver: &mockResolver{},
		sender:   &mockSender{},
		store:    &mockStore{},
		alerter:  &mockAlerter{},
	}
	h, err := NewTriggerHandler(TriggerDeps{
		Resolver: f.resolver,
		Composer: NewComposer(clock),
		Sender:   f.sender,
		Recorder: NewOutcomeRecorder(f.store, nil),
		Records:  f.store,
		Alerter:  f.alerter,
		Now:      clock,
		NewID:    func() string { return "inv-1" },
	})
	if err != nil {
		panic(err)
	}
	f.handler = h
	return f
}

// expectUndelivered makes the record for email read back without an outcome.
func (f *triggerFixture) expectUndelivered(email string) {
	f.store.On("Get", mock.Anything, email).Return(&domain.VerificationCode{Email: email, Code: "123456"}, nil)
}

func newManual(r *mockResolver, s *mockSender) *ManualHandler {
	return NewManualHandler(ManualDeps{Resolver: r, Composer: NewComposer(clock), Sender: s})
}

// --- Composer ---

func TestCompose_Deterministic(t *testing.T) {
	c := NewComposer(clock)
	a := c.Compose("a@x.com", "123456", "noreply@comnecter.com")
	b := c.Compose("a@x.com", "123456", "noreply@comnecter.com")
	assert.Equal(t, a, b)
}

func TestCompose_Content(t *testing.T) {
	msg := NewComposer(clock).Compose("a@x.com", "123456", "sender@x.com")

	assert.Equal(t, "a@x.com", msg.To)
	assert.Equal(t, domain.Address{Email: "sender@x.com", Name: "Comnecter"}, msg.From)
	assert.Equal(t, "Your Comnecter Verification Code", msg.Subject)
	assert.Equal(t, "Your Comnecter verification code is: 123456\n\n"+
		"This code will expire in 5 minutes.\n\n"+
		"If you didn't request this code, please ignore this email.", msg.Text)
	assert.Contains(t, msg.HTML, ">123456</p>")
	assert.Contains(t, msg.HTML, "This code will expire in 5 minutes")
	assert.Contains(t, msg.HTML, "&copy; 2026 Comnecter. All rights reserved.")
	assert.NotContains(t, msg.HTML, "%!")
}

func TestCompose_YearIsOnlyTimeVaryingField(t *testing.T) {
	a := NewComposer(clock).Compose("a@x.com", "123456", "s@x.com")
	b := NewComposer(func() time.Time { return fixedNow.AddDate(1, 0, 0) }).Compose("a@x.com", "123456", "s@x.com")

	assert.Equal(t, a.Text, b.Text)
	assert.Equal(t, a.Subject, b.Subject)
	assert.NotEqual(t, a.HTML, b.HTML)
	assert.Equal(t, a.HTML, strings.Replace(b.HTML, "&copy; 2027", "&copy; 2026", 1))
}

func TestCompose_EscapesCodeInHTML(t *testing.T) {
	msg := NewComposer(clock).Compose("a@x.com", "<b>1</b>", "s@x.com")
	assert.Contains(t, msg.HTML, "&lt;b&gt;1&lt;/b&gt;")
	assert.Contains(t, msg.Text, "<b>1</b>")
}

// --- TriggerHandler ---

func TestTrigger_SuccessRecordsSent(t *testing.T) {
	f := newTriggerFixture()
	f.expectUndelivered("a@x.com")
	f.resolver.On("Resolve").Return(validConfig(), nil)
	f.sender.On("Send", mock.Anything, "SG.key", mock.MatchedBy(func(m domain.EmailMessage) bool {
		return m.To == "a@x.com" && m.From.Email == "noreply@comnecter.com"
	})).Return(nil)
	f.store.On("RecordOutcome", mock.Anything, "a@x.com", domain.Outcome{Sent: true, SentAt: fixedNow}).Return(nil)

	res := f.handler.Handle(context.Background(), createdEvent("a@x.com", "123456"))

	assert.Equal(t, StateSent, res.State)
	assert.NoError(t, res.Err)
	assert.True(t, res.Recorded)
	f.store.AssertNumberOfCalls(t, "RecordOutcome", 1)
	f.sender.AssertNumberOfCalls(t, "Send", 1)
}

func TestTrigger_ProviderRejectionRecordsFailure(t *testing.T) {
	f := newTriggerFixture()
	perr := &domain.ProviderError{StatusCode: 403, Message: "The from address does not match a verified Sender Identity."}
	f.expectUndelivered("a@x.com")
	f.resolver.On("Resolve").Return(validConfig(), nil)
	f.sender.On("Send", mock.Anything, "SG.key", mock.Anything).Return(perr)
	f.store.On("RecordOutcome", mock.Anything, "a@x.com", domain.Outcome{
		Sent:   false,
		SentAt: fixedNow,
		Error:  "The from address does not match a verified Sender Identity.",
	}).Return(nil)

	res := f.handler.Handle(context.Background(), createdEvent("a@x.com", "123456"))

	assert.Equal(t, StateFailed, res.State)
	assert.ErrorIs(t, res.Err, domain.ErrProvider)
	assert.True(t, res.Recorded)
	f.store.AssertExpectations(t)
}

func TestTrigger_MissingFieldsDropSilently(t *testing.T) {
	for _, ev := range []domain.CreatedEvent{
		createdEvent("a@x.com", ""),
		createdEvent("", "123456"),
		{EventID: "evt-empty"},
	} {
		f := newTriggerFixture()
		res := f.handler.Handle(context.Background(), ev)

		assert.Equal(t, StateDropped, res.State)
		assert.ErrorIs(t, res.Err, domain.ErrValidation)
		assert.False(t, res.Recorded)
		f.resolver.AssertNotCalled(t, "Resolve")
		f.sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
		f.store.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
		f.store.AssertNotCalled(t, "RecordOutcome", mock.Anything, mock.Anything, mock.Anything)
	}
}

func TestTrigger_ConfigurationErrorLeavesRecordUntouched(t *testing.T) {
	f := newTriggerFixture()
	cfgErr := fmt.Errorf("missing api key: %w", domain.ErrConfiguration)
	f.resolver.On("Resolve").Return(domain.DeliveryConfiguration{}, cfgErr)
	f.alerter.On("Alert", mock.Anything, mock.Anything, mock.MatchedBy(func(s string) bool {
		return strings.Contains(s, "verification_codes/a@x.com")
	})).Return(nil)

	res := f.handler.Handle(context.Background(), createdEvent("a@x.com", "123456"))

	assert.Equal(t, StateUnconfigured, res.State)
	assert.ErrorIs(t, res.Err, domain.ErrConfiguration)
	assert.False(t, res.Recorded)
	f.sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
	f.store.AssertNotCalled(t, "RecordOutcome", mock.Anything, mock.Anything, mock.Anything)
	f.alerter.AssertExpectations(t)
}

func TestTrigger_AlertFailureIsIgnored(t *testing.T) {
	f := newTriggerFixture()
	f.resolver.On("Resolve").Return(domain.DeliveryConfiguration{}, domain.ErrConfiguration)
	f.alerter.On("Alert", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("sns down"))

	res := f.handler.Handle(context.Background(), createdEvent("a@x.com", "123456"))
	assert.Equal(t, StateUnconfigured, res.State)
}

func TestTrigger_PersistenceFailureDoesNotChangeOutcome(t *testing.T) {
	f := newTriggerFixture()
	f.expectUndelivered("a@x.com")
	f.resolver.On("Resolve").Return(validConfig(), nil)
	f.sender.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.store.On("RecordOutcome", mock.Anything, "a@x.com", mock.Anything).Return(errors.New("throttled"))

	res := f.handler.Handle(context.Background(), createdEvent("a@x.com", "123456"))

	assert.Equal(t, StateSent, res.State)
	assert.NoError(t, res.Err)
	assert.False(t, res.Recorded)
	f.store.AssertNumberOfCalls(t, "RecordOutcome", 1)
}

func TestTrigger_RefFallsBackToRecordEmail(t *testing.T) {
	f := newTriggerFixture()
	f.expectUndelivered("a@x.com")
	f.resolver.On("Resolve").Return(validConfig(), nil)
	f.sender.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.store.On("RecordOutcome", mock.Anything, "a@x.com", mock.Anything).Return(nil)

	ev := createdEvent("a@x.com", "123456")
	ev.Ref = domain.RecordRef{Collection: "verification_codes"}
	res := f.handler.Handle(context.Background(), ev)

	assert.True(t, res.Recorded)
	f.store.AssertExpectations(t)
}

func TestTrigger_NilAlerterIsAllowed(t *testing.T) {
	resolver := &mockResolver{}
	resolver.On("Resolve").Return(domain.DeliveryConfiguration{}, domain.ErrConfiguration)
	store := &mockStore{}
	h, err := NewTriggerHandler(TriggerDeps{
		Resolver: resolver,
		Sender:   &mockSender{},
		Recorder: NewOutcomeRecorder(store, nil),
		Records:  store,
	})
	require.NoError(t, err)

	res := h.Handle(context.Background(), createdEvent("a@x.com", "123456"))
	assert.Equal(t, StateUnconfigured, res.State)
}

func TestNewTriggerHandler_RequiresDependencies(t *testing.T) {
	store := &mockStore{}
	full := TriggerDeps{
		Resolver: &mockResolver{},
		Sender:   &mockSender{},
		Recorder: NewOutcomeRecorder(store, nil),
		Records:  store,
	}
	cases := map[string]func(d *TriggerDeps){
		"resolver":      func(d *TriggerDeps) { d.Resolver = nil },
		"sender":        func(d *TriggerDeps) { d.Sender = nil },
		"recorder":      func(d *TriggerDeps) { d.Recorder = nil },
		"record reader": func(d *TriggerDeps) { d.Records = nil },
	}
	for name, drop := range cases {
		t.Run(name, func(t *testing.T) {
			deps := full
			drop(&deps)
			h, err := NewTriggerHandler(deps)
			assert.Nil(t, h)
			assert.ErrorContains(t, err, name+" is required")
		})
	}

	h, err := NewTriggerHandler(full)
	require.NoError(t, err)
	assert.NotNil(t, h)
}

func TestTrigger_AlreadyDeliveredSkipsSendAndWrite(t *testing.T) {
	for _, sent := range []bool{true, false} {
		f := newTriggerFixture()
		f.resolver.On("Resolve").Return(validConfig(), nil)
		f.store.On("Get", mock.Anything, "a@x.com").Return(&domain.VerificationCode{
			Email: "a@x.com", Code: "123456", EmailSent: &sent,
		}, nil)

		res := f.handler.Handle(context.Background(), createdEvent("a@x.com", "123456"))

		assert.Equal(t, StateAlreadyDelivered, res.State)
		assert.NoError(t, res.Err)
		assert.False(t, res.Recorded)
		f.sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
		f.store.AssertNotCalled(t, "RecordOutcome", mock.Anything, mock.Anything, mock.Anything)
	}
}

func TestTrigger_RecordReadFailureStillSends(t *testing.T) {
	for _, readErr := range []error{domain.ErrNotFound, errors.New("throttled")} {
		f := newTriggerFixture()
		f.resolver.On("Resolve").Return(validConfig(), nil)
		f.store.On("Get", mock.Anything, "a@x.com").Return(nil, readErr)
		f.sender.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(nil)
		f.store.On("RecordOutcome", mock.Anything, "a@x.com", mock.Anything).Return(nil)

		res := f.handler.Handle(context.Background(), createdEvent("a@x.com", "123456"))

		assert.Equal(t, StateSent, res.State)
		f.sender.AssertNumberOfCalls(t, "Send", 1)
	}
}

// --- ManualHandler ---

func TestManual_Success(t *testing.T) {
	r, s := &mockResolver{}, &mockSender{}
	r.On("Resolve").Return(validConfig(), nil)
	s.On("Send", mock.Anything, "SG.key", mock.MatchedBy(func(m domain.EmailMessage) bool {
		return m.To == "b@x.com" && strings.Contains(m.Text, "654321")
	})).Return(nil)

	resp, err := newManual(r, s).Send(context.Background(), ManualRequest{Email: "b@x.com", Code: "654321"})

	require.NoError(t, err)
	assert.Equal(t, &ManualResponse{Success: true, Message: "Email sent successfully"}, resp)
	s.AssertNumberOfCalls(t, "Send", 1)
}

func TestManual_MissingFieldsAreInvalidArgument(t *testing.T) {
	cases := map[string]ManualRequest{
		"code missing":  {Email: "b@x.com"},
		"email missing": {Code: "654321"},
		"both missing":  {},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			r, s := &mockResolver{}, &mockSender{}

			resp, err := newManual(r, s).Send(context.Background(), req)

			assert.Nil(t, resp)
			var cerr *domain.CallableError
			require.True(t, errors.As(err, &cerr))
			assert.Equal(t, domain.CodeInvalidArgument, cerr.Code)
			assert.Equal(t, "Email and code are required", cerr.Message)
			assert.ErrorIs(t, err, domain.ErrValidation)
			r.AssertNotCalled(t, "Resolve")
			s.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestManual_ProviderFailureIsInternal(t *testing.T) {
	r, s := &mockResolver{}, &mockSender{}
	r.On("Resolve").Return(validConfig(), nil)
	s.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(&domain.ProviderError{StatusCode: 401})

	_, err := newManual(r, s).Send(context.Background(), ManualRequest{Email: "b@x.com", Code: "654321"})

	var cerr *domain.CallableError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, domain.CodeInternal, cerr.Code)
	assert.Equal(t, "Failed to send email", cerr.Message)
	assert.Equal(t, "Unauthorized", cerr.Details)
	assert.ErrorIs(t, err, domain.ErrProvider)
}

func TestManual_ConfigurationFailureIsInternal(t *testing.T) {
	r, s := &mockResolver{}, &mockSender{}
	r.On("Resolve").Return(domain.DeliveryConfiguration{}, fmt.Errorf("missing api key: %w", domain.ErrConfiguration))

	_, err := newManual(r, s).Send(context.Background(), ManualRequest{Email: "b@x.com", Code: "654321"})

	var cerr *domain.CallableError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, domain.CodeInternal, cerr.Code)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	s.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}
