package dynamo

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/comnecter/verifymail/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- mock ---

type mockItemAPI struct{ mock.Mock }

func (m *mockItemAPI) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	args := m.Called(ctx, in)
	return &dynamodb.PutItemOutput{}, args.Error(0)
}

func (m *mockItemAPI) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	args := m.Called(ctx, in)
	if out, _ := args.Get(0).(*dynamodb.GetItemOutput); out != nil {
		return out, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockItemAPI) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	args := m.Called(ctx, in)
	return &dynamodb.UpdateItemOutput{}, args.Error(0)
}

// --- tests ---

func TestRecordOutcome_SuccessWritesSentFieldsOnly(t *testing.T) {
	api := &mockItemAPI{}
	repo := NewVerificationCodeRepo(api, "verification_codes")

	var got *dynamodb.UpdateItemInput
	api.On("UpdateItem", mock.Anything, mock.AnythingOfType("*dynamodb.UpdateItemInput")).
		Run(func(args mock.Arguments) { got = args.Get(1).(*dynamodb.UpdateItemInput) }).
		Return(nil)

	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, repo.RecordOutcome(context.Background(), "a@x.com", domain.Outcome{Sent: true, SentAt: at}))

	require.NotNil(t, got)
	assert.Equal(t, "verification_codes", aws.ToString(got.TableName))
	assert.Equal(t, &types.AttributeValueMemberS{Value: "a@x.com"}, got.Key["email"])
	assert.Equal(t, "SET #f0 = :v0, #f1 = :v1", aws.ToString(got.UpdateExpression))
	assert.Equal(t, "attribute_exists(#pk) AND attribute_not_exists(#sent)", aws.ToString(got.ConditionExpression))
	assert.Equal(t, "emailSent", got.ExpressionAttributeNames["#f0"])
	assert.Equal(t, "emailSentAt", got.ExpressionAttributeNames["#f1"])
	assert.NotContains(t, got.ExpressionAttributeNames, "#f2")
}

func TestRecordOutcome_FailureIncludesError(t *testing.T) {
	api := &mockItemAPI{}
	repo := NewVerificationCodeRepo(api, "verification_codes")

	var got *dynamodb.UpdateItemInput
	api.On("UpdateItem", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { got = args.Get(1).(*dynamodb.UpdateItemInput) }).
		Return(nil)

	require.NoError(t, repo.RecordOutcome(context.Background(), "a@x.com", domain.Outcome{Sent: false, SentAt: time.Now(), Error: "Forbidden"}))
	assert.Equal(t, "emailError", got.ExpressionAttributeNames["#f0"])
	assert.Equal(t, &types.AttributeValueMemberS{Value: "Forbidden"}, got.ExpressionAttributeValues[":v0"])
}

func TestRecordOutcome_ConditionFailureIsOutcomeExists(t *testing.T) {
	api := &mockItemAPI{}
	repo := NewVerificationCodeRepo(api, "verification_codes")
	api.On("UpdateItem", mock.Anything, mock.Anything).
		Return(&types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")})

	err := repo.RecordOutcome(context.Background(), "a@x.com", domain.Outcome{Sent: true, SentAt: time.Now()})
	assert.ErrorIs(t, err, ErrOutcomeExists)
}

func TestGet_NotFound(t *testing.T) {
	api := &mockItemAPI{}
	repo := NewVerificationCodeRepo(api, "verification_codes")
	api.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil)

	_, err := repo.Get(context.Background(), "nobody@x.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGet_UnmarshalsOutcome(t *testing.T) {
	api := &mockItemAPI{}
	repo := NewVerificationCodeRepo(api, "verification_codes")
	api.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"email":       &types.AttributeValueMemberS{Value: "a@x.com"},
		"code":        &types.AttributeValueMemberS{Value: "123456"},
		"emailSent":   &types.AttributeValueMemberBOOL{Value: false},
		"emailSentAt": &types.AttributeValueMemberS{Value: "2026-05-01T10:00:00Z"},
		"emailError":  &types.AttributeValueMemberS{Value: "Forbidden"},
	}}, nil)

	v, err := repo.Get(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "123456", v.Code)
	require.NotNil(t, v.EmailSent)
	assert.False(t, *v.EmailSent)
	require.NotNil(t, v.EmailError)
	assert.Equal(t, "Forbidden", *v.EmailError)
	require.NotNil(t, v.EmailSentAt)
	assert.True(t, v.EmailSentAt.Equal(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)))
}
