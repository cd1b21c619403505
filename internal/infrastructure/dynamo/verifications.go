package dynamo

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/comnecter/verifymail/internal/domain"
)

// ItemAPI is the subset of the DynamoDB client used by the item repos.
type ItemAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// ErrOutcomeExists is returned when the record already carries an outcome or no longer exists.
var ErrOutcomeExists = errors.New("outcome already recorded or record missing")

// VerificationCodeRepo manages verification code records.
// PK: email
type VerificationCodeRepo struct {
	client    ItemAPI
	tableName string
}

func NewVerificationCodeRepo(client ItemAPI, tableName string) *VerificationCodeRepo {
	return &VerificationCodeRepo{client: client, tableName: tableName}
}

// Get reads a record with a consistent read so a just-written outcome is visible.
func (r *VerificationCodeRepo) Get(ctx context.Context, email string) (*domain.VerificationCode, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey(fieldEmail, email),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("verification code not found: %w", domain.ErrNotFound)
	}
	var v domain.VerificationCode
	if err := attributevalue.UnmarshalMap(out.Item, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// RecordOutcome writes the outcome fields in a single conditional update.
// The write only succeeds on an existing record without an outcome, so an outcome is
// set at most once even when a creation event is delivered more than once.
func (r *VerificationCodeRepo) RecordOutcome(ctx context.Context, email string, o domain.Outcome) error {
	ue, err := buildUpdateExpr(o.Fields())
	if err != nil {
		return err
	}
	ue.Names["#pk"] = fieldEmail
	ue.Names["#sent"] = fieldEmailSent

	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey(fieldEmail, email),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String("attribute_exists(#pk) AND attribute_not_exists(#sent)"),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return fmt.Errorf("record %s: %w", email, ErrOutcomeExists)
	}
	return err
}
