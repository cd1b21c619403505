package dynamo

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/comnecter/verifymail/internal/config"
	"go.uber.org/zap"
)

// TableAPI is the subset of the DynamoDB client used for table management.
type TableAPI interface {
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	UpdateTable(ctx context.Context, in *dynamodb.UpdateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateTableOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Bootstrap creates the verification codes table with a NEW_IMAGE stream if it doesn't
// already exist, and enables the stream on an existing table that lacks one. It also
// creates the stream checkpoint table when one is named.
// Safe to call on every startup.
func Bootstrap(ctx context.Context, client TableAPI, tables config.DynamoTables, log *zap.SugaredLogger) {
	bootstrapVerificationCodes(ctx, client, tables, log)
	if tables.StreamCheckpoints != "" {
		bootstrapCheckpoints(ctx, client, tables.StreamCheckpoints, log)
	}
}

func bootstrapCheckpoints(ctx context.Context, client TableAPI, table string, log *zap.SugaredLogger) {
	_, err := client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:   aws.String(table),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(fieldShardID), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(fieldShardID), KeyType: types.KeyTypeHash},
		},
	})
	var riue *types.ResourceInUseException
	switch {
	case err == nil:
		log.Infow("created table", "table", table)
	case !errors.As(err, &riue):
		log.Warnw("could not create table", "table", table, "err", err)
	}
}

func bootstrapVerificationCodes(ctx context.Context, client TableAPI, tables config.DynamoTables, log *zap.SugaredLogger) {
	stream := &types.StreamSpecification{
		StreamEnabled:  aws.Bool(true),
		StreamViewType: types.StreamViewTypeNewImage,
	}
	_, err := client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:   aws.String(tables.VerificationCodes),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(fieldEmail), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(fieldEmail), KeyType: types.KeyTypeHash},
		},
		StreamSpecification: stream,
	})
	if err == nil {
		log.Infow("created table", "table", tables.VerificationCodes)
		return
	}
	// ResourceInUseException: the table already exists.
	var riue *types.ResourceInUseException
	if !errors.As(err, &riue) {
		log.Warnw("could not create table", "table", tables.VerificationCodes, "err", err)
		return
	}

	out, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(tables.VerificationCodes)})
	if err != nil {
		log.Warnw("could not describe table", "table", tables.VerificationCodes, "err", err)
		return
	}
	if t := out.Table; t != nil && t.StreamSpecification != nil && aws.ToBool(t.StreamSpecification.StreamEnabled) {
		return
	}
	if _, err := client.UpdateTable(ctx, &dynamodb.UpdateTableInput{
		TableName:           aws.String(tables.VerificationCodes),
		StreamSpecification: stream,
	}); err != nil {
		log.Warnw("could not enable stream", "table", tables.VerificationCodes, "err", err)
		return
	}
	log.Infow("enabled stream", "table", tables.VerificationCodes)
}

// LatestStreamARN returns the ARN of the table's current stream.
func LatestStreamARN(ctx context.Context, client TableAPI, table string) (string, error) {
	out, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
	if err != nil {
		return "", err
	}
	if out.Table == nil || aws.ToString(out.Table.LatestStreamArn) == "" {
		return "", errors.New("table " + table + " has no stream enabled")
	}
	return aws.ToString(out.Table.LatestStreamArn), nil
}
