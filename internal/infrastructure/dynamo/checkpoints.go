package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

const fieldShardID = "shardId"

// StreamCheckpoint is the last stream record handled on one shard.
type StreamCheckpoint struct {
	ShardID        string    `dynamodbav:"shardId"`
	StreamARN      string    `dynamodbav:"streamArn"`
	SequenceNumber string    `dynamodbav:"sequenceNumber"`
	UpdatedAt      time.Time `dynamodbav:"updatedAt"`
}

// CheckpointRepo persists per-shard stream positions.
// PK: shardId
type CheckpointRepo struct {
	client    ItemAPI
	tableName string
	now       func() time.Time
}

func NewCheckpointRepo(client ItemAPI, tableName string) *CheckpointRepo {
	return &CheckpointRepo{client: client, tableName: tableName, now: time.Now}
}

// Load returns the saved sequence number for a shard, or "" when none was saved.
func (r *CheckpointRepo) Load(ctx context.Context, streamARN, shardID string) (string, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey(fieldShardID, shardID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("load checkpoint %s: %w", shardID, err)
	}
	if out.Item == nil {
		return "", nil
	}
	var cp StreamCheckpoint
	if err := attributevalue.UnmarshalMap(out.Item, &cp); err != nil {
		return "", fmt.Errorf("unmarshal checkpoint %s: %w", shardID, err)
	}
	// A checkpoint from a previous stream of the same table does not apply.
	if cp.StreamARN != "" && cp.StreamARN != streamARN {
		return "", nil
	}
	return cp.SequenceNumber, nil
}

// Save overwrites the shard's checkpoint.
func (r *CheckpointRepo) Save(ctx context.Context, streamARN, shardID, sequenceNumber string) error {
	item, err := attributevalue.MarshalMap(StreamCheckpoint{
		ShardID:        shardID,
		StreamARN:      streamARN,
		SequenceNumber: sequenceNumber,
		UpdatedAt:      r.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", shardID, err)
	}
	return nil
}
