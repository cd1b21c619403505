package streams

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/dynamodbstreams"
	"github.com/aws/aws-sdk-go-v2/service/dynamodbstreams/types"
	"github.com/comnecter/verifymail/internal/config"
	"github.com/comnecter/verifymail/internal/domain"
	"github.com/comnecter/verifymail/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const sourceName = "dynamodb"

// API is the subset of the DynamoDB Streams client used by Watcher.
type API interface {
	DescribeStream(ctx context.Context, in *dynamodbstreams.DescribeStreamInput, optFns ...func(*dynamodbstreams.Options)) (*dynamodbstreams.DescribeStreamOutput, error)
	GetShardIterator(ctx context.Context, in *dynamodbstreams.GetShardIteratorInput, optFns ...func(*dynamodbstreams.Options)) (*dynamodbstreams.GetShardIteratorOutput, error)
	GetRecords(ctx context.Context, in *dynamodbstreams.GetRecordsInput, optFns ...func(*dynamodbstreams.Options)) (*dynamodbstreams.GetRecordsOutput, error)
}

// Handler receives one creation event. It must not fail; trigger sources never retry.
type Handler func(ctx context.Context, ev domain.CreatedEvent)

// errSkip marks stream records that are not creation events.
var errSkip = errors.New("not a creation event")

// NewClient creates a DynamoDB Streams client, honouring the LocalStack endpoint override.
func NewClient(awsCfg aws.Config, cfg *config.Config) *dynamodbstreams.Client {
	opts := []func(*dynamodbstreams.Options){}
	if cfg.AWSEndpointURL != "" {
		opts = append(opts, func(o *dynamodbstreams.Options) {
			o.BaseEndpoint = aws.String(cfg.AWSEndpointURL)
		})
	}
	return dynamodbstreams.NewFromConfig(awsCfg, opts...)
}

// Checkpointer persists the last handled sequence number per shard.
type Checkpointer interface {
	Load(ctx context.Context, streamARN, shardID string) (string, error)
	Save(ctx context.Context, streamARN, shardID, sequenceNumber string) error
}

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	StreamARN string
	Template  domain.PathTemplate
	// Checkpoints, when set, makes every shard resume after its saved sequence number
	// and start shards without one at TRIM_HORIZON. IteratorType is then ignored.
	Checkpoints  Checkpointer
	IteratorType string // LATEST or TRIM_HORIZON, applies to shards found on the first scan
	PollInterval time.Duration
}

// Watcher follows every shard of a table stream and hands INSERT events to a Handler.
// Delivery is at-least-once: with checkpoints, records handled after the last saved
// checkpoint are replayed on restart.
type Watcher struct {
	client  API
	cfg     WatcherConfig
	handler Handler
	log     *zap.SugaredLogger

	mu     sync.Mutex
	shards map[string]struct{}
}

func NewWatcher(client API, cfg WatcherConfig, handler Handler, log *zap.SugaredLogger) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.IteratorType == "" {
		cfg.IteratorType = string(types.ShardIteratorTypeLatest)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Watcher{client: client, cfg: cfg, handler: handler, log: log, shards: map[string]struct{}{}}
}

// position is where reading a shard starts.
type position struct {
	iterType types.ShardIteratorType
	afterSeq string
}

var trimHorizon = position{iterType: types.ShardIteratorTypeTrimHorizon}

// Run polls until ctx is cancelled. Shards are rediscovered every poll interval so
// child shards created by splits are picked up from their start.
func (w *Watcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		first := true
		for {
			shards, err := w.describeShards(gctx)
			if err != nil {
				w.log.Warnw("describe stream failed", "stream_arn", w.cfg.StreamARN, "err", err)
			} else {
				for _, s := range shards {
					shardID := aws.ToString(s.ShardId)
					closed := s.SequenceNumberRange != nil && s.SequenceNumberRange.EndingSequenceNumber != nil
					if first && w.cfg.Checkpoints == nil && closed &&
						types.ShardIteratorType(w.cfg.IteratorType) == types.ShardIteratorTypeLatest {
						// Closed shards receive nothing new.
						w.claim(shardID)
						continue
					}
					if !w.claim(shardID) {
						continue
					}
					fromFirstScan := first
					g.Go(func() error {
						return w.follow(gctx, shardID, w.start(gctx, shardID, fromFirstScan))
					})
				}
				first = false
			}
			if !sleep(gctx, w.cfg.PollInterval) {
				return nil
			}
		}
	})
	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// start picks the starting position of a newly claimed shard.
func (w *Watcher) start(ctx context.Context, shardID string, firstScan bool) position {
	if w.cfg.Checkpoints == nil {
		if firstScan {
			return position{iterType: types.ShardIteratorType(w.cfg.IteratorType)}
		}
		return trimHorizon
	}
	seq, err := w.cfg.Checkpoints.Load(ctx, w.cfg.StreamARN, shardID)
	if err != nil {
		w.log.Warnw("load checkpoint failed, reading shard from its start", "shard_id", shardID, "err", err)
		return trimHorizon
	}
	if seq == "" {
		return trimHorizon
	}
	return position{iterType: types.ShardIteratorTypeAfterSequenceNumber, afterSeq: seq}
}

// claim marks a shard as handled and reports whether it was new.
func (w *Watcher) claim(shardID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.shards[shardID]; ok {
		return false
	}
	w.shards[shardID] = struct{}{}
	return true
}

func (w *Watcher) describeShards(ctx context.Context) ([]types.Shard, error) {
	var shards []types.Shard
	var start *string
	for {
		out, err := w.client.DescribeStream(ctx, &dynamodbstreams.DescribeStreamInput{
			StreamArn:             aws.String(w.cfg.StreamARN),
			ExclusiveStartShardId: start,
		})
		if err != nil {
			return nil, err
		}
		if out.StreamDescription == nil {
			return shards, nil
		}
		shards = append(shards, out.StreamDescription.Shards...)
		start = out.StreamDescription.LastEvaluatedShardId
		if start == nil {
			return shards, nil
		}
	}
}

func (w *Watcher) follow(ctx context.Context, shardID string, pos position) error {
	log := w.log.With("shard_id", shardID)
	log.Infow("following shard", "iterator_type", pos.iterType, "after_sequence_number", pos.afterSeq)

	it, err := w.iterator(ctx, shardID, pos)
	if err != nil && pos.afterSeq != "" {
		// The checkpoint may be older than the stream's retention window.
		log.Warnw("resume from checkpoint failed, reading shard from its start", "err", err)
		pos = trimHorizon
		it, err = w.iterator(ctx, shardID, pos)
	}
	if err != nil {
		log.Warnw("get shard iterator failed", "err", err)
		return nil
	}

	for it != nil {
		out, err := w.client.GetRecords(ctx, &dynamodbstreams.GetRecordsInput{ShardIterator: it})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var expired *types.ExpiredIteratorException
			if errors.As(err, &expired) {
				if it, err = w.iterator(ctx, shardID, pos); err != nil {
					log.Warnw("refresh shard iterator failed", "err", err)
					return nil
				}
				continue
			}
			log.Warnw("get records failed", "err", err)
			if !sleep(ctx, w.cfg.PollInterval) {
				return nil
			}
			continue
		}

		var lastSeq string
		for _, rec := range out.Records {
			w.dispatch(ctx, rec)
			if rec.Dynamodb != nil && rec.Dynamodb.SequenceNumber != nil {
				lastSeq = *rec.Dynamodb.SequenceNumber
			}
		}
		if lastSeq != "" {
			pos = position{iterType: types.ShardIteratorTypeAfterSequenceNumber, afterSeq: lastSeq}
			w.checkpoint(ctx, log, shardID, lastSeq)
		}
		it = out.NextShardIterator
		if len(out.Records) == 0 && !sleep(ctx, w.cfg.PollInterval) {
			return nil
		}
	}
	log.Infow("shard closed")
	return nil
}

func (w *Watcher) checkpoint(ctx context.Context, log *zap.SugaredLogger, shardID, seq string) {
	if w.cfg.Checkpoints == nil {
		return
	}
	if err := w.cfg.Checkpoints.Save(ctx, w.cfg.StreamARN, shardID, seq); err != nil && ctx.Err() == nil {
		log.Warnw("save checkpoint failed", "sequence_number", seq, "err", err)
	}
}

func (w *Watcher) iterator(ctx context.Context, shardID string, pos position) (*string, error) {
	in := &dynamodbstreams.GetShardIteratorInput{
		StreamArn:         aws.String(w.cfg.StreamARN),
		ShardId:           aws.String(shardID),
		ShardIteratorType: pos.iterType,
	}
	if pos.afterSeq != "" {
		in.SequenceNumber = aws.String(pos.afterSeq)
	}
	out, err := w.client.GetShardIterator(ctx, in)
	if err != nil {
		return nil, err
	}
	return out.ShardIterator, nil
}

func (w *Watcher) dispatch(ctx context.Context, rec types.Record) {
	ev, err := DecodeRecord(w.cfg.Template, rec)
	if errors.Is(err, errSkip) {
		metrics.TriggerEventsSkipped.WithLabelValues(sourceName, "not_insert").Inc()
		return
	}
	if err != nil {
		metrics.TriggerEventsSkipped.WithLabelValues(sourceName, "undecodable").Inc()
		w.log.Warnw("skipping undecodable stream record", "event_id", aws.ToString(rec.EventID), "err", err)
		return
	}
	w.handler(ctx, ev)
}

// DecodeRecord converts an INSERT stream record into a creation event.
// Non-INSERT records return errSkip.
func DecodeRecord(tmpl domain.PathTemplate, rec types.Record) (domain.CreatedEvent, error) {
	if rec.EventName != types.OperationTypeInsert {
		return domain.CreatedEvent{}, errSkip
	}
	if rec.Dynamodb == nil || rec.Dynamodb.NewImage == nil {
		return domain.CreatedEvent{}, fmt.Errorf("stream record has no new image; stream view type must include NEW_IMAGE")
	}
	image, err := attributevalue.FromDynamoDBStreamsMap(rec.Dynamodb.NewImage)
	if err != nil {
		return domain.CreatedEvent{}, fmt.Errorf("convert new image: %w", err)
	}
	keys, err := attributevalue.FromDynamoDBStreamsMap(rec.Dynamodb.Keys)
	if err != nil {
		return domain.CreatedEvent{}, fmt.Errorf("convert keys: %w", err)
	}

	record := domain.VerificationCode{
		Email: attrString(image, domain.FieldEmail),
		Code:  attrString(image, domain.FieldCode),
	}
	key := attrString(keys, domain.FieldEmail)
	if key == "" {
		key = record.Email
	}
	return domain.CreatedEvent{
		EventID: aws.ToString(rec.EventID),
		Ref:     tmpl.Ref(key),
		Record:  record,
	}, nil
}

// attrString reads a string or number attribute as text.
func attrString(item map[string]ddbtypes.AttributeValue, name string) string {
	switch v := item[name].(type) {
	case *ddbtypes.AttributeValueMemberS:
		return v.Value
	case *ddbtypes.AttributeValueMemberN:
		return v.Value
	}
	return ""
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
