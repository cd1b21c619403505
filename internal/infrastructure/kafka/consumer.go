package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/comnecter/verifymail/internal/domain"
	"github.com/comnecter/verifymail/internal/metrics"
	"github.com/comnecter/verifymail/internal/pkg/id"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const sourceName = "kafka"

// OpCreate is the only change operation that reaches the handler.
const OpCreate = "create"

var errSkip = errors.New("not a creation event")

// ChangeEvent is the JSON payload published for every record change.
type ChangeEvent struct {
	ID   string         `json:"id"`
	Op   string         `json:"op"`
	Path string         `json:"path"`
	Data map[string]any `json:"data"`
}

// MessageReader is the subset of *kafka.Reader used by Consumer.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Handler receives one creation event.
type Handler func(ctx context.Context, ev domain.CreatedEvent)

// ReaderConfig configures NewReader.
type ReaderConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// NewReader creates a consumer-group reader. Offsets are committed explicitly.
func NewReader(cfg ReaderConfig) (*kafka.Reader, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic is required")
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 1 << 20,
	}), nil
}

// Consumer turns change events from a topic into creation events.
type Consumer struct {
	reader  MessageReader
	tmpl    domain.PathTemplate
	handler Handler
	log     *zap.SugaredLogger
}

func NewConsumer(reader MessageReader, tmpl domain.PathTemplate, handler Handler, log *zap.SugaredLogger) *Consumer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Consumer{reader: reader, tmpl: tmpl, handler: handler, log: log}
}

// Run consumes until ctx is cancelled. A message is committed after the handler
// returns, so a crash mid-handle redelivers it.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		ev, err := DecodeMessage(c.tmpl, msg.Value)
		switch {
		case errors.Is(err, errSkip):
			metrics.TriggerEventsSkipped.WithLabelValues(sourceName, "not_create").Inc()
		case err != nil:
			metrics.TriggerEventsSkipped.WithLabelValues(sourceName, "undecodable").Inc()
			c.log.Warnw("skipping undecodable change event", "partition", msg.Partition, "offset", msg.Offset, "err", err)
		default:
			c.handler(ctx, ev)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warnw("commit failed", "partition", msg.Partition, "offset", msg.Offset, "err", err)
		}
	}
}

// DecodeMessage parses a change event and keeps only creations under the template's collection.
func DecodeMessage(tmpl domain.PathTemplate, value []byte) (domain.CreatedEvent, error) {
	var ce ChangeEvent
	if err := json.Unmarshal(value, &ce); err != nil {
		return domain.CreatedEvent{}, fmt.Errorf("decode change event: %w", err)
	}
	if ce.Op != OpCreate {
		return domain.CreatedEvent{}, errSkip
	}
	ref, err := tmpl.Match(ce.Path)
	if err != nil {
		return domain.CreatedEvent{}, err
	}
	if ce.ID == "" {
		ce.ID = id.New()
	}
	return domain.CreatedEvent{
		EventID: ce.ID,
		Ref:     ref,
		Record: domain.VerificationCode{
			Email: text(ce.Data[domain.FieldEmail]),
			Code:  text(ce.Data[domain.FieldCode]),
		},
	}, nil
}

// text renders string and integral numeric JSON values; anything else is treated as absent.
func text(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t != math.Trunc(t) || math.IsInf(t, 0) {
			return ""
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		if _, err := t.Int64(); err != nil {
			return ""
		}
		return t.String()
	}
	return ""
}
