package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	commissiondomain "github.com/rcarraroia/slim-quality-sub008/internal/commission/domain"
	intakedomain "github.com/rcarraroia/slim-quality-sub008/internal/intake/domain"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const eventIDHeader = "event-id"

// messageReader is the subset of *kafkago.Reader the consumer needs.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Consumer feeds order-completed messages into intake. An offset is committed
// only once its event was ingested or found to be malformed.
type Consumer struct {
	reader     messageReader
	intake     intakedomain.Service
	log        *zap.Logger
	newBackOff func() backoff.BackOff

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewConsumer(reader messageReader, intake intakedomain.Service, log *zap.Logger) *Consumer {
	return &Consumer{
		reader: reader,
		intake: intake,
		log:    log.Named("intake.kafka"),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			return b
		},
	}
}

func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return errors.New("consumer is already running")
	}
	c.running = true

	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.consumeLoop(ctx)
	c.log.Info("kafka consumer started")
	return nil
}

func (c *Consumer) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	cancel := c.cancel
	c.mu.Unlock()

	cancel()
	c.wg.Wait()
	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("close kafka reader: %w", err)
	}
	c.log.Info("kafka consumer stopped")
	return nil
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Error("fetch message failed", zap.Error(err))
			continue
		}
		if err := c.handle(ctx, msg); err != nil {
			// Only cancellation ends up here; the message is redelivered.
			return
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Error("commit message failed",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}
	}
}

// handle returns an error only when ctx ends before the message was ingested.
func (c *Consumer) handle(ctx context.Context, msg kafkago.Message) error {
	log := c.log.With(zap.Int("partition", msg.Partition), zap.Int64("offset", msg.Offset))

	event, err := DecodeEvent(msg)
	if err != nil {
		log.Error("skipping malformed message", zap.Error(err))
		return nil
	}

	_, err = backoff.Retry(ctx, func() (intakedomain.Outcome, error) {
		outcome, _, err := c.intake.Ingest(ctx, event)
		if err != nil && isPermanent(err) {
			return "", backoff.Permanent(err)
		}
		return outcome, err
	},
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn("ingest failed; retrying", zap.Duration("retry_in", next), zap.Error(err))
		}),
	)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	log.Error("skipping rejected event", zap.String("event_id", event.EventID), zap.Error(err))
	return nil
}

// DecodeEvent reads the JSON body; the event id falls back to the event-id
// header and then to the message key.
func DecodeEvent(msg kafkago.Message) (intakedomain.Event, error) {
	var event intakedomain.Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return intakedomain.Event{}, fmt.Errorf("%w: %v", intakedomain.ErrInvalidPayload, err)
	}
	if strings.TrimSpace(event.EventID) == "" {
		for _, h := range msg.Headers {
			if strings.EqualFold(h.Key, eventIDHeader) {
				event.EventID = string(h.Value)
				break
			}
		}
	}
	if strings.TrimSpace(event.EventID) == "" {
		event.EventID = string(msg.Key)
	}
	event.Source = intakedomain.SourceKafka
	event.Payload = append(json.RawMessage(nil), msg.Value...)
	return event, nil
}

func isPermanent(err error) bool {
	for _, target := range []error{
		intakedomain.ErrInvalidEventID,
		intakedomain.ErrInvalidPayload,
		commissiondomain.ErrInvalidOrderRef,
		commissiondomain.ErrInvalidOrderValue,
		commissiondomain.ErrInvalidVisitor,
		commissiondomain.ErrInvalidCompletedAt,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
