package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/roadside-dispatch/internal/dispatch"
)

// MessageReader is the subset of *kafka.Reader the consumer needs. Offsets
// are committed explicitly, so a message is only acknowledged once handled.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewReader(brokers []string, topic, group string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 1, MaxBytes: 10e6})
}

// HandlerFunc processes one decoded notification. A returned error hands the
// same message back after a backoff; the offset stays uncommitted meanwhile.
type HandlerFunc func(ctx context.Context, n dispatch.Notification) error

type Consumer struct {
	Reader     MessageReader
	Handle     HandlerFunc
	Logger     *slog.Logger
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// MaxRedeliveries caps handler attempts per message; past it the message
	// is logged, counted through OnDropped and committed. 0 means no cap.
	MaxRedeliveries int

	// OnInvalid, OnError and OnDropped are optional hooks for counters.
	OnInvalid func()
	OnError   func()
	OnDropped func()
}

// Run fetches until ctx is done. Fetch errors and handler errors back off
// exponentially. Invalid messages are committed straight away.
func (c *Consumer) Run(ctx context.Context) error {
	minBackoff, maxBackoff := c.backoffs()
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	backoff := minBackoff
	for {
		m, err := c.Reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("kafka fetch error", "error", err, "backoff", backoff)
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = minBackoff

		n, err := Decode(m)
		if err != nil {
			if c.OnInvalid != nil {
				c.OnInvalid()
			}
			logger.Warn("invalid notification message", "offset", m.Offset, "error", err)
		} else if !c.deliver(ctx, logger, m, n) {
			return nil
		}
		if err := c.Reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("kafka commit failed", "offset", m.Offset, "error", err)
		}
	}
}

// deliver runs the handler until it succeeds or the redelivery cap is hit.
// It returns false only when ctx ended first, leaving m uncommitted.
func (c *Consumer) deliver(ctx context.Context, logger *slog.Logger, m kafka.Message, n dispatch.Notification) bool {
	minBackoff, maxBackoff := c.backoffs()
	backoff := minBackoff
	for attempt := 1; ; attempt++ {
		err := c.Handle(ctx, n)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		if c.OnError != nil {
			c.OnError()
		}
		if c.MaxRedeliveries > 0 && attempt >= c.MaxRedeliveries {
			if c.OnDropped != nil {
				c.OnDropped()
			}
			logger.Error("notification dropped after redeliveries", "id", n.ID, "channel", n.Channel,
				"offset", m.Offset, "attempts", attempt, "error", err)
			return true
		}
		logger.Warn("notification delivery failed, will redeliver", "id", n.ID, "channel", n.Channel,
			"attempt", attempt, "backoff", backoff, "error", err)
		if !sleep(ctx, backoff) {
			return false
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (c *Consumer) backoffs() (time.Duration, time.Duration) {
	minBackoff, maxBackoff := c.MinBackoff, c.MaxBackoff
	if minBackoff <= 0 {
		minBackoff = time.Second
	}
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}
	return minBackoff, maxBackoff
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
