package kafka

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/ariefcatur/go-stock-orders/internal/tracing"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler must return nil only when the message was processed and its
// offset may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

// Consumer fans messages out to a fixed set of workers. Messages with the same
// key always land on the same worker, so events of one order are handled in
// the order they were produced.
type Consumer struct {
	r       *kafka.Reader
	workers int
	log     *zap.Logger

	// Retries is how often a failing message is retried before it is logged
	// and skipped. Handlers dedup by event id, so a skipped message can be
	// replayed safely.
	Retries int
	Backoff time.Duration
}

func NewConsumer(brokers []string, group, topic string, workers int, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		r:       r,
		workers: workers,
		log:     log.With(zap.String("topic", topic), zap.String("group", group)),
		Retries: 3,
		Backoff: 200 * time.Millisecond,
	}
}

func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	shards := make([]chan kafka.Message, c.workers)
	done := make(chan struct{}, c.workers)
	for i := range shards {
		shards[i] = make(chan kafka.Message, 128)
		go func(in <-chan kafka.Message) {
			defer func() { done <- struct{}{} }()
			for m := range in {
				c.handle(ctx, h, m)
			}
		}(shards[i])
	}
	stop := func() {
		for _, s := range shards {
			close(s)
		}
		for range shards {
			<-done
		}
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case shards[Shard(m.Key, c.workers)] <- m:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message) {
	mctx := tracing.Extract(ctx, Headers(m))
	var err error
	for attempt := 0; attempt <= c.Retries; attempt++ {
		if err = h(mctx, m); err == nil {
			break
		}
		c.log.Warn("handler failed", zap.Int("attempt", attempt+1), zap.Int64("offset", m.Offset), zap.Error(err))
		if attempt == c.Retries {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.Backoff * time.Duration(attempt+1)):
		}
	}
	if err != nil {
		c.log.Error("message skipped", zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset),
			zap.ByteString("key", m.Key), zap.Error(err))
	}
	if err := c.r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
		c.log.Warn("commit failed", zap.Int64("offset", m.Offset), zap.Error(err))
	}
}

// Shard maps a message key onto one of n workers.
func Shard(key []byte, n int) int {
	if n <= 1 || len(key) == 0 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write(key)
	return int(h.Sum32() % uint32(n))
}

// Headers flattens message headers; later duplicates win.
func Headers(m kafka.Message) map[string]string {
	out := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		out[h.Key] = string(h.Value)
	}
	return out
}
