package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"disputeflow/kv"
)

// Publisher delivers one record to the outside world.
type Publisher interface {
	Publish(ctx context.Context, rec Record) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, rec Record) error

func (f PublisherFunc) Publish(ctx context.Context, rec Record) error { return f(ctx, rec) }

// RedisPublisher appends records to a Redis stream.
type RedisPublisher struct {
	client redis.Cmdable
	stream string
	maxLen int64
}

func NewRedisPublisher(client redis.Cmdable, stream string) *RedisPublisher {
	return &RedisPublisher{client: client, stream: stream, maxLen: 100_000}
}

func (p *RedisPublisher) Publish(ctx context.Context, rec Record) error {
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"seq":   rec.Seq,
			"topic": string(rec.Topic),
			"body":  string(rec.Body),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("outbox: xadd %s: %w", p.stream, err)
	}
	return nil
}

// LogPublisher writes records to a logger. It is the fallback when no broker
// is configured.
type LogPublisher struct {
	log zerolog.Logger
}

func NewLogPublisher(log zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, rec Record) error {
	p.log.Info().Uint64("seq", rec.Seq).Str("topic", string(rec.Topic)).RawJSON("event", rec.Body).Msg("event")
	return nil
}

// Relay moves records from the outbox to a Publisher. Delivery is at least
// once: a crash between publishing and acking republishes the batch.
type Relay struct {
	store kv.Store
	pub   Publisher
	batch int
	log   zerolog.Logger
}

type RelayOption func(*Relay)

func WithBatchSize(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.batch = n
		}
	}
}

func WithLogger(log zerolog.Logger) RelayOption {
	return func(r *Relay) { r.log = log }
}

func NewRelay(store kv.Store, pub Publisher, opts ...RelayOption) *Relay {
	r := &Relay{store: store, pub: pub, batch: 128, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Drain publishes one batch and returns how many records were delivered.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	recs, err := r.pending(ctx)
	if err != nil || len(recs) == 0 {
		return 0, err
	}

	done := make([]uint64, 0, len(recs))
	var pubErr error
	for _, rec := range recs {
		if err := r.pub.Publish(ctx, rec); err != nil {
			pubErr = err
			break
		}
		done = append(done, rec.Seq)
	}

	if len(done) > 0 {
		if err := r.ack(ctx, done); err != nil {
			return 0, errors.Join(pubErr, err)
		}
	}
	return len(done), pubErr
}

func (r *Relay) pending(ctx context.Context) ([]Record, error) {
	tx, err := r.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("outbox: begin read: %w", err)
	}
	defer tx.Rollback(ctx)
	return Pending(ctx, tx, r.batch)
}

func (r *Relay) ack(ctx context.Context, seqs []uint64) error {
	tx, err := r.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("outbox: begin ack: %w", err)
	}
	defer tx.Rollback(ctx)
	if err := Ack(ctx, tx, seqs...); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("outbox: commit ack: %w", err)
	}
	return nil
}

// Run drains on every tick until ctx is cancelled.
func (r *Relay) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for {
				n, err := r.Drain(ctx)
				if err != nil {
					r.log.Error().Err(err).Int("delivered", n).Msg("relay drain failed")
					break
				}
				if n < r.batch {
					break
				}
			}
		}
	}
}
