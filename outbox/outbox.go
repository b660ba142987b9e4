// Package outbox persists command events next to the state they describe and
// relays them to an external publisher afterwards.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/gowebpki/jcs"

	"disputeflow/event"
	"disputeflow/kv"
)

var seqKey = kv.Key("outbox", "seq")

var errBatchFull = errors.New("outbox: batch full")

func entriesPrefix() []byte {
	return kv.Key("outbox", "e")
}

func entryKey(seq uint64) []byte {
	return kv.Key("outbox", "e", kv.Num(seq))
}

// Record is an encoded event waiting to be published.
type Record struct {
	Seq   uint64
	Topic event.Topic
	Body  []byte
}

// Encode renders ev as RFC 8785 canonical JSON.
func Encode(ev event.Event) ([]byte, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("outbox: marshal %s: %w", ev.Topic, err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("outbox: canonicalize %s: %w", ev.Topic, err)
	}
	return canon, nil
}

// Enqueue appends events to the outbox inside tx.
func Enqueue(ctx context.Context, tx kv.Tx, events []event.Event) error {
	if len(events) == 0 {
		return nil
	}
	seq, err := kv.LoadOr(ctx, tx, seqKey, uint64(0))
	if err != nil {
		return fmt.Errorf("outbox: load seq: %w", err)
	}
	for _, ev := range events {
		body, err := Encode(ev)
		if err != nil {
			return err
		}
		seq++
		if err := tx.Put(ctx, entryKey(seq), body); err != nil {
			return fmt.Errorf("outbox: put %d: %w", seq, err)
		}
	}
	if err := kv.Save(ctx, tx, seqKey, seq); err != nil {
		return fmt.Errorf("outbox: save seq: %w", err)
	}
	return nil
}

// Pending returns up to limit queued records in sequence order. A limit of
// zero returns everything.
func Pending(ctx context.Context, r kv.Reader, limit int) ([]Record, error) {
	var out []Record
	err := r.Scan(ctx, entriesPrefix(), func(key, value []byte) error {
		if limit > 0 && len(out) >= limit {
			return errBatchFull
		}
		parts := kv.Parts(key)
		seq, err := strconv.ParseUint(parts[len(parts)-1], 10, 64)
		if err != nil {
			return fmt.Errorf("outbox: bad key %q: %w", key, err)
		}
		var head struct {
			Topic event.Topic `json:"topic"`
		}
		if err := json.Unmarshal(value, &head); err != nil {
			return fmt.Errorf("outbox: decode %d: %w", seq, err)
		}
		body := make([]byte, len(value))
		copy(body, value)
		out = append(out, Record{Seq: seq, Topic: head.Topic, Body: body})
		return nil
	})
	if err != nil && !errors.Is(err, errBatchFull) {
		return nil, err
	}
	return out, nil
}

// Ack removes published records.
func Ack(ctx context.Context, tx kv.Tx, seqs ...uint64) error {
	for _, seq := range seqs {
		if err := tx.Delete(ctx, entryKey(seq)); err != nil {
			return fmt.Errorf("outbox: ack %d: %w", seq, err)
		}
	}
	return nil
}

// WithTx runs fn in a fresh transaction with an event log at block, enqueues
// whatever fn emitted and commits. The events are returned only when the
// commit succeeded.
func WithTx(ctx context.Context, store kv.Store, block uint64, fn func(ctx context.Context, tx kv.Tx, log *event.Log) error) ([]event.Event, error) {
	tx, err := store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("outbox: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	log := event.NewLog(block)
	if err := fn(ctx, tx, log); err != nil {
		return nil, err
	}
	events := log.Events()
	if err := Enqueue(ctx, tx, events); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("outbox: commit tx: %w", err)
	}
	return events, nil
}
