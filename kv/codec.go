package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Load decodes the JSON record stored at key.
func Load[T any](ctx context.Context, r Reader, key []byte) (T, error) {
	raw, err := r.Get(ctx, key)
	if err != nil {
		var zero T
		return zero, err
	}
	out, err := Decode[T](raw)
	if err != nil {
		return out, fmt.Errorf("kv: decode %q: %w", key, err)
	}
	return out, nil
}

// Decode unmarshals a stored value, typically one handed to a Scan callback.
func Decode[T any](raw []byte) (T, error) {
	var out T
	err := json.Unmarshal(raw, &out)
	return out, err
}

// LoadOr is Load with a fallback for missing keys.
func LoadOr[T any](ctx context.Context, r Reader, key []byte, fallback T) (T, error) {
	out, err := Load[T](ctx, r, key)
	if errors.Is(err, ErrNotFound) {
		return fallback, nil
	}
	return out, err
}

// Save encodes v as JSON and stores it at key.
func Save(ctx context.Context, tx Tx, key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kv: encode %q: %w", key, err)
	}
	return tx.Put(ctx, key, raw)
}

// Exists reports whether key is present.
func Exists(ctx context.Context, r Reader, key []byte) (bool, error) {
	_, err := r.Get(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// DeletePrefix removes every key under prefix.
func DeletePrefix(ctx context.Context, tx Tx, prefix []byte) (int, error) {
	var keys [][]byte
	err := tx.Scan(ctx, prefix, func(k, _ []byte) error {
		keys = append(keys, k)
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, k := range keys {
		if err := tx.Delete(ctx, k); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}
