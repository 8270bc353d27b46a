package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrPersistenceFailed = errors.New("persistence failed")
)

// Record is a single key/value pair returned by List.
type Record struct {
	Key   string
	Value []byte
}

// Store is the durable key/value layer behind tracks, hazards and the sync outbox.
// Keys are slash separated, e.g. track/<id>, hazard/<id>, outbox/<kind>/<id>.
// List returns records sorted by key.
type Store interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]Record, error)
}

func PutJSON(ctx context.Context, s Store, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Put(ctx, key, payload)
}

func GetJSON(ctx context.Context, s Store, key string, v any) error {
	payload, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func failed(op, key string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrPersistenceFailed, op, key, err)
}
