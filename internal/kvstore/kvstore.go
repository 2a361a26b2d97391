// Package kvstore provides a durable key-value store holding JSON documents.
//
// # Overview
//
// A [Store] serialises values to JSON and hands the bytes to a [Backend]. Reads
// fail soft: a missing key, an unreadable backend or a corrupt document all
// yield the caller-supplied default, so corrupt state is never fatal.
//
// Writes overwrite the whole value for a key. There is no partial write and no
// transaction across keys; the store assumes one writing process.
//
// # Backends
//
// [DirBackend] keeps one file per key under a directory, [MemoryBackend] keeps
// values in process memory and [RedisBackend] stores them in Redis.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// ErrNotFound is returned by a Backend when the key holds no value.
var ErrNotFound = errors.New("key not found")

// ErrCorrupt is returned by Store.Load when a stored value cannot be decoded.
var ErrCorrupt = errors.New("corrupt value")

// Backend persists raw bytes under string keys.
type Backend interface {
	// Read returns the bytes stored for key, or ErrNotFound.
	Read(ctx context.Context, key string) ([]byte, error)
	// Write replaces the bytes stored for key.
	Write(ctx context.Context, key string, data []byte) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
}

// Store reads and writes JSON values through a Backend.
type Store struct {
	backend Backend
}

// New returns a Store persisting to b.
func New(b Backend) *Store {
	return &Store{backend: b}
}

// Get decodes the value stored for key into a T.
//
// def is returned when the key is absent or its value cannot be read or
// decoded. Failures are logged, never returned.
func Get[T any](ctx context.Context, s *Store, key string, def T) T {
	var v T
	if err := s.Load(ctx, key, &v); err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
		case errors.Is(err, ErrCorrupt):
			slog.WarnContext(ctx, "kvstore: corrupt value, using default", "key", key, "err", err)
		default:
			slog.WarnContext(ctx, "kvstore: read failed, using default", "key", key, "err", err)
		}
		return def
	}
	return v
}

// Load decodes the value stored for key into v. It returns ErrNotFound when
// the key holds no value and wraps ErrCorrupt when the value cannot be
// decoded. Any other error comes from the backend.
func (s *Store) Load(ctx context.Context, key string, v any) error {
	data, err := s.backend.Read(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCorrupt, key, err)
	}
	return nil
}

// Set encodes v and overwrites the value stored for key.
func (s *Store) Set(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := s.backend.Write(ctx, key, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Remove deletes the value stored for key.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.backend.Remove(ctx, key); err != nil {
		return fmt.Errorf("failed to remove %s: %w", key, err)
	}
	return nil
}
