// Package table provides a generic, concurrent-safe collection of rows
// persisted as a single JSON array in a key-value store.
//
// # Overview
//
// A [Table] keeps every row in memory and writes the whole collection back on
// each mutation. The first [Open] of a key that holds no value initializes the
// table from seed rows and persists them, so seeded IDs are stable across
// restarts.
//
// # Concurrency
//
// Mutations hold the write lock for the entire read-modify-write, including the
// write to the store. A failed write leaves the in-memory rows unchanged.
// Readers always receive clones.
package table

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sync"

	"github.com/maruel/ksid"
	"github.com/soc-club/presensi/internal/kvstore"
)

// Row is implemented by types stored in a Table.
type Row[T any] interface {
	Clone() T
	GetID() ksid.ID
	Validate() error
}

// IDSetter is implemented by rows that accept a generated ID on insert.
type IDSetter interface {
	SetID(id ksid.ID)
}

// ErrDuplicateID is returned when an inserted row reuses an existing ID.
var ErrDuplicateID = errors.New("duplicate id")

// Table is an ordered collection of rows backed by one key of a kvstore.Store.
type Table[T Row[T]] struct {
	store *kvstore.Store
	key   string

	mu   sync.RWMutex
	rows []T
	ids  map[ksid.ID]int
}

// Open loads the collection stored under key.
//
// When the key holds no value, seed is called and its rows are persisted. A
// nil seed means an empty collection. Any other read failure fails Open so
// that stored rows are never replaced. A value that cannot be decoded is
// replaced by the seed in memory only; the stored bytes are kept until the
// next mutation.
func Open[T Row[T]](ctx context.Context, store *kvstore.Store, key string, seed func() ([]T, error)) (*Table[T], error) {
	t := &Table[T]{store: store, key: key}
	var rows []T
	err := store.Load(ctx, key, &rows)
	switch {
	case err == nil && rows != nil:
	case err == nil, errors.Is(err, kvstore.ErrNotFound):
		if rows, err = seedRows(seed); err != nil {
			return nil, fmt.Errorf("failed to seed %s: %w", key, err)
		}
		if err := store.Set(ctx, key, rows); err != nil {
			return nil, fmt.Errorf("failed to seed %s: %w", key, err)
		}
	case errors.Is(err, kvstore.ErrCorrupt):
		slog.ErrorContext(ctx, "table: stored value is corrupt, serving seed without saving it", "key", key, "err", err)
		if rows, err = seedRows(seed); err != nil {
			return nil, fmt.Errorf("failed to seed %s: %w", key, err)
		}
	default:
		return nil, fmt.Errorf("failed to load %s: %w", key, err)
	}
	t.rows = rows
	t.reindex()
	return t, nil
}

func seedRows[T Row[T]](seed func() ([]T, error)) ([]T, error) {
	var src []T
	if seed != nil {
		var err error
		if src, err = seed(); err != nil {
			return nil, err
		}
	}
	rows := make([]T, 0, len(src))
	for _, r := range src {
		rows = append(rows, r.Clone())
	}
	return rows, nil
}

// Key returns the store key backing the table.
func (t *Table[T]) Key() string {
	return t.key
}

// Len returns the number of rows.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// Get returns a clone of the row with the given ID, or the zero value.
func (t *Table[T]) Get(id ksid.ID) T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if i, ok := t.ids[id]; ok {
		return t.rows[i].Clone()
	}
	var zero T
	return zero
}

// All returns an iterator over clones of the rows in insertion order.
func (t *Table[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		t.mu.RLock()
		defer t.mu.RUnlock()
		for _, r := range t.rows {
			if !yield(r.Clone()) {
				return
			}
		}
	}
}

// Select returns clones of the rows for which match reports true.
func (t *Table[T]) Select(match func(T) bool) []T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []T
	for _, r := range t.rows {
		if match(r) {
			out = append(out, r.Clone())
		}
	}
	return out
}

// Insert appends rows and persists the collection.
//
// Rows without an ID that implement IDSetter receive a new one. prepare, if
// not nil, runs on each row before validation while the table is locked and
// sees the rows already stored, including those inserted earlier in the same
// call. Either every row is inserted or none is.
func (t *Table[T]) Insert(ctx context.Context, rows []T, prepare func(row T, existing []T) error) ([]T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := make([]T, len(t.rows), len(t.rows)+len(rows))
	copy(next, t.rows)
	seen := make(map[ksid.ID]struct{}, len(rows))
	added := make([]T, 0, len(rows))
	for _, in := range rows {
		r := in.Clone()
		if r.GetID().IsZero() {
			s, ok := any(r).(IDSetter)
			if !ok {
				return nil, fmt.Errorf("%s: row has no id", t.key)
			}
			s.SetID(t.newID(seen))
		}
		id := r.GetID()
		if _, ok := t.ids[id]; ok {
			return nil, fmt.Errorf("%s: %w %s", t.key, ErrDuplicateID, id)
		}
		if _, ok := seen[id]; ok {
			return nil, fmt.Errorf("%s: %w %s", t.key, ErrDuplicateID, id)
		}
		if prepare != nil {
			if err := prepare(r, next); err != nil {
				return nil, err
			}
		}
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("%s: invalid row: %w", t.key, err)
		}
		seen[id] = struct{}{}
		next = append(next, r)
		added = append(added, r.Clone())
	}
	if err := t.commit(ctx, next); err != nil {
		return nil, err
	}
	return added, nil
}

// Update applies modify to a clone of every row for which match reports true,
// validates the results and persists the collection. The ID of a row cannot
// change. check, if not nil, runs on each modified row after validation while
// the table is locked and sees every other row, including those modified
// earlier in the same call. It returns clones of the updated rows.
func (t *Table[T]) Update(ctx context.Context, match func(T) bool, modify func(T) error, check func(row T, others []T) error) ([]T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := make([]T, len(t.rows))
	copy(next, t.rows)
	var updated []T
	for i, r := range t.rows {
		if !match(r) {
			continue
		}
		c := r.Clone()
		if err := modify(c); err != nil {
			return nil, err
		}
		if c.GetID() != r.GetID() {
			return nil, fmt.Errorf("%s: row id cannot change", t.key)
		}
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("%s: invalid row: %w", t.key, err)
		}
		if check != nil {
			if err := check(c, slices.Delete(slices.Clone(next), i, i+1)); err != nil {
				return nil, err
			}
		}
		next[i] = c
		updated = append(updated, c.Clone())
	}
	if len(updated) == 0 {
		return nil, nil
	}
	if err := t.commit(ctx, next); err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes every row for which match reports true and persists the
// collection. It returns the removed rows.
func (t *Table[T]) Delete(ctx context.Context, match func(T) bool) ([]T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := make([]T, 0, len(t.rows))
	var removed []T
	for _, r := range t.rows {
		if match(r) {
			removed = append(removed, r)
		} else {
			next = append(next, r)
		}
	}
	if len(removed) == 0 {
		return nil, nil
	}
	if err := t.commit(ctx, next); err != nil {
		return nil, err
	}
	return removed, nil
}

// commit persists rows and makes them current. Must be called with mu held.
func (t *Table[T]) commit(ctx context.Context, rows []T) error {
	if err := t.store.Set(ctx, t.key, rows); err != nil {
		return err
	}
	t.rows = rows
	t.reindex()
	return nil
}

func (t *Table[T]) reindex() {
	t.ids = make(map[ksid.ID]int, len(t.rows))
	for i, r := range t.rows {
		t.ids[r.GetID()] = i
	}
}

func (t *Table[T]) newID(pending map[ksid.ID]struct{}) ksid.ID {
	for {
		id := ksid.NewID()
		if _, ok := t.ids[id]; ok {
			continue
		}
		if _, ok := pending[id]; ok {
			continue
		}
		return id
	}
}
