// Package query implements a chainable query builder over a table.Table.
//
// A [Builder] accumulates operations ([OpSelect], [OpEq], [OpOrder],
// [OpSingle]) and runs them when a terminal method is called: [Builder.Execute],
// [Builder.One], [Builder.Insert], [Builder.Update] or [Builder.Delete].
//
// Select and Order are recorded but not applied: every column is returned and
// rows come back in insertion order. Callers sort results themselves.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/soc-club/presensi/internal/table"
)

// Row is implemented by types a Builder can filter.
type Row[T any] interface {
	table.Row[T]
	// Column returns the string form of the named column.
	Column(name string) (string, bool)
}

// Patch is a partial update applied to each matching row.
type Patch[T any] interface {
	Apply(row T) error
}

var (
	// ErrMultipleRows is returned when Single matched more than one row.
	ErrMultipleRows = errors.New("Multiple rows returned for single()") //nolint:staticcheck // shown verbatim
	// ErrUnknownColumn is returned when Eq names a column the collection lacks.
	ErrUnknownColumn = errors.New("unknown column")
	// ErrDeleteUnsupported is returned by Delete on collections that forbid it.
	ErrDeleteUnsupported = errors.New("delete is not supported")
	// ErrNothingDeleted matches the error Delete returns when nothing matched.
	ErrNothingDeleted = errors.New("nothing deleted")
	// ErrEmptyPatch is returned by Update when the patch changes nothing.
	ErrEmptyPatch = errors.New("empty patch")
)

// NotFoundError is returned by Delete when no row matched.
type NotFoundError struct {
	Noun string
}

func (e *NotFoundError) Error() string {
	return "No " + e.Noun + " found to delete"
}

// Is reports whether target is ErrNothingDeleted.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNothingDeleted
}

// OpKind identifies a chained operation.
type OpKind int

// Chained operations.
const (
	OpSelect OpKind = iota
	OpEq
	OpOrder
	OpSingle
)

func (k OpKind) String() string {
	switch k {
	case OpSelect:
		return "select"
	case OpEq:
		return "eq"
	case OpOrder:
		return "order"
	case OpSingle:
		return "single"
	}
	return fmt.Sprintf("OpKind(%d)", int(k))
}

// Op is one accumulated operation.
type Op struct {
	Kind OpKind
	// Columns is set for OpSelect.
	Columns []string
	// Column is set for OpEq and OpOrder.
	Column string
	// Value is set for OpEq.
	Value string
	// Ascending is set for OpOrder.
	Ascending bool
}

// Collection is a named table that builders query.
type Collection[T Row[T]] struct {
	// Name is used in log messages.
	Name string
	// Noun names one row in user facing errors.
	Noun string
	// Columns lists the columns Eq accepts.
	Columns []string
	// Latency is waited before every terminal operation.
	Latency time.Duration
	// Prepare fills defaults on rows being inserted. It runs with the table
	// locked and sees the rows already stored.
	Prepare func(row T, existing []T) error
	// Check rejects updated rows that conflict with the other rows. It runs
	// with the table locked.
	Check func(row T, others []T) error
	// Deletable enables Builder.Delete.
	Deletable bool

	Table *table.Table[T]
}

// From starts a new query on the collection.
func (c *Collection[T]) From() *Builder[T] {
	return &Builder[T]{c: c}
}

// Builder accumulates operations against a Collection.
//
// A Builder is not safe for concurrent use; build one per query.
type Builder[T Row[T]] struct {
	c   *Collection[T]
	ops []Op
	err error
}

// Select records the columns the caller wants. All columns are returned.
func (b *Builder[T]) Select(columns ...string) *Builder[T] {
	b.ops = append(b.ops, Op{Kind: OpSelect, Columns: columns})
	return b
}

// Eq adds an equality filter. Filters are combined with AND.
func (b *Builder[T]) Eq(column, value string) *Builder[T] {
	if b.err == nil && !slices.Contains(b.c.Columns, column) {
		b.err = fmt.Errorf("%w %q on %s", ErrUnknownColumn, column, b.c.Name)
	}
	b.ops = append(b.ops, Op{Kind: OpEq, Column: column, Value: value})
	return b
}

// Order records a requested sort. Rows are not sorted.
func (b *Builder[T]) Order(column string, ascending bool) *Builder[T] {
	b.ops = append(b.ops, Op{Kind: OpOrder, Column: column, Ascending: ascending})
	return b
}

// Single requires at most one row to match.
func (b *Builder[T]) Single() *Builder[T] {
	b.ops = append(b.ops, Op{Kind: OpSingle})
	return b
}

// Ops returns the accumulated operations in call order.
func (b *Builder[T]) Ops() []Op {
	return slices.Clone(b.ops)
}

// Execute returns every matching row.
//
// With Single, zero matches yield (nil, nil) and more than one yields
// ErrMultipleRows.
func (b *Builder[T]) Execute(ctx context.Context) ([]T, error) {
	if err := b.begin(ctx, "select"); err != nil {
		return nil, err
	}
	rows := b.c.Table.Select(b.match)
	if b.single() && len(rows) > 1 {
		slog.DebugContext(ctx, "query: single matched many", "table", b.c.Name, "rows", len(rows))
		return nil, ErrMultipleRows
	}
	return rows, nil
}

// One is Single followed by Execute, returning the row or the zero value.
func (b *Builder[T]) One(ctx context.Context) (T, error) {
	var zero T
	if !b.single() {
		b.Single()
	}
	rows, err := b.Execute(ctx)
	if err != nil || len(rows) == 0 {
		return zero, err
	}
	return rows[0], nil
}

// Insert appends rows, assigning IDs to those without one. Filters are
// ignored.
func (b *Builder[T]) Insert(ctx context.Context, rows ...T) ([]T, error) {
	if err := b.begin(ctx, "insert"); err != nil {
		return nil, err
	}
	return b.c.Table.Insert(ctx, rows, b.c.Prepare)
}

// Update applies p to every matching row and returns the updated rows.
func (b *Builder[T]) Update(ctx context.Context, p Patch[T]) ([]T, error) {
	if e, ok := p.(interface{ Empty() bool }); ok && e.Empty() {
		return nil, ErrEmptyPatch
	}
	return b.Modify(ctx, p.Apply)
}

// Modify applies fn to every matching row and returns the updated rows.
func (b *Builder[T]) Modify(ctx context.Context, fn func(T) error) ([]T, error) {
	if err := b.begin(ctx, "update"); err != nil {
		return nil, err
	}
	return b.c.Table.Update(ctx, b.match, fn, b.c.Check)
}

// DeleteResult reports how many rows Delete removed.
type DeleteResult struct {
	Count int `json:"count"`
}

// Delete removes every matching row. It returns a NotFoundError along with a
// zero count when nothing matched.
func (b *Builder[T]) Delete(ctx context.Context) (DeleteResult, error) {
	if !b.c.Deletable {
		return DeleteResult{}, fmt.Errorf("%s: %w", b.c.Name, ErrDeleteUnsupported)
	}
	if err := b.begin(ctx, "delete"); err != nil {
		return DeleteResult{}, err
	}
	removed, err := b.c.Table.Delete(ctx, b.match)
	if err != nil {
		return DeleteResult{}, err
	}
	if len(removed) == 0 {
		return DeleteResult{}, &NotFoundError{Noun: b.c.Noun}
	}
	return DeleteResult{Count: len(removed)}, nil
}

func (b *Builder[T]) begin(ctx context.Context, verb string) error {
	if b.err != nil {
		return b.err
	}
	if slog.Default().Enabled(ctx, slog.LevelDebug) {
		slog.DebugContext(ctx, "query", "table", b.c.Name, "op", verb, "chain", b.describe())
	}
	return Wait(ctx, b.c.Latency)
}

func (b *Builder[T]) single() bool {
	return slices.ContainsFunc(b.ops, func(o Op) bool { return o.Kind == OpSingle })
}

func (b *Builder[T]) match(row T) bool {
	for _, o := range b.ops {
		if o.Kind != OpEq {
			continue
		}
		if v, ok := row.Column(o.Column); !ok || v != o.Value {
			return false
		}
	}
	return true
}

func (b *Builder[T]) describe() string {
	var s strings.Builder
	for i, o := range b.ops {
		if i != 0 {
			s.WriteByte('.')
		}
		s.WriteString(o.Kind.String())
		switch o.Kind {
		case OpSelect:
			fmt.Fprintf(&s, "(%s)", strings.Join(o.Columns, ","))
		case OpEq:
			fmt.Fprintf(&s, "(%s=%q)", o.Column, o.Value)
		case OpOrder:
			fmt.Fprintf(&s, "(%s,asc=%t)", o.Column, o.Ascending)
		default:
			s.WriteString("()")
		}
	}
	return s.String()
}

// Wait sleeps for d or until ctx is done. It is the latency applied before
// terminal operations.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
