package table

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/maruel/ksid"
	"github.com/soc-club/presensi/internal/kvstore"
)

// testRow is a simple row type for testing.
type testRow struct {
	ID   ksid.ID `json:"id"`
	Name string  `json:"name"`
}

func (r *testRow) Clone() *testRow {
	c := *r
	return &c
}

func (r *testRow) GetID() ksid.ID {
	return r.ID
}

func (r *testRow) SetID(id ksid.ID) {
	r.ID = id
}

func (r *testRow) Validate() error {
	if r.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

// failingBackend refuses every write once armed, and every read while
// readErr is set.
type failingBackend struct {
	*kvstore.MemoryBackend
	fail    bool
	readErr error
}

func (b *failingBackend) Read(ctx context.Context, key string) ([]byte, error) {
	if b.readErr != nil {
		return nil, b.readErr
	}
	return b.MemoryBackend.Read(ctx, key)
}

func (b *failingBackend) Write(ctx context.Context, key string, data []byte) error {
	if b.fail {
		return errors.New("disk full")
	}
	return b.MemoryBackend.Write(ctx, key, data)
}

func seedOf(rows ...*testRow) func() ([]*testRow, error) {
	return func() ([]*testRow, error) { return rows, nil }
}

func names(rows []*testRow) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Name
	}
	return out
}

func TestOpen(t *testing.T) {
	ctx := t.Context()
	t.Run("seeds when absent", func(t *testing.T) {
		store := kvstore.New(kvstore.NewMemoryBackend())
		seed := []*testRow{{ID: ksid.NewID(), Name: "a"}, {ID: ksid.NewID(), Name: "b"}}
		tbl, err := Open(ctx, store, "rows", seedOf(seed...))
		if err != nil {
			t.Fatal(err)
		}
		if tbl.Len() != 2 {
			t.Fatalf("Len() = %d, want 2", tbl.Len())
		}
		// The seed is persisted immediately so a second open sees the same IDs.
		again, err := Open[*testRow](ctx, store, "rows", nil)
		if err != nil {
			t.Fatal(err)
		}
		if got := again.Get(seed[0].ID); got == nil || got.Name != "a" {
			t.Errorf("Get(seed[0]) = %+v", got)
		}
		seed[0].Name = "mutated"
		if tbl.Get(seed[0].ID).Name != "a" {
			t.Error("table should not alias the seed slice")
		}
	})
	t.Run("seed not built when stored", func(t *testing.T) {
		store := kvstore.New(kvstore.NewMemoryBackend())
		if err := store.Set(ctx, "rows", []*testRow{}); err != nil {
			t.Fatal(err)
		}
		called := false
		tbl, err := Open(ctx, store, "rows", func() ([]*testRow, error) {
			called = true
			return []*testRow{{ID: ksid.NewID(), Name: "a"}}, nil
		})
		if err != nil {
			t.Fatal(err)
		}
		if tbl.Len() != 0 || called {
			t.Errorf("Len() = %d, seed called = %t", tbl.Len(), called)
		}
	})
	t.Run("read failure keeps stored rows", func(t *testing.T) {
		b := &failingBackend{MemoryBackend: kvstore.NewMemoryBackend()}
		store := kvstore.New(b)
		stored := &testRow{ID: ksid.NewID(), Name: "real"}
		if err := store.Set(ctx, "rows", []*testRow{stored}); err != nil {
			t.Fatal(err)
		}
		b.readErr = errors.New("transient i/o error")
		if _, err := Open(ctx, store, "rows", seedOf(&testRow{ID: ksid.NewID(), Name: "seed"})); err == nil {
			t.Fatal("expected Open to fail")
		}
		b.readErr = nil
		tbl, err := Open[*testRow](ctx, store, "rows", nil)
		if err != nil {
			t.Fatal(err)
		}
		if got := names(slices.Collect(tbl.All())); !slices.Equal(got, []string{"real"}) {
			t.Errorf("names = %v", got)
		}
	})
	t.Run("seed error", func(t *testing.T) {
		_, err := Open(ctx, kvstore.New(kvstore.NewMemoryBackend()), "rows", func() ([]*testRow, error) {
			return nil, errors.New("bad seed")
		})
		if err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("corrupt serves seed without saving", func(t *testing.T) {
		b := kvstore.NewMemoryBackend()
		if err := b.Write(ctx, "rows", []byte("{not json")); err != nil {
			t.Fatal(err)
		}
		tbl, err := Open(ctx, kvstore.New(b), "rows", seedOf(&testRow{ID: ksid.NewID(), Name: "a"}))
		if err != nil {
			t.Fatal(err)
		}
		if tbl.Len() != 1 {
			t.Errorf("Len() = %d, want 1", tbl.Len())
		}
		raw, err := b.Read(ctx, "rows")
		if err != nil || string(raw) != "{not json" {
			t.Errorf("stored = %q, %v", raw, err)
		}
	})
}

func TestTable(t *testing.T) {
	ctx := t.Context()
	open := func(t *testing.T) *Table[*testRow] {
		tbl, err := Open[*testRow](ctx, kvstore.New(kvstore.NewMemoryBackend()), "rows", nil)
		if err != nil {
			t.Fatal(err)
		}
		return tbl
	}

	t.Run("Insert assigns unique ids", func(t *testing.T) {
		tbl := open(t)
		rows := make([]*testRow, 50)
		for i := range rows {
			rows[i] = &testRow{Name: "x"}
		}
		added, err := tbl.Insert(ctx, rows, nil)
		if err != nil {
			t.Fatal(err)
		}
		seen := map[ksid.ID]bool{}
		for _, r := range added {
			if r.ID.IsZero() || seen[r.ID] {
				t.Fatalf("bad or duplicate id %v", r.ID)
			}
			seen[r.ID] = true
		}
		if rows[0].ID != 0 {
			t.Error("Insert should not modify the caller's rows")
		}
	})

	t.Run("Insert keeps explicit id", func(t *testing.T) {
		tbl := open(t)
		id := ksid.NewID()
		if _, err := tbl.Insert(ctx, []*testRow{{ID: id, Name: "x"}}, nil); err != nil {
			t.Fatal(err)
		}
		_, err := tbl.Insert(ctx, []*testRow{{ID: id, Name: "y"}}, nil)
		if !errors.Is(err, ErrDuplicateID) {
			t.Errorf("got %v, want ErrDuplicateID", err)
		}
	})

	t.Run("Insert is all or nothing", func(t *testing.T) {
		tbl := open(t)
		_, err := tbl.Insert(ctx, []*testRow{{Name: "ok"}, {Name: ""}}, nil)
		if err == nil {
			t.Fatal("expected validation error")
		}
		if tbl.Len() != 0 {
			t.Errorf("Len() = %d, want 0", tbl.Len())
		}
	})

	t.Run("Insert prepare sees pending rows", func(t *testing.T) {
		tbl := open(t)
		var sizes []int
		_, err := tbl.Insert(ctx, []*testRow{{Name: "a"}, {Name: "b"}}, func(r *testRow, existing []*testRow) error {
			sizes = append(sizes, len(existing))
			r.Name += "!"
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(sizes, []int{0, 1}) {
			t.Errorf("sizes = %v", sizes)
		}
		if got := names(slices.Collect(tbl.All())); !slices.Equal(got, []string{"a!", "b!"}) {
			t.Errorf("names = %v", got)
		}
	})

	t.Run("Update touches only matches", func(t *testing.T) {
		tbl := open(t)
		added, err := tbl.Insert(ctx, []*testRow{{Name: "a"}, {Name: "b"}}, nil)
		if err != nil {
			t.Fatal(err)
		}
		target := added[0].ID
		updated, err := tbl.Update(ctx,
			func(r *testRow) bool { return r.ID == target },
			func(r *testRow) error { r.Name = "z"; return nil },
			nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(updated) != 1 || updated[0].Name != "z" {
			t.Errorf("updated = %+v", updated)
		}
		if got := names(slices.Collect(tbl.All())); !slices.Equal(got, []string{"z", "b"}) {
			t.Errorf("names = %v", got)
		}
	})

	t.Run("Update rejects invalid", func(t *testing.T) {
		tbl := open(t)
		if _, err := tbl.Insert(ctx, []*testRow{{Name: "a"}}, nil); err != nil {
			t.Fatal(err)
		}
		_, err := tbl.Update(ctx,
			func(*testRow) bool { return true },
			func(r *testRow) error { r.Name = ""; return nil },
			nil)
		if err == nil {
			t.Fatal("expected validation error")
		}
		if got := names(slices.Collect(tbl.All())); !slices.Equal(got, []string{"a"}) {
			t.Errorf("names = %v", got)
		}
	})

	t.Run("Update check sees other rows", func(t *testing.T) {
		tbl := open(t)
		added, err := tbl.Insert(ctx, []*testRow{{Name: "a"}, {Name: "b"}}, nil)
		if err != nil {
			t.Fatal(err)
		}
		unique := func(r *testRow, others []*testRow) error {
			for _, o := range others {
				if o.Name == r.Name {
					return errors.New("name taken")
				}
			}
			return nil
		}
		target := added[1].ID
		_, err = tbl.Update(ctx,
			func(r *testRow) bool { return r.ID == target },
			func(r *testRow) error { r.Name = "a"; return nil },
			unique)
		if err == nil {
			t.Fatal("expected check error")
		}
		if got := names(slices.Collect(tbl.All())); !slices.Equal(got, []string{"a", "b"}) {
			t.Errorf("names = %v", got)
		}
		if _, err := tbl.Update(ctx,
			func(r *testRow) bool { return r.ID == target },
			func(r *testRow) error { r.Name = "c"; return nil },
			unique); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		tbl := open(t)
		if _, err := tbl.Insert(ctx, []*testRow{{Name: "a"}, {Name: "b"}, {Name: "a"}}, nil); err != nil {
			t.Fatal(err)
		}
		removed, err := tbl.Delete(ctx, func(r *testRow) bool { return r.Name == "a" })
		if err != nil {
			t.Fatal(err)
		}
		if len(removed) != 2 || tbl.Len() != 1 {
			t.Errorf("removed %d, left %d", len(removed), tbl.Len())
		}
		removed, err = tbl.Delete(ctx, func(r *testRow) bool { return r.Name == "nope" })
		if err != nil || removed != nil {
			t.Errorf("Delete(no match) = %v, %v", removed, err)
		}
	})

	t.Run("Select returns clones", func(t *testing.T) {
		tbl := open(t)
		if _, err := tbl.Insert(ctx, []*testRow{{Name: "a"}}, nil); err != nil {
			t.Fatal(err)
		}
		got := tbl.Select(func(*testRow) bool { return true })
		got[0].Name = "mutated"
		if names(slices.Collect(tbl.All()))[0] != "a" {
			t.Error("Select should return clones")
		}
	})
}

func TestFailedWriteRollsBack(t *testing.T) {
	ctx := t.Context()
	b := &failingBackend{MemoryBackend: kvstore.NewMemoryBackend()}
	store := kvstore.New(b)
	tbl, err := Open(ctx, store, "rows", seedOf(&testRow{ID: ksid.NewID(), Name: "a"}))
	if err != nil {
		t.Fatal(err)
	}
	b.fail = true
	if _, err := tbl.Insert(ctx, []*testRow{{Name: "b"}}, nil); err == nil {
		t.Error("expected write error")
	}
	if _, err := tbl.Delete(ctx, func(*testRow) bool { return true }); err == nil {
		t.Error("expected write error")
	}
	if tbl.Len() != 1 {
		t.Errorf("Len() = %d, want 1", tbl.Len())
	}
}
