package query

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/soc-club/presensi/internal/kvstore"
	"github.com/soc-club/presensi/internal/models"
	"github.com/soc-club/presensi/internal/table"
)

func openAttendance(t *testing.T) *Collection[*models.AttendanceRecord] {
	t.Helper()
	tbl, err := table.Open[*models.AttendanceRecord](t.Context(), kvstore.New(kvstore.NewMemoryBackend()), "soc_attendance", nil)
	if err != nil {
		t.Fatal(err)
	}
	return &Collection[*models.AttendanceRecord]{
		Name:    "attendance",
		Noun:    "record",
		Columns: []string{"id", "user_id", "date", "status"},
		Table:   tbl,
	}
}

func openUsers(t *testing.T) *Collection[*models.User] {
	t.Helper()
	tbl, err := table.Open[*models.User](t.Context(), kvstore.New(kvstore.NewMemoryBackend()), "soc_users", nil)
	if err != nil {
		t.Fatal(err)
	}
	return &Collection[*models.User]{
		Name:      "users",
		Noun:      "user",
		Columns:   []string{"id", "nisn", "role"},
		Deletable: true,
		Table:     tbl,
	}
}

func member(nisn string) *models.User {
	return &models.User{
		FullName: "Member " + nisn,
		Account:  &models.MemberAccount{NISN: nisn, Token: "ABC12345", Field: models.DefaultField},
	}
}

func TestSingle(t *testing.T) {
	ctx := t.Context()
	c := openUsers(t)
	if _, err := c.From().Insert(ctx, member("1"), member("2"), member("2")); err != nil {
		t.Fatal(err)
	}
	t.Run("one", func(t *testing.T) {
		rows, err := c.From().Eq("nisn", "1").Single().Execute(ctx)
		if err != nil || len(rows) != 1 {
			t.Fatalf("got %v, %v", rows, err)
		}
	})
	t.Run("zero", func(t *testing.T) {
		rows, err := c.From().Eq("nisn", "404").Single().Execute(ctx)
		if err != nil || rows != nil {
			t.Fatalf("got %v, %v; want nil, nil", rows, err)
		}
		u, err := c.From().Eq("nisn", "404").One(ctx)
		if err != nil || u != nil {
			t.Fatalf("One() = %v, %v", u, err)
		}
	})
	t.Run("many", func(t *testing.T) {
		rows, err := c.From().Eq("nisn", "2").Single().Execute(ctx)
		if !errors.Is(err, ErrMultipleRows) || rows != nil {
			t.Fatalf("got %v, %v; want nil, ErrMultipleRows", rows, err)
		}
		if err.Error() != "Multiple rows returned for single()" {
			t.Errorf("message = %q", err)
		}
	})
	t.Run("without single", func(t *testing.T) {
		rows, err := c.From().Eq("nisn", "2").Execute(ctx)
		if err != nil || len(rows) != 2 {
			t.Fatalf("got %d rows, %v", len(rows), err)
		}
	})
}

func TestEqAndSelectAndOrder(t *testing.T) {
	ctx := t.Context()
	c := openUsers(t)
	if _, err := c.From().Insert(ctx, member("1"), member("2"), member("3")); err != nil {
		t.Fatal(err)
	}
	t.Run("filters are ANDed", func(t *testing.T) {
		rows, err := c.From().Eq("role", "Member").Eq("nisn", "3").Execute(ctx)
		if err != nil || len(rows) != 1 || rows[0].Member().NISN != "3" {
			t.Fatalf("got %v, %v", rows, err)
		}
		rows, err = c.From().Eq("role", "Admin").Eq("nisn", "3").Execute(ctx)
		if err != nil || len(rows) != 0 {
			t.Fatalf("got %v, %v", rows, err)
		}
	})
	t.Run("order is advisory", func(t *testing.T) {
		rows, err := c.From().Select("nisn").Order("nisn", false).Execute(ctx)
		if err != nil {
			t.Fatal(err)
		}
		var got []string
		for _, r := range rows {
			got = append(got, r.Member().NISN)
		}
		if len(got) != 3 || got[0] != "1" || got[2] != "3" {
			t.Errorf("order = %v, want insertion order", got)
		}
		// Select does not project: every column is present.
		if rows[0].FullName == "" || rows[0].Member().Token == "" {
			t.Errorf("Select should not drop columns: %+v", rows[0])
		}
	})
	t.Run("unknown column", func(t *testing.T) {
		_, err := c.From().Eq("shoe_size", "42").Execute(ctx)
		if !errors.Is(err, ErrUnknownColumn) {
			t.Errorf("got %v", err)
		}
	})
	t.Run("Ops", func(t *testing.T) {
		ops := c.From().Select("*").Eq("nisn", "1").Order("nisn", true).Single().Ops()
		want := []OpKind{OpSelect, OpEq, OpOrder, OpSingle}
		if len(ops) != len(want) {
			t.Fatalf("ops = %v", ops)
		}
		for i, o := range ops {
			if o.Kind != want[i] {
				t.Errorf("ops[%d] = %v, want %v", i, o.Kind, want[i])
			}
		}
	})
}

func TestAttendanceScenario(t *testing.T) {
	ctx := t.Context()
	c := openAttendance(t)
	u := member("1001")
	users := openUsers(t)
	added, err := users.From().Insert(ctx, u)
	if err != nil {
		t.Fatal(err)
	}
	uid := added[0].ID
	in := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	rec := &models.AttendanceRecord{
		UserID: uid, FullName: u.FullName, Role: models.RoleMember,
		Date: "2024-01-01", TimeIn: &in, Status: models.StatusPresent,
	}
	other := &models.AttendanceRecord{
		UserID: uid, FullName: u.FullName, Role: models.RoleMember,
		Date: "2023-12-31", Status: models.StatusAbsent,
	}
	ins, err := c.From().Insert(ctx, rec, other)
	if err != nil {
		t.Fatal(err)
	}
	if ins[0].ID.IsZero() || ins[0].ID == ins[1].ID {
		t.Fatalf("ids not assigned: %v %v", ins[0].ID, ins[1].ID)
	}

	got, err := c.From().Eq("user_id", uid.String()).Eq("date", "2024-01-01").One(ctx)
	if err != nil || got == nil || got.ID != ins[0].ID {
		t.Fatalf("One() = %+v, %v", got, err)
	}

	out := in.Add(8 * time.Hour)
	st := models.StatusCheckedOut
	updated, err := c.From().Eq("id", got.ID.String()).Update(ctx, &models.AttendancePatch{TimeOut: &out, Status: &st})
	if err != nil || len(updated) != 1 {
		t.Fatalf("Update() = %v, %v", updated, err)
	}
	if updated[0].Status != models.StatusCheckedOut || !updated[0].TimeOut.Equal(out) {
		t.Errorf("updated = %+v", updated[0])
	}
	untouched := c.Table.Get(ins[1].ID)
	if untouched.Status != models.StatusAbsent || untouched.TimeOut != nil {
		t.Errorf("unrelated record changed: %+v", untouched)
	}

	t.Run("empty patch", func(t *testing.T) {
		if _, err := c.From().Update(ctx, &models.AttendancePatch{}); !errors.Is(err, ErrEmptyPatch) {
			t.Errorf("got %v", err)
		}
	})
	t.Run("delete unsupported", func(t *testing.T) {
		if _, err := c.From().Eq("id", got.ID.String()).Delete(ctx); !errors.Is(err, ErrDeleteUnsupported) {
			t.Errorf("got %v", err)
		}
		if c.Table.Len() != 2 {
			t.Errorf("Len() = %d", c.Table.Len())
		}
	})
}

func TestDelete(t *testing.T) {
	ctx := t.Context()
	c := openUsers(t)
	added, err := c.From().Insert(ctx, member("1"), member("2"))
	if err != nil {
		t.Fatal(err)
	}
	t.Run("missing id", func(t *testing.T) {
		res, err := c.From().Eq("id", "does-not-exist").Delete(ctx)
		if res.Count != 0 || !errors.Is(err, ErrNothingDeleted) {
			t.Fatalf("got %+v, %v", res, err)
		}
		data, _ := json.Marshal(Result(res, err))
		want := `{"data":{"count":0},"error":{"message":"No user found to delete"}}`
		if string(data) != want {
			t.Errorf("envelope = %s\nwant       %s", data, want)
		}
	})
	t.Run("existing", func(t *testing.T) {
		res, err := c.From().Eq("id", added[0].ID.String()).Delete(ctx)
		if err != nil || res.Count != 1 {
			t.Fatalf("got %+v, %v", res, err)
		}
		if c.Table.Len() != 1 {
			t.Errorf("Len() = %d", c.Table.Len())
		}
	})
}

func TestLatency(t *testing.T) {
	c := openUsers(t)
	c.Latency = time.Hour
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if _, err := c.From().Execute(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
	c.Latency = time.Millisecond
	if _, err := c.From().Execute(t.Context()); err != nil {
		t.Error(err)
	}
}

func TestResult(t *testing.T) {
	data, err := json.Marshal(Result[*models.User](nil, nil))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"data":null,"error":null}` {
		t.Errorf("got %s", data)
	}
}
