package queue

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strconv"
	"testing"

	"github.com/leeineian/haruka/sys"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sys.OpenDatabase(context.Background(), filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db)
}

func TestReadEmpty(t *testing.T) {
	s := newTestStore(t)
	ids, err := s.Read(context.Background(), "chan")
	if err != nil || ids == nil || len(ids) != 0 {
		t.Fatalf("Read = %v, %v; want empty", ids, err)
	}
}

func TestRemoveAt(t *testing.T) {
	tests := []struct {
		name   string
		pos    int
		wantID string
		wantOK bool
		rest   []string
	}{
		{"first", 1, "a", true, []string{"b", "c"}},
		{"last", 3, "c", true, []string{"a", "b"}},
		{"zero", 0, "", false, []string{"a", "b", "c"}},
		{"negative", -5, "", false, []string{"a", "b", "c"}},
		{"past end", 4, "", false, []string{"a", "b", "c"}},
		{"random", Random, "b", true, []string{"a", "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := newTestStore(t)
			s.rand = func(n int) int { return 1 }
			if _, err := s.Append(ctx, "c1", "a", "b", "c"); err != nil {
				t.Fatal(err)
			}

			id, ok, err := s.RemoveAt(ctx, "c1", tt.pos)
			if err != nil {
				t.Fatal(err)
			}
			if id != tt.wantID || ok != tt.wantOK {
				t.Errorf("RemoveAt(%d) = %q, %v; want %q, %v", tt.pos, id, ok, tt.wantID, tt.wantOK)
			}
			rest, _ := s.Read(ctx, "c1")
			if !slices.Equal(rest, tt.rest) {
				t.Errorf("queue after = %v, want %v", rest, tt.rest)
			}
		})
	}
}

func TestRemoveAtEmptyQueue(t *testing.T) {
	s := newTestStore(t)
	for _, pos := range []int{1, Random} {
		if id, ok, err := s.RemoveAt(context.Background(), "none", pos); ok || id != "" || err != nil {
			t.Errorf("RemoveAt(%d) on empty = %q, %v, %v", pos, id, ok, err)
		}
	}
}

func TestAppendMaxSize(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ids := make([]string, MaxSize)
	for i := range ids {
		ids[i] = strconv.Itoa(i)
	}
	if err := s.Replace(ctx, "c", ids); err != nil {
		t.Fatal(err)
	}
	n, err := s.Append(ctx, "c", "overflow")
	if !errors.Is(err, ErrFull) || n != MaxSize {
		t.Fatalf("Append at capacity = %d, %v", n, err)
	}
	if err := s.Replace(ctx, "c", append(ids, "x")); !errors.Is(err, ErrFull) {
		t.Fatalf("Replace over capacity = %v", err)
	}
}

func TestRotateReplaceClear(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_ = s.Replace(ctx, "c", []string{"a", "b", "c", "d"})

	if err := s.Rotate(ctx, "c", 1); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Read(ctx, "c")
	if want := []string{"b", "c", "d", "a"}; !slices.Equal(got, want) {
		t.Errorf("after rotate = %v, want %v", got, want)
	}
	if err := s.Rotate(ctx, "c", 5); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Rotate past end = %v", err)
	}
	if err := s.Rotate(ctx, "c", 0); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Rotate(0) = %v", err)
	}

	if err := s.Clear(ctx, "c"); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.Read(ctx, "c"); len(got) != 0 {
		t.Errorf("after clear = %v", got)
	}
}

func TestChannelsAreIndependent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, _ = s.Append(ctx, "one", "a")
	_, _ = s.Append(ctx, "two", "b", "c")

	if got, _ := s.Read(ctx, "one"); !slices.Equal(got, []string{"a"}) {
		t.Errorf("channel one = %v", got)
	}
	if got, _ := s.Read(ctx, "two"); !slices.Equal(got, []string{"b", "c"}) {
		t.Errorf("channel two = %v", got)
	}
}

func TestRequeueAfterSlotWasTaken(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	full := make([]string, MaxSize)
	for i := range full {
		full[i] = "id" + strconv.Itoa(i)
	}
	if err := s.Replace(ctx, "c1", full); err != nil {
		t.Fatal(err)
	}

	popped, ok, err := s.RemoveAt(ctx, "c1", 1)
	if err != nil || !ok {
		t.Fatalf("RemoveAt = %q, %v, %v", popped, ok, err)
	}
	if _, err := s.Append(ctx, "c1", "newtrack"); err != nil {
		t.Fatalf("Append into freed slot: %v", err)
	}
	if _, err := s.Append(ctx, "c1", "another"); !errors.Is(err, ErrFull) {
		t.Fatalf("Append past cap err = %v, want ErrFull", err)
	}

	n, err := s.Requeue(ctx, "c1", popped)
	if err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	if n != MaxSize+1 {
		t.Errorf("len = %d, want %d", n, MaxSize+1)
	}
	ids, _ := s.Read(ctx, "c1")
	if ids[len(ids)-1] != popped {
		t.Errorf("tail = %q, want %q", ids[len(ids)-1], popped)
	}
}
