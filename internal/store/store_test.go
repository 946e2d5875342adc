package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nahidhasan98/wacrm/internal/connect"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordUpsertsBySession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	snaps := []connect.Snapshot{
		{User: "u1", Session: "u1_1", State: connect.StateCreating, UpdatedAt: base},
		{User: "u1", Session: "u1_1", State: connect.StateQRReady, HasQR: true, UpdatedAt: base.Add(time.Second)},
		{User: "u1", Session: "u1_1", State: connect.StateError, Error: "QR code not scanned in time", Polls: 100, UpdatedAt: base.Add(2 * time.Second)},
	}
	for _, snap := range snaps {
		if err := s.Record(ctx, snap); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	got, err := s.List(ctx, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one attempt, got %d", len(got))
	}

	a := got[0]
	if a.State != connect.StateError || a.Polls != 100 || a.Error == "" {
		t.Fatalf("unexpected attempt %+v", a)
	}
	if !a.CreatedAt.Equal(base) || !a.UpdatedAt.Equal(base.Add(2*time.Second)) {
		t.Fatalf("expected created_at to be kept, got %v / %v", a.CreatedAt, a.UpdatedAt)
	}
}

func TestLatestAndListOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, snap := range []connect.Snapshot{
		{User: "u1", Session: "u1_1", State: connect.StateError},
		{User: "u2", Session: "u2_1", State: connect.StateConnected},
		{User: "u1", Session: "u1_2", State: connect.StateConnected},
	} {
		snap.UpdatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := s.Record(ctx, snap); err != nil {
			t.Fatal(err)
		}
	}

	latest, err := s.Latest(ctx, "u1")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest.Session != "u1_2" || latest.State != connect.StateConnected {
		t.Fatalf("unexpected latest attempt %+v", latest)
	}

	list, err := s.List(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].Session != "u1_2" || list[1].Session != "u2_1" {
		t.Fatalf("unexpected order %+v", list)
	}

	if _, err := s.Latest(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordRequiresSession(t *testing.T) {
	s := openTestStore(t)
	if err := s.Record(context.Background(), connect.Snapshot{User: "u1"}); err == nil {
		t.Fatal("expected error for snapshot without session")
	}
}
