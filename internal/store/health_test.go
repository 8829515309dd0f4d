package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/dev-console/sidecar-proxy/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "health.db"), 1<<20)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendHealth_RecentHealthReturnsNewestFirst(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	base := time.Unix(1700000000, 0)
	rows := []model.HealthRow{
		{Timestamp: base, State: "connected", LatencyMs: 12},
		{Timestamp: base.Add(time.Second), State: "reconnecting", ErrorMessage: "dial tcp: timeout"},
		{Timestamp: base.Add(2 * time.Second), State: "connected", LatencyMs: 8},
	}
	for _, row := range rows {
		if err := s.AppendHealth(row); err != nil {
			t.Fatalf("append health: %v", err)
		}
	}

	got, err := s.RecentHealth(2)
	if err != nil {
		t.Fatalf("recent health: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	if got[0].State != "connected" || got[0].LatencyMs != 8 {
		t.Errorf("got[0] = %+v, want the most recent row", got[0])
	}
	if got[1].State != "reconnecting" || got[1].ErrorMessage == "" {
		t.Errorf("got[1] = %+v, want the reconnecting row with its error", got[1])
	}
}

func TestAppendHealth_TrimsToMaxRows(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	base := time.Unix(1700000000, 0)
	for i := 0; i < maxHealthLogRows+10; i++ {
		row := model.HealthRow{Timestamp: base.Add(time.Duration(i) * time.Millisecond), State: "connected"}
		if err := s.AppendHealth(row); err != nil {
			t.Fatalf("append health %d: %v", i, err)
		}
	}

	got, err := s.RecentHealth(maxHealthLogRows + 10)
	if err != nil {
		t.Fatalf("recent health: %v", err)
	}
	if len(got) != maxHealthLogRows {
		t.Fatalf("len(got) = %d, want %d", len(got), maxHealthLogRows)
	}
}
