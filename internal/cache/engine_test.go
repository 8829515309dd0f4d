// engine_test.go — Tests for the CacheEngine: critical-tier exemption,
// LRU eviction ordering, and round-trip fidelity (spec §8 scenarios C, D).
package cache

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/dev-console/sidecar-proxy/internal/store"
)

func newTestEngine(t *testing.T, maxDynamicBytes int64) *Engine {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "cache.db"), maxDynamicBytes)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return New(s)
}

func TestEngine_RoundTrip(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, 1<<20)

	content := []byte("hello world")
	meta := []byte(`{"k":"v"}`)
	if err := e.SetMemory("ctx", "proj", content, meta); err != nil {
		t.Fatalf("SetMemory: %v", err)
	}

	item, ok, err := e.GetMemory("ctx", "proj")
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if !ok {
		t.Fatal("expected hit")
	}
	if !bytes.Equal(item.Content, content) {
		t.Fatalf("content mismatch: got %q want %q", item.Content, content)
	}
	if !bytes.Equal(item.Metadata, meta) {
		t.Fatalf("metadata mismatch: got %q want %q", item.Metadata, meta)
	}
	if item.AgeSeconds < 0 {
		t.Fatalf("expected age >= 0, got %d", item.AgeSeconds)
	}
}

func TestEngine_ProjectEmptyVsNamedAreDistinct(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, 1<<20)

	if err := e.SetMemory("ctx", "", []byte("global"), nil); err != nil {
		t.Fatalf("SetMemory global: %v", err)
	}
	if err := e.SetMemory("ctx", "proj-a", []byte("scoped"), nil); err != nil {
		t.Fatalf("SetMemory scoped: %v", err)
	}

	global, ok, err := e.GetMemory("ctx", "")
	if err != nil || !ok {
		t.Fatalf("expected global hit, err=%v ok=%v", err, ok)
	}
	if string(global.Content) != "global" {
		t.Fatalf("global content = %q", global.Content)
	}

	scoped, ok, err := e.GetMemory("ctx", "proj-a")
	if err != nil || !ok {
		t.Fatalf("expected scoped hit, err=%v ok=%v", err, ok)
	}
	if string(scoped.Content) != "scoped" {
		t.Fatalf("scoped content = %q", scoped.Content)
	}
}

func TestEngine_InvalidateIsIdempotent(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, 1<<20)

	if err := e.InvalidateMemory("nonexistent", "proj"); err != nil {
		t.Fatalf("invalidate missing row should not error: %v", err)
	}
	if err := e.SetMemory("exists", "proj", []byte("x"), nil); err != nil {
		t.Fatalf("SetMemory: %v", err)
	}
	if err := e.InvalidateMemory("exists", "proj"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if err := e.InvalidateMemory("exists", "proj"); err != nil {
		t.Fatalf("second invalidate should still succeed: %v", err)
	}
	if _, ok, _ := e.GetMemory("exists", "proj"); ok {
		t.Fatal("expected miss after invalidation")
	}
}

// TestEngine_CriticalTierSurvivesEviction is spec §8 Scenario C: critical
// workflow rows are never evicted, even when the dynamic tier is full.
func TestEngine_CriticalTierSurvivesEviction(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, 10_000)

	rowBytes := bytes.Repeat([]byte("a"), 3000)

	for i := 0; i < 4; i++ {
		name := string(rune('A' + i))
		if err := e.SetDocument("workflow", name, "proj", rowBytes, nil); err != nil {
			t.Fatalf("SetDocument workflow %s: %v", name, err)
		}
	}

	for i := 0; i < 3; i++ {
		name := "frd-" + string(rune('A'+i))
		if err := e.SetDocument("frd", name, "proj", rowBytes, nil); err != nil {
			t.Fatalf("SetDocument frd %s: %v", name, err)
		}
	}

	// Fourth non-critical insert forces eviction of the oldest-accessed
	// non-critical row.
	if err := e.SetDocument("frd", "frd-D", "proj", rowBytes, nil); err != nil {
		t.Fatalf("SetDocument frd-D: %v", err)
	}

	for i := 0; i < 4; i++ {
		name := string(rune('A' + i))
		if _, ok, _ := e.GetDocument("workflow", name, "proj"); !ok {
			t.Fatalf("critical workflow %s should survive eviction", name)
		}
	}

	if _, ok, _ := e.GetDocument("frd", "frd-A", "proj"); ok {
		t.Fatal("oldest-accessed non-critical frd-A should have been evicted")
	}
	for _, name := range []string{"frd-B", "frd-C", "frd-D"} {
		if _, ok, _ := e.GetDocument("frd", name, "proj"); !ok {
			t.Fatalf("frd %s should still be present", name)
		}
	}

	stats := e.Stats()
	if stats.DynamicBytes > 10_000+3000 {
		t.Fatalf("dynamicBytes %d exceeds overshoot allowance", stats.DynamicBytes)
	}
}

// TestEngine_LRUOrderingFollowsAccess is spec §8 Scenario D: a read
// refreshes a row's LRU position, so eviction order follows access, not
// insertion.
func TestEngine_LRUOrderingFollowsAccess(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, 3000) // room for exactly one 1000-byte row's slack

	rowBytes := bytes.Repeat([]byte("b"), 1000)

	if err := e.SetDocument("frd", "d1", "proj", rowBytes, nil); err != nil {
		t.Fatalf("set d1: %v", err)
	}
	if err := e.SetDocument("frd", "d2", "proj", rowBytes, nil); err != nil {
		t.Fatalf("set d2: %v", err)
	}
	if err := e.SetDocument("frd", "d3", "proj", rowBytes, nil); err != nil {
		t.Fatalf("set d3: %v", err)
	}

	// Touch d1 so it is no longer the least-recently-used row.
	if _, ok, err := e.GetDocument("frd", "d1", "proj"); err != nil || !ok {
		t.Fatalf("expected d1 hit before eviction, err=%v ok=%v", err, ok)
	}

	// Forces eviction of exactly one row: the budget (3000) holds three
	// rows exactly, so a fourth insert must evict one.
	if err := e.SetDocument("frd", "d4", "proj", rowBytes, nil); err != nil {
		t.Fatalf("set d4: %v", err)
	}

	if _, ok, _ := e.GetDocument("frd", "d2", "proj"); ok {
		t.Fatal("d2 should have been evicted as the least-recently-used row")
	}
	for _, name := range []string{"d1", "d3", "d4"} {
		if _, ok, _ := e.GetDocument("frd", name, "proj"); !ok {
			t.Fatalf("%s should still be present", name)
		}
	}
}
