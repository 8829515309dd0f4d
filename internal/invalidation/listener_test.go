package invalidation

import (
	"strings"
	"sync"
	"testing"
)

type fakeInvalidator struct {
	mu        sync.Mutex
	documents [][3]string
	memories  [][2]string
}

func (f *fakeInvalidator) InvalidateDocument(docType, name, project string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.documents = append(f.documents, [3]string{docType, name, project})
	return nil
}

func (f *fakeInvalidator) InvalidateMemory(name, project string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.memories = append(f.memories, [2]string{name, project})
	return nil
}

func newTestListener(cache Invalidator) *Listener {
	return New("http://example.invalid/sse", "", nil, cache, nil, 0)
}

func TestListener_DocumentInvalidateEvent(t *testing.T) {
	t.Parallel()
	cache := &fakeInvalidator{}
	l := newTestListener(cache)

	stream := "event: document:invalidate\n" +
		`data: {"docType":"workflow","name":"feat","project":"proj"}` + "\n\n"

	if err := l.consume(strings.NewReader(stream)); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if len(cache.documents) != 1 || cache.documents[0] != [3]string{"workflow", "feat", "proj"} {
		t.Fatalf("documents = %v", cache.documents)
	}
}

func TestListener_MemoryInvalidateEvent(t *testing.T) {
	t.Parallel()
	cache := &fakeInvalidator{}
	l := newTestListener(cache)

	stream := "event: memory:invalidate\n" +
		`data: {"name":"ctx","project":"proj"}` + "\n\n"

	if err := l.consume(strings.NewReader(stream)); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if len(cache.memories) != 1 || cache.memories[0] != [2]string{"ctx", "proj"} {
		t.Fatalf("memories = %v", cache.memories)
	}
}

func TestListener_DocumentEventMissingDocTypeIsIgnoredNotFatal(t *testing.T) {
	t.Parallel()
	cache := &fakeInvalidator{}
	l := newTestListener(cache)

	stream := "event: document:invalidate\n" +
		`data: {"name":"feat","project":"proj"}` + "\n\n" +
		"event: memory:invalidate\n" +
		`data: {"name":"ctx","project":"proj"}` + "\n\n"

	if err := l.consume(strings.NewReader(stream)); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if len(cache.documents) != 0 {
		t.Fatalf("expected the malformed document event to be ignored, got %v", cache.documents)
	}
	if len(cache.memories) != 1 {
		t.Fatalf("expected the stream to keep processing after the bad event, got %v", cache.memories)
	}
}

func TestListener_BatchEventDispatchesAllMembers(t *testing.T) {
	t.Parallel()
	cache := &fakeInvalidator{}
	l := newTestListener(cache)

	stream := "event: cache:invalidate:batch\n" +
		`data: [{"type":"document","docType":"rule","name":"r1","project":"p"},` +
		`{"type":"memory","name":"m1","project":"p"}]` + "\n\n"

	if err := l.consume(strings.NewReader(stream)); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if len(cache.documents) != 1 || len(cache.memories) != 1 {
		t.Fatalf("documents=%v memories=%v, want one of each", cache.documents, cache.memories)
	}
}

func TestListener_IsListeningFalseBeforeStart(t *testing.T) {
	t.Parallel()
	l := newTestListener(&fakeInvalidator{})
	if l.IsListening() {
		t.Fatal("expected IsListening to be false before Start")
	}
}

func TestListener_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	l := newTestListener(&fakeInvalidator{})
	l.Stop()
	l.Stop() // must not panic or block
}
