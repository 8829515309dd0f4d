package connection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// scriptedProbe returns results from a queue, one per call, repeating the
// last entry once the queue is exhausted.
type scriptedProbe struct {
	mu      sync.Mutex
	results []error
	calls   int
}

func (p *scriptedProbe) probe(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	if i >= len(p.results) {
		i = len(p.results) - 1
	}
	p.calls++
	return p.results[i]
}

func waitForState(t *testing.T, s *Supervisor, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("state never reached %s, last was %s", want, s.State())
}

func TestSupervisor_StartsConnectedOnSuccessfulProbe(t *testing.T) {
	t.Parallel()
	probe := &scriptedProbe{results: []error{nil}}
	cfg := DefaultConfig()
	cfg.ProbeInterval = time.Hour

	var connectedCount int32
	s := New(cfg, probe.probe, Events{
		OnConnected: func(latencyMs int64) { atomic.AddInt32(&connectedCount, 1) },
	})
	s.Start(context.Background())
	defer s.Stop()

	waitForState(t, s, StateConnected, time.Second)
	if atomic.LoadInt32(&connectedCount) == 0 {
		t.Fatal("expected OnConnected to fire")
	}
}

func TestSupervisor_FailedProbeMovesToReconnecting(t *testing.T) {
	t.Parallel()
	probe := &scriptedProbe{results: []error{errors.New("down")}}
	cfg := DefaultConfig()
	cfg.ProbeInterval = time.Hour
	cfg.InitialBackoff = 50 * time.Millisecond

	s := New(cfg, probe.probe, Events{})
	s.Start(context.Background())
	defer s.Stop()

	waitForState(t, s, StateReconnecting, time.Second)
}

func TestSupervisor_MaxAttemptsReachedGoesOffline(t *testing.T) {
	t.Parallel()
	probe := &scriptedProbe{results: []error{errors.New("down")}}
	cfg := DefaultConfig()
	cfg.ProbeInterval = time.Hour
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 2 * time.Millisecond
	cfg.MaxAttempts = 2

	maxReached := make(chan struct{}, 1)
	s := New(cfg, probe.probe, Events{
		OnMaxAttemptsReached: func() {
			select {
			case maxReached <- struct{}{}:
			default:
			}
		},
	})
	s.Start(context.Background())
	defer s.Stop()

	select {
	case <-maxReached:
	case <-time.After(2 * time.Second):
		t.Fatal("expected OnMaxAttemptsReached to fire")
	}
	waitForState(t, s, StateOffline, time.Second)
}

func TestSupervisor_ExecuteRunsOnlyWhenConnected(t *testing.T) {
	t.Parallel()
	probe := &scriptedProbe{results: []error{errors.New("down")}}
	cfg := DefaultConfig()
	cfg.ProbeInterval = time.Hour
	cfg.InitialBackoff = time.Hour

	s := New(cfg, probe.probe, Events{})
	s.Start(context.Background())
	defer s.Stop()

	waitForState(t, s, StateReconnecting, time.Second)

	called := false
	err := s.Execute(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	if err == nil {
		t.Fatal("expected execute to fail while not connected")
	}
	if called {
		t.Fatal("op should not run while not connected")
	}
}

func TestSupervisor_ExecuteFailureTransitionsToReconnecting(t *testing.T) {
	t.Parallel()
	probe := &scriptedProbe{results: []error{nil}}
	cfg := DefaultConfig()
	cfg.ProbeInterval = time.Hour
	cfg.InitialBackoff = time.Hour

	s := New(cfg, probe.probe, Events{})
	s.Start(context.Background())
	defer s.Stop()

	waitForState(t, s, StateConnected, time.Second)

	err := s.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("op failed")
	})
	if err == nil {
		t.Fatal("expected execute to propagate op error")
	}
	waitForState(t, s, StateReconnecting, time.Second)
}

func TestSupervisor_ExecuteDoesNotBlockOtherMailboxTraffic(t *testing.T) {
	t.Parallel()
	probe := &scriptedProbe{results: []error{nil}}
	cfg := DefaultConfig()
	cfg.ProbeInterval = time.Hour
	cfg.InitialBackoff = time.Hour

	s := New(cfg, probe.probe, Events{})
	s.Start(context.Background())
	defer s.Stop()

	waitForState(t, s, StateConnected, time.Second)

	blockOp := make(chan struct{})
	firstDone := make(chan struct{})
	go func() {
		_ = s.Execute(context.Background(), func(ctx context.Context) error {
			<-blockOp
			return nil
		})
		close(firstDone)
	}()

	// Give the blocked op a moment to actually be in flight inside the
	// breaker before racing the second Execute against it.
	time.Sleep(20 * time.Millisecond)

	secondDone := make(chan struct{})
	go func() {
		_ = s.Execute(context.Background(), func(ctx context.Context) error { return nil })
		close(secondDone)
	}()

	select {
	case <-secondDone:
	case <-time.After(time.Second):
		t.Fatal("a concurrent Execute call blocked behind another op still in flight")
	}

	close(blockOp)
	<-firstDone
}

func TestSupervisor_BreakerShortCircuitsProbeAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()
	probe := &scriptedProbe{results: []error{errors.New("down")}}
	cfg := DefaultConfig()
	cfg.InitialBackoff = 2 * time.Millisecond
	cfg.MaxBackoff = 2 * time.Millisecond
	cfg.Multiplier = 1
	cfg.MaxAttempts = 100
	cfg.ProbeInterval = time.Hour
	cfg.ProbeTimeout = 20 * time.Millisecond

	var reconnectAttempts int32
	s := New(cfg, probe.probe, Events{
		OnReconnecting: func(attempt int, delayMs int64) {
			atomic.AddInt32(&reconnectAttempts, 1)
		},
	})
	s.Start(context.Background())
	defer s.Stop()

	waitForState(t, s, StateReconnecting, time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && atomic.LoadInt32(&reconnectAttempts) < 20 {
		time.Sleep(5 * time.Millisecond)
	}
	attempts := atomic.LoadInt32(&reconnectAttempts)
	if attempts < 20 {
		t.Fatalf("only %d reconnect attempts observed, want at least 20", attempts)
	}

	probe.mu.Lock()
	calls := probe.calls
	probe.mu.Unlock()

	if calls >= int(attempts) {
		t.Fatalf("probe invoked %d times across %d reconnect attempts; expected the breaker to short-circuit at least one call once it trips", calls, attempts)
	}
}

func TestSupervisor_StopIsIdempotentAndGoesOffline(t *testing.T) {
	t.Parallel()
	probe := &scriptedProbe{results: []error{nil}}
	cfg := DefaultConfig()
	cfg.ProbeInterval = time.Hour

	s := New(cfg, probe.probe, Events{})
	s.Start(context.Background())

	waitForState(t, s, StateConnected, time.Second)
	s.Stop()
	s.Stop() // must not block or panic
	if s.State() != StateOffline {
		t.Fatalf("state = %s, want offline", s.State())
	}
}
