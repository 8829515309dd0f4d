// Package connection implements the connection-state machine that drives
// reconnection, exponential backoff, and the atomic check-and-execute
// guard the rest of the sidecar relies on (spec §4.4).
//
// State mutation is serialized through a single goroutine reading off a
// buffered command channel — a mailbox — rather than a mutex, mirroring
// the teacher's util.SafeGo-wrapped background-goroutine idiom used
// throughout its capture package. Only the atomic check-and-dispatch guard
// runs inside that goroutine; the UpstreamClient call itself always runs on
// the caller's goroutine, so one slow op never blocks probes, timers, or
// other concurrent calls. A sony/gobreaker circuit breaker wraps both
// execute's op and the probe loop's liveness check, sharing one
// consecutive-failure counter across both paths: it never drives a state
// transition itself, it only short-circuits the real call once a burst of
// failures (five in a row, by default) makes the upstream look clearly
// dead, so recordFailure fires faster than waiting on each probe's own
// timeout.
package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/dev-console/sidecar-proxy/internal/util"
)

// State is one of the four states spec §4.4 names.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateOffline      State = "offline"
)

// Config holds the backoff and probe-timing parameters (spec §4.4 defaults).
type Config struct {
	InitialBackoff time.Duration
	Multiplier     float64
	MaxBackoff     time.Duration
	MaxAttempts    int
	ProbeInterval  time.Duration
	ProbeTimeout   time.Duration
}

// DefaultConfig returns spec §4.4's documented defaults.
func DefaultConfig() Config {
	return Config{
		InitialBackoff: time.Second,
		Multiplier:     2,
		MaxBackoff:     60 * time.Second,
		MaxAttempts:    10,
		ProbeInterval:  30 * time.Second,
		ProbeTimeout:   5 * time.Second,
	}
}

// backoffDelay computes delay_n = min(initial * multiplier^n, max).
func (c Config) backoffDelay(attempt int) time.Duration {
	delay := float64(c.InitialBackoff)
	for i := 0; i < attempt; i++ {
		delay *= c.Multiplier
	}
	max := float64(c.MaxBackoff)
	if delay > max {
		delay = max
	}
	return time.Duration(delay)
}

// Events are the lifecycle callbacks spec §4.4 says Dispatcher and
// InvalidationListener observe. Any nil callback is simply not invoked.
type Events struct {
	OnStateChange        func(from, to State)
	OnConnected          func(latencyMs int64)
	OnDisconnected       func(err error)
	OnReconnecting       func(attempt int, delayMs int64)
	OnMaxAttemptsReached func()
}

// Prober performs the cheap liveness check the supervisor uses to decide
// Connected vs Reconnecting. Implemented by upstream.Client.Probe.
type Prober func(ctx context.Context) error

type commandKind int

const (
	cmdStart commandKind = iota
	cmdStop
	cmdProbeResult
	cmdExecute
	cmdExecuteFailed
	cmdReconnectFired
)

type command struct {
	kind     commandKind
	err      error
	latency  int64
	ctx      context.Context
	resultCh chan error
}

// Supervisor is the ConnectionSupervisor component.
type Supervisor struct {
	cfg     Config
	events  Events
	probe   Prober
	breaker *gobreaker.CircuitBreaker[any]

	mailbox chan command
	stopped chan struct{}

	mu    sync.RWMutex
	state State

	attempt          int
	reconnectTimer   *time.Timer
	reconnectPending bool
	probeTicker      *time.Ticker
}

// New builds a Supervisor in the Disconnected state. Nothing runs until
// Start is called.
func New(cfg Config, probe Prober, events Events) *Supervisor {
	s := &Supervisor{
		cfg:     cfg,
		events:  events,
		probe:   probe,
		mailbox: make(chan command, 32),
		stopped: make(chan struct{}),
		state:   StateDisconnected,
	}
	s.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "upstream",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.InitialBackoff,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return s
}

// Start begins the mailbox loop and schedules the initial probe (spec
// §4.4: "Disconnected -> start() -> Disconnected; schedule immediate
// probe; arm periodic probe timer").
func (s *Supervisor) Start(ctx context.Context) {
	util.SafeGo(func() { s.run(ctx) })
	s.mailbox <- command{kind: cmdStart, ctx: ctx}
}

// Stop transitions to Offline, cancels all timers, and is idempotent.
func (s *Supervisor) Stop() {
	select {
	case <-s.stopped:
		return
	default:
	}
	s.mailbox <- command{kind: cmdStop}
	<-s.stopped
}

// State returns a consistent snapshot of the current state (spec §4.4
// "external observers read it through a cheap accessor").
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Execute runs op if and only if the current state is Connected. Only the
// check-and-dispatch guard runs inside the mailbox goroutine, so a
// concurrent failure can never race an op into a state that already
// decided to reconnect (spec §4.4 execute(op)); op itself runs on the
// caller's own goroutine, outside the mailbox, so one slow or blocked
// UpstreamClient call never holds up probes, reconnect timers, or any
// other concurrent Execute call (spec.md:171 "no operation holds a
// user-visible lock across an UpstreamClient call"). A failing op reports
// back through cmdExecuteFailed so the state transition it triggers is
// still serialized through the mailbox.
func (s *Supervisor) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	resultCh := make(chan error, 1)
	select {
	case s.mailbox <- command{kind: cmdExecute, ctx: ctx, resultCh: resultCh}:
	case <-s.stopped:
		return fmt.Errorf("connection: supervisor stopped")
	}
	if err := <-resultCh; err != nil {
		return err
	}

	_, err := s.breaker.Execute(func() (any, error) {
		return nil, op(ctx)
	})
	if err != nil {
		select {
		case s.mailbox <- command{kind: cmdExecuteFailed, ctx: ctx, err: err}:
		case <-s.stopped:
		}
		return err
	}
	return nil
}

func (s *Supervisor) run(ctx context.Context) {
	for cmd := range s.mailbox {
		switch cmd.kind {
		case cmdStart:
			s.handleStart(cmd.ctx)
		case cmdStop:
			s.handleStop()
			return
		case cmdProbeResult:
			s.handleProbeResult(cmd.ctx, cmd.err, cmd.latency)
		case cmdExecute:
			cmd.resultCh <- s.handleExecuteCheck()
		case cmdExecuteFailed:
			s.onFailure(cmd.ctx, cmd.err)
		case cmdReconnectFired:
			s.handleReconnectFired(cmd.ctx)
		}
	}
}

func (s *Supervisor) handleStart(ctx context.Context) {
	s.probeTicker = time.NewTicker(s.cfg.ProbeInterval)
	util.SafeGo(func() { s.probeLoop(ctx) })
	s.runProbeOnce(ctx)
}

func (s *Supervisor) probeLoop(ctx context.Context) {
	for {
		select {
		case <-s.stopped:
			return
		case <-s.probeTicker.C:
			if s.State() == StateConnected {
				s.runProbeOnce(ctx)
			}
		}
	}
}

// runProbeOnce fires on every probe tick and on every reconnect-timer pop,
// in both Connected and Reconnecting states, so it is the path that keeps
// feeding the breaker's consecutive-failure counter once execute() has
// already tripped the state to Reconnecting (execute() itself only reaches
// the breaker while Connected, since handleExecuteCheck rejects the op
// before it gets there otherwise).
func (s *Supervisor) runProbeOnce(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()

	start := time.Now()
	_, err := s.breaker.Execute(func() (any, error) {
		return nil, s.probe(probeCtx)
	})
	latency := time.Since(start).Milliseconds()

	select {
	case s.mailbox <- command{kind: cmdProbeResult, ctx: ctx, err: err, latency: latency}:
	case <-s.stopped:
	}
}

func (s *Supervisor) handleProbeResult(ctx context.Context, err error, latencyMs int64) {
	if err == nil {
		s.setState(StateConnected)
		s.attempt = 0
		if s.reconnectTimer != nil {
			s.reconnectTimer.Stop()
			s.reconnectPending = false
		}
		if s.events.OnConnected != nil {
			s.events.OnConnected(latencyMs)
		}
		return
	}
	s.onFailure(ctx, err)
}

// onFailure is the shared Connected -> Reconnecting edge: it fires on a
// probe failure and on an execute()'d op erroring (spec §4.4's
// recordFailure, folded into the single mailbox-serialized path instead
// of a separately dispatched event). Since ops now run concurrently
// outside the mailbox, more than one cmdExecuteFailed can arrive for the
// same failure burst; reconnectPending (read/written only inside the
// mailbox goroutine) makes sure a burst schedules at most one reconnect
// timer instead of stacking one per failing op.
func (s *Supervisor) onFailure(ctx context.Context, err error) {
	if s.State() != StateOffline {
		if s.State() != StateReconnecting {
			s.setState(StateReconnecting)
			if s.events.OnDisconnected != nil {
				s.events.OnDisconnected(err)
			}
		}
		if !s.reconnectPending {
			s.scheduleReconnect(ctx)
		}
	}
}

func (s *Supervisor) scheduleReconnect(ctx context.Context) {
	if s.attempt >= s.cfg.MaxAttempts {
		s.setState(StateOffline)
		if s.events.OnMaxAttemptsReached != nil {
			s.events.OnMaxAttemptsReached()
		}
		return
	}
	delay := s.cfg.backoffDelay(s.attempt)
	if s.events.OnReconnecting != nil {
		s.events.OnReconnecting(s.attempt, delay.Milliseconds())
	}
	s.reconnectPending = true
	s.reconnectTimer = time.AfterFunc(delay, func() {
		select {
		case s.mailbox <- command{kind: cmdReconnectFired, ctx: ctx}:
		case <-s.stopped:
		}
	})
}

func (s *Supervisor) handleReconnectFired(ctx context.Context) {
	s.reconnectPending = false
	s.attempt++
	s.runProbeOnce(ctx)
}

// handleExecuteCheck is the only part of Execute that runs inside the
// mailbox: a cheap state read, never an UpstreamClient call.
func (s *Supervisor) handleExecuteCheck() error {
	if s.State() != StateConnected {
		return fmt.Errorf("connection: not connected")
	}
	return nil
}

func (s *Supervisor) handleStop() {
	if s.probeTicker != nil {
		s.probeTicker.Stop()
	}
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
	}
	s.setState(StateOffline)
	close(s.stopped)
}

func (s *Supervisor) setState(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()
	if from != to && s.events.OnStateChange != nil {
		s.events.OnStateChange(from, to)
	}
}
