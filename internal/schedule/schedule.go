// Package schedule debounces keyed work.
//
// Each key moves through idle, pending and running. The first trigger after a
// quiet window runs at once; triggers that follow are coalesced into a single
// trailing run that fires once the key has been quiet for Quiet, or at the
// latest MaxWait after the first coalesced trigger. A trigger that arrives
// while the key is running queues exactly one follow-up run. Different keys
// run concurrently.
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// State is the lifecycle state of one key.
type State uint8

const (
	Idle State = iota
	Pending
	Running
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case Running:
		return "running"
	}
	return "unknown"
}

// Config holds the two time budgets. A zero MaxWait leaves the wait bounded
// by Quiet only.
type Config struct {
	Quiet   time.Duration
	MaxWait time.Duration
}

// RunFunc does the work for key. It runs on its own goroutine.
type RunFunc func(ctx context.Context, key string)

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger used for run panics and tracing.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithFireHook registers a callback invoked each time a run starts.
func WithFireHook(fn func(key string, leading bool)) Option {
	return func(s *Scheduler) {
		s.onFire = fn
	}
}

type slot struct {
	state        State
	timer        *time.Timer
	gen          uint64
	lastTrigger  time.Time
	pendingSince time.Time
	followUp     bool
}

// Scheduler is safe for concurrent use.
type Scheduler struct {
	name   string
	cfg    Config
	run    RunFunc
	log    *slog.Logger
	onFire func(key string, leading bool)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	slots  map[string]*slot
	busy   int
	idleCh chan struct{}
	closed bool
}

// New builds a scheduler. name labels log lines.
func New(name string, cfg Config, run RunFunc, opts ...Option) *Scheduler {
	if cfg.MaxWait > 0 && cfg.MaxWait < cfg.Quiet {
		cfg.MaxWait = cfg.Quiet
	}
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	s := &Scheduler{
		name:   name,
		cfg:    cfg,
		run:    run,
		log:    slog.Default(),
		ctx:    ctx,
		cancel: cancel,
		slots:  make(map[string]*slot),
		idleCh: idle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the label given to New.
func (s *Scheduler) Name() string {
	return s.name
}

// Trigger records a change for key.
func (s *Scheduler) Trigger(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	now := time.Now()
	sl, ok := s.slots[key]
	if !ok {
		sl = &slot{}
		s.slots[key] = sl
	}
	quietSince := !ok || now.Sub(sl.lastTrigger) >= s.cfg.Quiet
	sl.lastTrigger = now

	switch sl.state {
	case Idle:
		s.markBusyLocked()
		if quietSince {
			s.startLocked(key, sl, true)
			return
		}
		sl.state = Pending
		sl.pendingSince = now
		s.armLocked(key, sl, now)
	case Pending:
		s.armLocked(key, sl, now)
	case Running:
		if !sl.followUp {
			sl.followUp = true
			sl.pendingSince = now
		}
	}
}

// deadlineLocked is the earlier of the quiet deadline and the max-wait bound.
func (s *Scheduler) deadlineLocked(sl *slot) time.Time {
	at := sl.lastTrigger.Add(s.cfg.Quiet)
	if s.cfg.MaxWait > 0 {
		if bound := sl.pendingSince.Add(s.cfg.MaxWait); bound.Before(at) {
			at = bound
		}
	}
	return at
}

func (s *Scheduler) armLocked(key string, sl *slot, now time.Time) {
	if sl.timer != nil {
		sl.timer.Stop()
	}
	sl.gen++
	gen := sl.gen
	delay := s.deadlineLocked(sl).Sub(now)
	if delay < 0 {
		delay = 0
	}
	sl.timer = time.AfterFunc(delay, func() { s.fire(key, gen) })
}

func (s *Scheduler) fire(key string, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[key]
	if !ok || s.closed || sl.state != Pending || sl.gen != gen {
		return
	}
	s.startLocked(key, sl, false)
}

func (s *Scheduler) startLocked(key string, sl *slot, leading bool) {
	if sl.timer != nil {
		sl.timer.Stop()
		sl.timer = nil
	}
	sl.gen++
	sl.state = Running
	s.log.Debug("schedule fire", "scheduler", s.name, "key", key, "leading", leading)
	if s.onFire != nil {
		s.onFire(key, leading)
	}
	s.wg.Add(1)
	go s.execute(key)
}

func (s *Scheduler) execute(key string) {
	defer s.wg.Done()
	defer s.finish(key)
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduled run panicked", "scheduler", s.name, "key", key, "panic", r)
		}
	}()
	s.run(s.ctx, key)
}

func (s *Scheduler) finish(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl := s.slots[key]
	if sl == nil {
		return
	}
	if sl.followUp && !s.closed {
		sl.followUp = false
		sl.state = Pending
		now := time.Now()
		if !s.deadlineLocked(sl).After(now) {
			s.startLocked(key, sl, false)
			return
		}
		s.armLocked(key, sl, now)
		return
	}
	sl.followUp = false
	sl.state = Idle
	s.markIdleLocked()
}

func (s *Scheduler) markBusyLocked() {
	if s.busy == 0 {
		s.idleCh = make(chan struct{})
	}
	s.busy++
}

func (s *Scheduler) markIdleLocked() {
	s.busy--
	if s.busy == 0 {
		close(s.idleCh)
	}
}

// State reports the current state of key.
func (s *Scheduler) State(key string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sl, ok := s.slots[key]; ok {
		return sl.state
	}
	return Idle
}

// Wait blocks until every key is idle or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	ch := s.idleCh
	s.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops all timers, cancels running work and waits for it to return.
// Pending runs are dropped.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, sl := range s.slots {
		if sl.timer != nil {
			sl.timer.Stop()
			sl.timer = nil
		}
		if sl.state == Pending {
			sl.state = Idle
			s.markIdleLocked()
		}
	}
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}
