package attempt

import (
	"sync"
	"time"
)

// DefaultTickInterval is the countdown period.
const DefaultTickInterval = time.Second

// Scheduler is the per-attempt countdown. Every tick re-derives the remaining
// time from the absolute deadline, so ticks missed while the process or the
// client was stalled are corrected on the next one.
//
// All ticks, resyncs and the expiry callback run on the scheduler goroutine;
// onExpire fires at most once for the lifetime of the Scheduler.
type Scheduler struct {
	clock    Clock
	interval time.Duration
	deadline int64
	onTick   func(remaining int)
	onExpire func()

	mu      sync.Mutex
	running bool
	expired bool
	stop    chan struct{}
	done    chan struct{}
	resync  chan struct{}
}

// NewScheduler creates a stopped Scheduler for the given deadline (epoch ms).
func NewScheduler(clock Clock, interval time.Duration, deadlineMs int64, onTick func(int), onExpire func()) *Scheduler {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if onTick == nil {
		onTick = func(int) {}
	}
	if onExpire == nil {
		onExpire = func() {}
	}
	return &Scheduler{
		clock:    clock,
		interval: interval,
		deadline: deadlineMs,
		onTick:   onTick,
		onExpire: onExpire,
	}
}

// Start begins ticking. It is a no-op if already running or already expired.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.expired {
		return
	}

	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.resync = make(chan struct{}, 1)

	go s.run(s.clock.NewTicker(s.interval), s.stop, s.resync, s.done)
}

// Stop halts the countdown and waits for the scheduler goroutine to exit.
// Calling Stop from inside onExpire is safe.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	<-done
}

// Resync asks for an immediate recomputation, e.g. after the page becomes visible again.
func (s *Scheduler) Resync() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	select {
	case s.resync <- struct{}{}:
	default:
	}
}

// Running reports whether the countdown is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Expired reports whether the expiry event has been raised.
func (s *Scheduler) Expired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expired
}

func (s *Scheduler) run(t Ticker, stop <-chan struct{}, resync <-chan struct{}, done chan struct{}) {
	defer close(done)
	defer t.Stop()

	// Emit the current value right away so a fresh subscriber never waits a full period.
	if s.tick() {
		s.onExpire()
		return
	}

	for {
		select {
		case <-stop:
			return
		case <-t.C():
		case <-resync:
		}
		if s.tick() {
			s.onExpire()
			return
		}
	}
}

// tick reports true exactly once, on the tick that observes the deadline.
func (s *Scheduler) tick() bool {
	remaining := RemainingSeconds(s.deadline, s.clock.Now())
	if remaining > 0 {
		s.onTick(remaining)
		return false
	}

	s.mu.Lock()
	if s.expired {
		s.mu.Unlock()
		return false
	}
	s.expired = true
	s.running = false
	s.mu.Unlock()

	s.onTick(0)
	return true
}
