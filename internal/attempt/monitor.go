package attempt

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SignalKind is an integrity-relevant event reported by the test-taker's page.
type SignalKind string

const (
	SignalHidden      SignalKind = "hidden"
	SignalVisible     SignalKind = "visible"
	SignalBlur        SignalKind = "blur"
	SignalFocus       SignalKind = "focus"
	SignalCopy        SignalKind = "copy"
	SignalPaste       SignalKind = "paste"
	SignalContextMenu SignalKind = "context_menu"
)

// Valid reports whether k is a known signal.
func (k SignalKind) Valid() bool {
	switch k {
	case SignalHidden, SignalVisible, SignalBlur, SignalFocus, SignalCopy, SignalPaste, SignalContextMenu:
		return true
	}
	return false
}

// Away reports whether k means the page lost visibility or focus.
func (k SignalKind) Away() bool { return k == SignalHidden || k == SignalBlur }

// Back reports whether k means the page regained visibility or focus.
func (k SignalKind) Back() bool { return k == SignalVisible || k == SignalFocus }

// Gesture reports whether k is a forbidden input gesture.
func (k SignalKind) Gesture() bool {
	return k == SignalCopy || k == SignalPaste || k == SignalContextMenu
}

// MonitorState is the integrity state of an attempt.
type MonitorState int

const (
	MonitorActive MonitorState = iota
	MonitorBreached
)

func (s MonitorState) String() string {
	if s == MonitorBreached {
		return "breached"
	}
	return "active"
}

// MonitorConfig controls what the monitor counts.
type MonitorConfig struct {
	Threshold  int
	Strict     bool
	CountPaste bool
}

// MonitorHooks receive the monitor's outputs. Any hook may be nil.
type MonitorHooks struct {
	OnViolation    func(count int)
	OnLimitReached func(count int)
	OnSuppressed   func(kind SignalKind)
	OnReturn       func()
}

// SignalOutcome describes what the monitor did with one signal.
type SignalOutcome struct {
	Counted    bool
	Count      int
	Suppressed bool
	Breached   bool
}

// Monitor counts integrity violations for one attempt.
//
// A hidden and a blur that arrive together for the same tab switch are one
// violation: only the transition from present to away is counted.
type Monitor struct {
	attemptID uuid.UUID
	store     Store
	cfg       MonitorConfig
	hooks     MonitorHooks
	log       zerolog.Logger

	mu       sync.Mutex
	state    MonitorState
	away     bool
	count    int
	detached bool
}

// NewMonitor creates a monitor seeded with the persisted violation count.
// A seed at or above the threshold starts the monitor in Breached.
func NewMonitor(attemptID uuid.UUID, store Store, cfg MonitorConfig, seed int, hooks MonitorHooks, log zerolog.Logger) *Monitor {
	m := &Monitor{
		attemptID: attemptID,
		store:     store,
		cfg:       cfg,
		hooks:     hooks,
		log:       log,
		count:     seed,
	}
	if cfg.Strict && cfg.Threshold > 0 && seed >= cfg.Threshold {
		m.state = MonitorBreached
	}
	return m
}

// State returns the current integrity state.
func (m *Monitor) State() MonitorState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Count returns the last known violation count.
func (m *Monitor) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// Detach makes the monitor ignore every further signal.
func (m *Monitor) Detach() {
	m.mu.Lock()
	m.detached = true
	m.mu.Unlock()
}

// Handle processes one signal. It never returns an error: store failures
// are logged and the in-memory count keeps advancing.
func (m *Monitor) Handle(ctx context.Context, kind SignalKind) SignalOutcome {
	m.mu.Lock()
	if m.detached {
		out := SignalOutcome{Count: m.count}
		m.mu.Unlock()
		return out
	}

	switch {
	case kind.Back():
		m.away = false
		m.mu.Unlock()
		call0(m.hooks.OnReturn)
		return SignalOutcome{Count: m.Count()}

	case kind.Gesture():
		counts := kind == SignalPaste && m.cfg.CountPaste
		m.mu.Unlock()
		call1(m.hooks.OnSuppressed, kind)
		if !counts {
			return SignalOutcome{Suppressed: true, Count: m.Count()}
		}
		out := m.violation(ctx)
		out.Suppressed = true
		return out

	case kind.Away():
		if m.away {
			m.mu.Unlock()
			return SignalOutcome{Count: m.Count()}
		}
		m.away = true
		m.mu.Unlock()
		return m.violation(ctx)
	}

	m.mu.Unlock()
	return SignalOutcome{Count: m.Count()}
}

func (m *Monitor) violation(ctx context.Context) SignalOutcome {
	m.mu.Lock()
	if !m.cfg.Strict || m.state == MonitorBreached {
		out := SignalOutcome{Count: m.count}
		m.mu.Unlock()
		return out
	}
	m.mu.Unlock()

	persisted := -1
	rec, err := m.store.Update(ctx, m.attemptID, func(r *Record) error {
		r.ViolationCount++
		return nil
	})
	if err != nil {
		m.log.Warn().Err(err).Str("attempt_id", m.attemptID.String()).Msg("Persist violation count failed")
	} else {
		persisted = rec.ViolationCount
	}

	m.mu.Lock()
	if m.state == MonitorBreached {
		out := SignalOutcome{Count: m.count}
		m.mu.Unlock()
		return out
	}
	m.count++
	if persisted > m.count {
		m.count = persisted
	}
	count := m.count
	breached := m.cfg.Threshold > 0 && count >= m.cfg.Threshold
	if breached {
		m.state = MonitorBreached
	}
	m.mu.Unlock()

	if breached {
		call1(m.hooks.OnLimitReached, count)
	} else {
		call1(m.hooks.OnViolation, count)
	}
	return SignalOutcome{Counted: true, Count: count, Breached: breached}
}

func call0(fn func()) {
	if fn != nil {
		fn()
	}
}

func call1[T any](fn func(T), v T) {
	if fn != nil {
		fn(v)
	}
}
