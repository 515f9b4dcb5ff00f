package alarms

import (
	"sync"
	"time"
)

// Stopper cancels a pending callback. Stop reports whether the call
// prevented the callback from running.
type Stopper interface {
	Stop() bool
}

// Timer schedules one-shot callbacks
type Timer interface {
	AfterFunc(d time.Duration, f func()) Stopper
}

// RealTimer runs callbacks through time.AfterFunc
type RealTimer struct{}

// AfterFunc implements Timer
func (RealTimer) AfterFunc(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, f)
}

// ManualTimer only runs callbacks when told to. It is meant for tests and
// for driving a scheduler step by step.
type ManualTimer struct {
	mu      sync.Mutex
	pending []*manualCall
}

type manualCall struct {
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (c *manualCall) Stop() bool {
	if c.stopped || c.fired {
		return false
	}
	c.stopped = true
	return true
}

// AfterFunc implements Timer
func (t *ManualTimer) AfterFunc(d time.Duration, f func()) Stopper {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := &manualCall{delay: d, f: f}
	t.pending = append(t.pending, c)
	return &manualStopper{timer: t, call: c}
}

// manualStopper guards the call state with the timer's mutex
type manualStopper struct {
	timer *ManualTimer
	call  *manualCall
}

func (s *manualStopper) Stop() bool {
	s.timer.mu.Lock()
	defer s.timer.mu.Unlock()
	return s.call.Stop()
}

// Armed returns the delays of the callbacks neither stopped nor fired
func (t *ManualTimer) Armed() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []time.Duration
	for _, c := range t.pending {
		if !c.stopped && !c.fired {
			out = append(out, c.delay)
		}
	}
	return out
}

// FireLatest runs the most recently armed live callback on the calling
// goroutine. It reports false when nothing is armed.
func (t *ManualTimer) FireLatest() bool {
	t.mu.Lock()
	var call *manualCall
	for i := len(t.pending) - 1; i >= 0; i-- {
		if c := t.pending[i]; !c.stopped && !c.fired {
			call = c
			break
		}
	}
	if call != nil {
		call.fired = true
	}
	t.mu.Unlock()

	if call == nil {
		return false
	}
	call.f()
	return true
}

// FireStopped runs the most recently stopped callback anyway, simulating a
// timer whose callback had already started when Stop was called.
func (t *ManualTimer) FireStopped() bool {
	t.mu.Lock()
	var call *manualCall
	for i := len(t.pending) - 1; i >= 0; i-- {
		if c := t.pending[i]; c.stopped && !c.fired {
			call = c
			break
		}
	}
	if call != nil {
		call.fired = true
	}
	t.mu.Unlock()

	if call == nil {
		return false
	}
	call.f()
	return true
}
