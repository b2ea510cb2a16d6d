package clock

import (
	"sort"
	"sync"
	"time"
)

// ManualClock is a Clock whose time only moves on Advance.
type ManualClock struct {
	mu      sync.Mutex
	cond    *sync.Cond
	now     time.Time
	waiters []*manualWaiter
}

type manualWaiter struct {
	clock    *ManualClock
	deadline time.Time
	period   time.Duration
	ch       chan time.Time
}

// NewManualClock creates a clock frozen at start.
func NewManualClock(start time.Time) *ManualClock {
	mc := &ManualClock{now: start}
	mc.cond = sync.NewCond(&mc.mu)
	return mc
}

func (mc *ManualClock) Now() time.Time {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.now
}

func (mc *ManualClock) Since(t time.Time) time.Duration {
	return mc.Now().Sub(t)
}

func (mc *ManualClock) After(d time.Duration) <-chan time.Time {
	return mc.NewTimer(d).C()
}

func (mc *ManualClock) Sleep(d time.Duration) {
	<-mc.After(d)
}

func (mc *ManualClock) NewTimer(d time.Duration) Timer {
	w := &manualWaiter{clock: mc, ch: make(chan time.Time, 1)}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.arm(w, d)
	return w
}

func (mc *ManualClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	w := &manualWaiter{clock: mc, period: d, ch: make(chan time.Time, 1)}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.arm(w, d)
	return &manualTicker{w}
}

// Advance moves the clock forward by d and fires every timer that became due,
// in deadline order.
func (mc *ManualClock) Advance(d time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	target := mc.now.Add(d)
	for {
		sort.SliceStable(mc.waiters, func(i, j int) bool {
			return mc.waiters[i].deadline.Before(mc.waiters[j].deadline)
		})
		if len(mc.waiters) == 0 || mc.waiters[0].deadline.After(target) {
			break
		}
		w := mc.waiters[0]
		mc.waiters = mc.waiters[1:]
		mc.now = w.deadline
		w.fire(mc.now)
		if w.period > 0 {
			w.deadline = mc.now.Add(w.period)
			mc.waiters = append(mc.waiters, w)
		}
	}
	mc.now = target
	mc.cond.Broadcast()
}

// BlockUntil blocks until at least n timers or tickers are pending.
func (mc *ManualClock) BlockUntil(n int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for len(mc.waiters) < n {
		mc.cond.Wait()
	}
}

// Pending returns the number of armed timers and tickers.
func (mc *ManualClock) Pending() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return len(mc.waiters)
}

// arm must be called with mc.mu held.
func (mc *ManualClock) arm(w *manualWaiter, d time.Duration) {
	if d <= 0 && w.period == 0 {
		w.fire(mc.now)
		return
	}
	w.deadline = mc.now.Add(d)
	mc.waiters = append(mc.waiters, w)
	mc.cond.Broadcast()
}

// remove must be called with mc.mu held.
func (mc *ManualClock) remove(w *manualWaiter) bool {
	for i, candidate := range mc.waiters {
		if candidate == w {
			mc.waiters = append(mc.waiters[:i], mc.waiters[i+1:]...)
			mc.cond.Broadcast()
			return true
		}
	}
	return false
}

func (w *manualWaiter) fire(now time.Time) {
	select {
	case w.ch <- now:
	default:
	}
}

func (w *manualWaiter) C() <-chan time.Time {
	return w.ch
}

func (w *manualWaiter) Reset(d time.Duration) bool {
	w.clock.mu.Lock()
	defer w.clock.mu.Unlock()
	active := w.clock.remove(w)
	w.clock.arm(w, d)
	return active
}

func (w *manualWaiter) Stop() bool {
	w.clock.mu.Lock()
	defer w.clock.mu.Unlock()
	return w.clock.remove(w)
}

type manualTicker struct {
	w *manualWaiter
}

func (t *manualTicker) C() <-chan time.Time {
	return t.w.ch
}

func (t *manualTicker) Reset(d time.Duration) {
	t.w.clock.mu.Lock()
	defer t.w.clock.mu.Unlock()
	t.w.clock.remove(t.w)
	t.w.period = d
	t.w.clock.arm(t.w, d)
}

func (t *manualTicker) Stop() {
	t.w.Stop()
}
