package clock

import (
	"time"
)

// LiveClock provides real wall-clock time for live trading
type LiveClock struct{}

// NewLiveClock creates a new live clock
func NewLiveClock() Clock {
	return &LiveClock{}
}

// Now returns the current wall-clock time
func (lc *LiveClock) Now() time.Time {
	return time.Now()
}

// After waits for the duration to elapse and then sends the current time on the returned channel
func (lc *LiveClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// NewTimer creates a new Timer that will send the current time on its channel after at least duration d
func (lc *LiveClock) NewTimer(d time.Duration) Timer {
	return &liveTimer{timer: time.NewTimer(d)}
}

// Since returns the time elapsed since t
func (lc *LiveClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

// NewTicker returns a new Ticker containing a channel that will send the current time on the channel after each tick
func (lc *LiveClock) NewTicker(d time.Duration) Ticker {
	return &liveTicker{ticker: time.NewTicker(d)}
}

// Sleep pauses the current goroutine for at least the duration d
func (lc *LiveClock) Sleep(d time.Duration) {
	time.Sleep(d)
}

type liveTimer struct {
	timer *time.Timer
}

func (lt *liveTimer) C() <-chan time.Time {
	return lt.timer.C
}

func (lt *liveTimer) Reset(d time.Duration) bool {
	return lt.timer.Reset(d)
}

func (lt *liveTimer) Stop() bool {
	return lt.timer.Stop()
}

type liveTicker struct {
	ticker *time.Ticker
}

func (lt *liveTicker) C() <-chan time.Time {
	return lt.ticker.C
}

func (lt *liveTicker) Reset(d time.Duration) {
	lt.ticker.Reset(d)
}

func (lt *liveTicker) Stop() {
	lt.ticker.Stop()
}
