package clock

import "time"

// Ticker re-arms a one-shot host timer to emulate a periodic callback.
type Ticker struct {
	host     Host
	interval time.Duration
	fn       func()
	stopped  bool
}

// Every runs fn every interval on host until Stop is called.
// A non-positive interval returns a stopped ticker.
func Every(host Host, interval time.Duration, fn func()) *Ticker {
	t := &Ticker{host: host, interval: interval, fn: fn}
	if interval <= 0 || fn == nil {
		t.stopped = true
		return t
	}
	t.arm()
	return t
}

func (t *Ticker) arm() {
	t.host.After(t.interval, func() {
		if t.stopped {
			return
		}
		// Re-arm before running so a panicking fn keeps the ticker alive.
		t.arm()
		t.fn()
	})
}

// Stop prevents any further runs. The already-armed timer fires as a no-op.
func (t *Ticker) Stop() {
	t.stopped = true
}

// Reset changes the interval; it takes effect after the currently armed run.
func (t *Ticker) Reset(interval time.Duration) {
	if interval > 0 {
		t.interval = interval
	}
}

// Stopped reports whether Stop was called.
func (t *Ticker) Stopped() bool { return t.stopped }
