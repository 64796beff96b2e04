package sandbox

import "time"

// watchdog enforces a wall-clock deadline on a running sandbox. When the
// deadline passes it runs terminate on its own goroutine, independently of
// whatever the caller is blocked on.
type watchdog struct {
	timer *time.Timer
	done  chan struct{}
}

func startWatchdog(limit time.Duration, terminate func()) *watchdog {
	w := &watchdog{done: make(chan struct{})}
	w.timer = time.AfterFunc(limit, func() {
		defer close(w.done)
		terminate()
	})
	return w
}

// Stop disarms the watchdog. It reports whether the deadline had already
// fired, in which case it waits for terminate to return first. Stop must be
// called exactly once.
func (w *watchdog) Stop() bool {
	if w.timer.Stop() {
		return false
	}
	<-w.done
	return true
}
