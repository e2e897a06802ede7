package persist

import (
	"context"
	"time"
)

// Debouncer collapses bursts of Trigger calls into one execution of fn.
//
// Each Trigger restarts the delay (trailing debounce), but a pending run is
// never postponed past maxWait after the first trigger of the burst. When fn
// fails the debouncer re-arms itself after retry. All timer handling happens
// on the worker goroutine started by Run.
type Debouncer struct {
	delay   time.Duration
	maxWait time.Duration
	retry   time.Duration
	fn      func() error

	requests chan struct{}
	flushes  chan chan error
}

// NewDebouncer creates a debouncer. A zero maxWait disables the cap and a
// zero retry disables automatic retries.
func NewDebouncer(delay, maxWait, retry time.Duration, fn func() error) *Debouncer {
	return &Debouncer{
		delay:    delay,
		maxWait:  maxWait,
		retry:    retry,
		fn:       fn,
		requests: make(chan struct{}, 1),
		flushes:  make(chan chan error),
	}
}

// Trigger schedules a run. It never blocks.
func (d *Debouncer) Trigger() {
	select {
	case d.requests <- struct{}{}:
	default:
		// A request is already queued; the worker will reset the timer.
	}
}

// Flush cancels any pending timer and runs fn now on the worker goroutine.
// It must only be called while Run is active.
func (d *Debouncer) Flush(ctx context.Context) error {
	done := make(chan error, 1)
	select {
	case d.flushes <- done:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run is the worker loop. It returns when ctx is cancelled; a pending run is
// dropped, so callers flush before cancelling.
func (d *Debouncer) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	stopTimer(timer)
	defer timer.Stop()

	pending := false
	var first time.Time

	arm := func(wait time.Duration) {
		stopTimer(timer)
		timer.Reset(wait)
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-d.requests:
			now := time.Now()
			if !pending {
				pending = true
				first = now
			}
			wait := d.delay
			if d.maxWait > 0 {
				if left := first.Add(d.maxWait).Sub(now); left < wait {
					wait = max(left, 0)
				}
			}
			arm(wait)

		case <-timer.C:
			pending = false
			if err := d.fn(); err != nil && d.retry > 0 {
				pending = true
				first = time.Now()
				arm(d.retry)
			}

		case done := <-d.flushes:
			stopTimer(timer)
			pending = false
			err := d.fn()
			if err != nil && d.retry > 0 {
				pending = true
				first = time.Now()
				arm(d.retry)
			}
			done <- err
		}
	}
}

// stopTimer stops t and drains its channel so a later Reset starts clean.
func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
