// Package timer provides a cooperative fixed-interval polling scheduler.
//
// One Timer owns at most one polling goroutine. Every period the loop checks
// each registered job and fires the ones whose interval has elapsed. Job
// baselines advance by exactly one interval per firing so that a slow tick
// does not make the schedule drift.
package timer

import (
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/stefando/resumableupload/internal/errs"
)

const (
	// MinInterval is the smallest interval a job may use.
	MinInterval = 100 * time.Millisecond

	// DefaultPeriod is how often the loop wakes up to check its jobs.
	DefaultPeriod = 200 * time.Millisecond
)

// ID identifies a registered job.
type ID uint64

// Callback receives the time elapsed since the job's baseline.
type Callback func(elapsed time.Duration)

type job struct {
	id       ID
	baseline time.Time
	interval time.Duration
	callback Callback
}

// Option configures a Timer.
type Option func(*Timer)

// WithPeriod sets the loop period.
func WithPeriod(period time.Duration) Option {
	return func(t *Timer) {
		if period > 0 {
			t.period = period
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Timer) {
		if now != nil {
			t.now = now
		}
	}
}

// Timer schedules recurring jobs on a single polling loop.
type Timer struct {
	mu        sync.Mutex
	jobs      []*job
	nextID    ID
	playing   bool
	looping   bool
	destroyed bool
	period    time.Duration
	now       func() time.Time

	// held for the whole duration of a tick so ticks never overlap
	tickMu sync.Mutex
}

// New creates a stopped Timer.
func New(opts ...Option) *Timer {
	t := &Timer{
		period: DefaultPeriod,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Add registers callback to run every interval. A job added while a tick is
// executing first participates in the next tick.
func (t *Timer) Add(callback Callback, interval time.Duration) (ID, error) {
	if interval < MinInterval {
		return 0, errs.Validation("interval", "interval must be at least %s, got %s", MinInterval, interval)
	}
	if callback == nil {
		return 0, errs.Validation("callback", "callback is nil")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.destroyed {
		return 0, errs.ErrUseAfterDestroy
	}

	t.nextID++
	id := t.nextID
	t.jobs = append(t.jobs, &job{
		id:       id,
		baseline: t.now(),
		interval: interval,
		callback: callback,
	})

	if t.playing {
		t.startLocked()
	}
	return id, nil
}

// Remove unregisters a job. It reports whether the job existed.
func (t *Timer) Remove(id ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, j := range t.jobs {
		if j.id == id {
			t.jobs = append(t.jobs[:i], t.jobs[i+1:]...)
			return true
		}
	}
	return false
}

// Clean removes every job. A playing loop exits on its next check.
func (t *Timer) Clean() {
	t.mu.Lock()
	t.jobs = nil
	t.mu.Unlock()
}

// Len returns the number of registered jobs.
func (t *Timer) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.jobs)
}

// Play starts the loop if it is not already running.
func (t *Timer) Play() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.destroyed {
		return errs.ErrUseAfterDestroy
	}

	t.playing = true
	t.startLocked()
	return nil
}

// Stop halts the loop. Jobs stay registered.
func (t *Timer) Stop() {
	t.mu.Lock()
	t.playing = false
	t.mu.Unlock()
}

// Playing reports whether the loop is meant to run.
func (t *Timer) Playing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.playing
}

// Tick fires the given jobs, or every job when ids is empty, regardless of
// whether their interval has elapsed.
func (t *Timer) Tick(ids ...ID) {
	t.tick(true, ids)
}

// Destroy stops the loop and drops every job. Further Add and Play calls
// return errs.ErrUseAfterDestroy.
func (t *Timer) Destroy() {
	t.mu.Lock()
	t.playing = false
	t.destroyed = true
	t.jobs = nil
	t.mu.Unlock()
}

// startLocked spawns the loop goroutine unless one is alive. t.mu must be held.
func (t *Timer) startLocked() {
	if t.looping || len(t.jobs) == 0 {
		return
	}
	t.looping = true
	go t.loop()
}

func (t *Timer) loop() {
	for {
		t.mu.Lock()
		if !t.playing || len(t.jobs) == 0 {
			t.looping = false
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()

		t.tick(false, nil)
		time.Sleep(t.period)
	}
}

type firing struct {
	callback Callback
	elapsed  time.Duration
}

func (t *Timer) tick(force bool, ids []ID) {
	t.tickMu.Lock()
	defer t.tickMu.Unlock()

	// Decide which jobs fire while holding the lock, then run them without it
	// so callbacks may add or remove jobs.
	t.mu.Lock()
	now := t.now()
	var due []firing
	for _, j := range t.jobs {
		if len(ids) > 0 && !lo.Contains(ids, j.id) {
			continue
		}

		elapsed := now.Sub(j.baseline)
		if elapsed >= j.interval || force {
			j.baseline = j.baseline.Add(j.interval)
			due = append(due, firing{callback: j.callback, elapsed: elapsed})
		}
	}
	t.mu.Unlock()

	for _, f := range due {
		f.callback(f.elapsed)
	}
}
