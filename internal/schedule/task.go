// Package schedule runs the assistant's background work. A Task wraps one
// recurring job with an idempotent Start/Stop pair and panic-safe runs; the
// Dispatcher scans the enabled discovery schedules and triggers the ones
// whose cron expression is due.
package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultInterval = time.Minute

// Task runs one job on a fixed interval. The first run happens right after
// Start, then every Interval until Stop. Start on a running task and Stop
// on a stopped one are no-ops; Stop blocks until the loop has exited.
type Task struct {
	// Name identifies the task in logs.
	Name string
	// Interval is the delay between runs. Zero or negative means one minute.
	Interval time.Duration
	// Timeout bounds a single run. Zero leaves the run unbounded.
	Timeout time.Duration
	// Run does the work. Errors are logged; a panicking run is recovered
	// and the loop keeps going.
	Run func(ctx context.Context) error

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// Start launches the task loop in its own goroutine.
func (t *Task) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		return
	}
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	go t.loop(t.stop, t.done)
}

// Stop halts the loop and waits for any in-flight run to return.
func (t *Task) Stop() {
	t.mu.Lock()
	stop, done := t.stop, t.done
	t.stop, t.done = nil, nil
	t.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (t *Task) loop(stop <-chan struct{}, done chan<- struct{}) {
	ticker := time.NewTicker(t.interval())
	defer func() {
		ticker.Stop()
		close(done)
	}()

	t.runOnce()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.runOnce()
		}
	}
}

func (t *Task) runOnce() {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("task", t.Name).Interface("panic", r).Msg("task run panicked")
		}
	}()

	ctx := context.Background()
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}
	if err := t.Run(ctx); err != nil {
		log.Error().Err(err).Str("task", t.Name).Msg("task run failed")
	}
}

func (t *Task) interval() time.Duration {
	if t.Interval <= 0 {
		return defaultInterval
	}
	return t.Interval
}
