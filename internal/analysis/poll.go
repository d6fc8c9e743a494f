package analysis

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// PollFunc performs one poll. Returning done or a non-nil error ends the task.
type PollFunc func(ctx context.Context) (done bool, err error)

// PollTask runs a PollFunc repeatedly with strict chaining: the next poll is
// scheduled only after the previous one has returned, so at most one call is
// ever in flight.
type PollTask struct {
	initial  time.Duration
	interval time.Duration
	fn       PollFunc

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
	started   atomic.Bool
	polls     atomic.Int64
	err       error
}

// NewPollTask creates a task that waits initial, polls, then waits interval
// between subsequent polls.
func NewPollTask(initial, interval time.Duration, fn PollFunc) *PollTask {
	return &PollTask{
		initial:  initial,
		interval: interval,
		fn:       fn,
		done:     make(chan struct{}),
	}
}

// Start launches the loop. Later calls are no-ops.
func (t *PollTask) Start(ctx context.Context) {
	t.startOnce.Do(func() {
		ctx, t.cancel = context.WithCancel(ctx)
		t.started.Store(true)
		go t.run(ctx)
	})
}

// Stop cancels the task and blocks until its goroutine has exited. It must
// not be called from inside the PollFunc.
func (t *PollTask) Stop() {
	if !t.started.Load() {
		return
	}
	t.cancel()
	<-t.done
}

// Done is closed once the loop has exited.
func (t *PollTask) Done() <-chan struct{} {
	return t.done
}

// Err returns why the loop ended: nil on completion, the PollFunc's error,
// or the context error after cancellation. Only valid after Done is closed.
func (t *PollTask) Err() error {
	return t.err
}

// Polls returns the number of completed PollFunc calls.
func (t *PollTask) Polls() int {
	return int(t.polls.Load())
}

func (t *PollTask) run(ctx context.Context) {
	defer close(t.done)
	defer t.cancel()

	wait := t.initial
	for {
		if err := sleep(ctx, wait); err != nil {
			t.err = err
			return
		}

		done, err := t.fn(ctx)
		t.polls.Add(1)
		if ctx.Err() != nil {
			t.err = ctx.Err()
			return
		}
		if err != nil || done {
			t.err = err
			return
		}
		wait = t.interval
	}
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
