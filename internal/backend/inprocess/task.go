package inprocess

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/kandev/agentmux/internal/backend"
)

// RunFunc is the body of a FuncFactory task. Input sent to the task arrives on
// input. Returning nil completes the task; returning after ctx was cancelled
// cancels it; any other error fails it.
type RunFunc func(ctx context.Context, cfg RuntimeConfig, spec backend.RuntimeSpec, input <-chan string) error

// FuncFactory is a TaskFactory that runs a RunFunc in a goroutine per task.
type FuncFactory struct {
	Run RunFunc
	// InputBuffer is the capacity of each task's input channel.
	InputBuffer int
}

var _ TaskFactory = (*FuncFactory)(nil)

// StartTask starts fn. spec.MaxDuration, when set, bounds the run.
func (f *FuncFactory) StartTask(ctx context.Context, cfg RuntimeConfig, spec backend.RuntimeSpec) (Task, error) {
	if f.Run == nil {
		return nil, errors.New("task factory has no run function")
	}
	buf := f.InputBuffer
	if buf <= 0 {
		buf = 16
	}

	var taskCtx context.Context
	var cancel context.CancelFunc
	if spec.MaxDuration > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, spec.MaxDuration)
	} else {
		taskCtx, cancel = context.WithCancel(ctx)
	}

	t := &funcTask{
		id:     uuid.New().String(),
		cancel: cancel,
		done:   make(chan struct{}),
		input:  make(chan string, buf),
		state:  RunStateRunning,
	}
	go t.run(taskCtx, f.Run, cfg, spec)
	return t, nil
}

type funcTask struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
	input  chan string

	mu    sync.Mutex
	state RunState
}

func (t *funcTask) run(ctx context.Context, fn RunFunc, cfg RuntimeConfig, spec backend.RuntimeSpec) {
	defer close(t.done)
	defer t.cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task panicked: %v", r)
			}
		}()
		return fn(ctx, cfg, spec, t.input)
	}()

	state := RunStateCompleted
	switch {
	case err == nil:
	case errors.Is(ctx.Err(), context.Canceled):
		state = RunStateCancelled
	default:
		state = RunStateFailed
	}

	t.mu.Lock()
	t.state = state
	t.mu.Unlock()
}

func (t *funcTask) ID() string            { return t.id }
func (t *funcTask) Done() <-chan struct{} { return t.done }
func (t *funcTask) Abort()                { t.cancel() }

func (t *funcTask) State() RunState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *funcTask) SendInput(data string) error {
	select {
	case <-t.done:
		return errors.New("task finished")
	default:
	}
	select {
	case t.input <- data:
		return nil
	case <-t.done:
		return errors.New("task finished")
	default:
		return errors.New("task input buffer full")
	}
}
