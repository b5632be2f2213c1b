package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"pkt.systems/pslog"

	"github.com/sciexp/flytezen/internal/logx"
	"github.com/sciexp/flytezen/schema"
)

const (
	// DefaultPollInterval bounds each wait call and the sleep between cycles.
	DefaultPollInterval = 3 * time.Second
	// DefaultConfirmTimeout bounds the termination confirmation prompt.
	DefaultConfirmTimeout = 60 * time.Second
	// TerminateReason is sent with confirmed termination requests.
	TerminateReason = "KeyboardInterrupt confirmed termination"
)

// MonitorState is a state of the completion monitor.
type MonitorState string

const (
	StatePolling             MonitorState = "polling"
	StatePendingConfirmation MonitorState = "pending_confirmation"
	StateSucceeded           MonitorState = "succeeded"
	StateFailed              MonitorState = "failed"
	StateTerminateRequested  MonitorState = "terminate_requested"
	StateAbandoned           MonitorState = "abandoned"
	// StateSettled means the execution finished on its own while the user
	// was being asked for confirmation.
	StateSettled MonitorState = "settled"
)

// MonitorResult reports how monitoring ended.
type MonitorResult struct {
	State     MonitorState
	Completed *schema.CompletedExecution
	// Status is the last synchronized status (the final re-sync on interrupt).
	Status       *schema.ExecutionStatus
	Answer       Answer
	TerminateErr error
	Syncs        int
}

// Monitor polls an execution to completion and handles interrupts.
//
// Cancelling the context passed to Wait is the interrupt: the local loop
// stops immediately, while the remote execution is only terminated after an
// explicit confirmation and a fresh status sync.
type Monitor struct {
	Watcher        ExecutionWatcher
	PollInterval   time.Duration
	ConfirmTimeout time.Duration
	In             io.Reader
	Out            io.Writer
	// Sleep waits between polling cycles; it must return early when ctx ends.
	Sleep func(ctx context.Context, d time.Duration) error
	// Confirm overrides the interactive prompt.
	Confirm func(timeout time.Duration) Answer
}

// Wait blocks until the execution reaches a terminal result or ctx is cancelled.
func (m *Monitor) Wait(ctx context.Context, handle schema.ExecutionHandle) (MonitorResult, error) {
	ctx = logx.ContextWithExecution(ctx, handle)
	log := pslog.Ctx(ctx)
	interval := m.pollInterval()

	var last *schema.ExecutionStatus
	syncs := 0
	for {
		if ctx.Err() != nil {
			return m.interrupted(ctx, handle, last, syncs)
		}
		done, err := m.Watcher.Await(ctx, handle, interval)
		switch {
		case err == nil:
			if done.Failed() {
				log.Error("execution failed", "phase", done.Status.Phase, "error", done.Status.Error)
				return MonitorResult{State: StateFailed, Completed: &done, Status: &done.Status, Syncs: syncs}, &Error{
					Kind:    ErrorExecutionFailure,
					Op:      "execution " + handle.Name,
					Message: done.Status.Error,
					Err:     schema.ErrExecutionFailed,
				}
			}
			log.Info("execution completed", "phase", done.Status.Phase, "outputs", len(done.Outputs))
			return MonitorResult{State: StateSucceeded, Completed: &done, Status: &done.Status, Syncs: syncs}, nil
		case ctx.Err() != nil:
			return m.interrupted(ctx, handle, last, syncs)
		case errors.Is(err, schema.ErrPollTimeout):
			// A timed-out wait says nothing fresh about the phase.
			status, err := m.Watcher.Sync(ctx, handle)
			if err != nil {
				if ctx.Err() != nil {
					return m.interrupted(ctx, handle, last, syncs)
				}
				return MonitorResult{State: StatePolling, Status: last, Syncs: syncs}, NewError(ErrorMonitor, "sync execution", err)
			}
			syncs++
			last = &status
			log.Info("execution status", "phase", status.Phase)
			if err := m.sleep(ctx, interval); err != nil {
				return m.interrupted(ctx, handle, last, syncs)
			}
		default:
			return MonitorResult{State: StatePolling, Status: last, Syncs: syncs}, NewError(ErrorMonitor, "await execution", err)
		}
	}
}

func (m *Monitor) interrupted(ctx context.Context, handle schema.ExecutionHandle, last *schema.ExecutionStatus, syncs int) (MonitorResult, error) {
	ctx = context.WithoutCancel(ctx)
	log := pslog.Ctx(ctx)
	if last != nil {
		log.Info("status at interrupt", "phase", last.Phase)
	} else {
		log.Info("interrupt received before first status sync")
	}

	answer := m.confirm()
	log.Info("termination confirmation", "answer", answer.String())
	result := MonitorResult{State: StatePendingConfirmation, Status: last, Answer: answer, Syncs: syncs}
	interruptErr := fmt.Errorf("monitoring %s: %w", handle.Name, schema.ErrInterrupted)

	// The decision must rest on the freshest status available.
	status, err := m.Watcher.Sync(ctx, handle)
	if err != nil {
		log.Warn("final status sync failed; leaving execution untouched", "err", err)
		result.State = StateAbandoned
		return result, interruptErr
	}
	result.Syncs++
	result.Status = &status

	if !status.Phase.Active() {
		log.Info("execution no longer running; skipping termination", "phase", status.Phase)
		result.State = StateSettled
		return result, interruptErr
	}
	if answer != AnswerYes {
		log.Warn("exiting without terminating execution", "phase", status.Phase)
		result.State = StateAbandoned
		return result, interruptErr
	}

	result.State = StateTerminateRequested
	if err := m.Watcher.Terminate(ctx, handle, TerminateReason); err != nil {
		log.Error("error while trying to terminate the execution", "err", err)
		result.TerminateErr = NewError(ErrorTermination, "terminate execution", err)
		return result, interruptErr
	}
	log.Info("execution terminated")
	return result, interruptErr
}

func (m *Monitor) pollInterval() time.Duration {
	if m.PollInterval > 0 {
		return m.PollInterval
	}
	return DefaultPollInterval
}

func (m *Monitor) confirm() Answer {
	timeout := m.ConfirmTimeout
	if timeout <= 0 {
		timeout = DefaultConfirmTimeout
	}
	if m.Confirm != nil {
		return m.Confirm(timeout)
	}
	in := m.In
	if in == nil {
		in = os.Stdin
	}
	out := m.Out
	if out == nil {
		out = os.Stderr
	}
	return Confirm(in, out, ConfirmPrompt, timeout)
}

func (m *Monitor) sleep(ctx context.Context, d time.Duration) error {
	if m.Sleep != nil {
		return m.Sleep(ctx, d)
	}
	return sleepContext(ctx, d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
