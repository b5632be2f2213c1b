package schema

// Phase is the backend-reported lifecycle phase of an execution.
type Phase string

const (
	PhaseUndefined  Phase = "undefined"
	PhaseQueued     Phase = "queued"
	PhaseRunning    Phase = "running"
	PhaseSucceeding Phase = "succeeding"
	PhaseSucceeded  Phase = "succeeded"
	PhaseFailing    Phase = "failing"
	PhaseFailed     Phase = "failed"
	PhaseAborting   Phase = "aborting"
	PhaseAborted    Phase = "aborted"
	PhaseTimedOut   Phase = "timed_out"
)

// Terminal reports whether no further transition can occur.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseSucceeded, PhaseFailed, PhaseAborted, PhaseTimedOut:
		return true
	default:
		return false
	}
}

// Active reports whether the execution is still progressing and may be terminated.
// Undefined is treated as inactive: a phase the client cannot read is never aborted.
func (p Phase) Active() bool {
	switch p {
	case PhaseQueued, PhaseRunning, PhaseSucceeding, PhaseFailing:
		return true
	default:
		return false
	}
}
