package schema

import "strings"

// ParseMode validates and normalizes an execution mode.
// Allowed values: local, dev, prod.
func ParseMode(value string) (Mode, error) {
	switch Mode(strings.TrimSpace(strings.ToLower(value))) {
	case ModeLocal:
		return ModeLocal, nil
	case ModeDev:
		return ModeDev, nil
	case ModeProd:
		return ModeProd, nil
	default:
		return "", ErrInvalidMode
	}
}

// ParsePhase normalizes a backend phase name. Both "RUNNING" and "running"
// are accepted; "TIMED-OUT" maps to timed_out.
func ParsePhase(value string) (Phase, error) {
	trimmed := strings.TrimSpace(strings.ToLower(value))
	trimmed = strings.ReplaceAll(trimmed, "-", "_")
	trimmed = strings.TrimPrefix(trimmed, "phase_")
	switch p := Phase(trimmed); p {
	case PhaseUndefined, PhaseQueued, PhaseRunning, PhaseSucceeding, PhaseSucceeded,
		PhaseFailing, PhaseFailed, PhaseAborting, PhaseAborted, PhaseTimedOut:
		return p, nil
	default:
		return "", ErrInvalidPhase
	}
}

// ValidateExecutionName ensures a backend execution name matches [a-z0-9-]
// and starts with a lower-case letter.
func ValidateExecutionName(name string) error {
	if name == "" || strings.TrimSpace(name) != name {
		return ErrInvalidExecutionName
	}
	for i, r := range name {
		if i == 0 && (r < 'a' || r > 'z') {
			return ErrInvalidExecutionName
		}
		if r >= 'a' && r <= 'z' {
			continue
		}
		if r >= '0' && r <= '9' {
			continue
		}
		if r == '-' {
			continue
		}
		return ErrInvalidExecutionName
	}
	return nil
}
