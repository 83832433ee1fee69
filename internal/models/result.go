package models

import "time"

// Phase names, as used in logs, notifications and metrics.
const (
	PhaseWake      = "wake"
	PhasePreflight = "preflight"
	PhaseUnlock    = "unlock"
	PhaseMount     = "mount"
	PhaseTransfer  = "transfer"
	PhaseSnapshot  = "snapshot"
	PhaseRotate    = "rotate"
)

// RunResult summarizes one backup run.
type RunResult struct {
	RunID       string
	StartTime   time.Time
	Duration    time.Duration
	Actions     []string
	Phases      map[string]time.Duration
	FailedPhase string
	Transfer    *TransferResult // nil when no transfer ran
	Error       error
}

// Success reports whether the run completed without error.
func (r *RunResult) Success() bool {
	return r.Error == nil
}

// TransferResult holds the outcome of the rsync invocation.
type TransferResult struct {
	ExitCode int
	Partial  bool // exit code tolerated as a partial transfer
	Duration time.Duration
}
