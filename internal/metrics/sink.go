package metrics

import "time"

// Sink records pipeline metrics.
// Methods are fire-and-forget: implementations must not block or return errors.
type Sink interface {
	// Gateway
	JobSubmitted()

	// Orchestrator
	JobCompleted(outcome string, duration time.Duration)
	StageCompleted(stage string, duration time.Duration, err error)
	PipelinesInFlightIncr()
	PipelinesInFlightDecr()

	// Housekeeping
	CleanupDeleted(n int)
	JobsReconciled(action string, n int)
}

// Outcome values for JobCompleted.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

// Action values for JobsReconciled.
const (
	ActionFailed   = "failed"
	ActionRequeued = "requeued"
)
