package metrics

import "time"

// NoopSink is used when metrics are disabled so callers never nil-check.
type NoopSink struct{}

func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) JobSubmitted()                                                  {}
func (n *NoopSink) JobCompleted(outcome string, duration time.Duration)            {}
func (n *NoopSink) StageCompleted(stage string, duration time.Duration, err error) {}
func (n *NoopSink) PipelinesInFlightIncr()                                         {}
func (n *NoopSink) PipelinesInFlightDecr()                                         {}
func (n *NoopSink) CleanupDeleted(count int)                                       {}
func (n *NoopSink) JobsReconciled(action string, count int)                        {}
