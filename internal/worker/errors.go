package worker

import (
	"fmt"
	"time"
)

// Pipeline stage names. They double as circuit breaker keys and metric labels.
const (
	StageSynthesis = "synthesis"
	StageRender    = "render"
	StageUpload    = "upload"
	StagePipeline  = "pipeline"
)

var stageLabels = map[string]string{
	StageSynthesis: "speech synthesis",
	StageRender:    "video render",
	StageUpload:    "video upload",
	StagePipeline:  "pipeline",
}

// StageError is what a failed pipeline reports; its message is stored on the
// job verbatim, so it never contains a stack trace.
type StageError struct {
	Stage   string
	Timeout time.Duration
	Err     error
}

func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	label, ok := stageLabels[e.Stage]
	if !ok {
		label = e.Stage
	}
	if e.Timeout > 0 {
		return fmt.Sprintf("%s timed out after %s", label, e.Timeout)
	}
	return fmt.Sprintf("%s failed: %v", label, e.Err)
}

func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
