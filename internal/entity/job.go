package entity

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Progress labels written while a job is processing.
const (
	ProgressGeneratingAudio = "Generating audio..."
	ProgressRendering       = "Rendering video..."
	ProgressUploading       = "Uploading..."
	ProgressDone            = "Done!"
)

var (
	ErrJobFinalized      = errors.New("job already in terminal state")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidPatch      = errors.New("invalid job patch")
	ErrStatusConflict    = errors.New("job status changed")
)

// Job is the persisted record of one text-to-video request.
// VideoURL and Error are mutually exclusive and only set on the terminal write.
type Job struct {
	ID        string    `json:"id"`
	Status    JobStatus `json:"status"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
	Progress  *string   `json:"progress,omitempty"`
	VideoURL  *string   `json:"videoUrl,omitempty"`
	Error     *string   `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// JobPatch is a shallow partial update. Nil fields are left untouched.
// IfStatus, when set, makes the update conditional on the current status.
type JobPatch struct {
	IfStatus *JobStatus
	Status   *JobStatus
	Progress *string
	VideoURL *string
	Error    *string
}

func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// CanTransition reports whether from -> to is an edge of the job state machine.
// Staying in processing is allowed so progress-only writes pass through.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusProcessing || to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// NewJob builds the initial pending record.
func NewJob(id, text string, now time.Time) *Job {
	now = now.UTC()
	return &Job{
		ID:        id,
		Status:    StatusPending,
		Text:      text,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	tmp := *j
	tmp.Progress = cloneString(j.Progress)
	tmp.VideoURL = cloneString(j.VideoURL)
	tmp.Error = cloneString(j.Error)
	return &tmp
}

// Apply merges p over j. It is the single place where the state machine is
// enforced, so every store backend gets the same rules from its read-merge-write.
func (j *Job) Apply(p JobPatch, now time.Time) error {
	if j.Status.Terminal() {
		return fmt.Errorf("%w: job %s is %s", ErrJobFinalized, j.ID, j.Status)
	}
	if p.IfStatus != nil && *p.IfStatus != j.Status {
		return fmt.Errorf("%w: job %s is %s, expected %s", ErrStatusConflict, j.ID, j.Status, *p.IfStatus)
	}

	next := j.Status
	if p.Status != nil {
		next = *p.Status
		if !next.Valid() {
			return fmt.Errorf("%w: unknown status %q", ErrInvalidPatch, next)
		}
		if next != j.Status && !CanTransition(j.Status, next) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, next)
		}
	}

	if p.Progress != nil && j.Status != StatusProcessing && next != StatusProcessing {
		return fmt.Errorf("%w: progress requires processing status", ErrInvalidPatch)
	}

	switch next {
	case StatusCompleted:
		if p.VideoURL == nil || strings.TrimSpace(*p.VideoURL) == "" {
			return fmt.Errorf("%w: completed requires videoUrl", ErrInvalidPatch)
		}
		if p.Error != nil {
			return fmt.Errorf("%w: completed job cannot carry error", ErrInvalidPatch)
		}
	case StatusFailed:
		if p.Error == nil {
			return fmt.Errorf("%w: failed requires error", ErrInvalidPatch)
		}
		if p.VideoURL != nil {
			return fmt.Errorf("%w: failed job cannot carry videoUrl", ErrInvalidPatch)
		}
	default:
		if p.VideoURL != nil || p.Error != nil {
			return fmt.Errorf("%w: videoUrl/error only on terminal transition", ErrInvalidPatch)
		}
	}

	j.Status = next
	if p.Progress != nil {
		j.Progress = cloneString(p.Progress)
	}
	if p.VideoURL != nil {
		j.VideoURL = cloneString(p.VideoURL)
	}
	if p.Error != nil {
		msg := *p.Error
		if strings.TrimSpace(msg) == "" {
			msg = "unknown error"
		}
		j.Error = &msg
	}
	j.UpdatedAt = now.UTC()
	return nil
}

// Patch helpers used by the orchestrator and the reconciler.

func ProgressPatch(progress string) JobPatch {
	return JobPatch{Progress: &progress}
}

func ProcessingPatch(progress string) JobPatch {
	st := StatusProcessing
	return JobPatch{Status: &st, Progress: &progress}
}

// ClaimPatch moves a pending job to processing. Two workers racing on the
// same id cannot both succeed.
func ClaimPatch(progress string) JobPatch {
	p := ProcessingPatch(progress)
	pending := StatusPending
	p.IfStatus = &pending
	return p
}

// StaleFailPatch fails a job only if it is still processing.
func StaleFailPatch(msg string) JobPatch {
	p := FailedPatch(msg)
	processing := StatusProcessing
	p.IfStatus = &processing
	return p
}

func CompletedPatch(videoURL string) JobPatch {
	st := StatusCompleted
	done := ProgressDone
	return JobPatch{Status: &st, VideoURL: &videoURL, Progress: &done}
}

func FailedPatch(msg string) JobPatch {
	st := StatusFailed
	return JobPatch{Status: &st, Error: &msg}
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
