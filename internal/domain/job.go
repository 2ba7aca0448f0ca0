// Package domain holds the core types shared by the deck processing packages.
package domain

import (
	"time"
)

// JobState is the lifecycle state of a conversion job.
type JobState string

const (
	JobStateQueued     JobState = "queued"
	JobStateProcessing JobState = "processing"
	JobStateCompleted  JobState = "completed"
	JobStateFailed     JobState = "failed"
)

// IsTerminal reports whether no further processing happens in this state.
func (s JobState) IsTerminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// JobOptions are the caller supplied processing parameters.
type JobOptions struct {
	SourceLanguage     string `json:"source_language,omitempty"`
	TargetLanguage     string `json:"target_language,omitempty"`
	GenerateThumbnails bool   `json:"generate_thumbnails"`
}

// CacheParams is the canonical parameter set that participates in the cache key.
func (o JobOptions) CacheParams() map[string]string {
	thumbs := "false"
	if o.GenerateThumbnails {
		thumbs = "true"
	}
	return map[string]string{
		"source_language":     o.SourceLanguage,
		"target_language":     o.TargetLanguage,
		"generate_thumbnails": thumbs,
	}
}

// Job is one request to convert one source document. Immutable after enqueue.
type Job struct {
	ID         string     `json:"job_id"`
	SessionID  string     `json:"session_id"`
	SourcePath string     `json:"source_path"`
	Options    JobOptions `json:"options"`
	CreatedAt  time.Time  `json:"created_at"`
}

// JobStatus is the mutable projection of a job's progress.
type JobStatus struct {
	JobID          string     `json:"job_id"`
	SessionID      string     `json:"session_id"`
	State          JobState   `json:"status"`
	Progress       int        `json:"progress"`
	CurrentStage   string     `json:"current_stage,omitempty"`
	Message        string     `json:"message,omitempty"`
	Error          string     `json:"error,omitempty"`
	ResultLocation string     `json:"result_location,omitempty"`
	SlideCount     int        `json:"slide_count,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// StatusUpdate is a partial change applied to a JobStatus. Nil fields are left untouched.
type StatusUpdate struct {
	State          *JobState
	Progress       *int
	CurrentStage   *string
	Message        *string
	Error          *string
	ResultLocation *string
	SlideCount     *int
}

// Ptr returns a pointer to v. Handy for building StatusUpdate values.
func Ptr[T any](v T) *T {
	return &v
}

// CanTransition reports whether a job may move from one state to another
// without an explicit retry.
func CanTransition(from, to JobState) bool {
	if from == to {
		return !from.IsTerminal()
	}
	switch from {
	case JobStateQueued:
		return to == JobStateProcessing
	case JobStateProcessing:
		return to == JobStateCompleted || to == JobStateFailed
	default:
		return false
	}
}
