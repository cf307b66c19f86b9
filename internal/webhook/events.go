package webhook

import (
	"time"

	"github.com/dunamismax/pixelnorm/internal/domain"
)

const (
	EventJobCompleted = "job.completed"
	EventJobFailed    = "job.failed"
)

// JobEvent is the body of every job webhook.
type JobEvent struct {
	JobID       string                 `json:"job_id"`
	Status      string                 `json:"status"`
	SourceType  string                 `json:"source_type"`
	ObjectKey   string                 `json:"object_key"`
	RequestedAt time.Time              `json:"requested_at"`
	FinishedAt  time.Time              `json:"finished_at"`
	Outputs     []domain.VariantOutput `json:"outputs,omitempty"`
	BytesSaved  int64                  `json:"bytes_saved,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Fatal       bool                   `json:"fatal,omitempty"`
}

func (e JobEvent) Name() string {
	if e.Status == domain.JobStatusSucceeded {
		return EventJobCompleted
	}
	return EventJobFailed
}
