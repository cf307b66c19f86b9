package store

import (
	"context"
	"errors"

	"github.com/dunamismax/pixelnorm/internal/domain"
)

var ErrJobNotFound = errors.New("job not found")

type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Job, error)
	// Finish moves a job to a terminal status and records its outputs or the
	// failure message.
	Finish(ctx context.Context, id, status string, outputs []domain.VariantOutput, errMsg string) (domain.Job, error)
}

type UsageStore interface {
	CreateUsageLog(ctx context.Context, usage domain.UsageLog) error
	UsageTotals(ctx context.Context, userID string) (domain.UsageTotals, error)
}
