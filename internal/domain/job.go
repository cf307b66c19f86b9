package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	SourceTypeLocalFile   = "local_file"
	SourceTypeS3Presigned = "s3_presigned"
)

type CreateJobRequest struct {
	SourceType string    `json:"source_type"`
	WebhookURL string    `json:"webhook_url,omitempty"`
	ObjectKey  string    `json:"object_key,omitempty"`
	Variants   []Variant `json:"variants"`
}

type Job struct {
	ID         string          `json:"job_id"`
	UserID     string          `json:"user_id,omitempty"`
	Status     string          `json:"status"`
	SourceType string          `json:"source_type"`
	WebhookURL string          `json:"webhook_url,omitempty"`
	Variants   []Variant       `json:"variants"`
	ObjectKey  string          `json:"object_key"`
	Outputs    []VariantOutput `json:"outputs,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// VariantOutput describes one emitted artifact of a job.
type VariantOutput struct {
	VariantID string   `json:"variant_id"`
	Format    string   `json:"format"`
	Path      string   `json:"path"`
	Bytes     int      `json:"bytes"`
	Width     int      `json:"width"`
	Height    int      `json:"height"`
	Warnings  []string `json:"warnings,omitempty"`
	Success   bool     `json:"success"`
}

func (j Job) Terminal() bool {
	return j.Status == JobStatusSucceeded || j.Status == JobStatusFailed
}

// Validate checks the request shape. Variants that name a preset are only
// checked for an id here; their policies are validated after resolution.
func (r CreateJobRequest) Validate() error {
	sourceType := strings.ToLower(strings.TrimSpace(r.SourceType))
	if sourceType == "" {
		return errors.New("source_type is required")
	}
	if sourceType != SourceTypeLocalFile && sourceType != SourceTypeS3Presigned {
		return fmt.Errorf("unsupported source_type: %s", r.SourceType)
	}
	if sourceType == SourceTypeLocalFile && strings.TrimSpace(r.ObjectKey) == "" {
		return errors.New("object_key is required for source_type=local_file")
	}
	if len(r.Variants) == 0 {
		return errors.New("variants must contain at least one entry")
	}

	seen := make(map[string]struct{}, len(r.Variants))
	for i, variant := range r.Variants {
		id := strings.TrimSpace(variant.ID)
		if id == "" {
			return fmt.Errorf("variants[%d].id is required", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("variants[%d].id %q is duplicated", i, id)
		}
		seen[id] = struct{}{}

		if strings.TrimSpace(variant.Preset) != "" {
			continue
		}
		if err := ValidatePolicies(variant.Resize, variant.Output); err != nil {
			return fmt.Errorf("variants[%d]: %w", i, err)
		}
	}
	return nil
}
