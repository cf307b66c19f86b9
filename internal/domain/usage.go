package domain

import "time"

type UsageLog struct {
	UserID          string
	JobID           string
	PixelsProcessed int64
	BytesSaved      int64
	ComputeTimeMS   int64
	CreatedAt       time.Time
}

type UsageTotals struct {
	UserID          string `json:"user_id"`
	Jobs            int64  `json:"jobs"`
	PixelsProcessed int64  `json:"pixels_processed"`
	BytesSaved      int64  `json:"bytes_saved"`
	ComputeTimeMS   int64  `json:"compute_time_ms"`
}
