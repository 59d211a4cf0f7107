package analysis

import (
	"context"

	"github.com/rotisserie/eris"
)

// Progress represents the progress of a batch analysis
type Progress struct {
	Processed int     `json:"processed"` // Number of units processed
	Total     int     `json:"total"`     // Total number of units to process
	Percent   float64 `json:"percent"`   // Progress percentage (0-100)
	Message   string  `json:"message,omitempty"`
}

// NewProgress computes the percentage for processed out of total
func NewProgress(processed, total int, message string) Progress {
	percent := 0.0
	if total > 0 {
		percent = float64(processed) / float64(total) * 100.0
	}
	if percent > 100 {
		percent = 100
	}
	return Progress{Processed: processed, Total: total, Percent: percent, Message: message}
}

// ProgressFunc receives progress updates from a running analysis
type ProgressFunc func(Progress)

// Report sends an update. A nil ProgressFunc discards it.
func (f ProgressFunc) Report(processed, total int, message string) {
	if f == nil {
		return
	}
	f(NewProgress(processed, total, message))
}

// Checkpoint returns a wrapped context error once ctx is done. Batch
// analyzers call it between units of work.
func Checkpoint(ctx context.Context, stage string) error {
	select {
	case <-ctx.Done():
		return eris.Wrapf(ctx.Err(), "analysis cancelled during %s", stage)
	default:
		return nil
	}
}
