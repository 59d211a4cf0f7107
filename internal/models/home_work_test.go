package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHomeWorkEstimate_Merge(t *testing.T) {
	first := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	existing := HomeWorkEstimate{
		UserID: 7, Kind: LocationKindHome,
		Latitude: 55.75, Longitude: 37.61, RadiusMeters: 200,
		Confidence: 0.9, VisitCount: 20, TotalMinutes: 300,
		FirstDetectedAt: first, LastUpdatedAt: first, Confirmed: true,
	}
	candidate := HomeWorkEstimate{
		UserID: 7, Kind: LocationKindHome,
		Latitude: 55.76, Longitude: 37.62, RadiusMeters: 200,
		Confidence: 0.7, VisitCount: 10, TotalMinutes: 120,
		FirstDetectedAt: first.AddDate(0, 0, 20), LastUpdatedAt: first.AddDate(0, 0, 30),
	}

	merged := existing.Merge(candidate)
	assert.Equal(t, 0.9, merged.Confidence)
	assert.Equal(t, 30, merged.VisitCount)
	assert.Equal(t, 420, merged.TotalMinutes)
	assert.Equal(t, 55.76, merged.Latitude)
	assert.Equal(t, 37.62, merged.Longitude)
	assert.Equal(t, first, merged.FirstDetectedAt)
	assert.Equal(t, candidate.LastUpdatedAt, merged.LastUpdatedAt)
	assert.True(t, merged.Confirmed)

	candidate.Confidence = 0.95
	assert.Equal(t, 0.95, existing.Merge(candidate).Confidence)
}
