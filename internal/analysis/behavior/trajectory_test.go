package behavior

import (
	"testing"
	"time"

	"github.com/jengzang/geotrust/internal/config"
	"github.com/jengzang/geotrust/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func at(i int, speed *float64) models.Reading {
	return models.Reading{
		UserID:    7,
		SessionID: 3,
		Latitude:  55.75 + float64(i)*0.0001,
		Longitude: 37.62,
		SpeedMPS:  speed,
		Timestamp: t0.Add(time.Duration(i) * time.Minute),
	}
}

func TestClassifyMode(t *testing.T) {
	cfg := config.Default().Trajectory

	tests := []struct {
		name   string
		speeds []*float64
		want   MovementMode
	}{
		{"no readings", nil, ModePedestrian},
		{"no speeds", []*float64{nil, nil}, ModePedestrian},
		{"walking", []*float64{models.Float64(1), models.Float64(1.5)}, ModePedestrian},
		{"at threshold", []*float64{models.Float64(25 / 3.6)}, ModeTransit},
		{"missing values ignored", []*float64{nil, models.Float64(12), nil, models.Float64(10)}, ModeTransit},
		{"zero speeds count", []*float64{models.Float64(0), models.Float64(0), models.Float64(15)}, ModePedestrian},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var readings []models.Reading
			for i, s := range tt.speeds {
				readings = append(readings, at(i, s))
			}
			assert.Equal(t, tt.want, ClassifyMode(readings, cfg))
		})
	}
}

func TestClassifyMode_UsesLastWindow(t *testing.T) {
	cfg := config.Default().Trajectory
	var readings []models.Reading
	for i := 0; i < 20; i++ {
		readings = append(readings, at(i, models.Float64(30)))
	}
	for i := 20; i < 30; i++ {
		readings = append(readings, at(i, models.Float64(1)))
	}
	assert.Equal(t, ModePedestrian, ClassifyMode(readings, cfg))
}

func TestBuilder_SortsOutOfOrderInput(t *testing.T) {
	b := NewTrajectoryBuilder(config.Default().Trajectory)
	b.Add(at(2, nil))
	b.Add(at(0, nil))
	tr := b.Add(at(1, nil))

	require.Len(t, tr.Readings, 3)
	for i := 1; i < len(tr.Readings); i++ {
		assert.True(t, tr.Readings[i-1].Timestamp.Before(tr.Readings[i].Timestamp))
	}
	assert.True(t, tr.HasSegments())
	assert.Greater(t, tr.Length(), 0.0)
}

func TestBuilder_SinglePointHasNoLength(t *testing.T) {
	b := NewTrajectoryBuilder(config.Default().Trajectory)
	tr := b.Add(at(0, nil))
	assert.False(t, tr.HasSegments())
	assert.Zero(t, tr.Length())
}

func TestBuilder_DuplicatesAndBounds(t *testing.T) {
	cfg := config.Default().Trajectory
	cfg.MaxPoints = 3
	b := NewTrajectoryBuilder(cfg)

	b.Add(at(0, nil))
	tr := b.Add(at(0, nil))
	assert.Len(t, tr.Readings, 1)

	for i := 1; i < 6; i++ {
		tr = b.Add(at(i, nil))
	}
	require.Len(t, tr.Readings, 3)
	assert.Equal(t, t0.Add(3*time.Minute), tr.Readings[0].Timestamp)
}

func TestBuilder_SessionsAreIsolated(t *testing.T) {
	b := NewTrajectoryBuilder(config.Default().Trajectory)
	r := at(0, nil)
	b.Add(r)
	r.SessionID = 4
	b.Add(r)
	assert.Equal(t, 2, b.Sessions())

	b.EndSession(7, 3)
	assert.Equal(t, 1, b.Sessions())
	assert.Empty(t, b.Get(7, 3).Readings)
	assert.Len(t, b.Get(7, 4).Readings, 1)
}

func TestModes_ClassifiesEachPrefix(t *testing.T) {
	cfg := config.Default().Trajectory
	var readings []models.Reading
	for i := 0; i < 12; i++ {
		readings = append(readings, at(i, models.Float64(20)))
	}
	for i := 12; i < 24; i++ {
		readings = append(readings, at(i, models.Float64(1)))
	}

	modes := Modes(readings, cfg)
	require.Len(t, modes, len(readings))
	assert.Equal(t, ModeTransit, modes[0])
	assert.Equal(t, ModeTransit, modes[12])
	assert.Equal(t, ModePedestrian, modes[23])
	assert.Equal(t, ClassifyMode(readings, cfg), modes[len(modes)-1])
	assert.Empty(t, Modes(nil, cfg))
}

func TestBuilder_SweepIdle(t *testing.T) {
	clock := t0
	b := NewTrajectoryBuilder(config.Default().Trajectory).WithClock(func() time.Time { return clock })

	b.Add(at(0, nil))
	clock = clock.Add(90 * time.Minute)
	other := at(1, nil)
	other.SessionID = 4
	b.Add(other)
	require.Equal(t, 2, b.Sessions())

	assert.Equal(t, 1, b.SweepIdle(clock.Add(time.Hour), time.Hour+30*time.Minute))
	assert.Equal(t, 1, b.Sessions())
	assert.Empty(t, b.Get(7, 3).Readings)
	assert.Len(t, b.Get(7, 4).Readings, 1)
}
