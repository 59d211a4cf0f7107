package foundation

import (
	"testing"
	"time"

	"github.com/jengzang/geotrust/internal/config"
	"github.com/jengzang/geotrust/internal/models"
	"github.com/jengzang/geotrust/internal/spatial"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newScorer() *SpoofingScorer {
	return NewSpoofingScorer(config.Default().Spoofing)
}

func reading(lat, lon float64, at time.Time) models.Reading {
	return models.Reading{UserID: 1, SessionID: 1, Latitude: lat, Longitude: lon, Timestamp: at}
}

func TestScore_PlausibleReading(t *testing.T) {
	r := reading(55.75, 37.62, t0)
	r.SpeedMPS = models.Float64(1.4)
	r.AccuracyMeters = models.Float64(8)

	res := newScorer().Score(r, nil)
	assert.False(t, res.IsSpoofed)
	assert.Zero(t, res.Score)
	assert.Empty(t, res.Reason())
}

func TestScore_SpeedAloneIsCappedBelowThreshold(t *testing.T) {
	r := reading(55.75, 37.62, t0)
	r.SpeedMPS = models.Float64(150)

	res := newScorer().Score(r, nil)
	assert.InDelta(t, 0.4*0.75, res.Score, 1e-9)
	assert.False(t, res.IsSpoofed)
	assert.Contains(t, res.Reason(), "unrealistic speed")
}

func TestScore_FastTeleportIsSpoofed(t *testing.T) {
	prev := reading(55.75, 37.62, t0)
	prev.SpeedMPS = models.Float64(150)

	// 150 m/s for 5 s bounds plausible travel at 850 m; the reading is ~11 km away
	cur := reading(55.85, 37.62, t0.Add(5*time.Second))
	cur.SpeedMPS = models.Float64(150)

	res := newScorer().Score(cur, &prev)
	require.True(t, res.IsSpoofed)
	assert.InDelta(t, 0.4*0.75+0.3*1.0, res.Score, 1e-9)
	assert.Len(t, res.Reasons, 2)
	assert.Contains(t, res.Reason(), "; ")
	assert.Contains(t, res.Reason(), "sudden jump")
}

func TestScore_AccuracyTerm(t *testing.T) {
	tests := []struct {
		name     string
		accuracy *float64
		want     float64
	}{
		{"unknown accuracy is ignored", nil, 0},
		{"at threshold", models.Float64(1000), 0},
		{"half over", models.Float64(1500), 0.3 * 0.5},
		{"double", models.Float64(2000), 0.3},
		{"capped", models.Float64(10000), 0.3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := reading(0, 0, t0)
			r.AccuracyMeters = tt.accuracy
			assert.InDelta(t, tt.want, newScorer().Score(r, nil).Score, 1e-9)
		})
	}
}

func TestScore_JumpTerm(t *testing.T) {
	prev := reading(55.75, 37.62, t0)
	far := spatial.Point{Lat: 55.76, Lon: 37.62} // ~1112 m north

	tests := []struct {
		name      string
		dt        time.Duration
		prevSpeed *float64
		wantJump  bool
	}{
		{"missing previous speed counts as zero", 5 * time.Second, nil, true},
		{"fast previous reading explains distance", 5 * time.Second, models.Float64(200), false},
		{"outside the window", 10 * time.Second, nil, false},
		{"same timestamp", 0, nil, false},
		{"out of order", -3 * time.Second, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := prev
			p.SpeedMPS = tt.prevSpeed
			cur := reading(far.Lat, far.Lon, t0.Add(tt.dt))
			res := newScorer().Score(cur, &p)
			if tt.wantJump {
				// 1112 / (10 * 100) clamps to 1
				assert.InDelta(t, 0.3, res.Score, 1e-9)
				assert.Contains(t, res.Reason(), "sudden jump")
				return
			}
			assert.Zero(t, res.Score)
		})
	}
}

func TestScore_Deterministic(t *testing.T) {
	prev := reading(55.75, 37.62, t0)
	cur := reading(55.80, 37.70, t0.Add(3*time.Second))
	cur.SpeedMPS = models.Float64(130)
	cur.AccuracyMeters = models.Float64(1700)

	s := newScorer()
	first := s.Score(cur, &prev)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, s.Score(cur, &prev))
	}
}

func TestScore_MonotonicInSpeedAndAccuracy(t *testing.T) {
	s := newScorer()
	prev := reading(55.75, 37.62, t0)

	last := -1.0
	for speed := 0.0; speed <= 400; speed += 5 {
		cur := reading(55.751, 37.62, t0.Add(4*time.Second))
		cur.SpeedMPS = models.Float64(speed)
		score := s.Score(cur, &prev).Score
		require.GreaterOrEqual(t, score, last, "speed %v", speed)
		last = score
	}

	last = -1.0
	for acc := 1000.0; acc <= 5000; acc += 50 {
		cur := reading(55.751, 37.62, t0.Add(4*time.Second))
		cur.AccuracyMeters = models.Float64(acc)
		score := s.Score(cur, &prev).Score
		require.GreaterOrEqual(t, score, last, "accuracy %v", acc)
		last = score
	}
}

func TestClassify(t *testing.T) {
	s := newScorer()

	_, err := s.Classify(reading(91, 0, t0), nil)
	require.Error(t, err)
	assert.True(t, eris.Is(err, models.ErrReadingOutOfRange))

	_, err = s.Classify(reading(0, -180.5, t0), nil)
	assert.True(t, eris.Is(err, models.ErrReadingOutOfRange))

	r := reading(10, 10, t0)
	r.AccuracyMeters = models.Float64(3000)
	c, err := s.Classify(r, nil)
	require.NoError(t, err)
	assert.Equal(t, r, c.Reading)
	assert.False(t, c.IsSpoofed)
	assert.InDelta(t, 0.3, c.SpoofScore, 1e-9)
	assert.Equal(t, "low accuracy: 3000.00 m", c.SpoofReason)
}
