package foundation

import (
	"fmt"
	"strings"

	"github.com/jengzang/geotrust/internal/config"
	"github.com/jengzang/geotrust/internal/models"
	"github.com/jengzang/geotrust/internal/spatial"
	"github.com/jengzang/geotrust/internal/stats"
)

// Term weights of the plausibility score
const (
	speedWeight    = 0.4
	accuracyWeight = 0.3
	jumpWeight     = 0.3
)

// SpoofingResult is the verdict for a single reading
type SpoofingResult struct {
	IsSpoofed bool
	Score     float64
	Reasons   []string
}

// Reason joins the triggered term messages; empty when nothing triggered
func (r SpoofingResult) Reason() string {
	return strings.Join(r.Reasons, "; ")
}

// SpoofingScorer scores a reading against the user's last accepted reading.
// It holds no state besides its thresholds and is safe for concurrent use.
type SpoofingScorer struct {
	cfg config.SpoofingConfig
}

// NewSpoofingScorer creates a scorer with the given thresholds
func NewSpoofingScorer(cfg config.SpoofingConfig) *SpoofingScorer {
	return &SpoofingScorer{cfg: cfg}
}

// Score computes the weighted plausibility score. Missing optional fields on
// current are excluded from their term. previous may be nil.
func (s *SpoofingScorer) Score(current models.Reading, previous *models.Reading) SpoofingResult {
	var (
		score   float64
		reasons []string
	)

	if v, reason, ok := s.speedTerm(current); ok {
		score += speedWeight * v
		reasons = append(reasons, reason)
	}
	if v, reason, ok := s.accuracyTerm(current); ok {
		score += accuracyWeight * v
		reasons = append(reasons, reason)
	}
	if previous != nil {
		if v, reason, ok := s.jumpTerm(current, *previous); ok {
			score += jumpWeight * v
			reasons = append(reasons, reason)
		}
	}

	score = stats.Clamp01(score)
	return SpoofingResult{
		IsSpoofed: score > s.cfg.Threshold,
		Score:     score,
		Reasons:   reasons,
	}
}

// Classify validates and scores the reading, producing its classified form
func (s *SpoofingScorer) Classify(current models.Reading, previous *models.Reading) (models.ClassifiedReading, error) {
	if err := current.Validate(); err != nil {
		return models.ClassifiedReading{}, err
	}
	res := s.Score(current, previous)
	return models.ClassifiedReading{
		Reading:     current,
		IsSpoofed:   res.IsSpoofed,
		SpoofScore:  res.Score,
		SpoofReason: res.Reason(),
	}, nil
}

func (s *SpoofingScorer) speedTerm(r models.Reading) (float64, string, bool) {
	if r.SpeedMPS == nil || *r.SpeedMPS <= s.cfg.SpeedThresholdMPS {
		return 0, "", false
	}
	speed := *r.SpeedMPS
	return stats.Clamp01(speed / (2 * s.cfg.SpeedThresholdMPS)),
		fmt.Sprintf("unrealistic speed: %.2f m/s", speed), true
}

func (s *SpoofingScorer) accuracyTerm(r models.Reading) (float64, string, bool) {
	if r.AccuracyMeters == nil || *r.AccuracyMeters <= s.cfg.AccuracyThresholdMeters {
		return 0, "", false
	}
	acc := *r.AccuracyMeters
	t := s.cfg.AccuracyThresholdMeters
	return stats.Clamp01((acc - t) / t), fmt.Sprintf("low accuracy: %.2f m", acc), true
}

// jumpTerm flags teleport-like displacements between closely spaced readings.
// A missing previous speed counts as zero for the plausibility bound only.
func (s *SpoofingScorer) jumpTerm(cur, prev models.Reading) (float64, string, bool) {
	dt := cur.Timestamp.Sub(prev.Timestamp)
	if dt <= 0 || dt >= s.cfg.JumpWindow {
		return 0, "", false
	}

	d := spatial.GeodesicDistance(prev.Point(), cur.Point())
	var prevSpeed float64
	if prev.SpeedMPS != nil {
		prevSpeed = *prev.SpeedMPS
	}
	maxPlausible := prevSpeed*dt.Seconds() + s.cfg.JumpSlackMeters
	if d <= 2*maxPlausible {
		return 0, "", false
	}
	return stats.Clamp01(d / (10 * maxPlausible)),
		fmt.Sprintf("sudden jump: %.2f m in %.1f s", d, dt.Seconds()), true
}
