package temporal

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/jengzang/geotrust/internal/analysis"
	"github.com/jengzang/geotrust/internal/config"
	"github.com/jengzang/geotrust/internal/models"
	"github.com/jengzang/geotrust/internal/spatial"
	"github.com/jengzang/geotrust/internal/stats"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Confidence weights shared by the home and work rules.
const (
	patternWeight = 0.5
	spanWeight    = 0.3
	weekWeight    = 0.2

	// geohash cells must be somewhat wider than the radius so that the 3x3
	// neighbourhood of a seed covers its whole search circle.
	bucketMargin = 1.25
)

// EstimateStore persists home/work estimates. UpsertEstimate must merge the
// candidate into the stored estimate for (user, kind) atomically.
type EstimateStore interface {
	UpsertEstimate(ctx context.Context, candidate models.HomeWorkEstimate) (models.HomeWorkEstimate, error)
	ListEstimates(ctx context.Context, userID int64) ([]models.HomeWorkEstimate, error)
}

// Cluster is a group of readings within the cluster radius of a seed reading.
type Cluster struct {
	Readings     []models.Reading
	Centroid     spatial.Point
	First        time.Time
	Last         time.Time
	NightCount   int
	DayCount     int
	WeekendCount int
}

// SpanMinutes is the whole minutes between the first and last reading
func (c Cluster) SpanMinutes() int {
	return int(c.Last.Sub(c.First) / time.Minute)
}

// Candidate is a scored cluster that passed one of the home/work rules.
type Candidate struct {
	Kind       models.LocationKind
	Cluster    Cluster
	Confidence float64
}

// HomeWorkClusterer infers a user's home and work places from historical
// accepted readings.
type HomeWorkClusterer struct {
	cfg   config.HomeWorkConfig
	loc   *time.Location
	store EstimateStore
	now   func() time.Time
}

// NewHomeWorkClusterer creates a clusterer. Hours are evaluated in the
// configured time zone.
func NewHomeWorkClusterer(cfg config.HomeWorkConfig, store EstimateStore) *HomeWorkClusterer {
	return &HomeWorkClusterer{
		cfg:   cfg,
		loc:   cfg.Location(),
		store: store,
		now:   time.Now,
	}
}

// WithClock overrides the wall clock used for LastUpdatedAt
func (c *HomeWorkClusterer) WithClock(now func() time.Time) *HomeWorkClusterer {
	c.now = now
	return c
}

// Run clusters the readings of userID inside [windowStart, windowEnd), scores
// the clusters and upserts at most one estimate per kind. Cancellation is
// checked between clusters. Too little input yields an empty result.
func (c *HomeWorkClusterer) Run(ctx context.Context, userID int64, windowStart, windowEnd time.Time, readings []models.Reading, progress analysis.ProgressFunc) ([]models.HomeWorkEstimate, error) {
	var inWindow []models.Reading
	for _, r := range readings {
		if r.UserID != userID || r.Timestamp.Before(windowStart) || !r.Timestamp.Before(windowEnd) {
			continue
		}
		if !r.Point().Valid() {
			continue
		}
		inWindow = append(inWindow, r)
	}
	if len(inWindow) < c.cfg.MinVisits {
		progress.Report(0, 0, "not enough readings")
		return nil, nil
	}

	clusters, err := c.Cluster(ctx, inWindow)
	if err != nil {
		return nil, err
	}

	best := make(map[models.LocationKind]Candidate, 2)
	for i, cl := range clusters {
		if err := analysis.Checkpoint(ctx, "scoring"); err != nil {
			return nil, err
		}
		progress.Report(i+1, len(clusters), "scoring clusters")

		cand, ok := c.Score(cl)
		if !ok {
			continue
		}
		if cur, seen := best[cand.Kind]; !seen || cand.Confidence > cur.Confidence {
			best[cand.Kind] = cand
		}
	}

	var out []models.HomeWorkEstimate
	for _, kind := range []models.LocationKind{models.LocationKindHome, models.LocationKindWork} {
		cand, ok := best[kind]
		if !ok {
			continue
		}
		if err := analysis.Checkpoint(ctx, "upsert"); err != nil {
			return out, err
		}
		saved, err := c.store.UpsertEstimate(ctx, c.estimateFor(userID, cand))
		if err != nil {
			return out, eris.Wrapf(err, "home/work: upsert %s estimate for user %d", kind, userID)
		}
		out = append(out, saved)
	}

	zap.L().Info("home/work analysis finished",
		zap.Int64("user_id", userID),
		zap.Int("readings", len(inWindow)),
		zap.Int("clusters", len(clusters)),
		zap.Int("estimates", len(out)),
	)
	return out, nil
}

// Cluster groups readings greedily: seeds are taken in timestamp order and
// absorb every unassigned reading within the radius. Clusters smaller than
// MinVisits are dropped.
func (c *HomeWorkClusterer) Cluster(ctx context.Context, readings []models.Reading) ([]Cluster, error) {
	sorted := make([]models.Reading, len(readings))
	copy(sorted, readings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	buckets := newBucketIndex(sorted, c.cfg.RadiusMeters)
	used := make([]bool, len(sorted))
	var clusters []Cluster

	for i := range sorted {
		if used[i] {
			continue
		}
		if err := analysis.Checkpoint(ctx, "clustering"); err != nil {
			return nil, err
		}

		seed := sorted[i].Point()
		used[i] = true
		members := []int{i}
		for _, j := range buckets.candidates(seed) {
			if used[j] {
				continue
			}
			if spatial.GeodesicDistance(seed, sorted[j].Point()) <= c.cfg.RadiusMeters {
				used[j] = true
				members = append(members, j)
			}
		}
		if len(members) < c.cfg.MinVisits {
			continue
		}

		sort.Ints(members)
		group := make([]models.Reading, len(members))
		for k, idx := range members {
			group[k] = sorted[idx]
		}
		clusters = append(clusters, c.describe(group))
	}
	return clusters, nil
}

// Score applies the home rule and then the work rule to a cluster. A cluster
// yields at most one kind, and only with confidence above MinConfidence.
func (c *HomeWorkClusterer) Score(cl Cluster) (Candidate, bool) {
	total := len(cl.Readings)
	if total == 0 {
		return Candidate{}, false
	}
	span := cl.SpanMinutes()
	if float64(span) < c.cfg.MinMinutes {
		return Candidate{}, false
	}
	spanScore := stats.Clamp01(float64(span) / (2 * c.cfg.MinMinutes))
	weekendRatio := stats.Ratio(cl.WeekendCount, total)

	var cand Candidate
	nightRatio := stats.Ratio(cl.NightCount, total)
	dayRatio := stats.Ratio(cl.DayCount, total)
	switch {
	case cl.NightCount >= c.cfg.MinVisits && nightRatio >= c.cfg.MinPatternRatio && cl.WeekendCount > 0:
		cand = Candidate{
			Kind:       models.LocationKindHome,
			Confidence: confidence(nightRatio, spanScore, weekendRatio),
		}
	case cl.DayCount >= c.cfg.MinVisits && dayRatio >= c.cfg.MinPatternRatio && weekendRatio < c.cfg.MaxWorkWeekendRatio:
		cand = Candidate{
			Kind:       models.LocationKindWork,
			Confidence: confidence(dayRatio, spanScore, 1-weekendRatio),
		}
	default:
		return Candidate{}, false
	}

	if cand.Confidence <= c.cfg.MinConfidence {
		return Candidate{}, false
	}
	cand.Cluster = cl
	return cand, true
}

func confidence(pattern, span, week float64) float64 {
	return stats.Clamp01(patternWeight*stats.Clamp01(pattern) +
		spanWeight*stats.Clamp01(span) +
		weekWeight*stats.Clamp01(week))
}

func (c *HomeWorkClusterer) describe(group []models.Reading) Cluster {
	points := make([]spatial.Point, len(group))
	cl := Cluster{
		Readings: group,
		First:    group[0].Timestamp,
		Last:     group[len(group)-1].Timestamp,
	}
	for i, r := range group {
		points[i] = r.Point()
		local := r.Timestamp.In(c.loc)
		hour := local.Hour()
		if hour >= 22 || hour <= 6 {
			cl.NightCount++
		}
		if hour >= 8 && hour <= 18 {
			cl.DayCount++
		}
		if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
			cl.WeekendCount++
		}
	}
	cl.Centroid = spatial.Centroid(points)
	return cl
}

func (c *HomeWorkClusterer) estimateFor(userID int64, cand Candidate) models.HomeWorkEstimate {
	now := c.now()
	return models.HomeWorkEstimate{
		UserID:          userID,
		Kind:            cand.Kind,
		Latitude:        cand.Cluster.Centroid.Lat,
		Longitude:       cand.Cluster.Centroid.Lon,
		RadiusMeters:    c.cfg.RadiusMeters,
		Confidence:      cand.Confidence,
		VisitCount:      len(cand.Cluster.Readings),
		TotalMinutes:    cand.Cluster.SpanMinutes(),
		FirstDetectedAt: cand.Cluster.First,
		LastUpdatedAt:   now,
	}
}

// bucketIndex groups reading indexes by geohash cell. A nil map means the
// radius is too large for any precision and every reading is a candidate.
type bucketIndex struct {
	precision int
	cells     map[string][]int
	all       []int
}

func newBucketIndex(readings []models.Reading, radius float64) *bucketIndex {
	idx := &bucketIndex{all: make([]int, len(readings))}
	if len(readings) == 0 {
		return idx
	}

	// cells narrow towards the poles, so size them at the extreme latitude
	extreme := readings[0].Point()
	for i, r := range readings {
		idx.all[i] = i
		if math.Abs(r.Latitude) > math.Abs(extreme.Lat) {
			extreme = r.Point()
		}
	}
	idx.precision = spatial.GeohashPrecisionForRadius(extreme, radius*bucketMargin)
	if idx.precision == 0 {
		return idx
	}

	idx.cells = make(map[string][]int)
	for i, r := range readings {
		h := spatial.EncodeGeohash(r.Point(), idx.precision)
		idx.cells[h] = append(idx.cells[h], i)
	}
	return idx
}

// candidates returns reading indexes in ascending order
func (b *bucketIndex) candidates(p spatial.Point) []int {
	if b.cells == nil {
		return b.all
	}
	var out []int
	for _, h := range spatial.GeohashNeighbors(spatial.EncodeGeohash(p, b.precision)) {
		out = append(out, b.cells[h]...)
	}
	sort.Ints(out)
	return out
}

// MemoryEstimateStore keeps estimates in process memory
type MemoryEstimateStore struct {
	mu        sync.RWMutex
	estimates map[estimateKey]models.HomeWorkEstimate
}

type estimateKey struct {
	userID int64
	kind   models.LocationKind
}

// NewMemoryEstimateStore creates an empty store
func NewMemoryEstimateStore() *MemoryEstimateStore {
	return &MemoryEstimateStore{estimates: make(map[estimateKey]models.HomeWorkEstimate)}
}

// UpsertEstimate implements EstimateStore
func (s *MemoryEstimateStore) UpsertEstimate(_ context.Context, candidate models.HomeWorkEstimate) (models.HomeWorkEstimate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := estimateKey{userID: candidate.UserID, kind: candidate.Kind}
	next := candidate
	if existing, ok := s.estimates[key]; ok {
		next = existing.Merge(candidate)
	}
	s.estimates[key] = next
	return next, nil
}

// ListEstimates implements EstimateStore
func (s *MemoryEstimateStore) ListEstimates(_ context.Context, userID int64) ([]models.HomeWorkEstimate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.HomeWorkEstimate
	for _, kind := range []models.LocationKind{models.LocationKindHome, models.LocationKindWork} {
		if e, ok := s.estimates[estimateKey{userID: userID, kind: kind}]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}
