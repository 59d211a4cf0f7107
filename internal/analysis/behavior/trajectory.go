package behavior

import (
	"sort"
	"sync"
	"time"

	"github.com/jengzang/geotrust/internal/config"
	"github.com/jengzang/geotrust/internal/models"
	"github.com/jengzang/geotrust/internal/spatial"
	"github.com/jengzang/geotrust/internal/stats"
)

// MovementMode classifies how fast a user has recently been moving
type MovementMode string

// MovementMode constants
const (
	ModePedestrian MovementMode = "pedestrian"
	ModeTransit    MovementMode = "transit"
)

// Trajectory is a timestamp-ordered run of accepted readings from one session
type Trajectory struct {
	UserID    int64
	SessionID int64
	Readings  []models.Reading
}

// NewTrajectory copies and sorts readings by timestamp
func NewTrajectory(userID, sessionID int64, readings []models.Reading) Trajectory {
	sorted := make([]models.Reading, len(readings))
	copy(sorted, readings)
	sortByTime(sorted)
	return Trajectory{UserID: userID, SessionID: sessionID, Readings: sorted}
}

// Points returns the polyline vertices
func (t Trajectory) Points() []spatial.Point {
	pts := make([]spatial.Point, len(t.Readings))
	for i, r := range t.Readings {
		pts[i] = r.Point()
	}
	return pts
}

// Length returns the geodesic length in meters; zero below two points
func (t Trajectory) Length() float64 {
	return spatial.PathLength(t.Points())
}

// HasSegments reports whether the trajectory can intersect anything
func (t Trajectory) HasSegments() bool {
	return len(t.Readings) >= 2
}

// ClassifyMode averages the reported speeds of the last window readings,
// ignoring readings without a speed. No speeds at all means pedestrian.
func ClassifyMode(readings []models.Reading, cfg config.TrajectoryConfig) MovementMode {
	start := len(readings) - cfg.Window
	if start < 0 {
		start = 0
	}

	var speeds []float64
	for _, r := range readings[start:] {
		if r.SpeedMPS != nil {
			speeds = append(speeds, *r.SpeedMPS)
		}
	}
	if len(speeds) == 0 {
		return ModePedestrian
	}
	if stats.Mean(speeds) >= cfg.TransitSpeedMPS {
		return ModeTransit
	}
	return ModePedestrian
}

// Modes classifies the movement mode at every reading, each over the window
// of readings ending at it.
func Modes(readings []models.Reading, cfg config.TrajectoryConfig) []MovementMode {
	out := make([]MovementMode, len(readings))
	for i := range readings {
		out[i] = ClassifyMode(readings[:i+1], cfg)
	}
	return out
}

type sessionKey struct {
	userID    int64
	sessionID int64
}

// TrajectoryBuilder keeps per-session buffers of accepted readings.
// Callers serialise work per user; the builder only guards its own map.
type TrajectoryBuilder struct {
	cfg config.TrajectoryConfig

	now func() time.Time

	mu       sync.Mutex
	sessions map[sessionKey]*sessionBuffer
}

type sessionBuffer struct {
	readings []models.Reading
	touched  time.Time
}

// NewTrajectoryBuilder creates a builder
func NewTrajectoryBuilder(cfg config.TrajectoryConfig) *TrajectoryBuilder {
	return &TrajectoryBuilder{
		cfg:      cfg,
		now:      time.Now,
		sessions: make(map[sessionKey]*sessionBuffer),
	}
}

// WithClock overrides the wall clock used to track session activity
func (b *TrajectoryBuilder) WithClock(now func() time.Time) *TrajectoryBuilder {
	b.now = now
	return b
}

// Add appends an accepted reading to its session and returns the updated
// trajectory. Exact duplicates are ignored. When the buffer exceeds
// MaxPoints the oldest readings are dropped.
func (b *TrajectoryBuilder) Add(r models.Reading) Trajectory {
	key := sessionKey{userID: r.UserID, sessionID: r.SessionID}

	b.mu.Lock()
	defer b.mu.Unlock()

	sb, ok := b.sessions[key]
	if !ok {
		sb = &sessionBuffer{}
		b.sessions[key] = sb
	}
	sb.touched = b.now()

	for _, existing := range sb.readings {
		if existing.Timestamp.Equal(r.Timestamp) && existing.Latitude == r.Latitude && existing.Longitude == r.Longitude {
			return b.snapshot(key, sb.readings)
		}
	}

	buf := append(sb.readings, r)
	sortByTime(buf)
	if b.cfg.MaxPoints > 0 && len(buf) > b.cfg.MaxPoints {
		buf = append([]models.Reading(nil), buf[len(buf)-b.cfg.MaxPoints:]...)
	}
	sb.readings = buf

	return b.snapshot(key, buf)
}

// Get returns the current trajectory of a session
func (b *TrajectoryBuilder) Get(userID, sessionID int64) Trajectory {
	key := sessionKey{userID: userID, sessionID: sessionID}

	b.mu.Lock()
	defer b.mu.Unlock()
	var buf []models.Reading
	if sb, ok := b.sessions[key]; ok {
		buf = sb.readings
	}
	return b.snapshot(key, buf)
}

// Modes classifies the movement mode at every reading of t
func (b *TrajectoryBuilder) Modes(t Trajectory) []MovementMode {
	return Modes(t.Readings, b.cfg)
}

// EndSession drops the session buffer
func (b *TrajectoryBuilder) EndSession(userID, sessionID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, sessionKey{userID: userID, sessionID: sessionID})
}

// SweepIdle drops sessions that received no reading within idle of now and
// returns how many were dropped.
func (b *TrajectoryBuilder) SweepIdle(now time.Time, idle time.Duration) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	dropped := 0
	for key, sb := range b.sessions {
		if now.Sub(sb.touched) > idle {
			delete(b.sessions, key)
			dropped++
		}
	}
	return dropped
}

// Sessions returns the number of buffered sessions
func (b *TrajectoryBuilder) Sessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

func (b *TrajectoryBuilder) snapshot(key sessionKey, buf []models.Reading) Trajectory {
	out := make([]models.Reading, len(buf))
	copy(out, buf)
	return Trajectory{UserID: key.userID, SessionID: key.sessionID, Readings: out}
}

func sortByTime(readings []models.Reading) {
	sort.SliceStable(readings, func(i, j int) bool {
		return readings[i].Timestamp.Before(readings[j].Timestamp)
	})
}
