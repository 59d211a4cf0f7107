package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	aspatial "github.com/jengzang/geotrust/internal/analysis/spatial"
	"github.com/jengzang/geotrust/internal/analysis/temporal"
	"github.com/jengzang/geotrust/internal/models"
)

// Persistence collaborators consumed by the engine.
type (
	VisitStore     = aspatial.VisitStore
	DiscoveryStore = aspatial.DiscoveryStore
	EstimateStore  = temporal.EstimateStore
)

// ReadingStore persists classified readings. LastAccepted returns nil without
// error when the user has no accepted reading yet.
type ReadingStore interface {
	SaveReading(ctx context.Context, r models.ClassifiedReading) (models.ClassifiedReading, error)
	LastAccepted(ctx context.Context, userID int64) (*models.Reading, error)
	AcceptedInWindow(ctx context.Context, userID int64, from, to time.Time) ([]models.Reading, error)
	SessionReadings(ctx context.Context, sessionID int64) ([]models.ClassifiedReading, error)
}

// Stores groups the collaborators. Nil members fall back to in-memory stores.
type Stores struct {
	Readings    ReadingStore
	Visits      VisitStore
	Discoveries DiscoveryStore
	Estimates   EstimateStore
}

func (s Stores) withDefaults() Stores {
	var mem *aspatial.MemoryStore
	if s.Visits == nil || s.Discoveries == nil {
		mem = aspatial.NewMemoryStore()
	}
	if s.Visits == nil {
		s.Visits = mem
	}
	if s.Discoveries == nil {
		s.Discoveries = mem
	}
	if s.Estimates == nil {
		s.Estimates = temporal.NewMemoryEstimateStore()
	}
	if s.Readings == nil {
		s.Readings = NewMemoryReadingStore()
	}
	return s
}

// MemoryReadingStore keeps classified readings in process memory
type MemoryReadingStore struct {
	mu       sync.RWMutex
	nextID   int64
	readings []models.ClassifiedReading
	last     map[int64]models.Reading
}

// NewMemoryReadingStore creates an empty store
func NewMemoryReadingStore() *MemoryReadingStore {
	return &MemoryReadingStore{last: make(map[int64]models.Reading)}
}

// SaveReading implements ReadingStore
func (s *MemoryReadingStore) SaveReading(_ context.Context, r models.ClassifiedReading) (models.ClassifiedReading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	r.ID = s.nextID
	s.readings = append(s.readings, r)
	if r.Accepted() {
		if prev, ok := s.last[r.UserID]; !ok || !r.Timestamp.Before(prev.Timestamp) {
			s.last[r.UserID] = r.Reading
		}
	}
	return r, nil
}

// LastAccepted implements ReadingStore
func (s *MemoryReadingStore) LastAccepted(_ context.Context, userID int64) (*models.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.last[userID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

// AcceptedInWindow implements ReadingStore
func (s *MemoryReadingStore) AcceptedInWindow(_ context.Context, userID int64, from, to time.Time) ([]models.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Reading
	for _, r := range s.readings {
		if r.UserID == userID && r.Accepted() && !r.Timestamp.Before(from) && r.Timestamp.Before(to) {
			out = append(out, r.Reading)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// SessionReadings implements ReadingStore
func (s *MemoryReadingStore) SessionReadings(_ context.Context, sessionID int64) ([]models.ClassifiedReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ClassifiedReading
	for _, r := range s.readings {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}
