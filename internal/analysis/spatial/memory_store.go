package spatial

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jengzang/geotrust/internal/models"
	"github.com/rotisserie/eris"
)

// MemoryStore keeps visits and area discoveries in process memory. It backs
// tests and hosts that persist through another channel.
type MemoryStore struct {
	mu          sync.RWMutex
	visits      map[string]models.Visit
	discoveries map[discoveryKey]models.AreaDiscovery
}

type discoveryKey struct {
	userID   int64
	regionID string
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		visits:      make(map[string]models.Visit),
		discoveries: make(map[discoveryKey]models.AreaDiscovery),
	}
}

// OpenVisit implements VisitStore
func (s *MemoryStore) OpenVisit(_ context.Context, userID int64, regionID string) (*models.Visit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.visits {
		if v.UserID == userID && v.RegionID == regionID && v.IsOpen() {
			out := v
			return &out, nil
		}
	}
	return nil, nil
}

// OpenVisits implements VisitStore
func (s *MemoryStore) OpenVisits(_ context.Context, userID int64) ([]models.Visit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Visit
	for _, v := range s.visits {
		if v.UserID == userID && v.IsOpen() {
			out = append(out, v)
		}
	}
	sortVisits(out)
	return out, nil
}

// GetVisit implements VisitStore
func (s *MemoryStore) GetVisit(_ context.Context, id string) (*models.Visit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.visits[id]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

// SaveVisit implements VisitStore. It refuses a second open visit for the
// same (user, region).
func (s *MemoryStore) SaveVisit(_ context.Context, v models.Visit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v.IsOpen() {
		for id, other := range s.visits {
			if id != v.ID && other.UserID == v.UserID && other.RegionID == v.RegionID && other.IsOpen() {
				return eris.Wrapf(ErrVisitAlreadyOpen, "user %d region %s", v.UserID, v.RegionID)
			}
		}
	}
	s.visits[v.ID] = v
	return nil
}

// IdleVisits implements VisitStore
func (s *MemoryStore) IdleVisits(_ context.Context, lastSeenBefore time.Time) ([]models.Visit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Visit
	for _, v := range s.visits {
		if v.IsOpen() && v.LastSeenAt.Before(lastSeenBefore) {
			out = append(out, v)
		}
	}
	sortVisits(out)
	return out, nil
}

// UserVisits returns all visits of a user, oldest first
func (s *MemoryStore) UserVisits(userID int64) []models.Visit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Visit
	for _, v := range s.visits {
		if v.UserID == userID {
			out = append(out, v)
		}
	}
	sortVisits(out)
	return out
}

// GetDiscovery implements DiscoveryStore
func (s *MemoryStore) GetDiscovery(_ context.Context, userID int64, regionID string) (*models.AreaDiscovery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.discoveries[discoveryKey{userID: userID, regionID: regionID}]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

// SaveDiscovery implements DiscoveryStore
func (s *MemoryStore) SaveDiscovery(_ context.Context, d models.AreaDiscovery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discoveries[discoveryKey{userID: d.UserID, regionID: d.RegionID}] = d
	return nil
}

func sortVisits(visits []models.Visit) {
	sort.Slice(visits, func(i, j int) bool {
		if visits[i].StartedAt.Equal(visits[j].StartedAt) {
			return visits[i].ID < visits[j].ID
		}
		return visits[i].StartedAt.Before(visits[j].StartedAt)
	})
}
