package service

import (
	"context"

	"github.com/jengzang/geotrust/internal/models"
)

// DiscoveryReader queries stored area discoveries
type DiscoveryReader interface {
	ListByUser(ctx context.Context, userID int64, filter models.DiscoveryFilter) ([]models.AreaDiscovery, int64, error)
	ListByRegion(ctx context.Context, regionID string) ([]models.AreaDiscovery, error)
}

// DiscoveryService answers area discovery queries
type DiscoveryService struct {
	discoveries DiscoveryReader
}

// NewDiscoveryService creates a new discovery service
func NewDiscoveryService(discoveries DiscoveryReader) *DiscoveryService {
	return &DiscoveryService{discoveries: discoveries}
}

// ForUser returns a page of a user's discoveries and the total count
func (s *DiscoveryService) ForUser(ctx context.Context, userID int64, filter models.DiscoveryFilter) ([]models.AreaDiscovery, int64, error) {
	return s.discoveries.ListByUser(ctx, userID, filter)
}

// ForRegion returns every user's discovery of a region
func (s *DiscoveryService) ForRegion(ctx context.Context, regionID string) ([]models.AreaDiscovery, error) {
	return s.discoveries.ListByRegion(ctx, regionID)
}
