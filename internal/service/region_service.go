package service

import (
	"context"

	aspatial "github.com/jengzang/geotrust/internal/analysis/spatial"
	"github.com/jengzang/geotrust/internal/catalog"
	"github.com/jengzang/geotrust/internal/models"
	"github.com/jengzang/geotrust/internal/spatial"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// RegionWriter persists validated catalog regions
type RegionWriter interface {
	UpsertAll(ctx context.Context, regions []models.Region) error
}

// ImportResult summarises a catalog import
type ImportResult struct {
	Imported int                        `json:"imported"`
	Rejected []aspatial.RegionLoadError `json:"rejected,omitempty"`
}

// RegionService keeps the region index in sync with the catalog
type RegionService struct {
	index    *aspatial.RegionIndex
	provider catalog.Provider
	writer   RegionWriter
}

// NewRegionService creates a region service. writer may be nil when the
// catalog is read-only.
func NewRegionService(index *aspatial.RegionIndex, provider catalog.Provider, writer RegionWriter) *RegionService {
	return &RegionService{index: index, provider: provider, writer: writer}
}

// Reload rebuilds the index from the provider
func (s *RegionService) Reload(ctx context.Context) (aspatial.LoadReport, error) {
	regions, err := s.provider.Regions(ctx)
	if err != nil {
		return aspatial.LoadReport{}, eris.Wrap(err, "service: load region catalog")
	}
	report := s.index.Reload(regions)
	for _, r := range report.Rejected {
		zap.L().Warn("region rejected", zap.String("region_id", r.RegionID), zap.Error(r.Err))
	}
	return report, nil
}

// Import validates regions, persists the valid ones and reloads the index
func (s *RegionService) Import(ctx context.Context, regions []models.Region) (ImportResult, error) {
	if s.writer == nil {
		return ImportResult{}, eris.New("service: region catalog is read-only")
	}
	valid, rejected := catalog.Validate(regions)
	out := ImportResult{Imported: len(valid), Rejected: rejected}
	if len(valid) == 0 {
		return out, nil
	}
	if err := s.writer.UpsertAll(ctx, valid); err != nil {
		return out, err
	}
	if _, err := s.Reload(ctx); err != nil {
		return out, err
	}
	return out, nil
}

// List returns the indexed regions, optionally of one kind
func (s *RegionService) List(kind models.RegionKind) []models.Region {
	all := s.index.Regions()
	if kind == "" {
		return all
	}
	out := make([]models.Region, 0, len(all))
	for _, r := range all {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// Containing returns the active regions containing p
func (s *RegionService) Containing(p spatial.Point) []models.Region {
	return s.index.Containing(p)
}

// Count returns the number of indexed regions
func (s *RegionService) Count() int {
	return s.index.Len()
}
