package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	aspatial "github.com/jengzang/geotrust/internal/analysis/spatial"
	"github.com/jengzang/geotrust/internal/config"
	"github.com/jengzang/geotrust/internal/database"
	"github.com/jengzang/geotrust/internal/engine"
	"github.com/jengzang/geotrust/internal/models"
	"github.com/jengzang/geotrust/internal/repository"
	"github.com/jengzang/geotrust/internal/spatial"
	"github.com/stretchr/testify/require"
)

var (
	t0 = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	redSquare = spatial.Polygon{
		{Lat: 55.7520, Lon: 37.6175},
		{Lat: 55.7520, Lon: 37.6215},
		{Lat: 55.7550, Lon: 37.6215},
		{Lat: 55.7550, Lon: 37.6175},
	}
	insideSquare  = spatial.Point{Lat: 55.7535, Lon: 37.6195}
	outsideSquare = spatial.Point{Lat: 55.7600, Lon: 37.6195}
)

type testApp struct {
	cfg         config.Config
	engine      *engine.Engine
	regionRepo  *repository.RegionRepository
	regions     *RegionService
	ingest      *IngestService
	homeWork    *HomeWorkService
	visits      *VisitService
	discoveries *DiscoveryService
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "geotrust.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.Default()
	readings := repository.NewReadingRepository(db)
	visits := repository.NewVisitRepository(db)
	discoveries := repository.NewDiscoveryRepository(db)
	estimates := repository.NewEstimateRepository(db)
	regionRepo := repository.NewRegionRepository(db)

	index := aspatial.NewRegionIndex()
	eng := engine.New(cfg, index, engine.Stores{
		Readings:    readings,
		Visits:      visits,
		Discoveries: discoveries,
		Estimates:   estimates,
	})

	app := &testApp{
		cfg:         cfg,
		engine:      eng,
		regionRepo:  regionRepo,
		regions:     NewRegionService(index, regionRepo, regionRepo),
		ingest:      NewIngestService(eng),
		homeWork:    NewHomeWorkService(cfg.HomeWork, eng, repository.NewAnalysisTaskRepository(db), estimates, readings),
		visits:      NewVisitService(eng, visits),
		discoveries: NewDiscoveryService(discoveries),
	}

	res, err := app.regions.Import(ctx, []models.Region{
		{ID: "red-square", Name: "Red Square", Kind: models.RegionKindSimple, Category: models.CategoryLandmark, Polygon: redSquare, IsActive: true},
	})
	require.NoError(t, err)
	require.Empty(t, res.Rejected)
	return app
}

func at(userID int64, p spatial.Point, ts time.Time) models.Reading {
	return models.Reading{UserID: userID, SessionID: userID * 100, Latitude: p.Lat, Longitude: p.Lon, Timestamp: ts}
}
