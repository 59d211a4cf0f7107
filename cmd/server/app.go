package main

import (
	"context"
	"database/sql"

	aspatial "github.com/jengzang/geotrust/internal/analysis/spatial"
	"github.com/jengzang/geotrust/internal/api"
	"github.com/jengzang/geotrust/internal/cache"
	"github.com/jengzang/geotrust/internal/config"
	"github.com/jengzang/geotrust/internal/database"
	"github.com/jengzang/geotrust/internal/engine"
	"github.com/jengzang/geotrust/internal/repository"
	"github.com/jengzang/geotrust/internal/service"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// appEnv holds the database, the engine and the services built on them
type appEnv struct {
	DB       *sql.DB
	Redis    *redis.Client // nil without a configured address
	Engine   *engine.Engine
	Regions  *repository.RegionRepository
	Services api.Services
}

// Close releases resources held by the environment.
func (a *appEnv) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}

// initApp opens storage, loads the region index and wires the services.
// Callers should defer env.Close().
func initApp(ctx context.Context, cfg *config.Config) (*appEnv, error) {
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	env := &appEnv{DB: db}

	readings := repository.NewReadingRepository(db)
	visits := repository.NewVisitRepository(db)
	discoveries := repository.NewDiscoveryRepository(db)
	estimates := repository.NewEstimateRepository(db)
	env.Regions = repository.NewRegionRepository(db)

	var readingStore engine.ReadingStore = readings
	rc, err := cache.Open(ctx, cfg.Redis)
	if err != nil {
		zap.L().Warn("redis unavailable, last-reading cache disabled", zap.Error(err))
	} else if rc != nil {
		env.Redis = rc
		readingStore = cache.NewLastReadingCache(readings, rc, cfg.Redis.TTL)
	}

	index := aspatial.NewRegionIndex()
	env.Engine = engine.New(*cfg, index, engine.Stores{
		Readings:    readingStore,
		Visits:      visits,
		Discoveries: discoveries,
		Estimates:   estimates,
	})

	regions := service.NewRegionService(index, env.Regions, env.Regions)
	if _, err := regions.Reload(ctx); err != nil {
		env.Close()
		return nil, err
	}

	env.Services = api.Services{
		Ingest:      service.NewIngestService(env.Engine),
		Regions:     regions,
		Visits:      service.NewVisitService(env.Engine, visits),
		Discoveries: service.NewDiscoveryService(discoveries),
		HomeWork:    service.NewHomeWorkService(cfg.HomeWork, env.Engine, repository.NewAnalysisTaskRepository(db), estimates, readings),
	}
	return env, nil
}
