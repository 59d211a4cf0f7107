package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	aspatial "github.com/jengzang/geotrust/internal/analysis/spatial"
	"github.com/jengzang/geotrust/internal/config"
	"github.com/jengzang/geotrust/internal/database"
	"github.com/jengzang/geotrust/internal/engine"
	"github.com/jengzang/geotrust/internal/middleware"
	"github.com/jengzang/geotrust/internal/models"
	"github.com/jengzang/geotrust/internal/repository"
	"github.com/jengzang/geotrust/internal/service"
	"github.com/jengzang/geotrust/internal/spatial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newRouter(t *testing.T, limiter *middleware.RateLimiter) *gin.Engine {
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
	eng := engine.New(cfg, index, engine.Stores{Readings: readings, Visits: visits, Discoveries: discoveries, Estimates: estimates})
	regions := service.NewRegionService(index, regionRepo, regionRepo)
	_, err = regions.Import(ctx, []models.Region{{
		ID: "red-square", Name: "Red Square", Kind: models.RegionKindSimple, IsActive: true,
		Polygon: spatial.Polygon{
			{Lat: 55.7520, Lon: 37.6175},
			{Lat: 55.7520, Lon: 37.6215},
			{Lat: 55.7550, Lon: 37.6215},
			{Lat: 55.7550, Lon: 37.6175},
		},
	}})
	require.NoError(t, err)

	return SetupRouter(gin.TestMode, Services{
		Ingest:      service.NewIngestService(eng),
		Regions:     regions,
		Visits:      service.NewVisitService(eng, visits),
		Discoveries: service.NewDiscoveryService(discoveries),
		HomeWork:    service.NewHomeWorkService(cfg.HomeWork, eng, repository.NewAnalysisTaskRepository(db), estimates, readings),
	}, limiter)
}

func do(t *testing.T, r *gin.Engine, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	var env envelope
	if rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	}
	return rr, env
}

func reading(lat, lon float64, ts time.Time) map[string]interface{} {
	return map[string]interface{}{"user_id": 1, "session_id": 100, "latitude": lat, "longitude": lon, "timestamp": ts}
}

func TestHealth(t *testing.T) {
	r := newRouter(t, nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"regions":1`)
}

func TestReadingsAndVisits(t *testing.T) {
	r := newRouter(t, nil)

	rr, env := do(t, r, http.MethodPost, "/api/v1/readings", reading(55.7535, 37.6195, t0))
	require.Equal(t, http.StatusOK, rr.Code, env.Message)
	var result engine.ProcessResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	require.Len(t, result.Visits.Opened, 1)
	visitID := result.Visits.Opened[0].ID

	rr, env = do(t, r, http.MethodGet, "/api/v1/users/1/visits?open_only=true", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, string(env.Data), visitID)

	rr, _ = do(t, r, http.MethodPost, "/api/v1/visits/"+visitID+"/close", map[string]interface{}{"ended_at": t0.Add(time.Minute)})
	assert.Equal(t, http.StatusOK, rr.Code)
	rr, _ = do(t, r, http.MethodPost, "/api/v1/visits/"+visitID+"/close", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
	rr, _ = do(t, r, http.MethodPost, "/api/v1/visits/missing/close", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr, env = do(t, r, http.MethodGet, "/api/v1/sessions/100/verification", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var report engine.SessionVerification
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Equal(t, 1, report.Total)
}

func TestReadingValidation(t *testing.T) {
	r := newRouter(t, nil)

	rr, _ := do(t, r, http.MethodPost, "/api/v1/readings", reading(95, 0, t0))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, _ = do(t, r, http.MethodPost, "/api/v1/readings", map[string]interface{}{"latitude": 1})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, env := do(t, r, http.MethodPost, "/api/v1/readings/classify", reading(55.7535, 37.6195, t0))
	require.Equal(t, http.StatusOK, rr.Code)
	var c models.ClassifiedReading
	require.NoError(t, json.Unmarshal(env.Data, &c))
	assert.False(t, c.IsSpoofed)
	assert.Zero(t, c.ID)
}

func TestBatch(t *testing.T) {
	r := newRouter(t, nil)
	rr, env := do(t, r, http.MethodPost, "/api/v1/readings/batch", map[string]interface{}{
		"user_id": 1,
		"readings": []map[string]interface{}{
			{"latitude": 55.7600, "longitude": 37.6195, "timestamp": t0.Add(95 * time.Second)},
			{"latitude": 55.7535, "longitude": 37.6195, "timestamp": t0},
		},
	})
	require.Equal(t, http.StatusOK, rr.Code, env.Message)
	var res service.BatchResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, 2, res.Accepted)
}

func TestRegions(t *testing.T) {
	r := newRouter(t, nil)

	rr, env := do(t, r, http.MethodGet, "/api/v1/regions/containing?lat=55.7535&lon=37.6195", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, string(env.Data), "red-square")

	rr, _ = do(t, r, http.MethodGet, "/api/v1/regions/containing?lat=abc&lon=1", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, _ = do(t, r, http.MethodGet, "/api/v1/regions?kind=volcano", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, env = do(t, r, http.MethodPost, "/api/v1/regions/reload", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var report aspatial.LoadReport
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Equal(t, 1, report.Loaded)

	rr, _ = do(t, r, http.MethodGet, "/api/v1/regions/red-square/discoveries", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHomeWorkAndTasks(t *testing.T) {
	r := newRouter(t, nil)

	rr, env := do(t, r, http.MethodPost, "/api/v1/users/1/home-work/analyze", map[string]interface{}{
		"window_start": t0.Add(-time.Hour), "window_end": t0, "wait": true,
	})
	require.Equal(t, http.StatusOK, rr.Code, env.Message)
	var out struct {
		Task models.AnalysisTask `json:"task"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, models.TaskStatusCompleted, out.Task.Status)

	rr, _ = do(t, r, http.MethodGet, "/api/v1/tasks/"+strconv.FormatInt(out.Task.ID, 10), nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	rr, _ = do(t, r, http.MethodGet, "/api/v1/tasks/999", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr, _ = do(t, r, http.MethodGet, "/api/v1/tasks/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, _ = do(t, r, http.MethodPost, "/api/v1/users/1/home-work/analyze", map[string]interface{}{
		"window_start": t0, "window_end": t0, "wait": true,
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, _ = do(t, r, http.MethodPost, "/api/v1/users/1/home-work/analyze", nil)
	assert.Equal(t, http.StatusAccepted, rr.Code)

	rr, _ = do(t, r, http.MethodGet, "/api/v1/users/1/home-work", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	rr, _ = do(t, r, http.MethodPost, "/api/v1/users/1/home-work/confirm/home", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr, _ = do(t, r, http.MethodPost, "/api/v1/users/1/home-work/confirm/gym", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, _ = do(t, r, http.MethodGet, "/api/v1/users/1/discoveries?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr, _ = do(t, r, http.MethodGet, "/api/v1/users/1/discoveries", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRateLimitedIngest(t *testing.T) {
	limiter := middleware.NewRateLimiter(config.RateLimitConfig{RPS: 0.001, Burst: 1}, time.Minute)
	r := newRouter(t, limiter)

	rr, _ := do(t, r, http.MethodGet, "/api/v1/users/7/home-work", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	rr, _ = do(t, r, http.MethodGet, "/api/v1/users/7/home-work", nil)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
}
