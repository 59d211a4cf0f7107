package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	aspatial "github.com/jengzang/geotrust/internal/analysis/spatial"
	"github.com/jengzang/geotrust/internal/analysis/temporal"
	"github.com/jengzang/geotrust/internal/config"
	"github.com/jengzang/geotrust/internal/database"
	"github.com/jengzang/geotrust/internal/engine"
	"github.com/jengzang/geotrust/internal/models"
	"github.com/jengzang/geotrust/internal/spatial"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ engine.ReadingStore     = (*ReadingRepository)(nil)
	_ aspatial.VisitStore     = (*VisitRepository)(nil)
	_ aspatial.DiscoveryStore = (*DiscoveryRepository)(nil)
	_ temporal.EstimateStore  = (*EstimateRepository)(nil)
)

var t0 = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func openDB(t *testing.T) *ReadingRepository {
	t.Helper()
	db, err := database.Open(context.Background(), config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "geotrust.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewReadingRepository(db)
}

func TestReadingRepository(t *testing.T) {
	readings := openDB(t)
	ctx := context.Background()

	last, err := readings.LastAccepted(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, last)

	save := func(ts time.Time, spoofed bool) models.ClassifiedReading {
		c := models.ClassifiedReading{
			Reading: models.Reading{
				UserID: 1, SessionID: 7, Latitude: 55.75, Longitude: 37.62,
				SpeedMPS: models.Float64(1.5), Timestamp: ts,
			},
			IsSpoofed: spoofed,
		}
		if spoofed {
			c.SpoofScore, c.SpoofReason = 0.9, "sudden jump"
		}
		saved, err := readings.SaveReading(ctx, c)
		require.NoError(t, err)
		require.NotZero(t, saved.ID)
		return saved
	}
	save(t0, false)
	save(t0.Add(time.Minute), false)
	save(t0.Add(2*time.Minute), true)

	last, err = readings.LastAccepted(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, t0.Add(time.Minute), last.Timestamp)
	require.NotNil(t, last.SpeedMPS)
	assert.Equal(t, 1.5, *last.SpeedMPS)
	assert.Nil(t, last.AccuracyMeters)

	window, err := readings.AcceptedInWindow(ctx, 1, t0, t0.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, window, 1)

	session, err := readings.SessionReadings(ctx, 7)
	require.NoError(t, err)
	require.Len(t, session, 3)
	assert.True(t, session[2].IsSpoofed)
	assert.Equal(t, "sudden jump", session[2].SpoofReason)

	users, err := readings.UsersWithReadings(ctx, t0, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, users)
}

func TestVisitRepository(t *testing.T) {
	visits := NewVisitRepository(openDB(t).db)
	ctx := context.Background()

	open := models.Visit{ID: "v1", UserID: 1, RegionID: "red-square", StartedAt: t0, LastSeenAt: t0}
	require.NoError(t, visits.SaveVisit(ctx, open))

	dup := open
	dup.ID = "v2"
	err := visits.SaveVisit(ctx, dup)
	assert.True(t, eris.Is(err, aspatial.ErrVisitAlreadyOpen))

	got, err := visits.OpenVisit(ctx, 1, "red-square")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.IsOpen())

	idle, err := visits.IdleVisits(ctx, t0.Add(time.Second))
	require.NoError(t, err)
	assert.Len(t, idle, 1)

	ended := t0.Add(95 * time.Second)
	duration := int64(95)
	open.LastSeenAt, open.EndedAt, open.DurationSeconds = ended, &ended, &duration
	require.NoError(t, visits.SaveVisit(ctx, open))

	got, err = visits.OpenVisit(ctx, 1, "red-square")
	require.NoError(t, err)
	assert.Nil(t, got)

	// a closed visit frees the slot for a new one
	require.NoError(t, visits.SaveVisit(ctx, dup))

	page, total, err := visits.List(ctx, 1, models.VisitFilter{RegionID: "red-square"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, page, 2)

	closed, err := visits.GetVisit(ctx, "v1")
	require.NoError(t, err)
	require.NotNil(t, closed)
	assert.Equal(t, int64(95), *closed.DurationSeconds)
	assert.Equal(t, ended, *closed.EndedAt)

	openOnly, _, err := visits.List(ctx, 1, models.VisitFilter{OpenOnly: true})
	require.NoError(t, err)
	require.Len(t, openOnly, 1)
	assert.Equal(t, "v2", openOnly[0].ID)
}

func TestDiscoveryRepository(t *testing.T) {
	discoveries := NewDiscoveryRepository(openDB(t).db)
	ctx := context.Background()

	missing, err := discoveries.GetDiscovery(ctx, 1, "forest")
	require.NoError(t, err)
	assert.Nil(t, missing)

	d := models.AreaDiscovery{
		UserID: 1, RegionID: "forest", Status: models.DiscoveryStatusDiscovered,
		ProgressPercent: 8, TimeSeconds: 240, FirstSeenAt: t0, LastUpdatedAt: t0,
	}
	require.NoError(t, discoveries.SaveDiscovery(ctx, d))

	got, err := discoveries.GetDiscovery(ctx, 1, "forest")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.LastReadingAt.IsZero())

	d.Status, d.ProgressPercent, d.LastReadingAt = models.DiscoveryStatusExplored, 30, t0.Add(15*time.Minute)
	require.NoError(t, discoveries.SaveDiscovery(ctx, d))
	require.NoError(t, discoveries.SaveDiscovery(ctx, models.AreaDiscovery{
		UserID: 2, RegionID: "forest", Status: models.DiscoveryStatusDiscovered,
		ProgressPercent: 12, FirstSeenAt: t0, LastUpdatedAt: t0,
	}))

	got, err = discoveries.GetDiscovery(ctx, 1, "forest")
	require.NoError(t, err)
	assert.Equal(t, d, *got)

	page, total, err := discoveries.ListByUser(ctx, 1, models.DiscoveryFilter{Status: "explored"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, page, 1)

	byRegion, err := discoveries.ListByRegion(ctx, "forest")
	require.NoError(t, err)
	require.Len(t, byRegion, 2)
	assert.Equal(t, int64(1), byRegion[0].UserID)
}

func TestEstimateRepository(t *testing.T) {
	estimates := NewEstimateRepository(openDB(t).db)
	ctx := context.Background()

	candidate := models.HomeWorkEstimate{
		UserID: 1, Kind: models.LocationKindHome, Latitude: 55.70, Longitude: 37.50,
		RadiusMeters: 200, Confidence: 0.7, VisitCount: 15, TotalMinutes: 210,
		FirstDetectedAt: t0, LastUpdatedAt: t0,
	}
	stored, err := estimates.UpsertEstimate(ctx, candidate)
	require.NoError(t, err)
	assert.Equal(t, candidate, stored)

	ok, err := estimates.Confirm(ctx, 1, models.LocationKindHome)
	require.NoError(t, err)
	assert.True(t, ok)

	next := candidate
	next.Confidence, next.Latitude = 0.6, 55.71
	next.FirstDetectedAt, next.LastUpdatedAt = t0.AddDate(0, 0, 7), t0.AddDate(0, 0, 7)
	stored, err = estimates.UpsertEstimate(ctx, next)
	require.NoError(t, err)
	assert.Equal(t, 0.7, stored.Confidence)
	assert.Equal(t, 30, stored.VisitCount)
	assert.Equal(t, 420, stored.TotalMinutes)
	assert.Equal(t, 55.71, stored.Latitude)
	assert.Equal(t, t0, stored.FirstDetectedAt)
	assert.True(t, stored.Confirmed)

	_, err = estimates.UpsertEstimate(ctx, models.HomeWorkEstimate{
		UserID: 1, Kind: models.LocationKindWork, Confidence: 0.6, FirstDetectedAt: t0, LastUpdatedAt: t0,
	})
	require.NoError(t, err)

	list, err := estimates.ListEstimates(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, models.LocationKindHome, list[0].Kind)
	assert.Equal(t, stored, list[0])

	ok, err = estimates.Confirm(ctx, 2, models.LocationKindWork)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEstimateRepository_ConcurrentUpserts(t *testing.T) {
	estimates := NewEstimateRepository(openDB(t).db)
	ctx := context.Background()

	const users, rounds = 8, 50
	errs := make(chan error, users*rounds)
	var wg sync.WaitGroup
	for user := int64(1); user <= users; user++ {
		wg.Add(1)
		go func(user int64) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				_, err := estimates.UpsertEstimate(ctx, models.HomeWorkEstimate{
					UserID: user, Kind: models.LocationKindHome, Confidence: 0.6,
					VisitCount: 1, TotalMinutes: 2, FirstDetectedAt: t0, LastUpdatedAt: t0,
				})
				if err != nil {
					errs <- err
				}
			}
		}(user)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for user := int64(1); user <= users; user++ {
		list, err := estimates.ListEstimates(ctx, user)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, rounds, list[0].VisitCount, fmt.Sprintf("user %d", user))
		assert.Equal(t, 2*rounds, list[0].TotalMinutes)
	}
}

func TestRegionRepository_ConcurrentUpsertAll(t *testing.T) {
	regions := NewRegionRepository(openDB(t).db)
	ctx := context.Background()

	square := spatial.Polygon{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 1}, {Lat: 1, Lon: 1}, {Lat: 1, Lon: 0}}
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			batch := make([]models.Region, 0, 10)
			for i := 0; i < 10; i++ {
				batch = append(batch, models.Region{
					ID: fmt.Sprintf("r-%d-%d", w, i), Name: "r", Kind: models.RegionKindSimple,
					Category: models.CategoryLandmark, Polygon: square, IsActive: true,
				})
			}
			errs <- regions.UpsertAll(ctx, batch)
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	all, err := regions.List(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 80)
}

func TestAnalysisTaskRepository(t *testing.T) {
	tasks := NewAnalysisTaskRepository(openDB(t).db)
	tasks.now = func() time.Time { return t0 }
	ctx := context.Background()

	task := &models.AnalysisTask{SkillName: models.SkillHomeWork, UserID: 1, WindowStart: t0.AddDate(0, 0, -30), WindowEnd: t0}
	require.NoError(t, tasks.Create(ctx, task))
	require.NotZero(t, task.ID)
	assert.Equal(t, models.TaskStatusPending, task.Status)

	require.NoError(t, tasks.MarkAsRunning(ctx, task.ID))
	require.NoError(t, tasks.UpdateProgress(ctx, task.ID, 40, 80, 50))
	require.NoError(t, tasks.MarkAsCompleted(ctx, task.ID, `{"estimates":1}`))

	got, err := tasks.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	assert.Equal(t, 100, got.ProgressPercent)
	assert.Equal(t, 40, got.ProcessedPoints)
	assert.Equal(t, 80, got.TotalPoints)
	require.NotNil(t, got.StartTime)
	require.NotNil(t, got.EndTime)
	assert.Equal(t, task.WindowStart, got.WindowStart)

	failed := &models.AnalysisTask{SkillName: models.SkillHomeWork, UserID: 2, WindowStart: t0, WindowEnd: t0.Add(time.Hour)}
	require.NoError(t, tasks.Create(ctx, failed))
	require.NoError(t, tasks.MarkAsFailed(ctx, failed.ID, "boom"))

	list, err := tasks.List(ctx, models.SkillHomeWork, models.TaskStatusFailed, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "boom", list[0].ErrorMessage)

	_, err = tasks.GetByID(ctx, 999)
	assert.True(t, eris.Is(err, ErrTaskNotFound))
	assert.True(t, eris.Is(tasks.MarkAsRunning(ctx, 999), ErrTaskNotFound))
}

func TestRegionRepository(t *testing.T) {
	regions := NewRegionRepository(openDB(t).db)
	ctx := context.Background()

	square := spatial.Polygon{
		{Lat: 55.7520, Lon: 37.6175},
		{Lat: 55.7520, Lon: 37.6215},
		{Lat: 55.7550, Lon: 37.6215},
		{Lat: 55.7550, Lon: 37.6175},
	}
	area := 3.1e6
	require.NoError(t, regions.UpsertAll(ctx, []models.Region{
		{ID: "red-square", Name: "Red Square", Kind: models.RegionKindSimple, Category: models.CategoryLandmark, Polygon: square, IsActive: true},
		{ID: "forest", Name: "Forest", Kind: models.RegionKindArea, Category: models.CategoryForest, Polygon: square, AreaSquareMeters: &area, IsActive: true},
	}))

	all, err := regions.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, r := range all {
		assert.Equal(t, square, r.Polygon, r.ID)
	}

	ok, err := regions.SetActive(ctx, "forest", false)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = regions.SetActive(ctx, "missing", false)
	require.NoError(t, err)
	assert.False(t, ok)

	active, err := regions.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "red-square", active[0].ID)
}

func TestPolygonEncoding(t *testing.T) {
	poly := spatial.Polygon{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 1}, {Lat: 1, Lon: 1}}
	data, err := EncodePolygon(poly)
	require.NoError(t, err)

	back, err := DecodePolygon(data)
	require.NoError(t, err)
	assert.Equal(t, poly, back)

	_, err = DecodePolygon([]byte{0x01, 0x02})
	assert.Error(t, err)
}
