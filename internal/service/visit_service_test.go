package service

import (
	"context"
	"testing"
	"time"

	aspatial "github.com/jengzang/geotrust/internal/analysis/spatial"
	"github.com/jengzang/geotrust/internal/models"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVisitService_Close(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	res, err := app.ingest.Ingest(ctx, at(1, insideSquare, t0))
	require.NoError(t, err)
	require.Len(t, res.Visits.Opened, 1)
	id := res.Visits.Opened[0].ID

	closed, err := app.visits.Close(ctx, id, t0.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(600), *closed.DurationSeconds)

	_, err = app.visits.Close(ctx, id, time.Time{})
	assert.True(t, eris.Is(err, aspatial.ErrVisitClosed))
}

func TestVisitService_CloseIdleLoop(t *testing.T) {
	app := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := app.ingest.Ingest(ctx, at(1, insideSquare, time.Now().Add(-3*time.Hour)))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		app.visits.CloseIdleLoop(ctx, 5*time.Millisecond, time.Hour)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		open, _, err := app.visits.List(context.Background(), 1, models.VisitFilter{OpenOnly: true})
		return err == nil && len(open) == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
