package analysis

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProgress(t *testing.T) {
	assert.Equal(t, 0.0, NewProgress(3, 0, "").Percent)
	assert.InDelta(t, 25.0, NewProgress(1, 4, "").Percent, 1e-9)
	assert.Equal(t, 100.0, NewProgress(5, 4, "").Percent)
}

func TestProgressFunc_Report(t *testing.T) {
	var nilFunc ProgressFunc
	assert.NotPanics(t, func() { nilFunc.Report(1, 2, "x") })

	var got []Progress
	f := ProgressFunc(func(p Progress) { got = append(got, p) })
	f.Report(1, 2, "clustering")
	require.Len(t, got, 1)
	assert.Equal(t, "clustering", got[0].Message)
	assert.InDelta(t, 50.0, got[0].Percent, 1e-9)
}

func TestCheckpoint(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, Checkpoint(ctx, "scoring"))
	cancel()
	err := Checkpoint(ctx, "scoring")
	require.Error(t, err)
	assert.True(t, eris.Is(err, context.Canceled))
}
