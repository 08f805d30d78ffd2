package detect

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atrium-data/presence.report/internal/timeutil"
)

func TestPacedFirstFrameIsImmediate(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	clock := timeutil.NewMockClock(t0)
	src := Paced(&SimulatedSource{CameraID: "cam-1", MaxFrames: 2, Clock: clock}, time.Second, clock)

	// No Advance needed for the first frame.
	f, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cam-1", f.CameraID)
}

func TestPacedWaitsBetweenFrames(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	clock := timeutil.NewMockClock(t0)
	src := Paced(&SimulatedSource{CameraID: "cam-1", MaxFrames: 2, Clock: clock}, time.Second, clock)

	_, err := src.Next(context.Background())
	require.NoError(t, err)

	got := make(chan error, 1)
	go func() {
		_, err := src.Next(context.Background())
		got <- err
	}()

	select {
	case <-got:
		t.Fatal("second frame delivered before the interval elapsed")
	case <-time.After(20 * time.Millisecond):
	}

	clock.Advance(time.Second)
	select {
	case err := <-got:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("second frame never delivered")
	}
}

func TestPacedHonoursCancel(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	clock := timeutil.NewMockClock(t0)
	src := Paced(&SimulatedSource{CameraID: "cam-1", MaxFrames: 2, Clock: clock}, time.Minute, clock)

	_, err := src.Next(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPacedZeroIntervalIsPassthrough(t *testing.T) {
	t.Parallel()

	inner := &SimulatedSource{CameraID: "cam-1", MaxFrames: 1}
	assert.Same(t, inner, Paced(inner, 0, nil))
}
