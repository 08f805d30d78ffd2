package detect

import (
	"context"
	"time"

	"github.com/atrium-data/presence.report/internal/timeutil"
)

// pacedSource delays each frame after the first by a fixed interval. The
// simulator emits frames instantly; pacing keeps a live deployment from
// spinning through the script.
type pacedSource struct {
	src      Source
	interval time.Duration
	clock    timeutil.Clock
	started  bool
}

// Paced wraps src so Next waits interval between frames. A nil clock means
// the real clock; an interval <= 0 returns src unchanged.
func Paced(src Source, interval time.Duration, clock timeutil.Clock) Source {
	if interval <= 0 {
		return src
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &pacedSource{src: src, interval: interval, clock: clock}
}

func (p *pacedSource) Next(ctx context.Context) (Frame, error) {
	if p.started {
		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-p.clock.After(p.interval):
		}
	}
	p.started = true
	return p.src.Next(ctx)
}
