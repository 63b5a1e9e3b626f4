package pushover

import (
	"context"
	"time"
)

// restartPacer decides how long the supervisor waits before the next run.
// The pause is a fixed RestartDelay unless MaxRestartDelay is larger, in
// which case consecutive failed runs double it up to that ceiling.
type restartPacer struct {
	delay   time.Duration
	ceiling time.Duration
	pending time.Duration
}

func newRestartPacer(cfg Config) *restartPacer {
	ceiling := cfg.MaxRestartDelay
	if ceiling < cfg.RestartDelay {
		ceiling = cfg.RestartDelay
	}
	return &restartPacer{
		delay:   cfg.RestartDelay,
		ceiling: ceiling,
		pending: cfg.RestartDelay,
	}
}

// pause returns the wait before the coming restart and grows the next one.
func (p *restartPacer) pause() time.Duration {
	d := min(p.pending, p.ceiling)
	p.pending = min(p.pending*2, p.ceiling)
	return d
}

// settle drops back to RestartDelay after a run that reached Listening.
func (p *restartPacer) settle() {
	p.pending = p.delay
}

// sleepContext waits for d or until ctx is done, whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
