package pushover

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRestartPacer(t *testing.T) {
	tests := []struct {
		name    string
		delay   time.Duration
		ceiling time.Duration
		want    []time.Duration
	}{
		{
			name:  "unset ceiling is a fixed interval",
			delay: DefaultRestartDelay,
			want:  []time.Duration{DefaultRestartDelay, DefaultRestartDelay, DefaultRestartDelay},
		},
		{
			name:    "ceiling below delay is a fixed interval",
			delay:   5 * time.Second,
			ceiling: time.Second,
			want:    []time.Duration{5 * time.Second, 5 * time.Second},
		},
		{
			name:    "larger ceiling doubles up to it",
			delay:   time.Second,
			ceiling: 10 * time.Second,
			want:    []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newRestartPacer(Config{RestartDelay: tt.delay, MaxRestartDelay: tt.ceiling})
			for i, w := range tt.want {
				assert.Equal(t, w, p.pause(), "restart %d", i+1)
			}
		})
	}
}

func TestRestartPacer_SettleAfterListening(t *testing.T) {
	p := newRestartPacer(Config{RestartDelay: time.Second, MaxRestartDelay: 30 * time.Second})

	p.pause() // 1s
	p.pause() // 2s
	p.pause() // 4s

	p.settle()
	assert.Equal(t, time.Second, p.pause())
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}
