package pushover

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Option configures an Agent.
type Option func(*agentOptions)

type agentOptions struct {
	logger         zerolog.Logger
	onError        ErrorHandler
	httpClient     *http.Client
	dialer         *websocket.Dialer
	runner         CommandRunner
	concurrentSync bool
}

func agentDefaults() agentOptions {
	return agentOptions{
		logger: log.Logger,
		runner: ExecRunner{},
	}
}

// WithLogger sets the logger. Defaults to the global zerolog logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *agentOptions) {
		o.logger = logger
	}
}

// WithErrorHandler receives every non-fatal failure. Defaults to LogErrors.
func WithErrorHandler(fn ErrorHandler) Option {
	return func(o *agentOptions) {
		o.onError = fn
	}
}

// WithHTTPClient replaces the HTTP client used for the service API.
// Config.RequestTimeout is not applied to a supplied client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *agentOptions) {
		o.httpClient = c
	}
}

// WithDialer replaces the WebSocket dialer used for the realtime channel.
func WithDialer(d *websocket.Dialer) Option {
	return func(o *agentOptions) {
		o.dialer = d
	}
}

// WithCommandRunner replaces how the external command is invoked.
func WithCommandRunner(r CommandRunner) Option {
	return func(o *agentOptions) {
		o.runner = r
	}
}

// WithConcurrentSync runs every new-data signal's sync cycle on its own
// goroutine instead of serializing cycles behind one worker. Overlapping
// cycles may download the same notifications and dispatch them twice.
func WithConcurrentSync() Option {
	return func(o *agentOptions) {
		o.concurrentSync = true
	}
}
