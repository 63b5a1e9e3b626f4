package pushover

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Agent keeps one Pushover device session alive and runs the external command
// for every recognized notification.
type Agent struct {
	cfg      Config
	opts     agentOptions
	log      zerolog.Logger
	onError  ErrorHandler
	api      *apiClient
	auth     *authSession
	registry *handlerRegistry
	dispatch *dispatcher
	command  command
	restart  *restartPacer

	// Test seams.
	newChannel func() realtime
	sleep      func(ctx context.Context, d time.Duration) error

	running atomic.Bool
	runs    atomic.Int64
	acked   atomic.Int64

	mu       sync.Mutex
	current  *session
	deviceID string
	lastSync time.Time
	lastDec  Decision
}

// NewAgent creates an Agent. The configuration is resolved and validated
// before anything touches the network.
func NewAgent(cfg Config, opts ...Option) (*Agent, error) {
	resolved, err := resolveConfig(cfg)
	if err != nil {
		return nil, err
	}

	o := agentDefaults()
	for _, opt := range opts {
		opt(&o)
	}
	if o.runner == nil {
		return nil, errors.New("CommandRunner must not be nil")
	}

	logger := o.logger.With().Str("component", "pushover").Logger()
	onError := o.onError
	if onError == nil {
		onError = LogErrors(logger)
	}

	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: resolved.RequestTimeout}
	}
	api := newAPIClient(resolved.APIBaseURL, httpClient)

	a := &Agent{
		cfg:      resolved,
		opts:     o,
		log:      logger,
		onError:  onError,
		api:      api,
		auth:     newAuthSession(api, logger),
		registry: newHandlerRegistry(),
		command: command{
			runner:  o.runner,
			path:    resolved.CommandPath,
			timeout: resolved.CommandTimeout,
		},
		restart:  newRestartPacer(resolved),
		sleep:    sleepContext,
		deviceID: resolved.DeviceID,
	}
	a.dispatch = newDispatcher(a.registry, onError)
	a.newChannel = func() realtime {
		return newWSChannel(a.cfg.RealtimeURL, a.cfg.KeepaliveTimeout, a.opts.dialer, a.log.With().Str("component", "channel").Logger())
	}

	for _, title := range resolved.CommandTitles {
		if err := a.registry.register(title, commandHandler(a.command)); err != nil {
			return nil, err
		}
	}

	return a, nil
}

// Handle registers an additional handler for notifications with the given
// title. Handlers must be registered before Run.
func (a *Agent) Handle(title string, fn HandlerFunc) error {
	if a.running.Load() {
		return ErrAlreadyRunning
	}
	return a.registry.register(title, fn)
}

// Run drives the session until the service or the operator asks it to stop.
// It returns nil on a deliberate stop, including ctx cancellation, and an
// error wrapping ErrLoginFailed when the credentials are rejected. Neither
// should be treated as a crash by a process manager.
func (a *Agent) Run(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer a.running.Store(false)

	for {
		decision, err := a.runOnce(ctx)
		a.setDecision(decision)
		if err != nil {
			return err
		}
		if decision == Terminate || ctx.Err() != nil {
			a.log.Info().Msg("exiting")
			return nil
		}

		delay := a.restart.pause()
		a.log.Info().Dur("delay", delay).Msg("restarting after delay")
		if err := a.sleep(ctx, delay); err != nil {
			a.log.Info().Msg("exiting")
			return nil
		}
	}
}

// runOnce performs one full lifecycle: startup hook, login, registration,
// backlog drain, channel until closed.
func (a *Agent) runOnce(ctx context.Context) (Decision, error) {
	n := a.runs.Add(1)
	log := a.log.With().Int64("run", n).Logger()
	log.Info().Msg("initializing")

	a.runStartHook(ctx)

	secret, err := a.auth.login(ctx, a.cfg.Email, a.cfg.Password)
	if err != nil {
		if ctx.Err() != nil {
			return Terminate, nil
		}
		log.Error().Err(err).Msg("login failed")
		return Terminate, fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}

	creds := Credentials{Secret: secret, DeviceID: a.cfg.DeviceID}
	if a.cfg.DeviceName != "" {
		id, err := a.auth.registerDevice(ctx, secret, a.cfg.DeviceName)
		if err != nil {
			a.report(err, "register")
		}
		creds.DeviceID = id
	}
	a.mu.Lock()
	a.deviceID = creds.DeviceID
	a.mu.Unlock()

	sess := a.newSession(creds, log)

	// Drain whatever accumulated since the last run.
	dispatch := sess.dispatch
	if a.cfg.DiscardBacklog {
		dispatch = nil
	}
	a.recordCycle(sess.sync.cycle(ctx, creds, dispatch))
	if ctx.Err() != nil {
		return Terminate, nil
	}

	return a.listen(ctx, sess), nil
}

// listen opens the channel and blocks until it has closed and every sync
// cycle it started has finished.
func (a *Agent) listen(ctx context.Context, sess *session) Decision {
	ch := sess.channel
	ch.onSignal(func(sig Signal) { sess.handleSignal(ctx, sig) })
	ch.onError(func(err error) { a.report(err, "channel") })

	a.mu.Lock()
	a.current = sess
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.current = nil
		a.mu.Unlock()
	}()

	if err := ch.connect(ctx, sess.creds); err != nil {
		_ = ch.close()
		if ctx.Err() != nil {
			return Terminate
		}
		a.report(err, "channel")
		sess.log.Warn().Msg("realtime channel unavailable, will reconnect")
		return Reconnect
	}

	if sess.worker != nil {
		go sess.worker.run(ctx, sess.runCycle)
	}

	select {
	case <-ch.finished():
	case <-ctx.Done():
		sess.log.Info().Msg("interrupted, closing realtime channel")
		sess.decide(Terminate)
		_ = ch.close()
		<-ch.finished()
	}
	sess.drain()

	if sess.listened.Load() {
		a.restart.settle()
	}

	d := sess.currentDecision()
	if d == Undecided {
		sess.log.Warn().Msg("realtime channel closed without a signal, will reconnect")
		d = Reconnect
	}
	return d
}

func (a *Agent) newSession(creds Credentials, log zerolog.Logger) *session {
	sess := &session{
		creds:      creds,
		sync:       newMessageSync(a.api, log.With().Str("component", "sync").Logger(), a.onError),
		dispatch:   a.dispatch.dispatch,
		channel:    a.newChannel(),
		log:        log,
		concurrent: a.opts.concurrentSync,
		onCycle:    a.recordCycle,
	}
	if !sess.concurrent {
		sess.worker = newSyncWorker()
	}
	return sess
}

func (a *Agent) runStartHook(ctx context.Context) {
	out, err := a.command.run(ctx, StartArg)
	if len(out) > 0 {
		a.log.Info().Str("output", string(out)).Msg("startup hook output")
	}
	if err != nil {
		a.report(err, "command")
	}
}

func (a *Agent) recordCycle(res cycleResult) {
	a.mu.Lock()
	a.lastSync = time.Now()
	a.mu.Unlock()
	if !res.Acked {
		return
	}
	for {
		cur := a.acked.Load()
		if res.Watermark.ID <= cur || a.acked.CompareAndSwap(cur, res.Watermark.ID) {
			return
		}
	}
}

func (a *Agent) setDecision(d Decision) {
	a.mu.Lock()
	a.lastDec = d
	a.mu.Unlock()
}

func (a *Agent) report(err error, op string) {
	f, ok := err.(*Failure)
	if !ok {
		f = newFailure(ErrNetwork, op, "", err)
	}
	a.onError(f)
}

// Snapshot is a point-in-time view of the agent for status reporting.
type Snapshot struct {
	State        ChannelState `json:"state"`
	Decision     Decision     `json:"last_decision"`
	Runs         int64        `json:"runs"`
	DeviceID     string       `json:"device_id"`
	Titles       []string     `json:"titles"`
	LastSync     time.Time    `json:"last_sync"`
	Dispatched   int64        `json:"dispatched"`
	Acknowledged int64        `json:"acknowledged_id"`
}

// Snapshot reports the agent's current state. Safe for concurrent use.
func (a *Agent) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	state := Closed
	if a.current != nil {
		state = a.current.channel.state()
	}
	return Snapshot{
		State:        state,
		Decision:     a.lastDec,
		Runs:         a.runs.Load(),
		DeviceID:     a.deviceID,
		Titles:       a.registry.titles(),
		LastSync:     a.lastSync,
		Dispatched:   a.dispatch.dispatched.Load(),
		Acknowledged: a.acked.Load(),
	}
}
