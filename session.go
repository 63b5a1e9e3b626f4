package pushover

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Decision is what the agent does once the realtime channel has closed.
type Decision int32

const (
	Undecided Decision = iota
	Reconnect
	Terminate
)

func (d Decision) String() string {
	switch d {
	case Reconnect:
		return "reconnect"
	case Terminate:
		return "terminate"
	}
	return "undecided"
}

func (d Decision) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// session holds the state of one authenticated run: credentials, the sync
// state, the channel and the decision taken on close.
type session struct {
	creds    Credentials
	sync     *messageSync
	dispatch DispatchFunc
	channel  realtime
	log      zerolog.Logger

	concurrent bool
	worker     *syncWorker
	cycles     sync.WaitGroup // concurrent-mode cycles

	mu       sync.Mutex
	decision Decision

	listened atomic.Bool
	onCycle  func(cycleResult)
}

// decide records a decision. Terminate is sticky: once any signal or the
// operator asked to stop, a later reconnect request does not override it.
func (s *session) decide(d Decision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.decision == Terminate {
		return
	}
	s.decision = d
}

func (s *session) currentDecision() Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decision
}

// handleSignal maps a control signal to its action. It runs on its own
// goroutine per signal and never blocks on a sync cycle.
func (s *session) handleSignal(ctx context.Context, sig Signal) {
	s.listened.Store(true)

	switch sig {
	case SignalNewData:
		if s.concurrent {
			s.cycles.Add(1)
			go func() {
				defer s.cycles.Done()
				s.runCycle(ctx)
			}()
			return
		}
		s.worker.kick()
	case SignalReconnect:
		s.log.Info().Msg("service requested reconnect")
		s.decide(Reconnect)
		_ = s.channel.close()
	case SignalTerminate, SignalLoggedInElsewhere:
		s.log.Warn().Stringer("signal", sig).Msg("service requested stop")
		s.decide(Terminate)
		_ = s.channel.close()
	case SignalKeepalive:
	default:
		s.log.Warn().Str("signal", fmt.Sprintf("%q", byte(sig))).Msg("unrecognized signal")
	}
}

func (s *session) runCycle(ctx context.Context) {
	res := s.sync.cycle(ctx, s.creds, s.dispatch)
	if s.onCycle != nil {
		s.onCycle(res)
	}
}

// drain waits for in-flight sync cycles to finish.
func (s *session) drain() {
	if s.worker != nil {
		s.worker.stop()
	}
	s.cycles.Wait()
}

// syncWorker serializes sync cycles. Triggers coalesce into one pending slot:
// a cycle downloads everything pending, so any number of new-data signals
// arriving during a cycle need exactly one more cycle.
type syncWorker struct {
	trigger chan struct{}
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newSyncWorker() *syncWorker {
	return &syncWorker{
		trigger: make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (w *syncWorker) run(ctx context.Context, fn func(context.Context)) {
	defer close(w.done)
	for {
		// Prefer quitting over a pending trigger; the next run's backlog
		// drain picks up anything left.
		select {
		case <-w.quit:
			return
		case <-ctx.Done():
			return
		default:
		}

		select {
		case <-w.quit:
			return
		case <-ctx.Done():
			return
		case <-w.trigger:
			fn(ctx)
		}
	}
}

func (w *syncWorker) kick() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// stop ends the worker after any in-flight cycle and waits for it.
func (w *syncWorker) stop() {
	w.once.Do(func() { close(w.quit) })
	<-w.done
}
