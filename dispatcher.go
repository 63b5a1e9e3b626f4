package pushover

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// dispatcher routes each notification of a batch to the handler registered
// for its title, strictly in batch order.
type dispatcher struct {
	registry *handlerRegistry
	onError  ErrorHandler

	dispatched atomic.Int64
}

func newDispatcher(registry *handlerRegistry, onError ErrorHandler) *dispatcher {
	return &dispatcher{registry: registry, onError: onError}
}

// dispatch is a DispatchFunc. Handler failures are reported and never abort
// the remaining notifications.
func (d *dispatcher) dispatch(ctx context.Context, batch []Notification) {
	for _, n := range batch {
		log := zerolog.Ctx(ctx).With().Int64("message_id", n.ID).Logger()
		log.Info().Str("title", n.Title).Str("body", n.Body).Msg("message")

		fn, ok := d.registry.lookup(n.Title)
		if !ok {
			log.Info().Str("title", n.Title).Msg("no handler for title, ignoring")
			continue
		}

		if err := d.run(log.WithContext(ctx), fn, n); err != nil {
			f, ok := err.(*Failure)
			if !ok {
				f = newFailure(ErrCommandInvocation, "dispatch", fmt.Sprintf("handler for %q", n.Title), err)
			}
			d.onError(f)
			continue
		}
		d.dispatched.Add(1)
	}
}

func (d *dispatcher) run(ctx context.Context, fn HandlerFunc, n Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newFailure(ErrCommandInvocation, "dispatch", fmt.Sprintf("handler for %q panicked", n.Title), fmt.Errorf("%v", r))
		}
	}()
	return fn(ctx, n)
}
