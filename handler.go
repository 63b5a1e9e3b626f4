package pushover

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// HandlerFunc processes one notification. A returned error is reported and
// does not stop the rest of the batch.
type HandlerFunc func(ctx context.Context, n Notification) error

type handlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc // notification title → handler
}

func newHandlerRegistry() *handlerRegistry {
	return &handlerRegistry{
		handlers: make(map[string]HandlerFunc),
	}
}

func (r *handlerRegistry) register(title string, fn HandlerFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if fn == nil {
		return fmt.Errorf("handler for title %q is nil", title)
	}
	if _, exists := r.handlers[title]; exists {
		return fmt.Errorf("handler already registered for title %q", title)
	}

	r.handlers[title] = fn
	return nil
}

func (r *handlerRegistry) lookup(title string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[title]
	return fn, ok
}

// titles returns the registered titles in sorted order.
func (r *handlerRegistry) titles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.handlers))
	for title := range r.handlers {
		out = append(out, title)
	}
	sort.Strings(out)
	return out
}

// commandHandler runs the external command with arguments parsed from the
// notification body.
func commandHandler(cmd command) HandlerFunc {
	return func(ctx context.Context, n Notification) error {
		args, ok := commandArgs(n.Body)
		if !ok {
			return newFailure(ErrCommandInvocation, "command", fmt.Sprintf("notification %d has an empty body", n.ID), nil)
		}

		log := zerolog.Ctx(ctx)
		log.Info().Strs("args", args).Msg("command")

		out, err := cmd.run(ctx, args...)
		if len(out) > 0 {
			log.Info().Str("output", string(out)).Msg("command output")
		}
		return err
	}
}
