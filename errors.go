package pushover

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Sentinel errors for agent state.
var (
	ErrLoginFailed    = errors.New("login failed")
	ErrAlreadyRunning = errors.New("agent is already running")
)

// ErrorKind classifies failures reported by the agent's components.
type ErrorKind int

const (
	ErrNetwork           ErrorKind = iota // service unreachable or timed out
	ErrService                            // service returned a structured error payload
	ErrDecode                             // service response could not be decoded
	ErrMissingDeviceID                    // device-dependent call attempted with no device id
	ErrCommandInvocation                  // external command failed to start or exited non-zero
	ErrChannel                            // realtime channel read/write failure
)

var errorKindNames = [...]string{
	ErrNetwork:           "ErrNetwork",
	ErrService:           "ErrService",
	ErrDecode:            "ErrDecode",
	ErrMissingDeviceID:   "ErrMissingDeviceID",
	ErrCommandInvocation: "ErrCommandInvocation",
	ErrChannel:           "ErrChannel",
}

func (k ErrorKind) String() string {
	if int(k) >= 0 && int(k) < len(errorKindNames) {
		return errorKindNames[k]
	}
	return fmt.Sprintf("ErrorKind(%d)", k)
}

// Failure is the uniform error value produced by the transport, the session
// operations, the realtime channel and command dispatch.
type Failure struct {
	Kind      ErrorKind
	Op        string          // operation that failed: login, register, download, ...
	Detail    string          // human readable context
	Body      json.RawMessage // service error payload, if any
	Cause     error
	Timestamp time.Time
}

func newFailure(kind ErrorKind, op, detail string, cause error) *Failure {
	return &Failure{
		Kind:      kind,
		Op:        op,
		Detail:    detail,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

func (e *Failure) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.String())
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if msgs := e.ServiceErrors(); len(msgs) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(msgs, "; "))
		b.WriteString("]")
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *Failure) Unwrap() error {
	return e.Cause
}

// ServiceErrors extracts the service's own diagnostic messages from Body.
// The service reports them either as a list of strings or as a map of
// field name to list of strings.
func (e *Failure) ServiceErrors() []string {
	if len(e.Body) == 0 {
		return nil
	}
	var payload struct {
		Errors json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(e.Body, &payload); err != nil || len(payload.Errors) == 0 {
		return nil
	}

	var list []string
	if err := json.Unmarshal(payload.Errors, &list); err == nil {
		return list
	}

	var fields map[string][]string
	if err := json.Unmarshal(payload.Errors, &fields); err == nil {
		out := make([]string, 0, len(fields))
		for field, msgs := range fields {
			out = append(out, fmt.Sprintf("%s %s", field, strings.Join(msgs, ", ")))
		}
		return out
	}
	return nil
}

// IsKind reports whether err is a *Failure of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var f *Failure
	return errors.As(err, &f) && f.Kind == kind
}

// ErrorHandler is called for every non-fatal failure. None of them stop the
// agent; they are reported so the operator can see them.
type ErrorHandler func(*Failure)

// LogErrors returns an ErrorHandler that logs every failure to the given logger.
func LogErrors(logger zerolog.Logger) ErrorHandler {
	return func(f *Failure) {
		ev := logger.Error().
			Str("op", f.Op).
			Str("kind", f.Kind.String()).
			Time("at", f.Timestamp)
		if f.Cause != nil {
			ev = ev.Err(f.Cause)
		}
		if msgs := f.ServiceErrors(); len(msgs) > 0 {
			ev = ev.Strs("service_errors", msgs)
		}
		ev.Msg(f.Detail)
	}
}
