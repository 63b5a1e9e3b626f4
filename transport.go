package pushover

import (
	"bytes"
	"context"
	"fmt"
)

// realtime is the internal interface for the persistent control channel.
// The current implementation uses a WebSocket (channel.go).
type realtime interface {
	// connect dials the service and sends the login frame for creds.
	connect(ctx context.Context, creds Credentials) error

	// close shuts the channel down. Safe to call more than once and from a
	// signal callback.
	close() error

	// finished is closed once the receive loop has exited and every signal
	// callback it started has returned.
	finished() <-chan struct{}

	// state reports where the channel is in its lifecycle.
	state() ChannelState

	// onSignal registers the callback run, on its own goroutine, for each
	// decoded control signal.
	onSignal(fn func(Signal))

	// onError registers the callback for transport-level errors.
	onError(fn func(error))
}

// Signal is a single-character control payload sent by the service.
type Signal byte

const (
	SignalUnknown           Signal = 0
	SignalNewData           Signal = '!' // new notifications are available
	SignalReconnect         Signal = 'R' // reconnect and re-authenticate
	SignalTerminate         Signal = 'E' // permanent error, stop
	SignalLoggedInElsewhere Signal = 'A' // device logged in from another session, stop
	SignalKeepalive         Signal = '#'
)

// decodeSignal maps one inbound frame to a Signal. Anything other than a
// single known character decodes to SignalUnknown.
func decodeSignal(frame []byte) Signal {
	frame = bytes.TrimRight(frame, "\r\n")
	if len(frame) != 1 {
		return SignalUnknown
	}
	switch s := Signal(frame[0]); s {
	case SignalNewData, SignalReconnect, SignalTerminate, SignalLoggedInElsewhere, SignalKeepalive:
		return s
	}
	return SignalUnknown
}

func (s Signal) String() string {
	switch s {
	case SignalNewData:
		return "new-data"
	case SignalReconnect:
		return "reconnect"
	case SignalTerminate:
		return "terminate"
	case SignalLoggedInElsewhere:
		return "logged-in-elsewhere"
	case SignalKeepalive:
		return "keepalive"
	}
	return "unknown"
}

// loginFrame is the first outbound frame on the channel.
func loginFrame(creds Credentials) string {
	return fmt.Sprintf("login:%s:%s\n", creds.DeviceID, creds.Secret)
}

// ChannelState is the lifecycle state of the realtime channel.
type ChannelState int32

const (
	Connecting ChannelState = iota
	AwaitingAuth
	Listening
	Closing
	Closed
)

var channelStateNames = [...]string{
	Connecting:   "connecting",
	AwaitingAuth: "awaiting-auth",
	Listening:    "listening",
	Closing:      "closing",
	Closed:       "closed",
}

func (s ChannelState) String() string {
	if int(s) >= 0 && int(s) < len(channelStateNames) {
		return channelStateNames[s]
	}
	return fmt.Sprintf("ChannelState(%d)", s)
}

func (s ChannelState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
