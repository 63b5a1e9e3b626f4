package pushover

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	handshakeTimeout = 10 * time.Second
	closeWriteWait   = time.Second
)

// wsChannel implements the realtime interface over a WebSocket.
type wsChannel struct {
	wsURL     string
	keepalive time.Duration
	dialer    *websocket.Dialer
	log       zerolog.Logger

	conn *websocket.Conn
	mu   sync.Mutex // protects conn, st and writes

	st ChannelState

	signalFn func(Signal)
	errorFn  func(error)

	handlers sync.WaitGroup // in-flight signal callbacks

	done     chan struct{} // closed by close()
	loopDone chan struct{} // closed when the read loop and its callbacks are finished
	once     sync.Once
}

func newWSChannel(wsURL string, keepalive time.Duration, dialer *websocket.Dialer, logger zerolog.Logger) *wsChannel {
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: handshakeTimeout,
		}
	}
	return &wsChannel{
		wsURL:     wsURL,
		keepalive: keepalive,
		dialer:    dialer,
		log:       logger,
		st:        Connecting,
		done:      make(chan struct{}),
		loopDone:  make(chan struct{}),
	}
}

func (c *wsChannel) connect(ctx context.Context, creds Credentials) error {
	if creds.DeviceID == "" {
		return newFailure(ErrMissingDeviceID, "channel", "cannot log in to realtime channel", nil)
	}

	conn, _, err := c.dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return newFailure(ErrNetwork, "channel", "dial "+c.wsURL, err)
	}

	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		conn.Close()
		return newFailure(ErrChannel, "channel", "closed while connecting", nil)
	default:
	}
	c.conn = conn
	c.mu.Unlock()

	if err := c.write(loginFrame(creds)); err != nil {
		c.mu.Lock()
		c.conn = nil
		c.st = Closed
		c.mu.Unlock()
		conn.Close()
		return newFailure(ErrChannel, "channel", "send login frame", err)
	}
	c.log.Info().Msg("sent realtime credentials")

	c.setState(AwaitingAuth)
	c.extendDeadline(conn)

	go c.readLoop(conn)
	return nil
}

func (c *wsChannel) onSignal(fn func(Signal)) {
	c.signalFn = fn
}

func (c *wsChannel) onError(fn func(error)) {
	c.errorFn = fn
}

func (c *wsChannel) finished() <-chan struct{} {
	return c.loopDone
}

func (c *wsChannel) state() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st
}

func (c *wsChannel) setState(s ChannelState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Closing and Closed are terminal for the forward transitions.
	if c.st >= Closing && s < c.st {
		return
	}
	c.st = s
}

func (c *wsChannel) close() error {
	var err error
	c.once.Do(func() {
		close(c.done)

		c.mu.Lock()
		conn := c.conn
		if c.st < Closing {
			c.st = Closing
		}
		if conn == nil {
			c.st = Closed
		}
		c.mu.Unlock()

		if conn == nil {
			// Never connected: nothing will close loopDone.
			close(c.loopDone)
			return
		}

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWait))
		err = conn.Close()
	})
	return err
}

func (c *wsChannel) readLoop(conn *websocket.Conn) {
	defer func() {
		c.handlers.Wait()
		conn.Close()
		c.setState(Closed)
		close(c.loopDone)
		c.log.Info().Msg("realtime channel closed")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				// Peer closes and read errors pass through Closing like a
				// local close, so the error callback observes it.
				c.setState(Closing)
				c.reportError(err)
				c.once.Do(func() { close(c.done) })
			}
			return
		}
		c.extendDeadline(conn)

		sig := decodeSignal(data)
		if sig == SignalUnknown {
			c.log.Warn().Str("frame", string(data)).Msg("unrecognized realtime message")
			continue
		}

		// Only a recognized signal proves the login frame was accepted.
		c.mu.Lock()
		if c.st == AwaitingAuth {
			c.st = Listening
		}
		c.mu.Unlock()
		c.log.Debug().Stringer("signal", sig).Msg("realtime message")

		if c.signalFn != nil {
			c.handlers.Add(1)
			go func() {
				defer c.handlers.Done()
				c.signalFn(sig)
			}()
		}
	}
}

func (c *wsChannel) reportError(err error) {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.log.Info().Err(err).Msg("realtime channel closed by peer")
		return
	}
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) && ne.Timeout() {
		err = errors.Join(errors.New("no keepalive received"), err)
	}
	if c.errorFn != nil {
		c.errorFn(newFailure(ErrChannel, "channel", "realtime channel error", err))
	}
}

// extendDeadline pushes the read deadline out by the keepalive timeout. The
// service sends a keepalive well within it, so expiry means a dead link.
func (c *wsChannel) extendDeadline(conn *websocket.Conn) {
	if c.keepalive <= 0 {
		return
	}
	_ = conn.SetReadDeadline(time.Now().Add(c.keepalive))
}

func (c *wsChannel) write(frame string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return errors.New("channel is not connected")
	}
	return c.conn.WriteMessage(websocket.TextMessage, []byte(frame))
}
