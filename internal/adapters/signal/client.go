package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/edulive/rtcmesh/internal/core"
	"github.com/edulive/rtcmesh/internal/domain"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
)

var (
	ErrChannelClosed = errors.New("signal channel closed")
	ErrBackpressure  = errors.New("backpressure")
)

// Client is the websocket client toward the signaling relay. It implements
// core.SignalChannel: typed send/receive of named events, an online
// presence set, and automatic bounded redial on transport loss.
type Client struct {
	rawURL   string
	identity domain.UserID

	pingPeriod time.Duration
	readLimit  int64
	redialMax  int
	redialWait time.Duration

	onOnline     func([]domain.UserID)
	forcedLogout func(reason string)

	mu       sync.RWMutex
	handlers map[string]core.EventHandler
	online   []domain.UserID
	closed   bool

	send chan []byte
	done chan struct{}
}

type Options struct {
	URL               string
	Identity          domain.UserID
	PingPeriod        time.Duration
	ReadLimit         int64
	ReconnectAttempts int
	ReconnectDelay    time.Duration

	// OnOnline fires on every presence update from the relay.
	OnOnline func([]domain.UserID)
	// ForcedLogout is the one cross-cutting side effect the channel is
	// allowed: the relay demanded an application-wide sign-out.
	ForcedLogout func(reason string)
}

func NewClient(opts Options) *Client {
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = (pongWait * 9) / 10
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 32768
	}
	return &Client{
		rawURL:       opts.URL,
		identity:     opts.Identity,
		pingPeriod:   opts.PingPeriod,
		readLimit:    opts.ReadLimit,
		redialMax:    opts.ReconnectAttempts,
		redialWait:   opts.ReconnectDelay,
		onOnline:     opts.OnOnline,
		forcedLogout: opts.ForcedLogout,
		handlers:     make(map[string]core.EventHandler),
		send:         make(chan []byte, 32),
		done:         make(chan struct{}),
	}
}

// Connect dials the relay tagged with the local identity. A missing
// identity is not an error: the client stays silent with no channel.
func (c *Client) Connect(ctx context.Context) error {
	if c.identity == "" {
		log.Warn().Str("module", "signal").Msg("no identity, signaling disabled")
		return nil
	}
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.startPumps(ctx, conn)
	log.Info().Str("module", "signal").Str("user", string(c.identity)).Msg("connected to relay")
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid signal url: %w", err)
	}
	q := u.Query()
	q.Set("userId", string(c.identity))
	u.RawQuery = q.Encode()

	var lastErr error
	for attempt := 0; attempt <= c.redialMax; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-c.done:
				return nil, ErrChannelClosed
			case <-time.After(c.redialWait):
			}
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		log.Warn().Err(err).Str("module", "signal").Int("attempt", attempt+1).Msg("dial failed")
	}
	return nil, fmt.Errorf("signal dial: %w", lastErr)
}

func (c *Client) startPumps(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadLimit(c.readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.writePump(conn)
	go c.readPump(ctx, conn)
}

func (c *Client) writePump(conn *websocket.Conn) {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (c *Client) readPump(ctx context.Context, conn *websocket.Conn) {
	defer func() { _ = conn.Close() }()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.isClosed() || ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("module", "signal").Msg("transport lost, redialing")
			next, derr := c.dial(ctx)
			if derr != nil {
				log.Error().Err(derr).Str("module", "signal").Msg("redial exhausted")
				c.Close()
				return
			}
			c.startPumps(ctx, next)
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad envelope")
		return
	}

	switch env.Event {
	case EventOnlineUsers:
		var ids []domain.UserID
		if err := json.Unmarshal(env.Payload, &ids); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("bad presence payload")
			return
		}
		c.mu.Lock()
		c.online = ids
		c.mu.Unlock()
		if c.onOnline != nil {
			c.onOnline(ids)
		}
	case EventForceLogout:
		var p LogoutPayload
		_ = json.Unmarshal(env.Payload, &p)
		log.Warn().Str("module", "signal").Str("reason", p.Reason).Msg("forced logout")
		if c.forcedLogout != nil {
			c.forcedLogout(p.Reason)
		}
		c.Close()
		return
	}

	c.mu.RLock()
	h, ok := c.handlers[env.Event]
	c.mu.RUnlock()
	if !ok {
		return
	}
	h(env.Payload)
}

// Send is fire-and-forget. When the outgoing buffer is full the frame is
// dropped rather than blocking the caller.
func (c *Client) Send(event string, v any) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrChannelClosed
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	data, err := json.Marshal(Envelope{Event: event, Payload: payload})
	if err != nil {
		return err
	}

	select {
	case c.send <- data:
		return nil
	default:
		log.Warn().Str("module", "signal").Str("event", event).Msg("send buffer full, frame dropped")
		return ErrBackpressure
	}
}

func (c *Client) On(event string, h core.EventHandler) {
	c.mu.Lock()
	c.handlers[event] = h
	c.mu.Unlock()
}

func (c *Client) Off(event string) {
	c.mu.Lock()
	delete(c.handlers, event)
	c.mu.Unlock()
}

// Online returns a copy of the last presence set reported by the relay.
func (c *Client) Online() []domain.UserID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.UserID, len(c.online))
	copy(out, c.online)
	return out
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Close detaches every handler before tearing the socket down so no event
// fires into torn-down state. Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.handlers = make(map[string]core.EventHandler)
	c.mu.Unlock()
	close(c.done)
	log.Info().Str("module", "signal").Msg("channel closed")
}
