package client

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"duochat/internal/protocol"
)

// Conn state machine states.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingAuth
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingAuth:
		return "awaiting-auth"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "disconnected"
	}
}

// DefaultReconnectDelay is the fixed wait before a reconnect attempt.
const DefaultReconnectDelay = 3 * time.Second

// DefaultQueueLimit bounds the outbound queue held while disconnected.
const DefaultQueueLimit = 128

var (
	// ErrQueueFull reports that a send attempted while disconnected could
	// not be queued.
	ErrQueueFull = errors.New("outbound queue full")
	// ErrClosed reports a send on a torn-down connection manager.
	ErrClosed = errors.New("connection closed")
)

// Config configures a Conn.
type Config struct {
	// URL is the ws:// or wss:// endpoint of the relay.
	URL string
	// Token is the credential sent in the auth handshake.
	Token string

	ReconnectDelay time.Duration
	QueueLimit     int

	// OnMessage receives every broadcast chat message.
	OnMessage func(protocol.Message)
	// OnTyping receives remote typing events.
	OnTyping func(user string, isTyping bool)
	// OnState observes every state transition.
	OnState func(State)

	Dialer *websocket.Dialer
}

// Conn owns one persistent relay connection: it dials, authenticates,
// dispatches inbound events, queues outbound sends while disconnected and
// reconnects after transient failures. Closes caused by an intentional
// shutdown or an authentication rejection are final.
type Conn struct {
	cfg Config

	mu       sync.Mutex
	state    State
	ws       *websocket.Conn
	queue    [][]byte
	flushing bool
	closed   bool
	gen      int // bumped on Close; stale timers and pumps check it
	retry    *time.Timer
	writeMu  sync.Mutex
}

func New(cfg Config) *Conn {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.QueueLimit <= 0 {
		cfg.QueueLimit = DefaultQueueLimit
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &Conn{cfg: cfg}
}

// Start begins connecting in the background.
func (c *Conn) Start() {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	go c.connect(gen)
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// QueueLen returns the number of payloads waiting for the next
// authenticated connection.
func (c *Conn) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// SendMessage sends (or queues) one chat message.
func (c *Conn) SendMessage(f *protocol.MessageFrame) error {
	if f.Timestamp.IsZero() {
		f.Timestamp = protocol.Now()
	}
	return c.send(f)
}

// SendTyping sends a typing signal. Typing state is ephemeral, so unlike
// chat messages it is dropped rather than queued while disconnected.
func (c *Conn) SendTyping(isTyping bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateAuthenticated || c.ws == nil {
		c.mu.Unlock()
		return nil
	}
	ws := c.ws
	c.mu.Unlock()

	payload, err := protocol.Encode(&protocol.TypingFrame{IsTyping: isTyping})
	if err != nil {
		return err
	}
	return c.write(ws, payload)
}

func (c *Conn) send(f protocol.Frame) error {
	payload, err := protocol.Encode(f)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateAuthenticated || c.ws == nil || c.flushing {
		if len(c.queue) >= c.cfg.QueueLimit {
			c.mu.Unlock()
			return ErrQueueFull
		}
		c.queue = append(c.queue, payload)
		qlen := len(c.queue)
		c.mu.Unlock()
		log.Debug().Int("queued", qlen).Msg("[conn] send queued while disconnected")
		return nil
	}
	ws := c.ws
	c.mu.Unlock()

	return c.write(ws, payload)
}

func (c *Conn) write(ws *websocket.Conn, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return ws.WriteMessage(websocket.TextMessage, payload)
}

// Close tears the session down: pending reconnect timers are cancelled and
// the transport is closed with a normal-closure code so neither side tries
// to revive it.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.gen++
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()
	c.setState(StateDisconnected)

	if ws != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		c.writeMu.Lock()
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.writeMu.Unlock()
		return ws.Close()
	}
	return nil
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	cb := c.cfg.OnState
	c.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}

// connect runs one dial-auth-read cycle. gen guards against a stale
// attempt outliving Close.
func (c *Conn) connect(gen int) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.setState(StateConnecting)

	ws, _, err := c.cfg.Dialer.Dial(c.cfg.URL, nil)
	if err != nil {
		log.Warn().Err(err).Str("url", c.cfg.URL).Msg("[conn] dial failed")
		c.setState(StateDisconnected)
		c.scheduleReconnect(gen)
		return
	}

	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		ws.Close()
		return
	}
	c.ws = ws
	c.mu.Unlock()
	c.setState(StateAwaitingAuth)

	authPayload, err := protocol.Encode(&protocol.AuthFrame{Token: c.cfg.Token})
	if err != nil {
		log.Error().Err(err).Msg("[conn] encode auth frame")
		ws.Close()
		return
	}
	if err := c.write(ws, authPayload); err != nil {
		log.Warn().Err(err).Msg("[conn] auth write failed")
		c.handleDisconnect(gen, ws, err)
		return
	}

	c.readLoop(gen, ws)
}

func (c *Conn) readLoop(gen int, ws *websocket.Conn) {
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			c.handleDisconnect(gen, ws, err)
			return
		}
		c.handleFrame(gen, ws, raw)
	}
}

func (c *Conn) handleFrame(gen int, ws *websocket.Conn, raw []byte) {
	frame, err := protocol.Decode(raw)
	if err != nil {
		log.Warn().Err(err).Msg("[conn] dropping malformed frame")
		return
	}

	switch f := frame.(type) {
	case *protocol.AuthResult:
		if !f.Success {
			// The server follows up with an auth-rejected close; the read
			// loop surfaces it.
			log.Warn().Msg("[conn] authentication rejected")
			return
		}
		c.authenticated(gen, ws)

	case *protocol.BroadcastFrame:
		if c.State() != StateAuthenticated {
			log.Debug().Msg("[conn] ignoring broadcast before auth")
			return
		}
		if c.cfg.OnMessage != nil {
			c.cfg.OnMessage(f.Data)
		}

	case *protocol.TypingFrame:
		if c.State() != StateAuthenticated {
			log.Debug().Msg("[conn] ignoring typing before auth")
			return
		}
		if c.cfg.OnTyping != nil {
			c.cfg.OnTyping(f.User, f.IsTyping)
		}

	default:
		log.Debug().Str("type", fmt.Sprintf("%T", frame)).Msg("[conn] dropping unexpected frame")
	}
}

// authenticated transitions to the authenticated state and flushes the
// outbound queue in FIFO order. Sends issued while the flush runs keep
// landing in the queue so they cannot overtake payloads queued before
// them; direct writes resume only once the queue is drained.
func (c *Conn) authenticated(gen int, ws *websocket.Conn) {
	c.mu.Lock()
	if c.closed || gen != c.gen || c.ws != ws {
		c.mu.Unlock()
		return
	}
	c.flushing = true
	qlen := len(c.queue)
	c.mu.Unlock()
	c.setState(StateAuthenticated)
	log.Info().Int("queued", qlen).Msg("[conn] authenticated")

	for {
		c.mu.Lock()
		if c.closed || gen != c.gen || len(c.queue) == 0 {
			c.flushing = false
			c.mu.Unlock()
			return
		}
		payload := c.queue[0]
		c.mu.Unlock()

		if err := c.write(ws, payload); err != nil {
			// Head stays queued for the next flush after reconnect.
			log.Warn().Err(err).Msg("[conn] queue flush interrupted")
			c.mu.Lock()
			c.flushing = false
			c.mu.Unlock()
			return
		}

		c.mu.Lock()
		if gen == c.gen && len(c.queue) > 0 {
			c.queue = c.queue[1:]
		}
		c.mu.Unlock()
	}
}

func (c *Conn) handleDisconnect(gen int, ws *websocket.Conn, err error) {
	code := websocket.CloseAbnormalClosure
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		code = ce.Code
	}

	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	if c.ws == ws {
		c.ws = nil
	}
	c.mu.Unlock()
	ws.Close()
	c.setState(StateDisconnected)

	if !protocol.ShouldReconnect(code) {
		log.Info().Int("code", code).Msg("[conn] closed, not reconnecting")
		return
	}
	log.Warn().Int("code", code).Err(err).Msg("[conn] connection lost, reconnecting")
	c.scheduleReconnect(gen)
}

func (c *Conn) scheduleReconnect(gen int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.gen {
		return
	}
	if c.retry != nil {
		c.retry.Stop()
	}
	c.retry = time.AfterFunc(c.cfg.ReconnectDelay, func() {
		c.mu.Lock()
		live := !c.closed && gen == c.gen
		c.mu.Unlock()
		if live {
			c.connect(gen)
		}
	})
}
