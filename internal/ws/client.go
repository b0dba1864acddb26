package ws

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"duochat/internal/protocol"
)

const (
	// Time allowed to write a message
	writeWait = 10 * time.Second

	// Time allowed to read next pong message
	pongWait = 60 * time.Second

	// Send pings with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Grace period for the auth frame on a fresh connection
	authGrace = 10 * time.Second

	// Max frame size
	maxMessageSize = 512 * 1024 // 512 KB
)

// Client is one server-side connection. It joins the hub only after a
// successful auth handshake.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	user string

	authority TokenValidator
}

// TokenValidator resolves a credential token to a user identity.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

// run performs the auth handshake and, on success, drives the two pumps
// until the connection closes.
func (c *Client) run() {
	if err := c.handshake(); err != nil {
		log.Warn().Err(err).Msg("[ws] handshake failed")
		c.conn.Close()
		return
	}

	select {
	case c.hub.register <- c:
	case <-c.hub.done:
		c.conn.Close()
		return
	}
	go c.writePump()
	c.readPump()
}

// handshake reads exactly one auth frame within the grace period. A missing
// or non-auth first frame closes with CloseAuthRequired; a refused
// credential closes with CloseAuthRejected.
func (c *Client) handshake() error {
	c.conn.SetReadDeadline(time.Now().Add(authGrace))
	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		c.closeWith(protocol.CloseAuthRequired, "auth required")
		return fmt.Errorf("read auth frame: %w", err)
	}

	frame, err := protocol.Decode(raw)
	if err != nil {
		c.closeWith(protocol.CloseAuthRequired, "auth required")
		return fmt.Errorf("decode auth frame: %w", err)
	}
	auth, ok := frame.(*protocol.AuthFrame)
	if !ok {
		c.closeWith(protocol.CloseAuthRequired, "auth required")
		return fmt.Errorf("first frame was %T, want auth", frame)
	}

	user, err := c.authority.ValidateToken(auth.Token)
	if err != nil {
		c.writeFrame(&protocol.AuthResult{Success: false})
		c.closeWith(protocol.CloseAuthRejected, "auth rejected")
		return fmt.Errorf("validate token: %w", err)
	}

	c.user = user
	if err := c.writeFrame(&protocol.AuthResult{Success: true}); err != nil {
		return fmt.Errorf("write auth ack: %w", err)
	}
	log.Info().Str("user", user).Msg("[ws] authenticated")
	return nil
}

// writeFrame writes directly to the connection. Only used during the
// handshake, before writePump owns the write side.
func (c *Client) writeFrame(f protocol.Frame) error {
	payload, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *Client) closeWith(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		log.Debug().Err(err).Msg("[ws] write close failed")
		return
	}
	// Wait briefly for the peer's close reply so the code is delivered
	// before the TCP teardown.
	c.conn.SetReadDeadline(time.Now().Add(time.Second))
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// readPump pumps frames from the connection into the hub.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("user", c.user).Msg("[ws] unexpected close")
			}
			break
		}
		c.handleFrame(raw)
	}
}

// writePump pumps payloads from the hub to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Error().Err(err).Str("user", c.user).Msg("[ws] write failed")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("user", c.user).Msg("[ws] ping failed")
				return
			}
		}
	}
}

// handleFrame routes one inbound frame. Malformed or invalid frames are
// logged and dropped; they never close the connection.
func (c *Client) handleFrame(raw []byte) {
	frame, err := protocol.Decode(raw)
	if err != nil {
		log.Warn().Err(err).Str("user", c.user).Msg("[ws] dropping malformed frame")
		return
	}

	switch f := frame.(type) {
	case *protocol.MessageFrame:
		c.handleMessage(f)

	case *protocol.TypingFrame:
		payload, err := protocol.Encode(&protocol.TypingFrame{IsTyping: f.IsTyping, User: c.user})
		if err != nil {
			log.Error().Err(err).Str("user", c.user).Msg("[ws] encode typing relay")
			return
		}
		select {
		case c.hub.typing <- typingRelay{origin: c, payload: payload}:
		case <-c.hub.done:
		}

	default:
		log.Warn().Str("user", c.user).Str("type", fmt.Sprintf("%T", frame)).Msg("[ws] dropping unexpected frame")
	}
}

func (c *Client) handleMessage(f *protocol.MessageFrame) {
	if err := validateMessage(f); err != nil {
		log.Warn().Err(err).Str("user", c.user).Msg("[ws] dropping invalid message")
		return
	}

	saved, err := c.hub.store.Append(protocol.Message{
		Sender:   c.user,
		Content:  f.Content,
		FileURL:  f.FileURL,
		FileName: f.FileName,
		FileSize: f.FileSize,
		FileType: f.FileType,
		ReplyTo:  f.ReplyTo,
	})
	if err != nil {
		// Not broadcast; the sender sees no echo and treats the send as
		// failed. No NACK frame is defined.
		log.Error().Err(err).Str("user", c.user).Msg("[ws] persist failed, message not broadcast")
		return
	}

	payload, err := protocol.Encode(&protocol.BroadcastFrame{Data: saved})
	if err != nil {
		log.Error().Err(err).Str("id", saved.ID).Msg("[ws] encode broadcast")
		return
	}
	select {
	case c.hub.broadcast <- payload:
	case <-c.hub.done:
	}
}

func validateMessage(f *protocol.MessageFrame) error {
	if strings.TrimSpace(f.Content) == "" && f.FileURL == "" {
		return errors.New("empty content and no attachment")
	}
	if utf8.RuneCountInString(f.Content) > protocol.MaxContentLen {
		return fmt.Errorf("content exceeds %d characters", protocol.MaxContentLen)
	}
	if f.FileSize < 0 || f.FileSize > protocol.MaxFileSize {
		return fmt.Errorf("file size %d out of range", f.FileSize)
	}
	return nil
}
