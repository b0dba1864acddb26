package client

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"duochat/internal/protocol"
)

// SessionConfig configures a chat session.
type SessionConfig struct {
	// ServerURL is the http(s) base URL of the relay.
	ServerURL string
	Username  string
	Password  string

	// ViewCap bounds the derived message sequence (default DefaultViewCap).
	ViewCap int

	// OnUpdate fires after every change to the derived view or the remote
	// typing set.
	OnUpdate func()
	// OnState observes connection state transitions.
	OnState func(State)
}

// Session bundles the client-side subsystems of one chat session: the
// connection manager, the reconciliation view, the local typing notifier
// and the remote typing tracker.
type Session struct {
	api      *API
	conn     *Conn
	view     *View
	tracker  *Tracker
	notifier *Notifier
	update   func()
}

// Dial logs in, connects to the relay and seeds the view with the
// historical fetch. Live events that beat the fetch are merged safely.
func Dial(ctx context.Context, cfg SessionConfig) (*Session, error) {
	api := NewAPI(cfg.ServerURL)
	token, err := api.Login(ctx, cfg.Username, cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	s := &Session{
		api:  api,
		view: NewView(cfg.ViewCap),
	}
	s.update = func() {
		if cfg.OnUpdate != nil {
			cfg.OnUpdate()
		}
	}
	s.tracker = NewTracker(DefaultTypingExpiry, func([]string) { s.update() })

	s.conn = New(Config{
		URL:   wsURL(cfg.ServerURL),
		Token: token,
		OnMessage: func(m protocol.Message) {
			s.view.Apply(m)
			s.update()
		},
		OnTyping: s.tracker.Update,
		OnState:  cfg.OnState,
	})
	s.notifier = NewNotifier(func(isTyping bool) {
		if err := s.conn.SendTyping(isTyping); err != nil {
			log.Debug().Err(err).Msg("[session] typing send failed")
		}
	}, 0, 0)

	s.conn.Start()

	history, err := api.FetchHistory(ctx, token)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	s.view.ApplyHistory(history)
	s.update()

	return s, nil
}

// Keystroke records local input activity for typing notifications.
func (s *Session) Keystroke() { s.notifier.Keystroke() }

// Send sends one chat message, cancelling any pending typing notification
// first. While disconnected the message is queued and flushed on
// reconnect.
func (s *Session) Send(content string) error {
	s.notifier.Stop()
	return s.conn.SendMessage(&protocol.MessageFrame{Content: content})
}

// SendFile sends a message carrying an attachment descriptor.
func (s *Session) SendFile(content, url, name, mime string, size int64) error {
	s.notifier.Stop()
	return s.conn.SendMessage(&protocol.MessageFrame{
		Content:  content,
		FileURL:  url,
		FileName: name,
		FileType: mime,
		FileSize: size,
	})
}

// Messages returns the current derived message sequence.
func (s *Session) Messages() []protocol.Message { return s.view.Messages() }

// TypingUsers returns the remote users currently typing.
func (s *Session) TypingUsers() []string { return s.tracker.Typing() }

// State returns the connection state.
func (s *Session) State() State { return s.conn.State() }

// Close tears the session down: timers cancelled, transport closed
// intentionally, no reconnect attempted.
func (s *Session) Close() error {
	s.notifier.Close()
	s.tracker.Close()
	return s.conn.Close()
}

func wsURL(base string) string {
	u := strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}
