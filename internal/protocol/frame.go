package protocol

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Frame types carried over the WebSocket connection.
const (
	TypeAuth    = "auth"
	TypeMessage = "message"
	TypeTyping  = "typing"
)

// ParseError reports a frame that failed decoding or carried an unknown
// type. Receivers log and drop these; they never tear down the connection.
type ParseError struct {
	Type string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("frame type %q: %v", e.Type, e.Err)
	}
	return fmt.Sprintf("malformed frame: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Frame is one decoded wire frame: AuthFrame, AuthResult, MessageFrame,
// BroadcastFrame or TypingFrame.
type Frame interface {
	frameType() string
}

// AuthFrame is the client's credential handshake, the only frame accepted
// on an unauthenticated connection.
type AuthFrame struct {
	Token string `json:"token"`
}

// AuthResult is the server's reply to an AuthFrame.
type AuthResult struct {
	Success bool `json:"success"`
}

// MessageFrame is an outbound chat message from a client. The server ignores
// the client timestamp and assigns its own at persistence time.
type MessageFrame struct {
	Content   string    `json:"content,omitempty"`
	FileURL   string    `json:"fileUrl,omitempty"`
	FileName  string    `json:"fileName,omitempty"`
	FileSize  int64     `json:"fileSize,omitempty"`
	FileType  string    `json:"fileType,omitempty"`
	Timestamp FlexTime  `json:"timestamp"`
	ReplyTo   *ReplyRef `json:"replyTo,omitempty"`
}

// BroadcastFrame is the server's echo of a persisted message, fanned out to
// every authenticated connection including the sender.
type BroadcastFrame struct {
	Data Message `json:"data"`
}

// TypingFrame signals typing state. The server fills User from the session
// identity when relaying; clients never set it.
type TypingFrame struct {
	IsTyping bool   `json:"isTyping"`
	User     string `json:"user,omitempty"`
}

func (AuthFrame) frameType() string      { return TypeAuth }
func (AuthResult) frameType() string     { return TypeAuth }
func (MessageFrame) frameType() string   { return TypeMessage }
func (BroadcastFrame) frameType() string { return TypeMessage }
func (TypingFrame) frameType() string    { return TypeTyping }

type envelope struct {
	Type string `json:"type"`

	// auth
	Token   string `json:"token"`
	Success *bool  `json:"success"`

	// message
	Data json.RawMessage `json:"data"`

	// typing
	IsTyping *bool  `json:"isTyping"`
	User     string `json:"user"`
}

// Decode parses one wire frame into its tagged variant. Invalid JSON, a
// missing type tag or an unknown type yield a *ParseError.
func Decode(raw []byte) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &ParseError{Err: err}
	}
	switch env.Type {
	case TypeAuth:
		if env.Success != nil {
			return &AuthResult{Success: *env.Success}, nil
		}
		return &AuthFrame{Token: env.Token}, nil
	case TypeMessage:
		if len(env.Data) > 0 {
			var b BroadcastFrame
			if err := json.Unmarshal(raw, &b); err != nil {
				return nil, &ParseError{Type: TypeMessage, Err: err}
			}
			return &b, nil
		}
		var m MessageFrame
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, &ParseError{Type: TypeMessage, Err: err}
		}
		return &m, nil
	case TypeTyping:
		if env.IsTyping == nil {
			return nil, &ParseError{Type: TypeTyping, Err: fmt.Errorf("missing isTyping")}
		}
		return &TypingFrame{IsTyping: *env.IsTyping, User: env.User}, nil
	case "":
		return nil, &ParseError{Err: fmt.Errorf("missing type tag")}
	default:
		return nil, &ParseError{Type: env.Type, Err: fmt.Errorf("unknown frame type")}
	}
}

// Encode wraps a frame with its type tag for the wire.
func Encode(f Frame) ([]byte, error) {
	switch v := f.(type) {
	case *AuthFrame:
		return json.Marshal(struct {
			Type string `json:"type"`
			*AuthFrame
		}{TypeAuth, v})
	case *AuthResult:
		return json.Marshal(struct {
			Type string `json:"type"`
			*AuthResult
		}{TypeAuth, v})
	case *MessageFrame:
		return json.Marshal(struct {
			Type string `json:"type"`
			*MessageFrame
		}{TypeMessage, v})
	case *BroadcastFrame:
		return json.Marshal(struct {
			Type string `json:"type"`
			*BroadcastFrame
		}{TypeMessage, v})
	case *TypingFrame:
		return json.Marshal(struct {
			Type string `json:"type"`
			*TypingFrame
		}{TypeTyping, v})
	default:
		return nil, fmt.Errorf("unsupported frame %T", f)
	}
}
