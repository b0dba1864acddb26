package protocol

import "github.com/gorilla/websocket"

// Application close codes. 1000 (normal closure) means an intentional close;
// neither it nor the auth codes may trigger an automatic reconnect.
const (
	CloseAuthRequired = 4001 // no auth frame within the grace period
	CloseAuthRejected = 4003 // credential presented and refused
)

// ShouldReconnect reports whether a close code permits automatic
// reconnection. Intentional closes and authentication failures do not;
// everything else is treated as transient.
func ShouldReconnect(code int) bool {
	switch code {
	case websocket.CloseNormalClosure, CloseAuthRequired, CloseAuthRejected:
		return false
	}
	return true
}
