package ws

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: Validate origin in production
		return true
	},
}

// ServeWS upgrades an HTTP request to a WebSocket connection. The
// connection starts unauthenticated; no message traffic is accepted until
// the in-band auth handshake succeeds.
func ServeWS(hub *Hub, authority TokenValidator, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("remote", r.RemoteAddr).Msg("[ws] upgrade failed")
		return
	}
	log.Debug().Str("remote", r.RemoteAddr).Msg("[ws] connection upgraded, awaiting auth")

	client := &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, 256),
		authority: authority,
	}
	go client.run()
}
