package ws

import (
	"sync"

	"github.com/rs/zerolog/log"

	"duochat/internal/protocol"
)

// Store persists chat messages, assigning id and timestamp.
type Store interface {
	Append(protocol.Message) (protocol.Message, error)
}

type typingRelay struct {
	origin  *Client
	payload []byte
}

// Hub maintains the set of authenticated connections and fans out
// broadcasts. Clients join the set only after a successful auth handshake;
// nothing is retained for a connection once it leaves.
type Hub struct {
	clients map[*Client]bool

	mu sync.RWMutex

	register   chan *Client
	unregister chan *Client

	// Persisted-message payloads fanned out to every client.
	broadcast chan []byte

	// Typing payloads relayed to every client except the origin.
	typing chan typingRelay

	store Store
	quit  chan struct{}
	done  chan struct{}
}

func NewHub(store Store) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte),
		typing:     make(chan typingRelay),
		store:      store,
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	log.Info().Msg("[hub] starting event loop")
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case payload := <-h.broadcast:
			h.broadcastToAll(payload)

		case relay := <-h.typing:
			h.relayTyping(relay)

		case <-h.quit:
			h.closeAll()
			return
		}
	}
}

// Shutdown closes every connection and stops the event loop.
func (h *Hub) Shutdown() {
	close(h.quit)
	<-h.done
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = true
	log.Info().Str("user", client.user).Int("clients", len(h.clients)).Msg("[hub] client registered")
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		log.Info().Str("user", client.user).Int("clients", len(h.clients)).Msg("[hub] client unregistered")
	}
}

func (h *Hub) broadcastToAll(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sent, dropped := 0, 0
	for client := range h.clients {
		select {
		case client.send <- payload:
			sent++
		default:
			// Buffer full; drop this consumer so it cannot stall the rest.
			log.Warn().Str("user", client.user).Msg("[hub] client buffer full, disconnecting")
			close(client.send)
			delete(h.clients, client)
			dropped++
		}
	}
	log.Debug().Int("sent", sent).Int("dropped", dropped).Msg("[hub] broadcast complete")
}

func (h *Hub) relayTyping(relay typingRelay) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if client == relay.origin {
			continue
		}
		select {
		case client.send <- relay.payload:
		default:
			log.Warn().Str("user", client.user).Msg("[hub] client buffer full, disconnecting")
			close(client.send)
			delete(h.clients, client)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	log.Info().Msg("[hub] all clients closed")
}

// Users returns the identities of currently connected clients.
func (h *Hub) Users() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	users := make([]string, 0, len(h.clients))
	for client := range h.clients {
		users = append(users, client.user)
	}
	return users
}
