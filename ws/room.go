package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type Client struct {
	conn *websocket.Conn
	send chan []byte
}

// Room holds the feed subscribers of one game type.
type Room struct {
	gameType string
	clients  map[*Client]bool
	logger   zerolog.Logger
	mu       sync.RWMutex
}

func NewRoom(gameType string, logger zerolog.Logger) *Room {
	return &Room{
		gameType: gameType,
		clients:  make(map[*Client]bool),
		logger:   logger,
	}
}

func (r *Room) AddClient(client *Client) {
	r.mu.Lock()
	r.clients[client] = true
	r.mu.Unlock()
}

// RemoveClient drops client and closes its send channel, reporting how many
// clients remain.
func (r *Room) RemoveClient(client *Client) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[client]; ok {
		delete(r.clients, client)
		close(client.send)
	}
	return len(r.clients)
}

func (r *Room) Broadcast(message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to marshal broadcast")
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for client := range r.clients {
		select {
		case client.send <- data:
		default:
			r.logger.Warn().Str("game_type", r.gameType).Msg("client send buffer full")
		}
	}
}

func (r *Room) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
