package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"arcade/game"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	snapshotWait   = 5 * time.Second
)

type LeaderboardSource interface {
	Leaderboard(ctx context.Context, gameType string) ([]game.LeaderboardRow, error)
}

// Manager fans leaderboard snapshots out to websocket subscribers, one room
// per game type. Rooms are created on first subscriber and dropped when the
// last one leaves.
type Manager struct {
	rooms  map[string]*Room
	source LeaderboardSource
	logger zerolog.Logger
	mu     sync.Mutex
}

func NewManager(source LeaderboardSource, logger zerolog.Logger) *Manager {
	return &Manager{
		rooms:  make(map[string]*Room),
		source: source,
		logger: logger.With().Str("component", "ws").Logger(),
	}
}

func (m *Manager) room(gameType string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rooms[gameType]
}

// Subscribers reports how many feed clients are watching gameType.
func (m *Manager) Subscribers(gameType string) int {
	room := m.room(gameType)
	if room == nil {
		return 0
	}
	return room.ClientCount()
}

func (m *Manager) HandleConnection(conn *websocket.Conn, gameType string) {
	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
	}

	m.mu.Lock()
	room, exists := m.rooms[gameType]
	if !exists {
		room = NewRoom(gameType, m.logger)
		m.rooms[gameType] = room
	}
	room.AddClient(client)
	m.mu.Unlock()

	m.sendSnapshot(client, gameType)

	go m.writePump(client)
	go m.readPump(client, room)
}

// Publish pushes the current leaderboard of gameType to its subscribers.
// Nothing is queried when nobody is listening.
func (m *Manager) Publish(ctx context.Context, gameType string) {
	room := m.room(gameType)
	if room == nil || room.ClientCount() == 0 {
		return
	}

	rows, err := m.source.Leaderboard(ctx, gameType)
	if err != nil {
		m.logger.Error().Err(err).Str("game_type", gameType).Msg("failed to load leaderboard for publish")
		return
	}
	room.Broadcast(OutgoingMessage{Type: TypeLeaderboard, GameType: gameType, Payload: rows})
}

func (m *Manager) removeClient(client *Client, room *Room) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if room.RemoveClient(client) == 0 && m.rooms[room.gameType] == room {
		delete(m.rooms, room.gameType)
	}
}

func (m *Manager) sendSnapshot(client *Client, gameType string) {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotWait)
	defer cancel()

	rows, err := m.source.Leaderboard(ctx, gameType)
	if err != nil {
		m.logger.Error().Err(err).Str("game_type", gameType).Msg("failed to load leaderboard snapshot")
		m.send(client, OutgoingMessage{Type: TypeError, Payload: map[string]string{"message": "leaderboard unavailable"}})
		return
	}
	m.send(client, OutgoingMessage{Type: TypeLeaderboard, GameType: gameType, Payload: rows})
}

func (m *Manager) send(client *Client, msg OutgoingMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to marshal message")
		return
	}
	select {
	case client.send <- data:
	default:
	}
}

func (m *Manager) readPump(client *Client, room *Room) {
	defer func() {
		m.removeClient(client, room)
		client.conn.Close()
	}()

	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetReadLimit(maxMessageSize)
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				m.logger.Warn().Err(err).Msg("websocket closed unexpectedly")
			}
			break
		}

		var inMsg IncomingMessage
		if err := json.Unmarshal(message, &inMsg); err != nil {
			m.send(client, OutgoingMessage{Type: TypeError, Payload: map[string]string{"message": "invalid message"}})
			continue
		}

		switch inMsg.Type {
		case TypeRefresh:
			m.sendSnapshot(client, room.gameType)
		default:
			m.send(client, OutgoingMessage{Type: TypeError, Payload: map[string]string{"message": "unknown message type"}})
		}
	}
}

func (m *Manager) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
