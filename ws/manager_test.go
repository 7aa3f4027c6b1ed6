package ws

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"arcade/game"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu    sync.Mutex
	rows  map[string][]game.LeaderboardRow
	err   error
	calls int
}

func (f *fakeSource) Leaderboard(_ context.Context, gameType string) ([]game.LeaderboardRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	rows := f.rows[gameType]
	if rows == nil {
		rows = []game.LeaderboardRow{}
	}
	return rows, nil
}

func (f *fakeSource) set(gameType string, rows ...game.LeaderboardRow) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[gameType] = rows
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type feedMessage struct {
	Type     string                `json:"type"`
	GameType string                `json:"game_type"`
	Payload  []game.LeaderboardRow `json:"payload"`
}

func newFeedServer(t *testing.T, source LeaderboardSource) (*Manager, string) {
	t.Helper()
	manager := NewManager(source, zerolog.New(io.Discard))
	upgrader := websocket.Upgrader{}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		manager.HandleConnection(conn, strings.TrimPrefix(r.URL.Path, "/"))
	}))
	t.Cleanup(ts.Close)

	return manager, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, baseURL, gameType string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(baseURL+"/"+gameType, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFeed(t *testing.T, conn *websocket.Conn) feedMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg feedMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestManager_SnapshotOnConnect(t *testing.T) {
	source := &fakeSource{rows: map[string][]game.LeaderboardRow{}}
	source.set("rps", game.LeaderboardRow{Username: "alice", Score: 9, Wins: 3})
	_, url := newFeedServer(t, source)

	conn := dial(t, url, "rps")
	msg := readFeed(t, conn)

	assert.Equal(t, TypeLeaderboard, msg.Type)
	assert.Equal(t, "rps", msg.GameType)
	assert.Equal(t, []game.LeaderboardRow{{Username: "alice", Score: 9, Wins: 3}}, msg.Payload)
}

func TestManager_Refresh(t *testing.T) {
	source := &fakeSource{rows: map[string][]game.LeaderboardRow{}}
	_, url := newFeedServer(t, source)

	conn := dial(t, url, "ttt")
	assert.Empty(t, readFeed(t, conn).Payload)

	source.set("ttt", game.LeaderboardRow{Username: "bob", Score: 1, Draws: 1})
	require.NoError(t, conn.WriteJSON(IncomingMessage{Type: TypeRefresh}))

	msg := readFeed(t, conn)
	assert.Equal(t, TypeLeaderboard, msg.Type)
	assert.Equal(t, []game.LeaderboardRow{{Username: "bob", Score: 1, Draws: 1}}, msg.Payload)
}

func TestManager_UnknownMessage(t *testing.T) {
	source := &fakeSource{rows: map[string][]game.LeaderboardRow{}}
	_, url := newFeedServer(t, source)

	conn := dial(t, url, "ttt")
	readFeed(t, conn)

	require.NoError(t, conn.WriteJSON(IncomingMessage{Type: "join"}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg struct {
		Type    string            `json:"type"`
		Payload map[string]string `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, TypeError, msg.Type)
	assert.Equal(t, "unknown message type", msg.Payload["message"])
}

func TestManager_PublishReachesOnlyThatGameType(t *testing.T) {
	source := &fakeSource{rows: map[string][]game.LeaderboardRow{}}
	manager, url := newFeedServer(t, source)

	rps1 := dial(t, url, "rps")
	rps2 := dial(t, url, "rps")
	snake := dial(t, url, "snake")
	for _, conn := range []*websocket.Conn{rps1, rps2, snake} {
		readFeed(t, conn)
	}
	require.Eventually(t, func() bool { return manager.Subscribers("rps") == 2 }, 2*time.Second, 10*time.Millisecond)

	source.set("rps", game.LeaderboardRow{Username: "carol", Score: 3, Wins: 1})
	manager.Publish(context.Background(), "rps")

	for _, conn := range []*websocket.Conn{rps1, rps2} {
		msg := readFeed(t, conn)
		assert.Equal(t, "rps", msg.GameType)
		assert.Equal(t, "carol", msg.Payload[0].Username)
	}

	// The snake subscriber's next frame is its own refresh, not the rps push.
	require.NoError(t, snake.WriteJSON(IncomingMessage{Type: TypeRefresh}))
	msg := readFeed(t, snake)
	assert.Equal(t, "snake", msg.GameType)
}

func TestManager_PublishWithoutSubscribers(t *testing.T) {
	source := &fakeSource{rows: map[string][]game.LeaderboardRow{}}
	manager := NewManager(source, zerolog.New(io.Discard))

	manager.Publish(context.Background(), "memory")
	assert.Equal(t, 0, source.callCount())
}

func TestManager_RoomDroppedWhenEmpty(t *testing.T) {
	source := &fakeSource{rows: map[string][]game.LeaderboardRow{}}
	manager, url := newFeedServer(t, source)

	conn := dial(t, url, "memory")
	readFeed(t, conn)
	require.Equal(t, 1, manager.Subscribers("memory"))

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()

	require.Eventually(t, func() bool { return manager.room("memory") == nil }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, manager.Subscribers("memory"))
}

func TestManager_SourceError(t *testing.T) {
	source := &fakeSource{rows: map[string][]game.LeaderboardRow{}, err: errors.New("db down")}
	_, url := newFeedServer(t, source)

	conn := dial(t, url, "rps")
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg struct {
		Type    string            `json:"type"`
		Payload map[string]string `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, TypeError, msg.Type)
	assert.Equal(t, "leaderboard unavailable", msg.Payload["message"])
}
