package ws

const (
	TypeLeaderboard = "leaderboard"
	TypeRefresh     = "refresh"
	TypeError       = "error"
)

type IncomingMessage struct {
	Type string `json:"type"`
}

type OutgoingMessage struct {
	Type     string      `json:"type"`
	GameType string      `json:"game_type,omitempty"`
	Payload  interface{} `json:"payload"`
}
