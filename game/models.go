package game

const (
	WinnerPlayer1 = "player1"
	WinnerPlayer2 = "player2"
	WinnerDraw    = "draw"

	ModeSingle      = "single"
	ModeMultiplayer = "multiplayer"

	// LeaderboardSize is the fixed cutoff for leaderboards and recent games.
	LeaderboardSize = 10
)

// KnownGameTypes are the games the bundled client ships. Other tags are
// accepted and stored but only these appear in per-account stats.
var KnownGameTypes = []string{"rps", "ttt", "memory", "snake"}

// Result is a completed game as reported by the client.
type Result struct {
	GameType     string
	GameMode     string
	Player1Score int
	Player2Score int
	// Winner is nil when the client sent none; it then counts as a draw.
	Winner   *string
	Duration int
}

type LeaderboardRow struct {
	Username string `json:"username"`
	Score    int    `json:"score"`
	Wins     int    `json:"wins"`
	Losses   int    `json:"losses"`
	Draws    int    `json:"draws"`
}

type Stats struct {
	Score      int `json:"score"`
	Wins       int `json:"wins"`
	Losses     int `json:"losses"`
	Draws      int `json:"draws"`
	TotalGames int `json:"total_games"`
}

type RecentGame struct {
	GameType     string  `json:"game_type"`
	GameMode     string  `json:"game_mode"`
	Player1Score int     `json:"player1_score"`
	Player2Score int     `json:"player2_score"`
	Winner       *string `json:"winner"`
	PlayedAt     string  `json:"played_at"`
	PlayedAgo    string  `json:"played_ago"`
}
