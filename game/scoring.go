package game

import (
	"time"

	"arcade/store"
)

type Outcome string

const (
	OutcomeWin  Outcome = "win"
	OutcomeLoss Outcome = "loss"
	OutcomeDraw Outcome = "draw"
)

// OutcomeFor maps a reported winner to the counter it increments. Only
// player1 and player2 are distinguished; every other value, including an
// empty or unknown one, counts as a draw.
func OutcomeFor(winner string) Outcome {
	switch winner {
	case WinnerPlayer1:
		return OutcomeWin
	case WinnerPlayer2:
		return OutcomeLoss
	default:
		return OutcomeDraw
	}
}

func Score(wins, draws int) int {
	return wins*3 + draws
}

// ApplyResult increments exactly one counter of entry and recomputes its score.
func ApplyResult(entry *store.LeaderboardEntry, winner string, now time.Time) Outcome {
	outcome := OutcomeFor(winner)
	switch outcome {
	case OutcomeWin:
		entry.Wins++
	case OutcomeLoss:
		entry.Losses++
	default:
		entry.Draws++
	}
	entry.Score = Score(entry.Wins, entry.Draws)
	entry.UpdatedAt = now
	return outcome
}

func statsFrom(entry *store.LeaderboardEntry) Stats {
	if entry == nil {
		return Stats{}
	}
	return Stats{
		Score:      entry.Score,
		Wins:       entry.Wins,
		Losses:     entry.Losses,
		Draws:      entry.Draws,
		TotalGames: entry.Wins + entry.Losses + entry.Draws,
	}
}
