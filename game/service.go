package game

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"arcade/store"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

var (
	ErrMissingGameType = errors.New("game_type is required")
	ErrMissingGameMode = errors.New("game_mode is required")
)

const playedAtLayout = "2006-01-02 15:04"

type Service struct {
	store   store.Store
	logger  zerolog.Logger
	metrics *Metrics
	now     func() time.Time
}

func NewService(store store.Store, logger zerolog.Logger, metrics *Metrics) *Service {
	return &Service{
		store:   store,
		logger:  logger.With().Str("component", "game").Logger(),
		metrics: metrics,
		now:     time.Now,
	}
}

// SaveResult appends the game record and folds it into the account's
// leaderboard entry for that game type, atomically.
func (s *Service) SaveResult(ctx context.Context, accountID int64, res Result) (*store.LeaderboardEntry, error) {
	if strings.TrimSpace(res.GameType) == "" {
		return nil, ErrMissingGameType
	}
	if strings.TrimSpace(res.GameMode) == "" {
		return nil, ErrMissingGameMode
	}

	now := s.now()
	rec := &store.GameRecord{
		AccountID:    accountID,
		GameType:     res.GameType,
		GameMode:     res.GameMode,
		Player1Score: res.Player1Score,
		Player2Score: res.Player2Score,
		Winner:       res.Winner,
		Duration:     res.Duration,
		PlayedAt:     now,
	}

	var winner string
	if res.Winner != nil {
		winner = *res.Winner
	}

	var outcome Outcome
	entry, err := s.store.RecordGame(ctx, rec, func(e *store.LeaderboardEntry) {
		outcome = ApplyResult(e, winner, now)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record game: %w", err)
	}

	if res.Winner != nil {
		switch winner {
		case WinnerPlayer1, WinnerPlayer2, WinnerDraw:
		default:
			s.logger.Debug().
				Str("winner", winner).
				Str("game_type", res.GameType).
				Msg("unrecognized winner counted as draw")
		}
	}

	s.metrics.observe(res.GameType, outcome)
	s.logger.Info().
		Int64("account_id", accountID).
		Int64("record_id", rec.ID).
		Str("game_type", res.GameType).
		Str("outcome", string(outcome)).
		Int("score", entry.Score).
		Msg("game saved")

	return entry, nil
}

func (s *Service) Leaderboard(ctx context.Context, gameType string) ([]LeaderboardRow, error) {
	entries, err := s.store.TopEntries(ctx, gameType, LeaderboardSize)
	if err != nil {
		return nil, err
	}

	rows := make([]LeaderboardRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, LeaderboardRow{
			Username: e.Username,
			Score:    e.Score,
			Wins:     e.Wins,
			Losses:   e.Losses,
			Draws:    e.Draws,
		})
	}
	return rows, nil
}

// ForAccount returns the account's stats for one game type; an account that
// never played it gets zeros.
func (s *Service) ForAccount(ctx context.Context, accountID int64, gameType string) (Stats, error) {
	entry, err := s.store.GetEntry(ctx, accountID, gameType)
	if err != nil {
		return Stats{}, err
	}
	return statsFrom(entry), nil
}

// UserStats reports ForAccount for every known game type.
func (s *Service) UserStats(ctx context.Context, accountID int64) (map[string]Stats, error) {
	stats := make(map[string]Stats, len(KnownGameTypes))
	for _, gameType := range KnownGameTypes {
		st, err := s.ForAccount(ctx, accountID, gameType)
		if err != nil {
			return nil, err
		}
		stats[gameType] = st
	}
	return stats, nil
}

func (s *Service) RecentGames(ctx context.Context, accountID int64) ([]RecentGame, error) {
	records, err := s.store.RecentGames(ctx, accountID, LeaderboardSize)
	if err != nil {
		return nil, err
	}

	now := s.now()
	games := make([]RecentGame, 0, len(records))
	for _, rec := range records {
		games = append(games, RecentGame{
			GameType:     rec.GameType,
			GameMode:     rec.GameMode,
			Player1Score: rec.Player1Score,
			Player2Score: rec.Player2Score,
			Winner:       rec.Winner,
			PlayedAt:     rec.PlayedAt.UTC().Format(playedAtLayout),
			PlayedAgo:    humanize.RelTime(rec.PlayedAt, now, "ago", "from now"),
		})
	}
	return games, nil
}

func isKnownGameType(gameType string) bool {
	for _, known := range KnownGameTypes {
		if gameType == known {
			return true
		}
	}
	return false
}
