package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	ErrUsernameTaken = errors.New("username already exists")
	ErrEmailTaken    = errors.New("email already exists")
)

// timeLayout is fixed-width so that text ordering matches time ordering.
const timeLayout = "2006-01-02 15:04:05.000000000"

type Store interface {
	CreateAccount(ctx context.Context, username, email, passwordHash string) (int64, error)
	GetAccountByUsername(ctx context.Context, username string) (*Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)
	GetAccountByID(ctx context.Context, accountID int64) (*Account, error)
	RecordGame(ctx context.Context, rec *GameRecord, apply func(*LeaderboardEntry)) (*LeaderboardEntry, error)
	TopEntries(ctx context.Context, gameType string, limit int) ([]*RankedEntry, error)
	GetEntry(ctx context.Context, accountID int64, gameType string) (*LeaderboardEntry, error)
	RecentGames(ctx context.Context, accountID int64, limit int) ([]*GameRecord, error)
	Ping(ctx context.Context) error
	Close() error
}

type Account struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

type GameRecord struct {
	ID           int64
	AccountID    int64
	GameType     string
	GameMode     string
	Player1Score int
	Player2Score int
	// Winner is nil when the client did not report one.
	Winner   *string
	Duration int
	PlayedAt time.Time
}

type LeaderboardEntry struct {
	AccountID int64
	GameType  string
	Score     int
	Wins      int
	Losses    int
	Draws     int
	UpdatedAt time.Time
}

// RankedEntry is a leaderboard entry joined with its owner's username.
type RankedEntry struct {
	LeaderboardEntry
	Username string
}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// dsn enables foreign keys and WAL, and makes every transaction take the
// write lock up front so concurrent read-modify-write upserts serialize.
func dsn(dbPath string) string {
	if !strings.HasPrefix(dbPath, "file:") {
		dbPath = "file:" + dbPath
	}
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep +
		"_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
}

func (s *SQLiteStore) CreateAccount(ctx context.Context, username, email, passwordHash string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"INSERT INTO accounts (username, email, password_hash, created_at) VALUES (?, ?, ?, ?)",
		username, email, passwordHash, formatTime(time.Now()),
	)
	if err != nil {
		if conflict := uniqueViolation(err); conflict != nil {
			return 0, conflict
		}
		return 0, fmt.Errorf("failed to create account: %w", err)
	}
	return result.LastInsertId()
}

// uniqueViolation maps a UNIQUE constraint failure on accounts to the
// matching sentinel, or returns nil.
func uniqueViolation(err error) error {
	var se *sqlite.Error
	if !errors.As(err, &se) || se.Code()&0xff != sqlite3.SQLITE_CONSTRAINT {
		return nil
	}
	switch {
	case strings.Contains(se.Error(), "accounts.username"):
		return ErrUsernameTaken
	case strings.Contains(se.Error(), "accounts.email"):
		return ErrEmailTaken
	}
	return nil
}

func (s *SQLiteStore) GetAccountByUsername(ctx context.Context, username string) (*Account, error) {
	return s.getAccount(ctx, "username = ?", username)
}

func (s *SQLiteStore) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	return s.getAccount(ctx, "email = ?", email)
}

func (s *SQLiteStore) GetAccountByID(ctx context.Context, accountID int64) (*Account, error) {
	return s.getAccount(ctx, "id = ?", accountID)
}

func (s *SQLiteStore) getAccount(ctx context.Context, where string, arg interface{}) (*Account, error) {
	account := &Account{}
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, username, email, password_hash, created_at FROM accounts WHERE "+where,
		arg,
	).Scan(&account.ID, &account.Username, &account.Email, &account.PasswordHash, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if account.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return account, nil
}

// RecordGame inserts rec and upserts the (account, game type) leaderboard
// entry in one transaction. apply mutates the current entry, or a zero entry
// when none exists yet; the result is what gets stored.
func (s *SQLiteStore) RecordGame(ctx context.Context, rec *GameRecord, apply func(*LeaderboardEntry)) (*LeaderboardEntry, error) {
	if rec.PlayedAt.IsZero() {
		rec.PlayedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var winner sql.NullString
	if rec.Winner != nil {
		winner = sql.NullString{String: *rec.Winner, Valid: true}
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO game_records
			(account_id, game_type, game_mode, player1_score, player2_score, winner, duration, played_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.AccountID, rec.GameType, rec.GameMode, rec.Player1Score, rec.Player2Score, winner, rec.Duration, formatTime(rec.PlayedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to insert game record: %w", err)
	}
	if rec.ID, err = result.LastInsertId(); err != nil {
		return nil, fmt.Errorf("failed to read game record id: %w", err)
	}

	entry, err := scanEntry(tx.QueryRowContext(ctx, `
		SELECT account_id, game_type, score, wins, losses, draws, updated_at
		FROM leaderboard_entries
		WHERE account_id = ? AND game_type = ?
	`, rec.AccountID, rec.GameType))
	if err != nil {
		return nil, err
	}
	if entry == nil {
		entry = &LeaderboardEntry{AccountID: rec.AccountID, GameType: rec.GameType}
	}

	apply(entry)

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO leaderboard_entries (account_id, game_type, score, wins, losses, draws, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, game_type) DO UPDATE SET
			score = excluded.score,
			wins = excluded.wins,
			losses = excluded.losses,
			draws = excluded.draws,
			updated_at = excluded.updated_at
	`, entry.AccountID, entry.GameType, entry.Score, entry.Wins, entry.Losses, entry.Draws, formatTime(entry.UpdatedAt)); err != nil {
		return nil, fmt.Errorf("failed to upsert leaderboard entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return entry, nil
}

func (s *SQLiteStore) TopEntries(ctx context.Context, gameType string, limit int) ([]*RankedEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT le.account_id, le.game_type, le.score, le.wins, le.losses, le.draws, le.updated_at, a.username
		FROM leaderboard_entries le
		JOIN accounts a ON le.account_id = a.id
		WHERE le.game_type = ?
		ORDER BY le.score DESC, le.wins DESC, le.account_id ASC
		LIMIT ?
	`, gameType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	entries := make([]*RankedEntry, 0, limit)
	for rows.Next() {
		entry := &RankedEntry{}
		var updatedAt string
		if err := rows.Scan(&entry.AccountID, &entry.GameType, &entry.Score, &entry.Wins, &entry.Losses, &entry.Draws, &updatedAt, &entry.Username); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard entry: %w", err)
		}
		if entry.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) GetEntry(ctx context.Context, accountID int64, gameType string) (*LeaderboardEntry, error) {
	return scanEntry(s.db.QueryRowContext(ctx, `
		SELECT account_id, game_type, score, wins, losses, draws, updated_at
		FROM leaderboard_entries
		WHERE account_id = ? AND game_type = ?
	`, accountID, gameType))
}

func (s *SQLiteStore) RecentGames(ctx context.Context, accountID int64, limit int) ([]*GameRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, game_type, game_mode, player1_score, player2_score, winner, duration, played_at
		FROM game_records
		WHERE account_id = ?
		ORDER BY played_at DESC, id DESC
		LIMIT ?
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent games: %w", err)
	}
	defer rows.Close()

	records := make([]*GameRecord, 0, limit)
	for rows.Next() {
		rec := &GameRecord{}
		var winner sql.NullString
		var playedAt string
		if err := rows.Scan(&rec.ID, &rec.AccountID, &rec.GameType, &rec.GameMode, &rec.Player1Score, &rec.Player2Score, &winner, &rec.Duration, &playedAt); err != nil {
			return nil, fmt.Errorf("failed to scan game record: %w", err)
		}
		if winner.Valid {
			rec.Winner = &winner.String
		}
		if rec.PlayedAt, err = parseTime(playedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*LeaderboardEntry, error) {
	entry := &LeaderboardEntry{}
	var updatedAt string
	err := row.Scan(&entry.AccountID, &entry.GameType, &entry.Score, &entry.Wins, &entry.Losses, &entry.Draws, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan leaderboard entry: %w", err)
	}
	if entry.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return entry, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(timeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}
