package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"sync"
	"unicode/utf8"

	"arcade/store"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

const (
	maxUsernameLen = 80
	maxEmailLen    = 120
	// bcrypt ignores everything past 72 bytes.
	maxPasswordLen = 72
)

var (
	ErrInvalidUsername    = fmt.Errorf("username is required and must be at most %d characters", maxUsernameLen)
	ErrInvalidEmail       = fmt.Errorf("a valid email address of at most %d characters is required", maxEmailLen)
	ErrInvalidPassword    = fmt.Errorf("password is required and must be at most %d bytes", maxPasswordLen)
	ErrUsernameTaken      = store.ErrUsernameTaken
	ErrEmailTaken         = store.ErrEmailTaken
	ErrInvalidCredentials = errors.New("invalid credentials")
)

var (
	dummyHashOnce sync.Once
	dummyHash     []byte
)

// equalizeTiming burns one bcrypt comparison so that an unknown username
// costs the same as a wrong password.
func equalizeTiming(password string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("arcade-timing-equalizer"), bcrypt.DefaultCost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}

type Service struct {
	store   store.Store
	session *SessionManager
	logger  zerolog.Logger
}

func NewService(store store.Store, sessionManager *SessionManager, logger zerolog.Logger) *Service {
	return &Service{
		store:   store,
		session: sessionManager,
		logger:  logger.With().Str("component", "auth").Logger(),
	}
}

// Register creates an account and returns its id. Username is checked for
// conflicts before email.
func (s *Service) Register(ctx context.Context, username, email, password string) (int64, error) {
	username = SanitizeUsername(username)
	email = SanitizeEmail(email)

	if err := validateUsername(username); err != nil {
		return 0, err
	}
	if err := validateEmail(email); err != nil {
		return 0, err
	}
	if err := validatePassword(password); err != nil {
		return 0, err
	}

	existing, err := s.store.GetAccountByUsername(ctx, username)
	if err != nil {
		return 0, fmt.Errorf("failed to check existing username: %w", err)
	}
	if existing != nil {
		return 0, ErrUsernameTaken
	}

	existing, err = s.store.GetAccountByEmail(ctx, email)
	if err != nil {
		return 0, fmt.Errorf("failed to check existing email: %w", err)
	}
	if existing != nil {
		return 0, ErrEmailTaken
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("failed to hash password: %w", err)
	}

	// A concurrent registration can still win the race; the unique indexes
	// report it as the same conflict errors.
	accountID, err := s.store.CreateAccount(ctx, username, email, string(passwordHash))
	if err != nil {
		if errors.Is(err, ErrUsernameTaken) || errors.Is(err, ErrEmailTaken) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to create account: %w", err)
	}

	s.logger.Info().Int64("account_id", accountID).Str("username", username).Msg("account registered")
	return accountID, nil
}

func (s *Service) Authenticate(ctx context.Context, username, password string) (*store.Account, error) {
	username = SanitizeUsername(username)

	account, err := s.store.GetAccountByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if account == nil {
		equalizeTiming(password)
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return account, nil
}

// Login authenticates and opens a session, returning the account and the
// new session id.
func (s *Service) Login(ctx context.Context, username, password string) (*store.Account, string, error) {
	account, err := s.Authenticate(ctx, username, password)
	if err != nil {
		return nil, "", err
	}

	sessionID, err := s.session.CreateSession(account.ID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create session: %w", err)
	}

	s.logger.Info().Int64("account_id", account.ID).Msg("login")
	return account, sessionID, nil
}

func (s *Service) Logout(sessionID string) {
	s.session.DeleteSession(sessionID)
}

func (s *Service) ValidateSession(sessionID string) (int64, bool) {
	return s.session.GetAccountID(sessionID)
}

// CurrentAccount resolves the request's session to its account. It returns
// nil without error for anonymous requests and for sessions whose account no
// longer exists.
func (s *Service) CurrentAccount(ctx context.Context, r *http.Request) (*store.Account, error) {
	sessionID := s.session.SessionFromRequest(r)
	if sessionID == "" {
		return nil, nil
	}
	accountID, ok := s.session.GetAccountID(sessionID)
	if !ok {
		return nil, nil
	}
	return s.store.GetAccountByID(ctx, accountID)
}

func (s *Service) GetSessionManager() *SessionManager {
	return s.session
}

func validateUsername(username string) error {
	if username == "" || utf8.RuneCountInString(username) > maxUsernameLen {
		return ErrInvalidUsername
	}
	return nil
}

func validateEmail(email string) error {
	if email == "" || utf8.RuneCountInString(email) > maxEmailLen {
		return ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return ErrInvalidEmail
	}
	return nil
}

func validatePassword(password string) error {
	if password == "" || len(password) > maxPasswordLen {
		return ErrInvalidPassword
	}
	return nil
}
