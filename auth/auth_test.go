package auth

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"arcade/store"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *store.SQLiteStore) {
	t.Helper()
	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewService(db, newTestSessionManager(t, time.Hour), zerolog.New(io.Discard)), db
}

type credentials struct {
	username string
	email    string
	password string
}

func fakeCredentials() credentials {
	return credentials{
		username: gofakeit.Username(),
		email:    strings.ToLower(gofakeit.Email()),
		password: gofakeit.Password(true, true, true, false, false, 16),
	}
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	svc, db := newTestService(t)
	c := fakeCredentials()

	id, err := svc.Register(ctx, c.username, c.email, c.password)
	require.NoError(t, err)
	assert.Positive(t, id)

	account, err := db.GetAccountByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, c.username, account.Username)
	assert.Equal(t, c.email, account.Email)
	assert.NotEqual(t, c.password, account.PasswordHash)
	assert.True(t, strings.HasPrefix(account.PasswordHash, "$2"), "stored as a bcrypt hash")
}

func TestRegister_Conflicts(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.Register(ctx, "alice", "alice@example.com", "secret")
	require.NoError(t, err)

	tests := []struct {
		name     string
		username string
		email    string
		wantErr  error
	}{
		{name: "username taken", username: "alice", email: "fresh@example.com", wantErr: ErrUsernameTaken},
		{name: "email taken", username: "bob", email: "alice@example.com", wantErr: ErrEmailTaken},
		{name: "username reported before email", username: "alice", email: "alice@example.com", wantErr: ErrUsernameTaken},
		{name: "username taken after sanitizing", username: "  <b>alice</b> ", email: "other@example.com", wantErr: ErrUsernameTaken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tt.username, tt.email, "secret")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRegister_Validation(t *testing.T) {
	ctx := context.Background()
	svc, db := newTestService(t)

	tests := []struct {
		name     string
		username string
		email    string
		password string
		wantErr  error
	}{
		{name: "empty username", username: "", email: "a@example.com", password: "pw", wantErr: ErrInvalidUsername},
		{name: "markup only username", username: "<script></script>", email: "a@example.com", password: "pw", wantErr: ErrInvalidUsername},
		{name: "long username", username: strings.Repeat("u", maxUsernameLen+1), email: "a@example.com", password: "pw", wantErr: ErrInvalidUsername},
		{name: "long multibyte username", username: strings.Repeat("é", maxUsernameLen+1), email: "a@example.com", password: "pw", wantErr: ErrInvalidUsername},
		{name: "long email", username: "user", email: strings.Repeat("e", maxEmailLen) + "@example.com", password: "pw", wantErr: ErrInvalidEmail},
		{name: "empty email", username: "user", email: "", password: "pw", wantErr: ErrInvalidEmail},
		{name: "malformed email", username: "user", email: "not-an-email", password: "pw", wantErr: ErrInvalidEmail},
		{name: "display name email", username: "user", email: "User <u@example.com>", password: "pw", wantErr: ErrInvalidEmail},
		{name: "empty password", username: "user", email: "a@example.com", password: "", wantErr: ErrInvalidPassword},
		{name: "long password", username: "user", email: "a@example.com", password: strings.Repeat("p", maxPasswordLen+1), wantErr: ErrInvalidPassword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tt.username, tt.email, tt.password)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	account, err := db.GetAccountByUsername(ctx, "user")
	require.NoError(t, err)
	assert.Nil(t, account)
}

func TestRegister_LengthCountsCharacters(t *testing.T) {
	ctx := context.Background()
	svc, db := newTestService(t)

	// 41 characters, 82 bytes.
	username := strings.Repeat("é", 41)
	_, err := svc.Register(ctx, username, "x@example.com", "secret")
	require.NoError(t, err)

	// Exactly at the limit in characters, well past it in bytes.
	atLimit := strings.Repeat("ü", maxUsernameLen)
	_, err = svc.Register(ctx, atLimit, "y@example.com", "secret")
	require.NoError(t, err)

	account, err := db.GetAccountByUsername(ctx, atLimit)
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, atLimit, account.Username)
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	c := fakeCredentials()

	id, err := svc.Register(ctx, c.username, c.email, c.password)
	require.NoError(t, err)

	account, err := svc.Authenticate(ctx, c.username, c.password)
	require.NoError(t, err)
	assert.Equal(t, id, account.ID)

	tests := []struct {
		name     string
		username string
		password string
	}{
		{name: "wrong password", username: c.username, password: c.password + "x"},
		{name: "unknown user", username: c.username + "-nope", password: c.password},
		{name: "empty password", username: c.username, password: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			account, err := svc.Authenticate(ctx, tt.username, tt.password)
			assert.ErrorIs(t, err, ErrInvalidCredentials)
			assert.Nil(t, account)
		})
	}
}

func TestLogin_OpensSession(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	c := fakeCredentials()

	id, err := svc.Register(ctx, c.username, c.email, c.password)
	require.NoError(t, err)

	account, sessionID, err := svc.Login(ctx, c.username, c.password)
	require.NoError(t, err)
	assert.Equal(t, id, account.ID)
	assert.NotEmpty(t, sessionID)

	accountID, ok := svc.ValidateSession(sessionID)
	assert.True(t, ok)
	assert.Equal(t, id, accountID)

	svc.Logout(sessionID)
	_, ok = svc.ValidateSession(sessionID)
	assert.False(t, ok)

	_, sessionID, err = svc.Login(ctx, c.username, "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Empty(t, sessionID)
	assert.Equal(t, 0, svc.GetSessionManager().Count())
}

func TestCurrentAccount(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	c := fakeCredentials()

	id, err := svc.Register(ctx, c.username, c.email, c.password)
	require.NoError(t, err)
	_, sessionID, err := svc.Login(ctx, c.username, c.password)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	require.NoError(t, svc.GetSessionManager().SetSessionCookie(rec, sessionID))
	cookie := rec.Result().Cookies()[0]

	req := httptest.NewRequest(http.MethodGet, "/api/check-auth", nil)
	req.AddCookie(cookie)
	account, err := svc.CurrentAccount(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, id, account.ID)

	anonymous := httptest.NewRequest(http.MethodGet, "/api/check-auth", nil)
	account, err = svc.CurrentAccount(ctx, anonymous)
	require.NoError(t, err)
	assert.Nil(t, account)

	svc.Logout(sessionID)
	account, err = svc.CurrentAccount(ctx, req)
	require.NoError(t, err)
	assert.Nil(t, account)
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"alice", "alice"},
		{"  bob  ", "bob"},
		{"<b>carol</b>", "carol"},
		{"<script>alert(1)</script>dave", "dave"},
		{"Mixed@Example.com", "Mixed@Example.com"},
		{"Tom & Jerry", "Tom & Jerry"},
		{"o'brien@example.com", "o'brien@example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeString(tt.in))
		})
	}
}
