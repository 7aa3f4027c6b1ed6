package auth

import (
	"encoding/base64"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/securecookie"
)

const (
	CookieName = "session_id"

	DefaultSessionTTL = 7 * 24 * time.Hour
)

var errNoEntropy = errors.New("failed to generate session id")

type Session struct {
	AccountID int64
	ExpiresAt time.Time
}

// SessionManager is the process-wide session table. Cookies carry the
// session id signed with the server secret, so a forged or altered cookie
// never reaches the table lookup.
type SessionManager struct {
	sessions map[string]*Session
	mu       sync.RWMutex

	codec  *securecookie.SecureCookie
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

func NewSessionManager(secret []byte, ttl time.Duration, secureCookie bool) *SessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	codec := securecookie.New(secret, nil)
	codec.MaxAge(int(ttl.Seconds()))

	return &SessionManager{
		sessions: make(map[string]*Session),
		codec:    codec,
		ttl:      ttl,
		secure:   secureCookie,
		now:      time.Now,
	}
}

func (sm *SessionManager) CreateSession(accountID int64) (string, error) {
	key := securecookie.GenerateRandomKey(32)
	if key == nil {
		return "", errNoEntropy
	}
	sessionID := base64.RawURLEncoding.EncodeToString(key)

	sm.mu.Lock()
	sm.sessions[sessionID] = &Session{
		AccountID: accountID,
		ExpiresAt: sm.now().Add(sm.ttl),
	}
	sm.mu.Unlock()

	return sessionID, nil
}

func (sm *SessionManager) GetAccountID(sessionID string) (int64, bool) {
	sm.mu.RLock()
	session, exists := sm.sessions[sessionID]
	sm.mu.RUnlock()

	if !exists {
		return 0, false
	}

	if sm.now().After(session.ExpiresAt) {
		sm.DeleteSession(sessionID)
		return 0, false
	}

	return session.AccountID, true
}

func (sm *SessionManager) DeleteSession(sessionID string) {
	sm.mu.Lock()
	delete(sm.sessions, sessionID)
	sm.mu.Unlock()
}

// PurgeExpired drops every expired session and reports how many went.
func (sm *SessionManager) PurgeExpired() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := sm.now()
	purged := 0
	for id, session := range sm.sessions {
		if now.After(session.ExpiresAt) {
			delete(sm.sessions, id)
			purged++
		}
	}
	return purged
}

func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

func (sm *SessionManager) SetSessionCookie(w http.ResponseWriter, sessionID string) error {
	encoded, err := sm.codec.Encode(CookieName, sessionID)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    encoded,
		Path:     "/",
		MaxAge:   int(sm.ttl.Seconds()),
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (sm *SessionManager) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// SessionFromRequest returns the session id carried by the request cookie,
// or "" when the cookie is missing or fails verification.
func (sm *SessionManager) SessionFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	var sessionID string
	if err := sm.codec.Decode(CookieName, cookie.Value, &sessionID); err != nil {
		return ""
	}
	return sessionID
}
