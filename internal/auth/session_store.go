// This file implements server-side tracking of in-flight authentication
// attempts: the window between password success and final second-factor
// verification.
//
// HOW IT WORKS:
//
//  1. Password success creates a session with the pending step
//     (webauthn or otp) under an unguessable random id.
//  2. The client threads the session id back through the challenge and
//     verify endpoints.
//  3. The first successful second-factor verification consumes the session;
//     any further verification with the same id fails.
//  4. Sessions older than the TTL are discarded by the GC sweep, or lazily
//     on access.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
)

// SessionTTL bounds the lifetime of an in-flight authentication attempt.
const SessionTTL = 5 * time.Minute

// Next-step values for a session.
const (
	StepWebAuthn = "webauthn"
	StepOTP      = "otp"
)

// Session is one in-flight authentication attempt.
type Session struct {
	ID        string
	UserID    string
	NextStep  string
	CreatedAt time.Time

	// OTPCode and OTPIssuedAt hold the pending one-time code, when the
	// next step is otp and the code has been sent.
	OTPCode     string
	OTPIssuedAt time.Time

	// WebAuthnData holds the library challenge state between begin and
	// finish, for both login and enrolment flows.
	WebAuthnData *webauthn.SessionData
}

// expired reports whether the session is past its TTL at now.
func (s *Session) expired(now time.Time) bool {
	return now.Sub(s.CreatedAt) > SessionTTL
}

// SessionStore holds in-flight authentication sessions in memory.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionStore creates an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
	}
}

// GenerateSessionID creates a cryptographically random session ID
func GenerateSessionID() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate session ID: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// Create stores a new session for userID with the given pending step and
// returns its id.
func (s *SessionStore) Create(userID, nextStep string) (*Session, error) {
	id, err := GenerateSessionID()
	if err != nil {
		return nil, err
	}
	sess := &Session{
		ID:        id,
		UserID:    userID,
		NextStep:  nextStep,
		CreatedAt: time.Now(),
	}
	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()
	return sess, nil
}

// Get returns a copy of the session, or false if it is unknown or expired.
// Expired sessions are dropped on access rather than waiting for the sweep.
func (s *SessionStore) Get(id string) (Session, bool) {
	now := time.Now()

	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return Session{}, false
	}
	if sess.expired(now) {
		s.Consume(id)
		return Session{}, false
	}
	return *sess, true
}

// Update replaces the stored session state. The session must still exist;
// updating a consumed or expired session is a no-op returning false.
func (s *SessionStore) Update(sess Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.sessions[sess.ID]
	if !ok || cur.expired(time.Now()) {
		return false
	}
	cp := sess
	s.sessions[sess.ID] = &cp
	return true
}

// Consume removes the session. The first successful second-factor
// verification calls this; later verifications with the same id fail.
func (s *SessionStore) Consume(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Sweep discards sessions older than the TTL at now.
func (s *SessionStore) Sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if sess.expired(now) {
			delete(s.sessions, id)
		}
	}
}

// Len returns the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
