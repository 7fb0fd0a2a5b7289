package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStore_CreateAndGet(t *testing.T) {
	store := NewSessionStore()

	sess, err := store.Create("alice", StepOTP)
	require.NoError(t, err)
	assert.Len(t, sess.ID, 64, "session id should be 32 random bytes hex-encoded")

	got, ok := store.Get(sess.ID)
	require.True(t, ok)
	assert.Equal(t, "alice", got.UserID)
	assert.Equal(t, StepOTP, got.NextStep)

	_, ok = store.Get("unknown")
	assert.False(t, ok)
}

func TestSessionStore_ConsumeOnce(t *testing.T) {
	store := NewSessionStore()

	sess, err := store.Create("alice", StepWebAuthn)
	require.NoError(t, err)

	store.Consume(sess.ID)

	// A consumed session is gone for good; a second verify with the same
	// id must fail.
	_, ok := store.Get(sess.ID)
	assert.False(t, ok)

	// Consuming again is harmless.
	store.Consume(sess.ID)
}

func TestSessionStore_Update(t *testing.T) {
	store := NewSessionStore()

	sess, err := store.Create("alice", StepOTP)
	require.NoError(t, err)

	sess.OTPCode = "123456"
	sess.OTPIssuedAt = time.Now()
	assert.True(t, store.Update(*sess))

	got, ok := store.Get(sess.ID)
	require.True(t, ok)
	assert.Equal(t, "123456", got.OTPCode)

	// Updating a consumed session is refused.
	store.Consume(sess.ID)
	assert.False(t, store.Update(*sess))
}

func TestSessionStore_Sweep(t *testing.T) {
	store := NewSessionStore()

	fresh, err := store.Create("alice", StepOTP)
	require.NoError(t, err)
	stale, err := store.Create("bob", StepOTP)
	require.NoError(t, err)

	// Age the stale session past the TTL.
	store.Sweep(time.Now().Add(SessionTTL + time.Second))
	_, ok := store.Get(stale.ID)
	assert.False(t, ok)
	_, ok = store.Get(fresh.ID)
	assert.False(t, ok, "both sessions were created at the same instant")

	// A fresh sweep keeps young sessions.
	sess, err := store.Create("carol", StepWebAuthn)
	require.NoError(t, err)
	store.Sweep(time.Now())
	_, ok = store.Get(sess.ID)
	assert.True(t, ok)
}

func TestSessionStore_ExpiredOnAccess(t *testing.T) {
	store := NewSessionStore()

	sess, err := store.Create("alice", StepOTP)
	require.NoError(t, err)

	// Backdate the session past its TTL.
	aged := *sess
	aged.CreatedAt = time.Now().Add(-SessionTTL - time.Minute)
	store.mu.Lock()
	store.sessions[sess.ID] = &aged
	store.mu.Unlock()

	_, ok := store.Get(sess.ID)
	assert.False(t, ok, "expired session must not be returned")
	assert.Equal(t, 0, store.Len(), "expired session is dropped on access")
}
