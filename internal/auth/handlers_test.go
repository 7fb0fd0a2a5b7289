package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termgate-dev/termgate/internal/models"
)

type authTestEnv struct {
	router   *gin.Engine
	registry *models.Registry
	tokens   *TokenService
	sessions *SessionStore
	otp      *OTPChannel
	hook     *captureWebhook
}

// setupAuthTest wires a full orchestrator against an in-memory registry
// holding one user "alice" with password "hunter2". webhookURL empty means
// the OTP factor is unavailable.
func setupAuthTest(t *testing.T, webhookURL string) *authTestEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hash, err := HashPassword("hunter2")
	require.NoError(t, err)

	registry, err := models.NewRegistry([]*models.User{
		{ID: "alice", PasswordHash: hash, Root: t.TempDir()},
	}, "")
	require.NoError(t, err)

	revocation := NewRevocationStore()
	tokens := NewTokenService(testSecret, time.Hour, revocation)
	sessions := NewSessionStore()

	verifier, err := NewWebAuthnVerifier("localhost", "https://localhost", registry, sessions)
	require.NoError(t, err)

	otp := NewOTPChannel(webhookURL, sessions)
	handler := NewHandler(registry, tokens, sessions, verifier, otp)

	router := gin.New()
	public := router.Group("/auth")
	authed := router.Group("/auth", Middleware(tokens))
	handler.RegisterRoutes(public, authed)

	// A bearer-gated probe endpoint for revocation tests.
	router.GET("/protected", Middleware(tokens), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	return &authTestEnv{
		router:   router,
		registry: registry,
		tokens:   tokens,
		sessions: sessions,
		otp:      otp,
	}
}

func (env *authTestEnv) post(path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func TestLogin_SingleFactorFallback(t *testing.T) {
	env := setupAuthTest(t, "")

	// No credential, no webhook: login completes immediately.
	w := env.post("/auth/login", gin.H{"username": "alice", "password": "hunter2"}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp CompleteResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, StatusComplete, resp.Status)
	assert.NotEmpty(t, resp.Token)
	assert.True(t, resp.ExpiresAt.After(time.Now()))

	claims, err := env.tokens.Validate(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserID())
}

func TestLogin_GenericFailures(t *testing.T) {
	env := setupAuthTest(t, "")

	wrongPassword := env.post("/auth/login", gin.H{"username": "alice", "password": "wrong"}, nil)
	unknownUser := env.post("/auth/login", gin.H{"username": "mallory", "password": "hunter2"}, nil)

	// Both causes produce the same generic 401 body.
	assert.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
	assert.Equal(t, http.StatusUnauthorized, unknownUser.Code)
	assert.JSONEq(t, wrongPassword.Body.String(), unknownUser.Body.String())
}

func TestLogin_MalformedBody(t *testing.T) {
	env := setupAuthTest(t, "")

	w := env.post("/auth/login", gin.H{"username": "alice"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOTPFlow(t *testing.T) {
	hook := &captureWebhook{}
	srv := httptest.NewServer(hook.handler())
	defer srv.Close()

	env := setupAuthTest(t, srv.URL)

	// Login switches to the otp step and the webhook receives a code.
	w := env.post("/auth/login", gin.H{"username": "alice", "password": "hunter2"}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var next NextStepResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &next))
	assert.Equal(t, StatusNextStep, next.Status)
	assert.Equal(t, StepOTP, next.NextStep)
	require.NotEmpty(t, next.SessionID)
	require.Len(t, hook.codes, 1)

	// Correct code completes and mints a token.
	w = env.post("/auth/otp/verify", gin.H{"session_id": next.SessionID, "code": hook.codes[0]}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp CompleteResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, StatusComplete, resp.Status)

	// The session was consumed; replaying the same code fails.
	w = env.post("/auth/otp/verify", gin.H{"session_id": next.SessionID, "code": hook.codes[0]}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOTPFlow_WrongCode(t *testing.T) {
	hook := &captureWebhook{}
	srv := httptest.NewServer(hook.handler())
	defer srv.Close()

	env := setupAuthTest(t, srv.URL)

	w := env.post("/auth/login", gin.H{"username": "alice", "password": "hunter2"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var next NextStepResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &next))

	wrong := "000000"
	if hook.codes[0] == wrong {
		wrong = "999999"
	}
	w = env.post("/auth/otp/verify", gin.H{"session_id": next.SessionID, "code": wrong}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// A wrong code does not consume the session; the right one still works.
	w = env.post("/auth/otp/verify", gin.H{"session_id": next.SessionID, "code": hook.codes[0]}, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLogout_RevokesToken(t *testing.T) {
	env := setupAuthTest(t, "")

	w := env.post("/auth/login", gin.H{"username": "alice", "password": "hunter2"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp CompleteResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	bearer := map[string]string{"Authorization": "Bearer " + resp.Token}

	// Token works before logout.
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	probe := httptest.NewRecorder()
	env.router.ServeHTTP(probe, req)
	require.Equal(t, http.StatusOK, probe.Code)

	// Logout is a 204 and revokes the jti.
	w = env.post("/auth/logout", nil, bearer)
	assert.Equal(t, http.StatusNoContent, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	probe = httptest.NewRecorder()
	env.router.ServeHTTP(probe, req)
	assert.Equal(t, http.StatusUnauthorized, probe.Code)

	// Repeated logout of the same token is a no-op 204.
	w = env.post("/auth/logout", nil, bearer)
	assert.Equal(t, http.StatusNoContent, w.Code)

	// Revocation is held until the original expiry, then swept.
	claims, err := env.tokens.Decode(resp.Token)
	require.NoError(t, err)
	require.True(t, env.tokens.revocation.Contains(claims.JTI()))
	env.tokens.revocation.Sweep(claims.ExpiresAt.Time.Add(time.Second))
	assert.False(t, env.tokens.revocation.Contains(claims.JTI()))
}

func TestLogout_BodyToken(t *testing.T) {
	env := setupAuthTest(t, "")

	w := env.post("/auth/login", gin.H{"username": "alice", "password": "hunter2"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp CompleteResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	w = env.post("/auth/logout", gin.H{"token": resp.Token}, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	_, err := env.tokens.Validate(resp.Token)
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

func TestLogout_InvalidTokenStill204(t *testing.T) {
	env := setupAuthTest(t, "")

	w := env.post("/auth/logout", gin.H{"token": "garbage"}, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.post("/auth/logout", nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestWebAuthnChallenge_NoSession(t *testing.T) {
	env := setupAuthTest(t, "")

	w := env.post("/auth/webauthn/challenge", gin.H{"session_id": "nope"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRegisterStart_RequiresBearer(t *testing.T) {
	env := setupAuthTest(t, "")

	w := env.post("/auth/webauthn/register/start", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	login := env.post("/auth/login", gin.H{"username": "alice", "password": "hunter2"}, nil)
	var resp CompleteResponse
	require.NoError(t, json.Unmarshal(login.Body.Bytes(), &resp))

	w = env.post("/auth/webauthn/register/start", nil, map[string]string{"Authorization": "Bearer " + resp.Token})
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		SessionID string          `json:"session_id"`
		PublicKey json.RawMessage `json:"publicKey"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body.SessionID)
	assert.NotEmpty(t, body.PublicKey)
}
