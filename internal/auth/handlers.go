// This file implements the HTTP-facing authentication orchestrator: the
// state machine that sequences password verification, second-factor
// challenges, and token minting.
//
// STATE MACHINE PER ATTEMPT:
//
//	POST /auth/login {username,password}
//	    fail              -> 401 (generic, cause logged)
//	    ok, has credential-> session{next_step: webauthn}
//	    ok, webhook set   -> session{next_step: otp}, code sent
//	    ok, neither       -> complete + token (single-factor fallback)
//
//	POST /auth/webauthn/challenge {session_id}           -> request options
//	POST /auth/webauthn/verify    {session_id,credential}-> complete + token
//	POST /auth/otp/verify         {session_id,code}      -> complete + token
//	POST /auth/logout                                    -> 204, always
//
// Responses never reveal which of {unknown user, wrong password, missing
// credential} caused a failure; all are the same generic 401.
package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/termgate-dev/termgate/internal/errors"
	"github.com/termgate-dev/termgate/internal/logger"
	"github.com/termgate-dev/termgate/internal/models"
)

// Status values in authentication responses.
const (
	StatusNextStep = "next_step"
	StatusComplete = "complete"
)

// Handler orchestrates the authentication endpoints.
type Handler struct {
	registry *models.Registry
	tokens   *TokenService
	sessions *SessionStore
	webauthn *WebAuthnVerifier
	otp      *OTPChannel
}

// NewHandler creates the auth orchestrator.
func NewHandler(registry *models.Registry, tokens *TokenService, sessions *SessionStore, webauthn *WebAuthnVerifier, otp *OTPChannel) *Handler {
	return &Handler{
		registry: registry,
		tokens:   tokens,
		sessions: sessions,
		webauthn: webauthn,
		otp:      otp,
	}
}

// RegisterRoutes registers the authentication routes. The register group
// must already carry the bearer middleware; the public group carries the
// per-IP rate limiter.
func (h *Handler) RegisterRoutes(public, authed *gin.RouterGroup) {
	public.POST("/login", h.Login)
	public.POST("/webauthn/challenge", h.WebAuthnChallenge)
	public.POST("/webauthn/verify", h.WebAuthnVerify)
	public.POST("/otp/verify", h.OTPVerify)
	public.POST("/logout", h.Logout)

	authed.POST("/webauthn/register/start", h.RegisterStart)
	authed.POST("/webauthn/register/finish", h.RegisterFinish)
}

// LoginRequest represents a login request
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// NextStepResponse is returned when a second factor is required.
type NextStepResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
	NextStep  string `json:"next_step"`
}

// CompleteResponse is returned when authentication finished and a bearer
// token was minted.
type CompleteResponse struct {
	Status    string    `json:"status"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login handles the first factor.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.BadRequest("invalid request body")
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	user, ok := h.registry.Get(req.Username)
	if !ok {
		// Burn the Argon2 cost anyway so unknown users are not
		// distinguishable from wrong passwords by response time.
		VerifyPassword(req.Password, unknownUserHash)
		h.unauthorized(c, "unknown user")
		return
	}

	if !VerifyPassword(req.Password, user.PasswordHash) {
		h.unauthorized(c, "wrong password")
		return
	}

	// Next-step selection: WebAuthn if the user has a registered
	// credential; else OTP if a webhook is configured; else the token is
	// issued immediately (single-factor fallback).
	switch {
	case h.registry.HasCredentials(user.ID):
		sess, err := h.sessions.Create(user.ID, StepWebAuthn)
		if err != nil {
			h.internal(c, err)
			return
		}
		c.JSON(http.StatusOK, NextStepResponse{Status: StatusNextStep, SessionID: sess.ID, NextStep: StepWebAuthn})

	case h.otp != nil && h.otp.Enabled():
		sess, err := h.sessions.Create(user.ID, StepOTP)
		if err != nil {
			h.internal(c, err)
			return
		}
		if err := h.otp.IssueAndSend(c.Request.Context(), *sess); err != nil {
			h.sessions.Consume(sess.ID)
			h.unauthorized(c, "otp delivery failed: "+err.Error())
			return
		}
		c.JSON(http.StatusOK, NextStepResponse{Status: StatusNextStep, SessionID: sess.ID, NextStep: StepOTP})

	default:
		h.complete(c, user.ID)
	}
}

// SessionRequest carries just a session id.
type SessionRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

// WebAuthnChallenge returns the credential request options for a pending
// webauthn login session.
func (h *Handler) WebAuthnChallenge(c *gin.Context) {
	var req SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.BadRequest("invalid request body")
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	sess, ok := h.sessions.Get(req.SessionID)
	if !ok || sess.NextStep != StepWebAuthn {
		h.unauthorized(c, "no pending webauthn session")
		return
	}

	options, err := h.webauthn.BeginLogin(sess)
	if err != nil {
		h.unauthorized(c, "webauthn challenge: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, options)
}

// credentialRequest carries a session id plus the raw client credential
// object, kept as raw JSON for the protocol parser.
type credentialRequest struct {
	SessionID  string          `json:"session_id" binding:"required"`
	Credential json.RawMessage `json:"credential" binding:"required"`
}

// WebAuthnVerify validates the assertion, consumes the session, and mints
// the bearer token.
func (h *Handler) WebAuthnVerify(c *gin.Context) {
	var req credentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.BadRequest("invalid request body")
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	sess, ok := h.sessions.Get(req.SessionID)
	if !ok || sess.NextStep != StepWebAuthn {
		h.unauthorized(c, "no pending webauthn session")
		return
	}

	if err := h.webauthn.FinishLogin(sess, bytes.NewReader(req.Credential)); err != nil {
		h.unauthorized(c, "webauthn verify: "+err.Error())
		return
	}

	h.sessions.Consume(sess.ID)
	h.complete(c, sess.UserID)
}

// OTPVerifyRequest carries the session id and the submitted code.
type OTPVerifyRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Code      string `json:"code" binding:"required"`
}

// OTPVerify checks the submitted code, consumes the session, and mints the
// bearer token.
func (h *Handler) OTPVerify(c *gin.Context) {
	var req OTPVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.BadRequest("invalid request body")
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	sess, ok := h.sessions.Get(req.SessionID)
	if !ok || sess.NextStep != StepOTP {
		h.unauthorized(c, "no pending otp session")
		return
	}

	if !h.otp.Verify(sess.ID, req.Code) {
		h.unauthorized(c, "otp mismatch or expired")
		return
	}

	h.sessions.Consume(sess.ID)
	h.complete(c, sess.UserID)
}

// RegisterStart begins WebAuthn enrolment for the authenticated user.
func (h *Handler) RegisterStart(c *gin.Context) {
	userID, ok := GetUserID(c)
	if !ok {
		h.unauthorized(c, "no authenticated user")
		return
	}

	sess, options, err := h.webauthn.BeginRegistration(userID)
	if err != nil {
		h.internal(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": sess.ID,
		"publicKey":  options.Response,
	})
}

// RegisterFinish verifies the attestation and stores the new credential.
func (h *Handler) RegisterFinish(c *gin.Context) {
	userID, ok := GetUserID(c)
	if !ok {
		h.unauthorized(c, "no authenticated user")
		return
	}

	var req credentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.BadRequest("invalid request body")
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	sess, ok := h.sessions.Get(req.SessionID)
	if !ok || sess.UserID != userID {
		h.unauthorized(c, "no pending enrolment session")
		return
	}

	if err := h.webauthn.FinishRegistration(sess, bytes.NewReader(req.Credential)); err != nil {
		h.unauthorized(c, "enrolment: "+err.Error())
		return
	}

	h.sessions.Consume(sess.ID)
	logger.Security().Info().Str("user", userID).Msg("WebAuthn credential registered")
	c.Status(http.StatusNoContent)
}

// logoutRequest is the body fallback when no Authorization header is sent.
type logoutRequest struct {
	Token string `json:"token"`
}

// Logout inserts the token's jti into the revocation store with the
// token's own expiry. Always 204, even if the token is already invalid or
// already revoked; logout is idempotent.
func (h *Handler) Logout(c *gin.Context) {
	tokenString, ok := BearerFromHeader(c.GetHeader("Authorization"))
	if !ok {
		var req logoutRequest
		if err := c.ShouldBindJSON(&req); err == nil {
			tokenString = req.Token
		}
	}

	if tokenString != "" {
		// Decode skips the revocation check so a second logout of the
		// same token is still a clean 204.
		if claims, err := h.tokens.Decode(tokenString); err == nil {
			h.tokens.revocation.Insert(claims.JTI(), claims.ExpiresAt.Time)
			logger.Security().Info().Str("user", claims.UserID()).Msg("Token revoked on logout")
		}
	}

	c.Status(http.StatusNoContent)
}

// complete mints a token and writes the completion response.
func (h *Handler) complete(c *gin.Context, userID string) {
	token, expiresAt, err := h.tokens.Mint(userID)
	if err != nil {
		h.internal(c, err)
		return
	}
	logger.Security().Info().Str("user", userID).Msg("Authentication complete")
	c.JSON(http.StatusOK, CompleteResponse{
		Status:    StatusComplete,
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

func (h *Handler) unauthorized(c *gin.Context, cause string) {
	logger.Security().Info().
		Str("remote", c.ClientIP()).
		Str("cause", cause).
		Msg("Authentication failed")
	appErr := errors.AuthFailed(cause)
	c.JSON(appErr.StatusCode, appErr.ToResponse())
}

func (h *Handler) internal(c *gin.Context, err error) {
	appErr := errors.Internal(newCorrelationID(), err)
	logger.Log.Error().Err(err).Str("ref", appErr.Message).Msg("Internal error in auth handler")
	c.JSON(appErr.StatusCode, appErr.ToResponse())
}

// newCorrelationID tags an internal error so the generic response can be
// matched to the logged detail.
func newCorrelationID() string {
	return uuid.NewString()[:8]
}

// unknownUserHash is a throwaway Argon2id hash used to equalize response
// timing for unknown usernames.
const unknownUserHash = "$argon2id$v=19$m=65536,t=3,p=1$AAAAAAAAAAAAAAAAAAAAAA$t5cbcs2602daEhI5CcJJSGGeWfmzQTwqjgnUM1vu2Rc"
