// This file implements the OTP channel: a 6-digit code generated from the
// cryptographic RNG, remembered on the auth session with a short TTL, and
// delivered to the operator through an outbound HTTPS webhook using a chat
// message envelope.
package auth

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/termgate-dev/termgate/internal/logger"
)

// OTPTTL bounds the lifetime of an issued code. Codes are additionally
// bounded by the session TTL; whichever elapses first wins.
const OTPTTL = 5 * time.Minute

const webhookTimeout = 10 * time.Second

// OTPChannel issues one-time codes and delivers them via webhook.
type OTPChannel struct {
	webhookURL string
	sessions   *SessionStore
	client     *http.Client
}

// NewOTPChannel creates the channel. An empty webhookURL disables the OTP
// factor entirely; the orchestrator checks Enabled before selecting it.
func NewOTPChannel(webhookURL string, sessions *SessionStore) *OTPChannel {
	return &OTPChannel{
		webhookURL: webhookURL,
		sessions:   sessions,
		client:     &http.Client{Timeout: webhookTimeout},
	}
}

// Enabled reports whether a delivery webhook is configured.
func (o *OTPChannel) Enabled() bool { return o.webhookURL != "" }

// IssueAndSend generates a 6-digit zero-padded code, stores it on the
// session, and posts it to the webhook. A delivery error leaves the session
// without a code; the user must retry login.
func (o *OTPChannel) IssueAndSend(ctx context.Context, sess Session) error {
	if !o.Enabled() {
		return fmt.Errorf("otp webhook not configured")
	}

	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("generating code: %w", err)
	}

	if err := o.deliver(ctx, sess.UserID, code); err != nil {
		return err
	}

	sess.OTPCode = code
	sess.OTPIssuedAt = time.Now()
	if !o.sessions.Update(sess) {
		return fmt.Errorf("session no longer valid")
	}
	return nil
}

// Verify compares the submitted code against the stored one in constant
// time. Success consumes the code (but not the session; the orchestrator
// consumes that after minting the token). Codes past their TTL fail.
func (o *OTPChannel) Verify(sessionID, submitted string) bool {
	sess, ok := o.sessions.Get(sessionID)
	if !ok || sess.OTPCode == "" {
		return false
	}
	if time.Since(sess.OTPIssuedAt) > OTPTTL {
		return false
	}

	// Fixed-length XOR-accumulator compare; no early exit on the first
	// differing byte.
	if subtle.ConstantTimeCompare([]byte(sess.OTPCode), []byte(submitted)) != 1 {
		return false
	}

	sess.OTPCode = ""
	o.sessions.Update(sess)
	return true
}

// deliver posts the code to the chat webhook as {"text": "..."}.
func (o *OTPChannel) deliver(ctx context.Context, userID, code string) error {
	envelope := map[string]string{
		"text": fmt.Sprintf("termgate login code for %s: %s (valid %d minutes)", userID, code, int(OTPTTL.Minutes())),
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encoding webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		logger.Webhook().Error().Err(err).Msg("OTP webhook delivery failed")
		return fmt.Errorf("delivering code: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.Webhook().Error().Int("status", resp.StatusCode).Msg("OTP webhook rejected delivery")
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// generateCode returns a 6-digit zero-padded numeric code from crypto/rand.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
