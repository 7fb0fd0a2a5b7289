// This file wraps the go-webauthn FIDO2 implementation: registration and
// authentication state machines, per-user credential lists, and RP binding.
//
// The relying party is identified by a bare host (rp_id) and an origin URL
// (rp_origin) from configuration; assertions from any other origin fail
// validation inside the library.
package auth

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/termgate-dev/termgate/internal/models"
)

// StepRegister marks a session holding enrolment (not login) challenge
// state. Enrolment sessions are bearer-gated and never mint tokens.
const StepRegister = "webauthn_register"

// ErrCloneDetected is returned when an assertion's signature counter did
// not advance past the stored counter while counters are in use.
var ErrCloneDetected = errors.New("authenticator clone detected: signature counter regressed")

// webauthnUser adapts a models.User to the webauthn.User interface.
type webauthnUser struct {
	user models.User
}

func (u *webauthnUser) WebAuthnID() []byte          { return []byte(u.user.ID) }
func (u *webauthnUser) WebAuthnName() string        { return u.user.ID }
func (u *webauthnUser) WebAuthnDisplayName() string { return u.user.ID }
func (u *webauthnUser) WebAuthnIcon() string        { return "" }

func (u *webauthnUser) WebAuthnCredentials() []webauthn.Credential {
	credentials := make([]webauthn.Credential, len(u.user.Credentials))
	for i, c := range u.user.Credentials {
		credentials[i] = webauthn.Credential{
			ID:              c.ID,
			PublicKey:       c.PublicKey,
			AttestationType: c.AttestationType,
			Flags: webauthn.CredentialFlags{
				UserPresent:    true,
				UserVerified:   true,
				BackupEligible: c.BackupEligible,
				BackupState:    c.BackupState,
			},
			Authenticator: webauthn.Authenticator{
				AAGUID:    c.AAGUID,
				SignCount: c.SignCount,
			},
		}
	}
	return credentials
}

// WebAuthnVerifier owns the FIDO2 registration and authentication flows.
type WebAuthnVerifier struct {
	web      *webauthn.WebAuthn
	registry *models.Registry
	sessions *SessionStore
}

// NewWebAuthnVerifier binds the verifier to the configured RP id and origin.
func NewWebAuthnVerifier(rpID, rpOrigin string, registry *models.Registry, sessions *SessionStore) (*WebAuthnVerifier, error) {
	web, err := webauthn.New(&webauthn.Config{
		RPDisplayName: "termgate",
		RPID:          rpID,
		RPOrigins:     []string{rpOrigin},
	})
	if err != nil {
		return nil, fmt.Errorf("initializing webauthn: %w", err)
	}
	return &WebAuthnVerifier{
		web:      web,
		registry: registry,
		sessions: sessions,
	}, nil
}

// BeginLogin produces a credential request challenge for the session's user
// and stores the challenge state on the session. The session must be an
// in-flight login attempt with next step webauthn.
func (v *WebAuthnVerifier) BeginLogin(sess Session) (*protocol.CredentialAssertion, error) {
	user, ok := v.registry.Get(sess.UserID)
	if !ok {
		return nil, fmt.Errorf("unknown user %q", sess.UserID)
	}
	if len(user.Credentials) == 0 {
		return nil, fmt.Errorf("user %q has no registered credentials", sess.UserID)
	}

	options, sessionData, err := v.web.BeginLogin(&webauthnUser{user: user})
	if err != nil {
		return nil, fmt.Errorf("beginning login: %w", err)
	}

	sess.WebAuthnData = sessionData
	if !v.sessions.Update(sess) {
		return nil, errors.New("session no longer valid")
	}
	return options, nil
}

// FinishLogin validates the assertion against the stored challenge state.
// The library verifies signature, challenge, and RP id/origin binding; this
// method additionally rejects signature-counter regressions and persists
// the advanced counter. It does NOT consume the session; the orchestrator
// does that after minting the token.
func (v *WebAuthnVerifier) FinishLogin(sess Session, body io.Reader) error {
	if sess.WebAuthnData == nil {
		return errors.New("no pending webauthn challenge")
	}
	user, ok := v.registry.Get(sess.UserID)
	if !ok {
		return fmt.Errorf("unknown user %q", sess.UserID)
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(body)
	if err != nil {
		return fmt.Errorf("parsing assertion: %w", err)
	}

	cred, err := v.web.ValidateLogin(&webauthnUser{user: user}, *sess.WebAuthnData, parsed)
	if err != nil {
		return fmt.Errorf("validating assertion: %w", err)
	}
	if cred.Authenticator.CloneWarning {
		return ErrCloneDetected
	}

	if err := v.registry.UpdateSignCount(user.ID, cred.ID, cred.Authenticator.SignCount); err != nil {
		return fmt.Errorf("updating signature counter: %w", err)
	}
	return nil
}

// BeginRegistration opens an enrolment flow for an already-authenticated
// user. Existing credentials are excluded so an authenticator cannot be
// enrolled twice. Returns the enrolment session and the creation options.
func (v *WebAuthnVerifier) BeginRegistration(userID string) (*Session, *protocol.CredentialCreation, error) {
	user, ok := v.registry.Get(userID)
	if !ok {
		return nil, nil, fmt.Errorf("unknown user %q", userID)
	}

	wu := &webauthnUser{user: user}
	exclusions := make([]protocol.CredentialDescriptor, 0, len(user.Credentials))
	for _, c := range user.Credentials {
		exclusions = append(exclusions, protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: c.ID,
		})
	}

	options, sessionData, err := v.web.BeginRegistration(wu,
		webauthn.WithExclusions(exclusions),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("beginning registration: %w", err)
	}

	sess, err := v.sessions.Create(userID, StepRegister)
	if err != nil {
		return nil, nil, err
	}
	sess.WebAuthnData = sessionData
	if !v.sessions.Update(*sess) {
		return nil, nil, errors.New("session no longer valid")
	}
	return sess, options, nil
}

// FinishRegistration verifies the attestation and appends the credential to
// the user's profile, with the counter initialised from the attestation's
// signature counter.
func (v *WebAuthnVerifier) FinishRegistration(sess Session, body io.Reader) error {
	if sess.NextStep != StepRegister || sess.WebAuthnData == nil {
		return errors.New("no pending enrolment")
	}
	user, ok := v.registry.Get(sess.UserID)
	if !ok {
		return fmt.Errorf("unknown user %q", sess.UserID)
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(body)
	if err != nil {
		return fmt.Errorf("parsing attestation: %w", err)
	}

	cred, err := v.web.CreateCredential(&webauthnUser{user: user}, *sess.WebAuthnData, parsed)
	if err != nil {
		return fmt.Errorf("verifying attestation: %w", err)
	}

	return v.registry.AddCredential(user.ID, models.Credential{
		ID:              cred.ID,
		PublicKey:       cred.PublicKey,
		AttestationType: cred.AttestationType,
		AAGUID:          cred.Authenticator.AAGUID,
		SignCount:       cred.Authenticator.SignCount,
		BackupEligible:  cred.Flags.BackupEligible,
		BackupState:     cred.Flags.BackupState,
	})
}
