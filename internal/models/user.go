// Package models defines the core data types for termgate.
package models

// User is one operator account. The profile itself is immutable at runtime
// (created at process start from configuration); only the credential list
// grows, through WebAuthn enrolment, and that mutation is owned by the
// user registry.
type User struct {
	// ID is the unique login name.
	ID string `json:"id"`

	// PasswordHash is the Argon2id PHC-format hash of the password.
	// Never serialized into API responses.
	PasswordHash string `json:"-"`

	// Root is the canonical absolute filesystem root for this user.
	// PTY starting directories and file operations are confined to it.
	Root string `json:"root"`

	// Credentials are the registered WebAuthn credential descriptors.
	Credentials []Credential `json:"credentials,omitempty"`
}

// Credential is a registered FIDO2 credential descriptor.
//
// The signature counter is monotonically non-decreasing per credential;
// a regression indicates a cloned authenticator and fails the login.
type Credential struct {
	ID              []byte `json:"id"`
	PublicKey       []byte `json:"public_key"`
	AttestationType string `json:"attestation_type,omitempty"`
	AAGUID          []byte `json:"aaguid,omitempty"`
	SignCount       uint32 `json:"sign_count"`
	BackupEligible  bool   `json:"backup_eligible,omitempty"`
	BackupState     bool   `json:"backup_state,omitempty"`
}
