package models

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Registry is the in-process user table. Profiles come from configuration
// and never change; credential lists are appended through WebAuthn enrolment
// and persisted to a JSON file so enrolments survive a restart.
type Registry struct {
	mu        sync.RWMutex
	users     map[string]*User
	credsPath string
}

// credentialFile is the on-disk shape of the persisted credential lists,
// keyed by user id.
type credentialFile map[string][]Credential

// NewRegistry builds the registry from configured users and loads any
// persisted credentials from credsPath. A missing file is not an error.
func NewRegistry(users []*User, credsPath string) (*Registry, error) {
	r := &Registry{
		users:     make(map[string]*User, len(users)),
		credsPath: credsPath,
	}
	for _, u := range users {
		r.users[u.ID] = u
	}

	if credsPath != "" {
		data, err := os.ReadFile(credsPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading credentials file: %w", err)
			}
		} else {
			var file credentialFile
			if err := json.Unmarshal(data, &file); err != nil {
				return nil, fmt.Errorf("parsing credentials file: %w", err)
			}
			for id, creds := range file {
				if u, ok := r.users[id]; ok {
					u.Credentials = creds
				}
			}
		}
	}

	return r, nil
}

// Get returns a copy of the user profile, or false if the id is unknown.
// The copy carries its own credential slice so callers cannot mutate
// registry state.
func (r *Registry) Get(id string) (User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return User{}, false
	}
	cp := *u
	cp.Credentials = append([]Credential(nil), u.Credentials...)
	return cp, true
}

// AddCredential appends a credential to the user's list and persists the
// credential file.
func (r *Registry) AddCredential(id string, cred Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return fmt.Errorf("unknown user %q", id)
	}
	u.Credentials = append(u.Credentials, cred)
	return r.persistLocked()
}

// UpdateSignCount stores a new signature counter for the credential
// identified by credID. Called after a successful WebAuthn login.
func (r *Registry) UpdateSignCount(id string, credID []byte, count uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return fmt.Errorf("unknown user %q", id)
	}
	for i := range u.Credentials {
		if string(u.Credentials[i].ID) == string(credID) {
			u.Credentials[i].SignCount = count
			return r.persistLocked()
		}
	}
	return fmt.Errorf("unknown credential for user %q", id)
}

// HasCredentials reports whether the user has at least one registered
// WebAuthn credential. Drives next-step selection on login.
func (r *Registry) HasCredentials(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	return ok && len(u.Credentials) > 0
}

func (r *Registry) persistLocked() error {
	if r.credsPath == "" {
		return nil
	}
	file := make(credentialFile, len(r.users))
	for id, u := range r.users {
		if len(u.Credentials) > 0 {
			file[id] = u.Credentials
		}
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}
	tmp := r.credsPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing credentials file: %w", err)
	}
	return os.Rename(tmp, r.credsPath)
}
