// Package session owns the authentication credential for the datadash client:
// how it is derived from a username and password, how it is persisted between
// runs and how it is rehydrated or cleared.
//
// The credential derivation is a pure function (BuildCredential) kept apart
// from the Store, which is the only writer of persisted session state.
package session

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrInvalidSession is returned by Store.Set when either field is empty.
var ErrInvalidSession = errors.New("session: username and credential are required")

// Session is the persisted authentication state. The zero value means
// unauthenticated; Username is set iff Credential is set.
type Session struct {
	Username   string `yaml:"username"`
	Credential string `yaml:"credential"`
}

// Authenticated reports whether the session carries a credential.
func (s Session) Authenticated() bool {
	return s.Credential != ""
}

// BuildCredential encodes "username:password" as the opaque Basic credential
// the backend expects.
func BuildCredential(username, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
}

// ParseCredential reverses BuildCredential.
func ParseCredential(credential string) (username, password string, err error) {
	raw, err := base64.StdEncoding.DecodeString(credential)
	if err != nil {
		return "", "", fmt.Errorf("session: decode credential: %w", err)
	}
	user, pass, ok := strings.Cut(string(raw), ":")
	if !ok {
		return "", "", errors.New("session: credential is not username:password")
	}
	return user, pass, nil
}

// RedactCredential safely redacts a credential for logging purposes.
func RedactCredential(c string) string {
	if c == "" {
		return ""
	}
	if len(c) <= 4 {
		return "***"
	}
	return c[:4] + "***"
}

// Store is the single owner of the current session. It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	storage Storage
	current Session
	logger  *slog.Logger
}

// NewStore creates a Store and rehydrates it from storage. A missing or
// malformed payload leaves the store unauthenticated; it is never an error.
func NewStore(storage Storage, logger *slog.Logger) *Store {
	if storage == nil {
		storage = NewMemoryStorage(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{storage: storage, logger: logger}
	s.current = s.rehydrate()
	return s
}

func (s *Store) rehydrate() Session {
	data, err := s.storage.Load()
	if err != nil {
		if !errors.Is(err, ErrNotStored) {
			s.logger.Warn("Session storage unreadable, starting unauthenticated", "error", err)
		}
		return Session{}
	}
	sess, err := decode(data)
	if err != nil {
		s.logger.Debug("Ignoring malformed persisted session", "error", err)
		return Session{}
	}
	s.logger.Debug("Session rehydrated", "username", sess.Username)
	return sess
}

// decode validates the persisted shape strictly: both fields must be
// present, non-empty strings.
func decode(data []byte) (Session, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Session{}, fmt.Errorf("parse: %w", err)
	}
	if raw == nil {
		return Session{}, errors.New("empty payload")
	}
	username, ok := raw["username"].(string)
	if !ok || username == "" {
		return Session{}, errors.New("username missing or not a string")
	}
	credential, ok := raw["credential"].(string)
	if !ok || credential == "" {
		return Session{}, errors.New("credential missing or not a string")
	}
	return Session{Username: username, Credential: credential}, nil
}

// Login derives the credential for username and password. It neither
// verifies nor persists anything; see api.Client.Login for the full flow.
func (s *Store) Login(username, password string) string {
	return BuildCredential(username, password)
}

// Set persists the session and then updates memory.
func (s *Store) Set(username, credential string) error {
	if username == "" || credential == "" {
		return ErrInvalidSession
	}
	sess := Session{Username: username, Credential: credential}
	out, err := yaml.Marshal(sess)
	if err != nil {
		return fmt.Errorf("session: marshal failed: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.storage.Save(out); err != nil {
		return err
	}
	s.current = sess
	s.logger.Info("Session stored", "username", username, "credential", RedactCredential(credential))
	return nil
}

// Clear removes the persisted session and resets memory. Idempotent.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = Session{}
	if err := s.storage.Remove(); err != nil {
		return err
	}
	s.logger.Debug("Session cleared")
	return nil
}

// Current returns a copy of the in-memory session.
func (s *Store) Current() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Credential returns the current credential and whether one is set.
func (s *Store) Credential() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Credential, s.current.Credential != ""
}

// Username returns the authenticated username, or "" when unauthenticated.
func (s *Store) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Username
}

// Authenticated reports whether a credential is present.
func (s *Store) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Authenticated()
}
