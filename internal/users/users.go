package users

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	logx "sendboard/pkg/logx"
)

// ErrInvalidCredentials is returned for unknown users and wrong passwords
// alike, so the login endpoint leaks nothing about which one it was.
var ErrInvalidCredentials = errors.New("invalid credentials")

type record struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Registry is the user database: a small JSON file mapping usernames to
// bcrypt password hashes. Each username doubles as a tenant name for the
// document store and the session manager.
type Registry struct {
	path string
	log  logx.Logger

	mu    sync.Mutex
	users map[string]string // username -> stored password value
}

// Load reads the user file. A missing file yields an empty registry; a
// deployment seeds it out of band.
func Load(path string, log logx.Logger) (*Registry, error) {
	r := &Registry{path: path, log: log, users: map[string]string{}}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read users file: %w", err)
	}

	var recs []record
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("parse users file %s: %w", path, err)
	}
	for _, rec := range recs {
		name := strings.TrimSpace(rec.Username)
		if name == "" {
			return nil, fmt.Errorf("users file %s: entry with empty username", path)
		}
		if _, dup := r.users[name]; dup {
			return nil, fmt.Errorf("users file %s: duplicate username %q", path, name)
		}
		r.users[name] = rec.Password
	}
	return r, nil
}

// Names returns every username, sorted. The scanner iterates this to know
// which tenants exist.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.users))
	for name := range r.users {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Exists reports whether the username is registered.
func (r *Registry) Exists(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.users[username]
	return ok
}

// Verify checks a username/password pair. Entries whose stored value is still
// plaintext (a hand-seeded file) are upgraded to a bcrypt hash on first
// successful login.
func (r *Registry) Verify(username, password string) error {
	r.mu.Lock()
	stored, ok := r.users[username]
	r.mu.Unlock()
	if !ok {
		return ErrInvalidCredentials
	}

	if isBcryptHash(stored) {
		if bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) != nil {
			return ErrInvalidCredentials
		}
		return nil
	}

	if subtleEqual(stored, password) {
		if err := r.upgrade(username, password); err != nil {
			r.log.Warn("password hash upgrade failed",
				logx.String("user", username), logx.Err(err))
		}
		return nil
	}
	return ErrInvalidCredentials
}

func (r *Registry) upgrade(username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[username] = string(hash)
	return r.saveLocked()
}

// saveLocked persists the registry with a temp-file rename. Caller holds mu.
func (r *Registry) saveLocked() error {
	names := make([]string, 0, len(r.users))
	for name := range r.users {
		names = append(names, name)
	}
	sort.Strings(names)

	recs := make([]record, 0, len(names))
	for _, name := range names {
		recs = append(recs, record{Username: name, Password: r.users[name]})
	}
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return err
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, r.path)
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

// subtleEqual compares without early exit; good enough for the legacy
// plaintext path that exists only until the first login rewrites the entry.
func subtleEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := 0; i < len(a); i++ {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}
