// Package pending holds pre-authorised registrations awaiting a websocket
// handshake.
package pending

import (
	"crypto/subtle"
	"errors"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrUnknownUser means no registration exists for the user.
	ErrUnknownUser = errors.New("pending: unknown user")
	// ErrInvalidKey means the presented key does not match the registration.
	ErrInvalidKey = errors.New("pending: invalid connection key")
)

// Registration is a pre-authorised identity and its one-time connection key.
type Registration struct {
	UserID        string `json:"userId"`
	Name          string `json:"name"`
	IconURL       string `json:"iconUrl,omitempty"`
	ConnectionKey string `json:"connectionKey"`
}

// Table maps user ids to their live registration. There is at most one
// registration per user; registering again replaces it.
type Table struct {
	mu      sync.Mutex
	entries map[string]Registration
	newKey  func() string
}

// New returns an empty Table issuing random UUID keys.
func New() *Table {
	return &Table{
		entries: make(map[string]Registration),
		newKey:  uuid.NewString,
	}
}

// Register issues a fresh connection key for userID, replacing any
// earlier registration.
func (t *Table) Register(userID, name, iconURL string) Registration {
	reg := Registration{
		UserID:        userID,
		Name:          name,
		IconURL:       iconURL,
		ConnectionKey: t.newKey(),
	}

	t.mu.Lock()
	t.entries[userID] = reg
	t.mu.Unlock()
	return reg
}

// Unregister removes the registration for userID and reports whether one existed.
func (t *Table) Unregister(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[userID]
	delete(t.entries, userID)
	return ok
}

// Get returns the registration for userID.
func (t *Table) Get(userID string) (Registration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	reg, ok := t.entries[userID]
	return reg, ok
}

// Check validates key against the registration for userID without
// removing it.
func (t *Table) Check(userID, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := t.matchLocked(userID, key)
	return err
}

// Consume validates key against the registration for userID and, on a
// match, removes the registration so the key cannot be replayed.
func (t *Table) Consume(userID, key string) (Registration, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	reg, err := t.matchLocked(userID, key)
	if err != nil {
		return Registration{}, err
	}
	delete(t.entries, userID)
	return reg, nil
}

func (t *Table) matchLocked(userID, key string) (Registration, error) {
	reg, ok := t.entries[userID]
	if !ok {
		return Registration{}, ErrUnknownUser
	}
	if subtle.ConstantTimeCompare([]byte(reg.ConnectionKey), []byte(key)) != 1 {
		return Registration{}, ErrInvalidKey
	}
	return reg, nil
}

// Len returns the number of outstanding registrations.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
