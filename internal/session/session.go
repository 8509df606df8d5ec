// Package session binds authenticated transport connections to user
// identities. The Registry is the single source of truth for who is online
// and on which connection.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Tyrowin/gorelay/internal/keylock"
	"github.com/Tyrowin/gorelay/internal/logging"
	"github.com/Tyrowin/gorelay/internal/pending"
	"go.uber.org/zap"
)

var (
	// ErrUnknownUser means no pending registration exists for the user.
	ErrUnknownUser = pending.ErrUnknownUser
	// ErrInvalidKey means the presented key does not match the pending registration.
	ErrInvalidKey = pending.ErrInvalidKey
)

// IsAuthError reports whether err rejects a handshake.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrUnknownUser) || errors.Is(err, ErrInvalidKey)
}

// Conn is the transport side of a session.
type Conn interface {
	// ID identifies the connection uniquely for the life of the process.
	ID() string
	// Send queues an encoded frame; false means the frame was dropped.
	Send(frame []byte) bool
	// Close terminates the transport. It must not block on the registry.
	Close()
}

// MembershipLoader reads durable memberships.
type MembershipLoader interface {
	GroupIDsForUser(ctx context.Context, userID string) ([]string, error)
}

// Presence is notified when users come online or go offline.
type Presence interface {
	Attach(userID string, groupIDs []string)
	Detach(userID string)
}

// Session is a live, authenticated connection.
type Session struct {
	UserID      string
	Name        string
	IconURL     string
	Conn        Conn
	ConnectedAt time.Time
}

// Send queues frame on the session's connection.
func (s *Session) Send(frame []byte) bool {
	return s.Conn.Send(frame)
}

// Registry owns every live session.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]*Session
	byName map[string][]*Session // oldest first

	pending     *pending.Table
	memberships MembershipLoader
	presence    Presence
	locks       *keylock.Map
	log         *zap.Logger
}

// NewRegistry creates a Registry. locks serialises per-user work shared
// with the group manager and may be nil.
func NewRegistry(table *pending.Table, memberships MembershipLoader, presence Presence, locks *keylock.Map, logger *zap.Logger) *Registry {
	if locks == nil {
		locks = &keylock.Map{}
	}
	return &Registry{
		byID:        make(map[string]*Session),
		byName:      make(map[string][]*Session),
		pending:     table,
		memberships: memberships,
		presence:    presence,
		locks:       locks,
		log:         logging.DefaultIfNil(logger),
	}
}

// BeginHandshake validates key against the pending registration for
// userID and promotes conn to the user's session. Any existing session for
// the user is terminated before the new one becomes visible. The user's
// durable memberships are loaded into the presence index.
func (r *Registry) BeginHandshake(ctx context.Context, userID, key string, conn Conn) (*Session, error) {
	unlock := r.locks.Lock(userID)
	defer unlock()

	if err := r.pending.Check(userID, key); err != nil {
		return nil, err
	}

	groupIDs, err := r.memberships.GroupIDsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load memberships for %s: %w", userID, err)
	}

	// re-checked atomically; a concurrent handshake may have used the key
	reg, err := r.pending.Consume(userID, key)
	if err != nil {
		return nil, err
	}

	s := &Session{
		UserID:      reg.UserID,
		Name:        reg.Name,
		IconURL:     reg.IconURL,
		Conn:        conn,
		ConnectedAt: time.Now(),
	}

	r.mu.Lock()
	if prev, ok := r.byID[userID]; ok {
		r.removeLocked(prev)
		r.presence.Detach(userID)
		prev.Conn.Close()
		r.log.Info("session replaced",
			zap.String("user_id", userID),
			zap.String("old_conn_id", prev.Conn.ID()),
			zap.String("conn_id", conn.ID()))
	}
	r.byID[userID] = s
	r.byName[s.Name] = append(r.byName[s.Name], s)
	r.presence.Attach(userID, groupIDs)
	count := len(r.byID)
	r.mu.Unlock()

	r.log.Info("session started",
		zap.String("user_id", userID),
		zap.String("conn_id", conn.ID()),
		zap.Int("groups", len(groupIDs)),
		zap.Int("sessions", count))
	return s, nil
}

// EndSession removes userID's session if it is still bound to connID and
// detaches the user from every online-member index. Durable memberships
// are untouched. It reports whether a session was removed; a stale connID
// (the session was already replaced) is a no-op.
func (r *Registry) EndSession(userID, connID string) bool {
	r.mu.Lock()
	s, ok := r.byID[userID]
	if !ok || s.Conn.ID() != connID {
		r.mu.Unlock()
		return false
	}
	r.removeLocked(s)
	r.presence.Detach(userID)
	count := len(r.byID)
	r.mu.Unlock()

	r.log.Info("session ended",
		zap.String("user_id", userID),
		zap.String("conn_id", connID),
		zap.Int("sessions", count))
	return true
}

// Lookup returns userID's session, or nil if the user is not online.
func (r *Registry) Lookup(userID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[userID]
}

// LookupByName returns the most recent live session registered under name,
// or nil. Names are not unique; the last writer wins, and when it ends the
// previous holder still alive takes the name back.
func (r *Registry) LookupByName(name string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	holders := r.byName[name]
	if len(holders) == 0 {
		return nil
	}
	return holders[len(holders)-1]
}

// All returns a snapshot of every live session ordered by user id.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *Registry) removeLocked(s *Session) {
	delete(r.byID, s.UserID)

	holders := r.byName[s.Name]
	for i, h := range holders {
		if h == s {
			holders = append(holders[:i], holders[i+1:]...)
			break
		}
	}
	if len(holders) == 0 {
		delete(r.byName, s.Name)
		return
	}
	r.byName[s.Name] = holders
}
