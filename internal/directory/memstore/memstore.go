// Package memstore is an in-process directory.Store. It is the default
// backend for single-node deployments and the store used by tests.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/Tyrowin/gorelay/internal/directory"
)

type pair struct {
	userID  string
	groupID string
}

// Store keeps every record in mutex-guarded maps.
type Store struct {
	mu          sync.RWMutex
	users       map[string]directory.User
	groups      map[string]directory.Group
	memberships map[pair]struct{}
	invitations map[pair]struct{}
}

var _ directory.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		users:       make(map[string]directory.User),
		groups:      make(map[string]directory.Group),
		memberships: make(map[pair]struct{}),
		invitations: make(map[pair]struct{}),
	}
}

// PutUser inserts or replaces a user record.
func (s *Store) PutUser(_ context.Context, u directory.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.UserID] = u
	return nil
}

// GetUser returns the user or directory.ErrNotFound.
func (s *Store) GetUser(_ context.Context, userID string) (directory.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return directory.User{}, directory.ErrNotFound
	}
	return u, nil
}

// CreateGroup stores a new group.
func (s *Store) CreateGroup(_ context.Context, g directory.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[g.GroupID] = g
	return nil
}

// GetGroup returns the group or directory.ErrNotFound.
func (s *Store) GetGroup(_ context.Context, groupID string) (directory.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[groupID]
	if !ok {
		return directory.Group{}, directory.ErrNotFound
	}
	return g, nil
}

// UpdateGroup replaces the title and icon of an existing group.
func (s *Store) UpdateGroup(_ context.Context, g directory.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[g.GroupID]; !ok {
		return directory.ErrNotFound
	}
	s.groups[g.GroupID] = g
	return nil
}

// AddMembership records that userID belongs to groupID.
func (s *Store) AddMembership(_ context.Context, userID, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memberships[pair{userID, groupID}] = struct{}{}
	return nil
}

// RemoveMembership deletes a membership; a missing one is not an error.
func (s *Store) RemoveMembership(_ context.Context, userID, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.memberships, pair{userID, groupID})
	return nil
}

// GroupIDsForUser returns the ids of userID's groups.
func (s *Store) GroupIDsForUser(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0)
	for p := range s.memberships {
		if p.userID == userID {
			ids = append(ids, p.groupID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// GroupsForUser returns userID's groups.
func (s *Store) GroupsForUser(ctx context.Context, userID string) ([]directory.Group, error) {
	ids, _ := s.GroupIDsForUser(ctx, userID)
	return s.groupsByID(ids), nil
}

// MembersOfGroup returns the users that belong to groupID.
func (s *Store) MembersOfGroup(_ context.Context, groupID string) ([]directory.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]directory.User, 0)
	for p := range s.memberships {
		if p.groupID != groupID {
			continue
		}
		u, ok := s.users[p.userID]
		if !ok {
			u = directory.User{UserID: p.userID}
		}
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users, nil
}

// AddInvitation records a pending invitation.
func (s *Store) AddInvitation(_ context.Context, userID, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invitations[pair{userID, groupID}] = struct{}{}
	return nil
}

// RemoveInvitation deletes an invitation; a missing one is not an error.
func (s *Store) RemoveInvitation(_ context.Context, userID, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.invitations, pair{userID, groupID})
	return nil
}

// HasInvitation reports whether userID is invited to groupID.
func (s *Store) HasInvitation(_ context.Context, userID, groupID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.invitations[pair{userID, groupID}]
	return ok, nil
}

// InvitationsForUser returns the groups userID is invited to.
func (s *Store) InvitationsForUser(_ context.Context, userID string) ([]directory.Group, error) {
	s.mu.RLock()
	ids := make([]string, 0)
	for p := range s.invitations {
		if p.userID == userID {
			ids = append(ids, p.groupID)
		}
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return s.groupsByID(ids), nil
}

// groupsByID resolves ids, skipping groups that no longer exist.
func (s *Store) groupsByID(ids []string) []directory.Group {
	s.mu.RLock()
	defer s.mu.RUnlock()
	groups := make([]directory.Group, 0, len(ids))
	for _, id := range ids {
		if g, ok := s.groups[id]; ok {
			groups = append(groups, g)
		}
	}
	return groups
}
