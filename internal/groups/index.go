package groups

import (
	"sort"
	"sync"
)

type set map[string]struct{}

// Index is the online-member index: for each group, the members that
// currently hold a session. It is a cache over durable membership and live
// sessions and is never authoritative. All mutations are applied under a
// single lock so readers never see a half-applied change.
type Index struct {
	mu      sync.RWMutex
	members map[string]set // groupID -> userIDs
	online  map[string]set // userID -> groupIDs
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{
		members: make(map[string]set),
		online:  make(map[string]set),
	}
}

// Attach marks userID online and inserts it into each group's index,
// creating the group's entry if absent.
func (x *Index) Attach(userID string, groupIDs []string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	groups, ok := x.online[userID]
	if !ok {
		groups = make(set, len(groupIDs))
		x.online[userID] = groups
	}
	for _, g := range groupIDs {
		groups[g] = struct{}{}
		x.addLocked(g, userID)
	}
}

// Detach removes userID from every group it appears in and marks it offline.
func (x *Index) Detach(userID string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	for g := range x.online[userID] {
		x.removeLocked(g, userID)
	}
	delete(x.online, userID)
}

// Add inserts userID into groupID's index if the user is online. It
// reports whether the user was inserted.
func (x *Index) Add(groupID, userID string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	groups, ok := x.online[userID]
	if !ok {
		return false
	}
	groups[groupID] = struct{}{}
	x.addLocked(groupID, userID)
	return true
}

// Remove deletes userID from groupID's index and reports whether it was present.
func (x *Index) Remove(groupID, userID string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	if _, ok := x.members[groupID][userID]; !ok {
		return false
	}
	x.removeLocked(groupID, userID)
	delete(x.online[userID], groupID)
	return true
}

// IsMember reports whether userID is an online member of groupID.
func (x *Index) IsMember(groupID, userID string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.members[groupID][userID]
	return ok
}

// Members returns a sorted snapshot of groupID's online members.
func (x *Index) Members(groupID string) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return sortedKeys(x.members[groupID])
}

// GroupsOf returns a sorted snapshot of the groups userID is indexed in.
func (x *Index) GroupsOf(userID string) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return sortedKeys(x.online[userID])
}

// Online reports whether userID is attached.
func (x *Index) Online(userID string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.online[userID]
	return ok
}

func (x *Index) addLocked(groupID, userID string) {
	m, ok := x.members[groupID]
	if !ok {
		m = make(set)
		x.members[groupID] = m
	}
	m[userID] = struct{}{}
}

func (x *Index) removeLocked(groupID, userID string) {
	m, ok := x.members[groupID]
	if !ok {
		return
	}
	delete(m, userID)
	if len(m) == 0 {
		delete(x.members, groupID)
	}
}

func sortedKeys(s set) []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
