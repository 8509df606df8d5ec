// Package groups owns group membership: the durable records in the
// directory store and the in-memory index of which members are online.
package groups

import (
	"context"
	"errors"
	"fmt"

	"github.com/Tyrowin/gorelay/internal/directory"
	"github.com/Tyrowin/gorelay/internal/keylock"
	"github.com/Tyrowin/gorelay/internal/logging"
	"github.com/Tyrowin/gorelay/internal/profanity"
	"github.com/Tyrowin/gorelay/internal/protocol"
	"github.com/Tyrowin/gorelay/internal/session"
	"go.uber.org/zap"
)

var (
	// ErrNotMember means the acting user is not an online member of the group.
	ErrNotMember = errors.New("groups: not an online member")
	// ErrNoSuchGroup means the group does not exist.
	ErrNoSuchGroup = errors.New("groups: no such group")
	// ErrNoSuchInvitation means no invitation exists for the user and group.
	ErrNoSuchInvitation = errors.New("groups: no such invitation")
)

// InviteMode selects how Invite treats its target.
type InviteMode string

const (
	// ModeRequest records an invitation the target must accept.
	ModeRequest InviteMode = "request"
	// ModeDirect adds the target immediately.
	ModeDirect InviteMode = "direct"
)

// Sessions resolves live sessions.
type Sessions interface {
	Lookup(userID string) *session.Session
}

// ManagerConfig holds the optional collaborators of a Manager.
type ManagerConfig struct {
	Mode InviteMode
	// TitleFilter is applied to group titles before they are stored.
	TitleFilter profanity.Filter
	// Locks serialises per-user membership changes. Share it with the
	// session registry so handshakes and adds do not interleave.
	Locks  *keylock.Map
	Logger *zap.Logger
}

// Manager mutates group membership and notifies online members.
type Manager struct {
	store    directory.Store
	sessions Sessions
	index    *Index
	mode     InviteMode
	titles   profanity.Filter
	locks    *keylock.Map
	log      *zap.Logger
}

// NewManager wires a Manager. An empty mode defaults to ModeRequest.
func NewManager(store directory.Store, sessions Sessions, index *Index, cfg ManagerConfig) *Manager {
	m := &Manager{
		store:    store,
		sessions: sessions,
		index:    index,
		mode:     cfg.Mode,
		titles:   cfg.TitleFilter,
		locks:    cfg.Locks,
		log:      logging.DefaultIfNil(cfg.Logger),
	}
	if m.mode == "" {
		m.mode = ModeRequest
	}
	if m.titles == nil {
		m.titles = profanity.Identity
	}
	if m.locks == nil {
		m.locks = &keylock.Map{}
	}
	return m
}

// Mode returns the configured invite mode.
func (m *Manager) Mode() InviteMode { return m.mode }

// CreateGroup persists a new group owned by ownerID and makes the owner
// its first member. Only the creator is notified.
func (m *Manager) CreateGroup(ctx context.Context, ownerID, title, iconURL string) (directory.Group, error) {
	g := directory.Group{
		GroupID: directory.NewGroupID(),
		Title:   m.titles.Clean(title),
		IconURL: iconURL,
	}
	if err := m.store.CreateGroup(ctx, g); err != nil {
		return directory.Group{}, fmt.Errorf("create group: %w", err)
	}
	if err := m.persistMember(ctx, ownerID, g.GroupID); err != nil {
		return directory.Group{}, err
	}

	m.log.Info("group created",
		zap.String("group_id", g.GroupID),
		zap.String("user_id", ownerID))
	m.sendTo(ownerID, protocol.EventCreateGroup, groupInfo(g))
	return g, nil
}

// UpdateGroup changes a group's title and icon. The actor must be an
// online member. Every online member receives the new details.
func (m *Manager) UpdateGroup(ctx context.Context, actorID, groupID, title, iconURL string) error {
	if !m.index.IsMember(groupID, actorID) {
		return ErrNotMember
	}

	g := directory.Group{GroupID: groupID, Title: m.titles.Clean(title), IconURL: iconURL}
	if err := m.store.UpdateGroup(ctx, g); err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return ErrNoSuchGroup
		}
		return fmt.Errorf("update group %s: %w", groupID, err)
	}

	m.broadcast(groupID, protocol.EventUpdateGroup, groupInfo(g))
	return nil
}

// AddMember unconditionally makes userID a member of groupID. Online
// members, the joiner included, receive a group-join event; the joiner's
// invitation and group lists are then refreshed.
func (m *Manager) AddMember(ctx context.Context, userID, groupID string) error {
	if err := m.persistMember(ctx, userID, groupID); err != nil {
		return err
	}

	m.broadcast(groupID, protocol.EventGroupJoin, protocol.MemberEvent{
		GroupID: groupID,
		UserID:  userID,
		Name:    m.displayName(ctx, userID),
	})

	if _, err := m.ListInvitations(ctx, userID); err != nil {
		return err
	}
	_, err := m.ListGroups(ctx, userID)
	return err
}

// Invite invites targetID to groupID on behalf of inviterID, who must be
// an online member. In request mode an invitation is recorded; in direct
// mode the target is added at once.
func (m *Manager) Invite(ctx context.Context, inviterID, targetID, groupID string) error {
	if !m.index.IsMember(groupID, inviterID) {
		return ErrNotMember
	}
	if _, err := m.store.GetGroup(ctx, groupID); err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return ErrNoSuchGroup
		}
		return fmt.Errorf("get group %s: %w", groupID, err)
	}

	if m.mode == ModeDirect {
		return m.AddMember(ctx, targetID, groupID)
	}

	if err := m.store.RemoveInvitation(ctx, targetID, groupID); err != nil {
		return fmt.Errorf("clear invitation: %w", err)
	}
	if err := m.store.AddInvitation(ctx, targetID, groupID); err != nil {
		return fmt.Errorf("add invitation: %w", err)
	}

	m.log.Debug("invitation recorded",
		zap.String("group_id", groupID),
		zap.String("user_id", targetID),
		zap.String("inviter_id", inviterID))
	_, err := m.ListInvitations(ctx, targetID)
	return err
}

// AcceptInvite consumes the invitation for userID and groupID and adds the
// user to the group. The invitation is gone before any join broadcast.
func (m *Manager) AcceptInvite(ctx context.Context, userID, groupID string) error {
	if err := m.takeInvitation(ctx, userID, groupID); err != nil {
		return err
	}
	return m.AddMember(ctx, userID, groupID)
}

// DeclineInvite discards the invitation for userID and groupID.
func (m *Manager) DeclineInvite(ctx context.Context, userID, groupID string) error {
	if err := m.takeInvitation(ctx, userID, groupID); err != nil {
		return err
	}
	_, err := m.ListInvitations(ctx, userID)
	return err
}

// Leave removes userID from groupID. The leaver gets a refreshed group
// list and the remaining online members a group-leave event. Leaving a
// group the user is not in is a silent no-op.
func (m *Manager) Leave(ctx context.Context, groupID, userID string) error {
	unlock := m.locks.Lock(userID)
	ids, err := m.store.GroupIDsForUser(ctx, userID)
	if err != nil {
		unlock()
		return fmt.Errorf("load memberships for %s: %w", userID, err)
	}
	durable := contains(ids, groupID)
	if durable {
		if err := m.store.RemoveMembership(ctx, userID, groupID); err != nil {
			unlock()
			return fmt.Errorf("remove membership: %w", err)
		}
	}
	online := m.index.Remove(groupID, userID)
	unlock()

	if !durable && !online {
		return nil
	}

	m.log.Info("member left",
		zap.String("group_id", groupID),
		zap.String("user_id", userID))
	if _, err := m.ListGroups(ctx, userID); err != nil {
		return err
	}
	m.broadcast(groupID, protocol.EventGroupLeave, protocol.MemberEvent{
		GroupID: groupID,
		UserID:  userID,
		Name:    m.displayName(ctx, userID),
	})
	return nil
}

// Kick removes targetID from groupID on behalf of actorID, who must be an
// online member of the group.
func (m *Manager) Kick(ctx context.Context, actorID, targetID, groupID string) error {
	if !m.index.IsMember(groupID, actorID) {
		return ErrNotMember
	}
	m.log.Info("member kicked",
		zap.String("group_id", groupID),
		zap.String("user_id", targetID),
		zap.String("actor_id", actorID))
	return m.Leave(ctx, groupID, targetID)
}

// ListInvitations pushes userID's outstanding invitations to their session
// and returns them. Nothing is pushed if the user is offline.
func (m *Manager) ListInvitations(ctx context.Context, userID string) ([]directory.Group, error) {
	groups, err := m.store.InvitationsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list invitations for %s: %w", userID, err)
	}
	m.sendTo(userID, protocol.EventGroupInvitationList, protocol.InvitationList{Groups: groupInfos(groups)})
	return groups, nil
}

// ListGroupMembers pushes the durable members of groupID to requesterID,
// who must be an online member, and returns them.
func (m *Manager) ListGroupMembers(ctx context.Context, requesterID, groupID string) ([]directory.User, error) {
	if !m.index.IsMember(groupID, requesterID) {
		return nil, ErrNotMember
	}
	users, err := m.store.MembersOfGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("list members of %s: %w", groupID, err)
	}

	out := make([]protocol.UserInfo, 0, len(users))
	for _, u := range users {
		out = append(out, protocol.UserInfo{UserID: u.UserID, Name: u.Name, IconURL: u.IconURL})
	}
	m.sendTo(requesterID, protocol.EventGroupUserList, protocol.GroupUserList{GroupID: groupID, Users: out})
	return users, nil
}

// ListGroups pushes the groups userID belongs to and returns them.
func (m *Manager) ListGroups(ctx context.Context, userID string) ([]directory.Group, error) {
	groups, err := m.store.GroupsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list groups for %s: %w", userID, err)
	}
	m.sendTo(userID, protocol.EventGroupList, protocol.GroupList{Groups: groupInfos(groups)})
	return groups, nil
}

// persistMember writes the membership as a delete-then-create pair and
// indexes the user if online, holding the user's lock so a concurrent
// handshake cannot miss the new group.
func (m *Manager) persistMember(ctx context.Context, userID, groupID string) error {
	unlock := m.locks.Lock(userID)
	defer unlock()

	if err := m.store.RemoveMembership(ctx, userID, groupID); err != nil {
		return fmt.Errorf("clear membership: %w", err)
	}
	if err := m.store.AddMembership(ctx, userID, groupID); err != nil {
		return fmt.Errorf("add membership: %w", err)
	}
	m.index.Add(groupID, userID)
	return nil
}

func (m *Manager) takeInvitation(ctx context.Context, userID, groupID string) error {
	ok, err := m.store.HasInvitation(ctx, userID, groupID)
	if err != nil {
		return fmt.Errorf("check invitation: %w", err)
	}
	if !ok {
		return ErrNoSuchInvitation
	}
	if err := m.store.RemoveInvitation(ctx, userID, groupID); err != nil {
		return fmt.Errorf("remove invitation: %w", err)
	}
	return nil
}

func (m *Manager) displayName(ctx context.Context, userID string) string {
	if s := m.sessions.Lookup(userID); s != nil {
		return s.Name
	}
	u, err := m.store.GetUser(ctx, userID)
	if err != nil {
		return ""
	}
	return u.Name
}

func (m *Manager) sendTo(userID, event string, payload any) {
	s := m.sessions.Lookup(userID)
	if s == nil {
		return
	}
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		m.log.Error("encode event", zap.String("event", event), zap.Error(err))
		return
	}
	if !s.Send(frame) {
		m.log.Debug("dropped frame", zap.String("event", event), zap.String("user_id", userID))
	}
}

func (m *Manager) broadcast(groupID, event string, payload any) {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		m.log.Error("encode event", zap.String("event", event), zap.Error(err))
		return
	}
	for _, userID := range m.index.Members(groupID) {
		if s := m.sessions.Lookup(userID); s != nil {
			s.Send(frame)
		}
	}
}

func groupInfo(g directory.Group) protocol.GroupInfo {
	return protocol.GroupInfo{GroupID: g.GroupID, Title: g.Title, IconURL: g.IconURL}
}

func groupInfos(groups []directory.Group) []protocol.GroupInfo {
	out := make([]protocol.GroupInfo, 0, len(groups))
	for _, g := range groups {
		out = append(out, groupInfo(g))
	}
	return out
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
