// Package relay maps decoded client events onto the session registry, the
// group manager and the message router, and exposes the pre-auth
// registration boundary used by trusted callers.
package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/Tyrowin/gorelay/internal/directory"
	"github.com/Tyrowin/gorelay/internal/groups"
	"github.com/Tyrowin/gorelay/internal/logging"
	"github.com/Tyrowin/gorelay/internal/pending"
	"github.com/Tyrowin/gorelay/internal/protocol"
	"github.com/Tyrowin/gorelay/internal/router"
	"github.com/Tyrowin/gorelay/internal/session"
	"go.uber.org/zap"
)

// ErrMissingField is returned by RegisterPending for an empty user id or name.
var ErrMissingField = errors.New("relay: userId and name are required")

// Deps are the collaborators a Dispatcher routes to.
type Deps struct {
	Pending  *pending.Table
	Store    directory.Store
	Sessions *session.Registry
	Groups   *groups.Manager
	Router   *router.Router
	Logger   *zap.Logger
}

// Dispatcher handles one event at a time on behalf of a connection.
type Dispatcher struct {
	pending  *pending.Table
	store    directory.Store
	sessions *session.Registry
	groups   *groups.Manager
	router   *router.Router
	log      *zap.Logger
}

// New creates a Dispatcher.
func New(d Deps) *Dispatcher {
	return &Dispatcher{
		pending:  d.Pending,
		store:    d.Store,
		sessions: d.Sessions,
		groups:   d.Groups,
		router:   d.Router,
		log:      logging.DefaultIfNil(d.Logger),
	}
}

// RegisterPending records the user in the directory and issues a fresh
// connection key, replacing any earlier unused one.
func (d *Dispatcher) RegisterPending(ctx context.Context, userID, name, iconURL string) (pending.Registration, error) {
	if userID == "" || name == "" {
		return pending.Registration{}, ErrMissingField
	}
	if err := d.store.PutUser(ctx, directory.User{UserID: userID, Name: name, IconURL: iconURL}); err != nil {
		return pending.Registration{}, fmt.Errorf("store user %s: %w", userID, err)
	}
	reg := d.pending.Register(userID, name, iconURL)
	d.log.Info("pending registration issued", zap.String("user_id", userID))
	return reg, nil
}

// UnregisterPending withdraws userID's unused registration and reports
// whether one existed.
func (d *Dispatcher) UnregisterPending(userID string) bool {
	return d.pending.Unregister(userID)
}

// Handle processes in for a connection currently bound to userID ("" when
// unauthenticated) and returns the user the connection is bound to
// afterwards.
//
// A connection whose session has been replaced or ended loses its binding:
// the event is dropped and "" is returned.
//
// Authentication failures are returned and should terminate the
// connection. Policy violations are swallowed. Any other error is a store
// failure of this event.
func (d *Dispatcher) Handle(ctx context.Context, conn session.Conn, userID string, in protocol.Inbound) (string, error) {
	if userID != "" && !d.owns(conn, userID) {
		d.log.Debug("event from superseded connection dropped",
			zap.String("event", in.Event()),
			zap.String("user_id", userID),
			zap.String("conn_id", conn.ID()))
		return "", nil
	}

	if v, ok := in.(*protocol.ValidateUser); ok {
		if userID != "" {
			d.log.Debug("repeat validate-user dropped", zap.String("user_id", userID))
			return userID, nil
		}
		return d.handshake(ctx, conn, v)
	}

	if userID == "" {
		d.log.Debug("event before validate-user dropped",
			zap.String("event", in.Event()),
			zap.String("conn_id", conn.ID()))
		return "", nil
	}

	err := d.dispatch(ctx, userID, in)
	if isPolicy(err) {
		d.log.Debug("policy violation",
			zap.String("event", in.Event()),
			zap.String("user_id", userID),
			zap.Error(err))
		return userID, nil
	}
	return userID, err
}

// Disconnect ends the session bound to connID, if it is still current.
func (d *Dispatcher) Disconnect(userID, connID string) {
	if userID == "" {
		return
	}
	d.sessions.EndSession(userID, connID)
}

// owns reports whether conn is the connection of userID's live session.
func (d *Dispatcher) owns(conn session.Conn, userID string) bool {
	s := d.sessions.Lookup(userID)
	return s != nil && s.Conn.ID() == conn.ID()
}

func (d *Dispatcher) handshake(ctx context.Context, conn session.Conn, v *protocol.ValidateUser) (string, error) {
	s, err := d.sessions.BeginHandshake(ctx, v.UserID, v.ConnectionKey, conn)
	if err != nil {
		return "", err
	}
	if _, err := d.groups.ListGroups(ctx, s.UserID); err != nil {
		return s.UserID, err
	}
	if _, err := d.groups.ListInvitations(ctx, s.UserID); err != nil {
		return s.UserID, err
	}
	return s.UserID, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, userID string, in protocol.Inbound) error {
	switch m := in.(type) {
	case *protocol.Local:
		d.router.Local(userID, *m)
	case *protocol.Global:
		d.router.Global(userID, m.Msg)
	case *protocol.Whisper:
		d.router.Whisper(userID, m.TargetName, m.Msg)
	case *protocol.WhisperByID:
		d.router.WhisperByID(userID, m.TargetUserID, m.Msg)
	case *protocol.GroupMessage:
		d.router.Group(userID, m.GroupID, m.Msg)
	case *protocol.CreateGroup:
		_, err := d.groups.CreateGroup(ctx, userID, m.Title, m.IconURL)
		return err
	case *protocol.UpdateGroup:
		return d.groups.UpdateGroup(ctx, userID, m.GroupID, m.Title, m.IconURL)
	case *protocol.GroupInvite:
		return d.groups.Invite(ctx, userID, m.UserID, m.GroupID)
	case *protocol.GroupInviteAccept:
		return d.groups.AcceptInvite(ctx, userID, m.GroupID)
	case *protocol.GroupInviteDecline:
		return d.groups.DeclineInvite(ctx, userID, m.GroupID)
	case *protocol.LeaveGroup:
		return d.groups.Leave(ctx, m.GroupID, userID)
	case *protocol.KickUser:
		return d.groups.Kick(ctx, userID, m.UserID, m.GroupID)
	case *protocol.GroupInvitationListRequest:
		_, err := d.groups.ListInvitations(ctx, userID)
		return err
	case *protocol.GroupUserListRequest:
		_, err := d.groups.ListGroupMembers(ctx, userID, m.GroupID)
		return err
	case *protocol.GroupListRequest:
		_, err := d.groups.ListGroups(ctx, userID)
		return err
	default:
		return fmt.Errorf("%w: %s", protocol.ErrUnknownEvent, in.Event())
	}
	return nil
}

func isPolicy(err error) bool {
	return errors.Is(err, groups.ErrNotMember) ||
		errors.Is(err, groups.ErrNoSuchGroup) ||
		errors.Is(err, groups.ErrNoSuchInvitation)
}
