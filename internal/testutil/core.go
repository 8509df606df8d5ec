package testutil

import (
	"context"
	"testing"

	"github.com/Tyrowin/gorelay/internal/directory/memstore"
	"github.com/Tyrowin/gorelay/internal/groups"
	"github.com/Tyrowin/gorelay/internal/keylock"
	"github.com/Tyrowin/gorelay/internal/pending"
	"github.com/Tyrowin/gorelay/internal/profanity"
	"github.com/Tyrowin/gorelay/internal/relay"
	"github.com/Tyrowin/gorelay/internal/router"
	"github.com/Tyrowin/gorelay/internal/session"
	"github.com/stretchr/testify/require"
)

// Core is a fully wired relay core over the memory store.
type Core struct {
	Store      *memstore.Store
	Pending    *pending.Table
	Index      *groups.Index
	Sessions   *session.Registry
	Groups     *groups.Manager
	Router     *router.Router
	Dispatcher *relay.Dispatcher
}

// CoreOptions tunes NewCore.
type CoreOptions struct {
	Mode   groups.InviteMode
	Filter profanity.Filter
}

// NewCore wires a Core with no logging.
func NewCore(opts CoreOptions) *Core {
	c := &Core{
		Store:   memstore.New(),
		Pending: pending.New(),
		Index:   groups.NewIndex(),
	}
	locks := &keylock.Map{}
	c.Sessions = session.NewRegistry(c.Pending, c.Store, c.Index, locks, nil)
	c.Groups = groups.NewManager(c.Store, c.Sessions, c.Index, groups.ManagerConfig{
		Mode:  opts.Mode,
		Locks: locks,
	})
	c.Router = router.New(c.Sessions, c.Index, opts.Filter, nil)
	c.Dispatcher = relay.New(relay.Deps{
		Pending:  c.Pending,
		Store:    c.Store,
		Sessions: c.Sessions,
		Groups:   c.Groups,
		Router:   c.Router,
	})
	return c
}

// Connect registers userID and completes a handshake on a fresh Conn.
// Frames pushed by the handshake itself are discarded.
func (c *Core) Connect(t *testing.T, userID, name string) *Conn {
	t.Helper()
	ctx := context.Background()

	reg, err := c.Dispatcher.RegisterPending(ctx, userID, name, name+".png")
	require.NoError(t, err)

	conn := NewConn()
	_, err = c.Sessions.BeginHandshake(ctx, userID, reg.ConnectionKey, conn)
	require.NoError(t, err)
	conn.Reset()
	return conn
}
