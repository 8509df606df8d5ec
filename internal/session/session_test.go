package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Tyrowin/gorelay/internal/directory/memstore"
	"github.com/Tyrowin/gorelay/internal/groups"
	"github.com/Tyrowin/gorelay/internal/pending"
	"github.com/Tyrowin/gorelay/internal/session"
	"github.com/Tyrowin/gorelay/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	table    *pending.Table
	store    *memstore.Store
	index    *groups.Index
	registry *session.Registry
}

func newFixture() *fixture {
	f := &fixture{
		table: pending.New(),
		store: memstore.New(),
		index: groups.NewIndex(),
	}
	f.registry = session.NewRegistry(f.table, f.store, f.index, nil, nil)
	return f
}

func TestHandshakeRejectsUnknownUser(t *testing.T) {
	f := newFixture()

	_, err := f.registry.BeginHandshake(context.Background(), "ghost", "k", testutil.NewConn())
	require.ErrorIs(t, err, session.ErrUnknownUser)
	assert.True(t, session.IsAuthError(err))
	assert.Nil(t, f.registry.Lookup("ghost"))
}

func TestHandshakeRejectsInvalidKey(t *testing.T) {
	f := newFixture()
	f.table.Register("a", "Ann", "")

	_, err := f.registry.BeginHandshake(context.Background(), "a", "wrong", testutil.NewConn())
	require.ErrorIs(t, err, session.ErrInvalidKey)
	assert.Equal(t, 0, f.registry.Count())
	assert.Equal(t, 1, f.table.Len(), "a failed attempt leaves the registration usable")
}

func TestHandshakeInstallsSessionAndLoadsMemberships(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.store.AddMembership(ctx, "a", "g1"))
	require.NoError(t, f.store.AddMembership(ctx, "a", "g2"))
	reg := f.table.Register("a", "Ann", "ann.png")

	conn := testutil.NewConn()
	s, err := f.registry.BeginHandshake(ctx, "a", reg.ConnectionKey, conn)
	require.NoError(t, err)

	assert.Equal(t, "Ann", s.Name)
	assert.Equal(t, "ann.png", s.IconURL)
	assert.Same(t, s, f.registry.Lookup("a"))
	assert.Same(t, s, f.registry.LookupByName("Ann"))
	assert.Equal(t, []string{"g1", "g2"}, f.index.GroupsOf("a"))
	assert.True(t, f.index.IsMember("g1", "a"))
}

func TestKeyIsSingleUse(t *testing.T) {
	f := newFixture()
	reg := f.table.Register("a", "Ann", "")

	_, err := f.registry.BeginHandshake(context.Background(), "a", reg.ConnectionKey, testutil.NewConn())
	require.NoError(t, err)

	_, err = f.registry.BeginHandshake(context.Background(), "a", reg.ConnectionKey, testutil.NewConn())
	require.ErrorIs(t, err, session.ErrUnknownUser)
}

func TestSecondHandshakeReplacesFirst(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	k1 := f.table.Register("a", "Ann", "")
	first := testutil.NewConn()
	_, err := f.registry.BeginHandshake(ctx, "a", k1.ConnectionKey, first)
	require.NoError(t, err)

	k2 := f.table.Register("a", "Ann", "")
	second := testutil.NewConn()
	s, err := f.registry.BeginHandshake(ctx, "a", k2.ConnectionKey, second)
	require.NoError(t, err)

	assert.True(t, first.Closed())
	assert.False(t, second.Closed())
	assert.Same(t, second, f.registry.Lookup("a").Conn)
	assert.Same(t, s, f.registry.LookupByName("Ann"))
	assert.Equal(t, 1, f.registry.Count())

	// the replaced connection's close must not tear down the new session
	assert.False(t, f.registry.EndSession("a", first.ID()))
	assert.NotNil(t, f.registry.Lookup("a"))
}

func TestEndSessionKeepsDurableMembership(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.store.AddMembership(ctx, "a", "g1"))
	reg := f.table.Register("a", "Ann", "")

	conn := testutil.NewConn()
	_, err := f.registry.BeginHandshake(ctx, "a", reg.ConnectionKey, conn)
	require.NoError(t, err)

	assert.True(t, f.registry.EndSession("a", conn.ID()))
	assert.False(t, f.registry.EndSession("a", conn.ID()))

	assert.Nil(t, f.registry.Lookup("a"))
	assert.Nil(t, f.registry.LookupByName("Ann"))
	assert.False(t, f.index.Online("a"))
	assert.Empty(t, f.index.Members("g1"))

	ids, err := f.store.GroupIDsForUser(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"g1"}, ids)
}

func TestLookupByNameLastWriterWins(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	ra := f.table.Register("a", "Sam", "")
	rb := f.table.Register("b", "Sam", "")
	connA, connB := testutil.NewConn(), testutil.NewConn()

	_, err := f.registry.BeginHandshake(ctx, "a", ra.ConnectionKey, connA)
	require.NoError(t, err)
	sb, err := f.registry.BeginHandshake(ctx, "b", rb.ConnectionKey, connB)
	require.NoError(t, err)
	assert.Same(t, sb, f.registry.LookupByName("Sam"))

	// ending the session that lost the name leaves the winner indexed
	f.registry.EndSession("a", connA.ID())
	assert.Same(t, sb, f.registry.LookupByName("Sam"))
}

func TestLookupByNameFallsBackWhenWinnerEnds(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	ra := f.table.Register("a", "Sam", "")
	rb := f.table.Register("b", "Sam", "")
	rc := f.table.Register("c", "Sam", "")
	connA, connB, connC := testutil.NewConn(), testutil.NewConn(), testutil.NewConn()

	sa, err := f.registry.BeginHandshake(ctx, "a", ra.ConnectionKey, connA)
	require.NoError(t, err)
	sb, err := f.registry.BeginHandshake(ctx, "b", rb.ConnectionKey, connB)
	require.NoError(t, err)
	_, err = f.registry.BeginHandshake(ctx, "c", rc.ConnectionKey, connC)
	require.NoError(t, err)

	require.True(t, f.registry.EndSession("c", connC.ID()))
	assert.Same(t, sb, f.registry.LookupByName("Sam"))

	require.True(t, f.registry.EndSession("b", connB.ID()))
	assert.Same(t, sa, f.registry.LookupByName("Sam"))

	require.True(t, f.registry.EndSession("a", connA.ID()))
	assert.Nil(t, f.registry.LookupByName("Sam"))
}

func TestLookupByNameAfterReplacement(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	ra := f.table.Register("a", "Sam", "")
	_, err := f.registry.BeginHandshake(ctx, "a", ra.ConnectionKey, testutil.NewConn())
	require.NoError(t, err)

	ra = f.table.Register("a", "Sam", "")
	connA := testutil.NewConn()
	sa, err := f.registry.BeginHandshake(ctx, "a", ra.ConnectionKey, connA)
	require.NoError(t, err)
	assert.Same(t, sa, f.registry.LookupByName("Sam"))

	f.registry.EndSession("a", connA.ID())
	assert.Nil(t, f.registry.LookupByName("Sam"))
}

type failingLoader struct{}

var errStoreDown = errors.New("store down")

func (failingLoader) GroupIDsForUser(context.Context, string) ([]string, error) {
	return nil, errStoreDown
}

func TestHandshakeStoreFailureLeavesKey(t *testing.T) {
	table := pending.New()
	registry := session.NewRegistry(table, failingLoader{}, groups.NewIndex(), nil, nil)
	reg := table.Register("a", "Ann", "")

	_, err := registry.BeginHandshake(context.Background(), "a", reg.ConnectionKey, testutil.NewConn())
	require.ErrorIs(t, err, errStoreDown)
	assert.False(t, session.IsAuthError(err))
	assert.Equal(t, 1, table.Len())
	assert.Equal(t, 0, registry.Count())
}

func TestConcurrentHandshakesKeepOneSession(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		conns []*testutil.Conn
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg := f.table.Register("a", "Ann", "")
			conn := testutil.NewConn()
			if _, err := f.registry.BeginHandshake(ctx, "a", reg.ConnectionKey, conn); err == nil {
				mu.Lock()
				conns = append(conns, conn)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.NotEmpty(t, conns)
	live := f.registry.Lookup("a")
	require.NotNil(t, live)

	open := 0
	for _, c := range conns {
		if !c.Closed() {
			open++
			assert.Same(t, c, live.Conn)
		}
	}
	assert.Equal(t, 1, open)
	assert.Equal(t, 1, f.registry.Count())
}

func TestAllIsSorted(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	for _, id := range []string{"c", "a", "b"} {
		reg := f.table.Register(id, id, "")
		_, err := f.registry.BeginHandshake(ctx, id, reg.ConnectionKey, testutil.NewConn())
		require.NoError(t, err)
	}

	all := f.registry.All()
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].UserID)
	assert.Equal(t, "b", all[1].UserID)
	assert.Equal(t, "c", all[2].UserID)
}
