// Package directorytest holds the behavioural test suite every
// directory.Store adapter must pass.
package directorytest

import (
	"context"
	"testing"
	"time"

	"github.com/Tyrowin/gorelay/internal/directory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) directory.Store

// Run exercises the store contract against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("groups", func(t *testing.T) { testGroups(t, newStore(t)) })
	t.Run("memberships", func(t *testing.T) { testMemberships(t, newStore(t)) })
	t.Run("invitations", func(t *testing.T) { testInvitations(t, newStore(t)) })
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func testUsers(t *testing.T, s directory.Store) {
	ctx := testContext(t)

	_, err := s.GetUser(ctx, "nobody")
	require.ErrorIs(t, err, directory.ErrNotFound)

	require.NoError(t, s.PutUser(ctx, directory.User{UserID: "u1", Name: "Ann", IconURL: "a.png"}))
	require.NoError(t, s.PutUser(ctx, directory.User{UserID: "u1", Name: "Annie", IconURL: "b.png"}))

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, directory.User{UserID: "u1", Name: "Annie", IconURL: "b.png"}, u)
}

func testGroups(t *testing.T, s directory.Store) {
	ctx := testContext(t)

	_, err := s.GetGroup(ctx, "missing")
	require.ErrorIs(t, err, directory.ErrNotFound)
	require.ErrorIs(t, s.UpdateGroup(ctx, directory.Group{GroupID: "missing"}), directory.ErrNotFound)

	g := directory.Group{GroupID: directory.NewGroupID(), Title: "Raiders", IconURL: "r.png"}
	require.NoError(t, s.CreateGroup(ctx, g))

	got, err := s.GetGroup(ctx, g.GroupID)
	require.NoError(t, err)
	assert.Equal(t, g, got)

	g.Title = "Raiders II"
	require.NoError(t, s.UpdateGroup(ctx, g))
	got, err = s.GetGroup(ctx, g.GroupID)
	require.NoError(t, err)
	assert.Equal(t, "Raiders II", got.Title)
}

func testMemberships(t *testing.T, s directory.Store) {
	ctx := testContext(t)

	g1 := directory.Group{GroupID: "g1", Title: "One"}
	g2 := directory.Group{GroupID: "g2", Title: "Two"}
	require.NoError(t, s.CreateGroup(ctx, g1))
	require.NoError(t, s.CreateGroup(ctx, g2))
	require.NoError(t, s.PutUser(ctx, directory.User{UserID: "u1", Name: "Ann"}))
	require.NoError(t, s.PutUser(ctx, directory.User{UserID: "u2", Name: "Bob"}))

	// remove-then-add is how callers avoid duplicate-key failures
	require.NoError(t, s.RemoveMembership(ctx, "u1", "g1"))
	require.NoError(t, s.AddMembership(ctx, "u1", "g1"))
	require.NoError(t, s.RemoveMembership(ctx, "u1", "g1"))
	require.NoError(t, s.AddMembership(ctx, "u1", "g1"))
	require.NoError(t, s.AddMembership(ctx, "u1", "g2"))
	require.NoError(t, s.AddMembership(ctx, "u2", "g1"))

	ids, err := s.GroupIDsForUser(ctx, "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"g1", "g2"}, ids)

	groups, err := s.GroupsForUser(ctx, "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []directory.Group{g1, g2}, groups)

	members, err := s.MembersOfGroup(ctx, "g1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []directory.User{{UserID: "u1", Name: "Ann"}, {UserID: "u2", Name: "Bob"}}, members)

	require.NoError(t, s.RemoveMembership(ctx, "u1", "g1"))
	ids, err = s.GroupIDsForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"g2"}, ids)

	ids, err = s.GroupIDsForUser(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func testInvitations(t *testing.T, s directory.Store) {
	ctx := testContext(t)

	g := directory.Group{GroupID: "g1", Title: "One"}
	require.NoError(t, s.CreateGroup(ctx, g))

	ok, err := s.HasInvitation(ctx, "u1", "g1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.AddInvitation(ctx, "u1", "g1"))
	require.NoError(t, s.AddInvitation(ctx, "u1", "g1"))

	ok, err = s.HasInvitation(ctx, "u1", "g1")
	require.NoError(t, err)
	assert.True(t, ok)

	invites, err := s.InvitationsForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []directory.Group{g}, invites)

	require.NoError(t, s.RemoveInvitation(ctx, "u1", "g1"))
	require.NoError(t, s.RemoveInvitation(ctx, "u1", "g1"))

	invites, err = s.InvitationsForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, invites)
}
