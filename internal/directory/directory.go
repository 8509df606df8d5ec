// Package directory defines the durable record types and the store port
// through which the relay reads and writes users, groups, memberships and
// invitations. Adapters live in the memstore, mongostore and dynamostore
// subpackages.
package directory

import (
	"context"
	"encoding/base64"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("directory: not found")

// User is a registered relay user.
type User struct {
	UserID  string `json:"userId" bson:"_id" dynamodbav:"user_id"`
	Name    string `json:"name" bson:"name" dynamodbav:"name"`
	IconURL string `json:"iconUrl" bson:"icon_url" dynamodbav:"icon_url"`
}

// Group is a durable group record. GroupID never changes once created.
type Group struct {
	GroupID string `json:"groupId" bson:"_id" dynamodbav:"group_id"`
	Title   string `json:"title" bson:"title" dynamodbav:"title"`
	IconURL string `json:"iconUrl" bson:"icon_url" dynamodbav:"icon_url"`
}

// Store is the durable directory. Implementations must be safe for
// concurrent use. Creates are upserts keyed on the record identity, and
// removes of missing records succeed, so callers can pre-clear before
// creating without tripping uniqueness constraints.
type Store interface {
	PutUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, userID string) (User, error)

	CreateGroup(ctx context.Context, g Group) error
	GetGroup(ctx context.Context, groupID string) (Group, error)
	UpdateGroup(ctx context.Context, g Group) error

	AddMembership(ctx context.Context, userID, groupID string) error
	RemoveMembership(ctx context.Context, userID, groupID string) error
	GroupIDsForUser(ctx context.Context, userID string) ([]string, error)
	GroupsForUser(ctx context.Context, userID string) ([]Group, error)
	MembersOfGroup(ctx context.Context, groupID string) ([]User, error)

	AddInvitation(ctx context.Context, userID, groupID string) error
	RemoveInvitation(ctx context.Context, userID, groupID string) error
	HasInvitation(ctx context.Context, userID, groupID string) (bool, error)
	InvitationsForUser(ctx context.Context, userID string) ([]Group, error)
}

// NewGroupID returns a fresh, unguessable, URL-safe group identifier.
func NewGroupID() string {
	id := uuid.New()
	return base64.RawURLEncoding.EncodeToString(id[:])
}
