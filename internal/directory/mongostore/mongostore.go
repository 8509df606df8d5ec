// Package mongostore implements directory.Store on MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Tyrowin/gorelay/internal/directory"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store keeps users and groups keyed by _id, and memberships and
// invitations as (user_id, group_id) documents under unique indexes.
type Store struct {
	users       *mongo.Collection
	groups      *mongo.Collection
	memberships *mongo.Collection
	invitations *mongo.Collection
}

var _ directory.Store = (*Store)(nil)

type link struct {
	UserID    string    `bson:"user_id"`
	GroupID   string    `bson:"group_id"`
	CreatedAt time.Time `bson:"created_at"`
}

// New creates a Store over db.
func New(db *mongo.Database) *Store {
	return &Store{
		users:       db.Collection("users"),
		groups:      db.Collection("groups"),
		memberships: db.Collection("memberships"),
		invitations: db.Collection("invitations"),
	}
}

// Connect dials uri and returns a Store over the named database together
// with the client, which the caller must disconnect.
func Connect(ctx context.Context, uri, database string) (*Store, *mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("ping mongo: %w", err)
	}
	return New(client.Database(database)), client, nil
}

// EnsureIndexes creates the unique pair indexes and the lookup indexes.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	for _, c := range []*mongo.Collection{s.memberships, s.invitations} {
		indexes := []mongo.IndexModel{
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "group_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("uniq_" + c.Name() + "_user_group"),
			},
			{
				Keys:    bson.D{{Key: "group_id", Value: 1}},
				Options: options.Index().SetName("idx_" + c.Name() + "_group"),
			},
		}
		if _, err := c.Indexes().CreateMany(ctx, indexes); err != nil {
			return fmt.Errorf("create %s indexes: %w", c.Name(), err)
		}
	}
	return nil
}

// PutUser inserts or replaces a user record.
func (s *Store) PutUser(ctx context.Context, u directory.User) error {
	_, err := s.users.ReplaceOne(ctx, bson.M{"_id": u.UserID}, u, options.Replace().SetUpsert(true))
	return err
}

// GetUser returns the user or directory.ErrNotFound.
func (s *Store) GetUser(ctx context.Context, userID string) (directory.User, error) {
	var u directory.User
	if err := s.users.FindOne(ctx, bson.M{"_id": userID}).Decode(&u); err != nil {
		return directory.User{}, notFound(err)
	}
	return u, nil
}

// CreateGroup stores a new group.
func (s *Store) CreateGroup(ctx context.Context, g directory.Group) error {
	_, err := s.groups.ReplaceOne(ctx, bson.M{"_id": g.GroupID}, g, options.Replace().SetUpsert(true))
	return err
}

// GetGroup returns the group or directory.ErrNotFound.
func (s *Store) GetGroup(ctx context.Context, groupID string) (directory.Group, error) {
	var g directory.Group
	if err := s.groups.FindOne(ctx, bson.M{"_id": groupID}).Decode(&g); err != nil {
		return directory.Group{}, notFound(err)
	}
	return g, nil
}

// UpdateGroup replaces the title and icon of an existing group.
func (s *Store) UpdateGroup(ctx context.Context, g directory.Group) error {
	res, err := s.groups.UpdateByID(ctx, g.GroupID, bson.M{"$set": bson.M{
		"title":    g.Title,
		"icon_url": g.IconURL,
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return directory.ErrNotFound
	}
	return nil
}

// AddMembership records that userID belongs to groupID.
func (s *Store) AddMembership(ctx context.Context, userID, groupID string) error {
	return addLink(ctx, s.memberships, userID, groupID)
}

// RemoveMembership deletes a membership; a missing one is not an error.
func (s *Store) RemoveMembership(ctx context.Context, userID, groupID string) error {
	_, err := s.memberships.DeleteOne(ctx, bson.M{"user_id": userID, "group_id": groupID})
	return err
}

// GroupIDsForUser returns the ids of userID's groups.
func (s *Store) GroupIDsForUser(ctx context.Context, userID string) ([]string, error) {
	links, err := findLinks(ctx, s.memberships, bson.M{"user_id": userID})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(links))
	for _, l := range links {
		ids = append(ids, l.GroupID)
	}
	return ids, nil
}

// GroupsForUser returns userID's groups.
func (s *Store) GroupsForUser(ctx context.Context, userID string) ([]directory.Group, error) {
	ids, err := s.GroupIDsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.groupsByID(ctx, ids)
}

// MembersOfGroup returns the users that belong to groupID.
func (s *Store) MembersOfGroup(ctx context.Context, groupID string) ([]directory.User, error) {
	links, err := findLinks(ctx, s.memberships, bson.M{"group_id": groupID})
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return []directory.User{}, nil
	}

	ids := make([]string, 0, len(links))
	for _, l := range links {
		ids = append(ids, l.UserID)
	}

	cur, err := s.users.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	var found []directory.User
	if err := cur.All(ctx, &found); err != nil {
		return nil, err
	}
	byID := make(map[string]directory.User, len(found))
	for _, u := range found {
		byID[u.UserID] = u
	}

	users := make([]directory.User, 0, len(ids))
	for _, id := range ids {
		u, ok := byID[id]
		if !ok {
			u = directory.User{UserID: id}
		}
		users = append(users, u)
	}
	return users, nil
}

// AddInvitation records a pending invitation.
func (s *Store) AddInvitation(ctx context.Context, userID, groupID string) error {
	return addLink(ctx, s.invitations, userID, groupID)
}

// RemoveInvitation deletes an invitation; a missing one is not an error.
func (s *Store) RemoveInvitation(ctx context.Context, userID, groupID string) error {
	_, err := s.invitations.DeleteOne(ctx, bson.M{"user_id": userID, "group_id": groupID})
	return err
}

// HasInvitation reports whether userID is invited to groupID.
func (s *Store) HasInvitation(ctx context.Context, userID, groupID string) (bool, error) {
	n, err := s.invitations.CountDocuments(ctx, bson.M{"user_id": userID, "group_id": groupID})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// InvitationsForUser returns the groups userID is invited to.
func (s *Store) InvitationsForUser(ctx context.Context, userID string) ([]directory.Group, error) {
	links, err := findLinks(ctx, s.invitations, bson.M{"user_id": userID})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(links))
	for _, l := range links {
		ids = append(ids, l.GroupID)
	}
	return s.groupsByID(ctx, ids)
}

func (s *Store) groupsByID(ctx context.Context, ids []string) ([]directory.Group, error) {
	if len(ids) == 0 {
		return []directory.Group{}, nil
	}
	cur, err := s.groups.Find(ctx, bson.M{"_id": bson.M{"$in": ids}},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	groups := make([]directory.Group, 0, len(ids))
	if err := cur.All(ctx, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// addLink upserts the pair so repeated adds never hit the unique index.
func addLink(ctx context.Context, c *mongo.Collection, userID, groupID string) error {
	filter := bson.M{"user_id": userID, "group_id": groupID}
	update := bson.M{"$setOnInsert": bson.M{"created_at": time.Now().UTC()}}
	_, err := c.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		// lost an upsert race; the pair exists either way
		return nil
	}
	return err
}

func findLinks(ctx context.Context, c *mongo.Collection, filter bson.M) ([]link, error) {
	cur, err := c.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	links := make([]link, 0)
	if err := cur.All(ctx, &links); err != nil {
		return nil, err
	}
	return links, nil
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return directory.ErrNotFound
	}
	return err
}
