// Package dynamostore implements directory.Store on DynamoDB.
package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Tyrowin/gorelay/internal/directory"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// GroupIndex is the GSI on the memberships table keyed by group_id.
const GroupIndex = "group_id-index"

// API is the subset of the DynamoDB client the store uses.
type API interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Tables names the four tables the store uses.
type Tables struct {
	Users       string
	Groups      string
	Memberships string
	Invitations string
}

// TablesWithPrefix derives table names from a prefix, e.g. "Relay" gives
// RelayUsers, RelayGroups, RelayMemberships, RelayInvitations.
func TablesWithPrefix(prefix string) Tables {
	return Tables{
		Users:       prefix + "Users",
		Groups:      prefix + "Groups",
		Memberships: prefix + "Memberships",
		Invitations: prefix + "Invitations",
	}
}

// Store implements directory.Store.
type Store struct {
	client API
	tables Tables
}

var _ directory.Store = (*Store)(nil)

type link struct {
	UserID    string `dynamodbav:"user_id"`
	GroupID   string `dynamodbav:"group_id"`
	CreatedAt string `dynamodbav:"created_at"`
}

// New creates a Store using client and tables.
func New(client API, tables Tables) *Store {
	return &Store{client: client, tables: tables}
}

// NewClient loads the default AWS configuration for region and returns a
// DynamoDB client. A non-empty endpoint overrides the service endpoint,
// which is how DynamoDB Local is reached.
func NewClient(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// CreateTables creates any missing tables with on-demand billing and waits
// for them to become active.
func (s *Store) CreateTables(ctx context.Context) error {
	str := types.ScalarAttributeTypeS
	specs := []*dynamodb.CreateTableInput{
		{
			TableName:            aws.String(s.tables.Users),
			AttributeDefinitions: []types.AttributeDefinition{{AttributeName: aws.String("user_id"), AttributeType: str}},
			KeySchema:            []types.KeySchemaElement{{AttributeName: aws.String("user_id"), KeyType: types.KeyTypeHash}},
		},
		{
			TableName:            aws.String(s.tables.Groups),
			AttributeDefinitions: []types.AttributeDefinition{{AttributeName: aws.String("group_id"), AttributeType: str}},
			KeySchema:            []types.KeySchemaElement{{AttributeName: aws.String("group_id"), KeyType: types.KeyTypeHash}},
		},
		linkTable(s.tables.Memberships, true),
		linkTable(s.tables.Invitations, false),
	}

	waiter := dynamodb.NewTableExistsWaiter(s.client)
	for _, spec := range specs {
		spec.BillingMode = types.BillingModePayPerRequest
		_, err := s.client.CreateTable(ctx, spec)
		var inUse *types.ResourceInUseException
		if err != nil && !errors.As(err, &inUse) {
			return fmt.Errorf("create table '%s': %w", *spec.TableName, err)
		}
		if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: spec.TableName}, time.Minute); err != nil {
			return fmt.Errorf("wait for table '%s': %w", *spec.TableName, err)
		}
	}
	return nil
}

func linkTable(name string, withGroupIndex bool) *dynamodb.CreateTableInput {
	str := types.ScalarAttributeTypeS
	in := &dynamodb.CreateTableInput{
		TableName: aws.String(name),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("user_id"), AttributeType: str},
			{AttributeName: aws.String("group_id"), AttributeType: str},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("user_id"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("group_id"), KeyType: types.KeyTypeRange},
		},
	}
	if withGroupIndex {
		in.GlobalSecondaryIndexes = []types.GlobalSecondaryIndex{{
			IndexName:  aws.String(GroupIndex),
			KeySchema:  []types.KeySchemaElement{{AttributeName: aws.String("group_id"), KeyType: types.KeyTypeHash}},
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		}}
	}
	return in
}

// PutUser inserts or replaces a user record.
func (s *Store) PutUser(ctx context.Context, u directory.User) error {
	return s.putItem(ctx, s.tables.Users, u)
}

// GetUser returns the user or directory.ErrNotFound.
func (s *Store) GetUser(ctx context.Context, userID string) (directory.User, error) {
	var u directory.User
	err := s.getItem(ctx, s.tables.Users, map[string]types.AttributeValue{
		"user_id": &types.AttributeValueMemberS{Value: userID},
	}, &u)
	return u, err
}

// CreateGroup stores a new group.
func (s *Store) CreateGroup(ctx context.Context, g directory.Group) error {
	return s.putItem(ctx, s.tables.Groups, g)
}

// GetGroup returns the group or directory.ErrNotFound.
func (s *Store) GetGroup(ctx context.Context, groupID string) (directory.Group, error) {
	var g directory.Group
	err := s.getItem(ctx, s.tables.Groups, groupKey(groupID), &g)
	return g, err
}

// UpdateGroup replaces the title and icon of an existing group.
func (s *Store) UpdateGroup(ctx context.Context, g directory.Group) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tables.Groups),
		Key:                 groupKey(g.GroupID),
		UpdateExpression:    aws.String("SET title = :title, icon_url = :icon"),
		ConditionExpression: aws.String("attribute_exists(group_id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":title": &types.AttributeValueMemberS{Value: g.Title},
			":icon":  &types.AttributeValueMemberS{Value: g.IconURL},
		},
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return directory.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update item in table '%s': %w", s.tables.Groups, err)
	}
	return nil
}

// AddMembership records that userID belongs to groupID.
func (s *Store) AddMembership(ctx context.Context, userID, groupID string) error {
	return s.putLink(ctx, s.tables.Memberships, userID, groupID)
}

// RemoveMembership deletes a membership; a missing one is not an error.
func (s *Store) RemoveMembership(ctx context.Context, userID, groupID string) error {
	return s.deleteLink(ctx, s.tables.Memberships, userID, groupID)
}

// GroupIDsForUser returns the ids of userID's groups.
func (s *Store) GroupIDsForUser(ctx context.Context, userID string) ([]string, error) {
	links, err := s.queryLinks(ctx, s.tables.Memberships, "", "user_id", userID)
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
	links, err := s.queryLinks(ctx, s.tables.Memberships, GroupIndex, "group_id", groupID)
	if err != nil {
		return nil, err
	}
	users := make([]directory.User, 0, len(links))
	for _, l := range links {
		u, err := s.GetUser(ctx, l.UserID)
		if errors.Is(err, directory.ErrNotFound) {
			u = directory.User{UserID: l.UserID}
		} else if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

// AddInvitation records a pending invitation.
func (s *Store) AddInvitation(ctx context.Context, userID, groupID string) error {
	return s.putLink(ctx, s.tables.Invitations, userID, groupID)
}

// RemoveInvitation deletes an invitation; a missing one is not an error.
func (s *Store) RemoveInvitation(ctx context.Context, userID, groupID string) error {
	return s.deleteLink(ctx, s.tables.Invitations, userID, groupID)
}

// HasInvitation reports whether userID is invited to groupID.
func (s *Store) HasInvitation(ctx context.Context, userID, groupID string) (bool, error) {
	var l link
	err := s.getItem(ctx, s.tables.Invitations, linkKey(userID, groupID), &l)
	if errors.Is(err, directory.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// InvitationsForUser returns the groups userID is invited to.
func (s *Store) InvitationsForUser(ctx context.Context, userID string) ([]directory.Group, error) {
	links, err := s.queryLinks(ctx, s.tables.Invitations, "", "user_id", userID)
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
	groups := make([]directory.Group, 0, len(ids))
	for _, id := range ids {
		g, err := s.GetGroup(ctx, id)
		if errors.Is(err, directory.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, nil
}

func (s *Store) putItem(ctx context.Context, table string, item any) error {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(table),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("failed to put item in table '%s': %w", table, err)
	}
	return nil
}

func (s *Store) getItem(ctx context.Context, table string, key map[string]types.AttributeValue, out any) error {
	res, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(table),
		Key:       key,
	})
	if err != nil {
		return fmt.Errorf("failed to get item from table '%s': %w", table, err)
	}
	if res.Item == nil {
		return directory.ErrNotFound
	}
	if err := attributevalue.UnmarshalMap(res.Item, out); err != nil {
		return fmt.Errorf("failed to unmarshal item from table '%s': %w", table, err)
	}
	return nil
}

func (s *Store) putLink(ctx context.Context, table, userID, groupID string) error {
	return s.putItem(ctx, table, link{
		UserID:    userID,
		GroupID:   groupID,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Store) deleteLink(ctx context.Context, table, userID, groupID string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(table),
		Key:       linkKey(userID, groupID),
	})
	if err != nil {
		return fmt.Errorf("failed to delete item from table '%s': %w", table, err)
	}
	return nil
}

func (s *Store) queryLinks(ctx context.Context, table, index, attr, value string) ([]link, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(table),
		KeyConditionExpression: aws.String("#k = :v"),
		ExpressionAttributeNames: map[string]string{
			"#k": attr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberS{Value: value},
		},
	}
	if index != "" {
		in.IndexName = aws.String(index)
	}

	links := make([]link, 0)
	p := dynamodb.NewQueryPaginator(s.client, in)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query table '%s': %w", table, err)
		}
		var batch []link
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("failed to unmarshal query result: %w", err)
		}
		links = append(links, batch...)
	}
	return links, nil
}

func groupKey(groupID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"group_id": &types.AttributeValueMemberS{Value: groupID},
	}
}

func linkKey(userID, groupID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"user_id":  &types.AttributeValueMemberS{Value: userID},
		"group_id": &types.AttributeValueMemberS{Value: groupID},
	}
}
