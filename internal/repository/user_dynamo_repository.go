package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/noah-isme/timetable-api/internal/models"
)

// UserDynamoRepository stores accounts in a DynamoDB table keyed by PK.
type UserDynamoRepository struct {
	client DynamoAPI
	table  string
}

// NewUserDynamoRepository constructs the repository for the given table.
func NewUserDynamoRepository(client DynamoAPI, table string) *UserDynamoRepository {
	return &UserDynamoRepository{client: client, table: table}
}

// FindByPK returns the user with the given primary key, or nil when absent.
func (r *UserDynamoRepository) FindByPK(ctx context.Context, pk string) (*models.User, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            map[string]types.AttributeValue{"PK": &types.AttributeValueMemberS{Value: pk}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", pk, err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var user models.User
	if err := attributevalue.UnmarshalMap(out.Item, &user); err != nil {
		return nil, fmt.Errorf("unmarshal user: %w", err)
	}
	if user.Identifier == "" {
		if _, identifier, ok := models.ParseUserPK(user.PK); ok {
			user.Identifier = identifier
		}
	}
	return &user, nil
}

// Create writes the user only when the primary key is free.
func (r *UserDynamoRepository) Create(ctx context.Context, user *models.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	item, err := attributevalue.MarshalMap(user)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name("PK"))).
		Build()
	if err != nil {
		return fmt.Errorf("build user condition: %w", err)
	}
	if _, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(r.table),
		Item:                     item,
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	}); err != nil {
		if isConditionFailed(err) {
			return models.ErrUserExists
		}
		return fmt.Errorf("put user %s: %w", user.PK, err)
	}
	return nil
}
