package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/timetable-api/internal/models"
)

func TestUserRepositoryFindByPK(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"pk", "role", "identifier", "name", "password_hash", "created_at"}).
		AddRow("ADMIN#a@example.com", "ADMIN", "a@example.com", "Admin", "hash", now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT pk, role, identifier, name, password_hash, created_at FROM users WHERE pk = $1 LIMIT 1")).
		WithArgs("ADMIN#a@example.com").
		WillReturnRows(rows)

	user, err := repo.FindByPK(context.Background(), "ADMIN#a@example.com")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, models.RoleAdmin, user.Role)
	assert.Equal(t, "a@example.com", user.Identifier)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryFindByPKMissing(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery("SELECT pk, role").
		WithArgs("STUDENT#1RV").
		WillReturnRows(sqlmock.NewRows([]string{"pk"}))

	user, err := repo.FindByPK(context.Background(), "STUDENT#1RV")
	require.NoError(t, err)
	assert.Nil(t, user)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryCreateDuplicate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec("INSERT INTO users").
		WillReturnError(&pq.Error{Code: uniqueViolation})

	err := repo.Create(context.Background(), &models.User{PK: "STUDENT#1RV", Role: models.RoleStudent, Identifier: "1RV", Name: "S", PasswordHash: "hash"})
	assert.ErrorIs(t, err, models.ErrUserExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserDynamoRepositoryCreateConditional(t *testing.T) {
	fake := &fakeDynamo{putErr: &types.ConditionalCheckFailedException{Message: aws.String("exists")}}
	repo := NewUserDynamoRepository(fake, "Users")

	err := repo.Create(context.Background(), &models.User{PK: "ADMIN#a@example.com", Role: models.RoleAdmin, Identifier: "a@example.com", PasswordHash: "hash"})
	assert.ErrorIs(t, err, models.ErrUserExists)
	assert.Contains(t, aws.ToString(fake.putIn.ConditionExpression), "attribute_not_exists")
	assert.Equal(t, &types.AttributeValueMemberS{Value: "ADMIN"}, fake.putIn.Item["userType"])
	assert.Equal(t, &types.AttributeValueMemberS{Value: "hash"}, fake.putIn.Item["hashed_password"])
}

func TestUserDynamoRepositoryFindByPK(t *testing.T) {
	fake := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"PK":              &types.AttributeValueMemberS{Value: "STUDENT#1RV21CS001"},
		"userType":        &types.AttributeValueMemberS{Value: "STUDENT"},
		"name":            &types.AttributeValueMemberS{Value: "Student"},
		"hashed_password": &types.AttributeValueMemberS{Value: "hash"},
	}}}
	repo := NewUserDynamoRepository(fake, "Users")

	user, err := repo.FindByPK(context.Background(), "STUDENT#1RV21CS001")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "1RV21CS001", user.Identifier)
	assert.Equal(t, "hash", user.PasswordHash)
	assert.True(t, aws.ToBool(fake.getIn.ConsistentRead))
}

func TestUserMemoryRepositoryCreate(t *testing.T) {
	repo := NewUserMemoryRepository()
	user := &models.User{PK: "ADMIN#a@example.com", Role: models.RoleAdmin, Identifier: "a@example.com"}

	require.NoError(t, repo.Create(context.Background(), user))
	assert.ErrorIs(t, repo.Create(context.Background(), user), models.ErrUserExists)

	found, err := repo.FindByPK(context.Background(), user.PK)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", found.Identifier)
}
