package models

import (
	"errors"
	"strings"
	"time"
)

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin   UserRole = "ADMIN"
	RoleStudent UserRole = "STUDENT"
)

// User is an account stored in the users table. Admins are identified by
// email, students by their upper-case university seat number (USN).
type User struct {
	PK           string    `db:"pk" json:"-" dynamodbav:"PK"`
	Role         UserRole  `db:"role" json:"role" dynamodbav:"userType"`
	Identifier   string    `db:"identifier" json:"identifier" dynamodbav:"identifier"`
	Name         string    `db:"name" json:"name" dynamodbav:"name"`
	PasswordHash string    `db:"password_hash" json:"-" dynamodbav:"hashed_password"`
	CreatedAt    time.Time `db:"created_at" json:"created_at" dynamodbav:"createdAt"`
}

// UserPK builds the primary key "{ROLE}#{identifier}".
func UserPK(role UserRole, identifier string) string {
	return string(role) + "#" + identifier
}

// ParseUserPK splits a primary key into role and identifier.
func ParseUserPK(pk string) (UserRole, string, bool) {
	role, identifier, ok := strings.Cut(pk, "#")
	if !ok || identifier == "" {
		return "", "", false
	}
	switch UserRole(role) {
	case RoleAdmin, RoleStudent:
		return UserRole(role), identifier, true
	}
	return "", "", false
}

// ErrUserExists is returned by user stores when the primary key is taken.
var ErrUserExists = errors.New("user already exists")
