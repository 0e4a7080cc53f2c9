package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RegisterAdminRequest creates an admin account.
type RegisterAdminRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Name     string `json:"name" validate:"required"`
}

// RegisterStudentRequest creates a student account.
type RegisterStudentRequest struct {
	USN      string `json:"usn" validate:"required,alphanum"`
	Password string `json:"password" validate:"required,min=6"`
	Name     string `json:"name" validate:"required"`
}

// LoginRequest holds credentials for either role. Identifier is the email for
// admins and the USN for students.
type LoginRequest struct {
	Identifier string `json:"-" validate:"required"`
	Password   string `json:"password" validate:"required"`
	IP         string `json:"-"`
	UserAgent  string `json:"-"`
}

// LoginResponse returns the issued token and user info.
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresIn   int64     `json:"expires_in"`
	IssuedAt    time.Time `json:"issued_at"`
	User        UserInfo  `json:"user"`
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	Identifier string   `json:"identifier"`
	Name       string   `json:"name"`
	Role       UserRole `json:"role"`
}

// Identity is the authenticated (role, identifier) pair consumed by the timetable core.
type Identity struct {
	Role       UserRole  `json:"role"`
	Identifier string    `json:"identifier"`
	PK         string    `json:"-"`
	TokenID    string    `json:"-"`
	ExpiresAt  time.Time `json:"-"`
}

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	Role       UserRole `json:"userType"`
	Identifier string   `json:"identifier"`
	PK         string   `json:"PK"`
	jwt.RegisteredClaims
}
