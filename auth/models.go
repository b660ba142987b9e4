package auth

import (
	"time"

	"disputeflow/policy"
)

type Role string

const (
	RoleMember Role = "member"
	RoleOracle Role = "oracle"
	RoleAdmin  Role = "admin"
)

// User is the domain representation of an authenticated user. It mirrors the
// users table and carries no JSON annotations so presentation layers choose
// their own shape.
type User struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Caller is the identity the command services and policies see.
func (u User) Caller() policy.Caller {
	return policy.Caller{ID: u.ID, Role: string(u.Role)}
}

// RegisterRequest contains user registration data supplied by callers.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     Role   `json:"role"`
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
