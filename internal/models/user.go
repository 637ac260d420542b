package models

import "time"

// UserRole represents the roles recognised by the platform.
type UserRole string

const (
	RoleAdmin        UserRole = "ADMIN"
	RoleAuthor       UserRole = "AUTHOR"
	RoleStudent      UserRole = "STUDENT"
	RoleInvestigator UserRole = "INVESTIGATOR"
)

// PublicRoles are the roles self-service registration may request.
var PublicRoles = []UserRole{RoleAuthor, RoleStudent, RoleInvestigator}

// IsPublicRole reports whether the role may be chosen at registration.
func IsPublicRole(r UserRole) bool {
	for _, allowed := range PublicRoles {
		if r == allowed {
			return true
		}
	}
	return false
}

// User represents an account stored in the users table.
type User struct {
	ID               string     `db:"id" json:"id"`
	Email            string     `db:"email" json:"email"`
	PasswordHash     string     `db:"password_hash" json:"-"`
	FirstName        string     `db:"first_name" json:"first_name"`
	LastName         string     `db:"last_name" json:"last_name"`
	Role             UserRole   `db:"role" json:"role"`
	IsVerified       bool       `db:"is_verified" json:"is_verified"`
	ResetToken       *string    `db:"reset_token" json:"-"`
	ResetTokenExpiry *time.Time `db:"reset_token_expiry" json:"-"`
	LastLogin        *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role      *UserRole
	Verified  *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
