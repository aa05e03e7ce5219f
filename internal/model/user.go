package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Roles a user may hold.  New accounts always start as RoleUser.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is a document in the `users` collection.  Username and email are
// stored lowercased and trimmed; both are backed by unique indexes.
//
// Fields:
//
//	PasswordHash – hex of the 64-byte scrypt key.
//	Salt         – hex of 16 random bytes, used as the scrypt salt.
//	LastLogin    – nil until the first successful login.
type User struct {
	ID               primitive.ObjectID `bson:"_id,omitempty"`
	Username         string             `bson:"username"`
	Email            string             `bson:"email"`
	PasswordHash     string             `bson:"password_hash"`
	Salt             string             `bson:"salt"`
	FirstName        string             `bson:"firstName"`
	LastName         string             `bson:"lastName"`
	Role             string             `bson:"role"`
	CreatedAt        time.Time          `bson:"created_at"`
	LastLogin        *time.Time         `bson:"last_login"`
	ProfileCompleted bool               `bson:"profile_completed"`
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }

// Profile is the secret-free view of a user returned to clients.
type Profile struct {
	UserID           string     `json:"user_id"`
	Username         string     `json:"username"`
	Email            string     `json:"email"`
	FirstName        string     `json:"firstName"`
	LastName         string     `json:"lastName"`
	Role             string     `json:"role"`
	CreatedAt        time.Time  `json:"created_at"`
	LastLogin        *time.Time `json:"last_login"`
	ProfileCompleted bool       `json:"profile_completed"`
}

// Profile strips password material from u.
func (u *User) Profile() Profile {
	return Profile{
		UserID:           u.ID.Hex(),
		Username:         u.Username,
		Email:            u.Email,
		FirstName:        u.FirstName,
		LastName:         u.LastName,
		Role:             u.Role,
		CreatedAt:        u.CreatedAt,
		LastLogin:        u.LastLogin,
		ProfileCompleted: u.ProfileCompleted,
	}
}

// AuthToken is a document in the `auth_tokens` collection.  Only the
// SHA-256 hash of the bearer token is stored.  Tokens are never revoked or
// deleted; validity is decided by Expiry alone.
type AuthToken struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	UserID      primitive.ObjectID `bson:"user_id"`
	TokenHash   string             `bson:"token_hash"`
	Expiry      time.Time          `bson:"expiry"`
	Permissions []string           `bson:"permissions"`
	IssuedAt    time.Time          `bson:"issued_at"`
}

// Expired reports whether the token is past its expiry at now.
func (t *AuthToken) Expired(now time.Time) bool { return t.Expiry.Before(now) }
