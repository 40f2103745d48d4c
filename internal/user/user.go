// Package user provides account registration and authentication flows.
package user

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrNotFound   = errors.New("user: not found")
	ErrEmailTaken = errors.New("user: email already registered")
)

// Status values for an account.
const (
	StatusActive  = "active"
	StatusBlocked = "blocked"
)

// User is one registered account.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Store persists users
type Store interface {
	Create(ctx context.Context, u *User) error
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
}

// Directory adapts a Store to the identity lookups the antifraud pipeline
// needs.
type Directory struct {
	store Store
}

// NewDirectory creates a directory over the given store.
func NewDirectory(s Store) *Directory {
	return &Directory{store: s}
}

// EmailByID returns the email for a user id.
func (d *Directory) EmailByID(ctx context.Context, userID string) (string, error) {
	u, err := d.store.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return u.Email, nil
}
