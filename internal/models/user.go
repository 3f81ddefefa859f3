package models

import (
	"fmt"
	"time"
)

// User roles.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// ValidateRole checks that a role string is one of the known roles.
func ValidateRole(role string) error {
	switch role {
	case RoleAdmin, RoleUser:
		return nil
	}
	return fmt.Errorf("unknown role %q", role)
}

// InternalUser represents an account stored in the document store.
// SealedToken holds the account's shared access token encrypted at rest;
// the plaintext is only ever returned once, at generation time.
type InternalUser struct {
	UserID          string    `json:"user_id"`
	Email           string    `json:"email"`
	Name            string    `json:"name,omitempty"`
	PasswordHash    string    `json:"password_hash"`
	Role            string    `json:"role"`
	SealedToken     string    `json:"sealed_token,omitempty"`
	SelectedFolders []string  `json:"selected_folders,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	ModifiedAt      time.Time `json:"modified_at"`
}

// HasSelected reports whether the folder is in the account's shared selection.
func (u *InternalUser) HasSelected(folderID string) bool {
	for _, id := range u.SelectedFolders {
		if id == folderID {
			return true
		}
	}
	return false
}
