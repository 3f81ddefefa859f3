// Package interfaces defines service contracts for Covault
package interfaces

import (
	"context"

	"github.com/bobmcallan/covault/internal/models"
)

// StorageManager coordinates all document stores
type StorageManager interface {
	InternalStore() InternalStore
	GrantStore() GrantStore
	VaultStore() VaultStore

	Close() error
}

// InternalStore manages user accounts.
type InternalStore interface {
	GetUser(ctx context.Context, userID string) (*models.InternalUser, error)
	GetUserByEmail(ctx context.Context, email string) (*models.InternalUser, error)
	// FindUserBySealedToken looks an account up by its sealed shared
	// access token. The sealing is deterministic, so equality on the
	// sealed form resolves the presented token without decrypting every
	// account. Returns nil when no account matches.
	FindUserBySealedToken(ctx context.Context, sealed string) (*models.InternalUser, error)
	SaveUser(ctx context.Context, user *models.InternalUser) error
	DeleteUser(ctx context.Context, userID string) error
	ListUsers(ctx context.Context) ([]string, error)

	Close() error
}

// GrantStore manages the device grant ledger. Deleting a grant is the
// only form of revocation; there are no tombstones.
type GrantStore interface {
	Create(ctx context.Context, grant *models.DeviceGrant) error
	Get(ctx context.Context, grantID string) (*models.DeviceGrant, error)
	// Approve transitions a grant to approved. Approving an already
	// approved grant is a no-op, not an error.
	Approve(ctx context.Context, grantID, approvedBy string) (*models.DeviceGrant, error)
	Delete(ctx context.Context, grantID string) error
	ListByOwner(ctx context.Context, ownerID string, state string) ([]*models.DeviceGrant, error)
	ListByRequester(ctx context.Context, requesterID string) ([]*models.DeviceGrant, error)
	// DeleteByRequester removes every grant the requester holds and
	// returns the count removed.
	DeleteByRequester(ctx context.Context, requesterID string) (int, error)
	// DeleteByOwner removes every grant against the owner's vault and
	// returns the count removed. Used when the shared token is rotated.
	DeleteByOwner(ctx context.Context, ownerID string) (int, error)
}

// VaultStore manages folder and file metadata. File bytes live in the
// blob store.
type VaultStore interface {
	SaveFolder(ctx context.Context, folder *models.Folder) error
	GetFolder(ctx context.Context, folderID string) (*models.Folder, error)
	ListFolders(ctx context.Context, ownerID string) ([]*models.Folder, error)
	DeleteFolder(ctx context.Context, folderID string) error

	SaveFile(ctx context.Context, file *models.FileObject) error
	GetFile(ctx context.Context, fileID string) (*models.FileObject, error)
	ListFiles(ctx context.Context, folderID string) ([]*models.FileObject, error)
	DeleteFile(ctx context.Context, fileID string) error
}
