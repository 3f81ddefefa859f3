// Package interfaces defines service contracts for Covault
package interfaces

import (
	"context"
	"io"

	"github.com/bobmcallan/covault/internal/models"
)

// TokenAuthService manages the device grant lifecycle: token login,
// owner approval and rejection, revocation, self-cancellation, and the
// shared access token itself.
type TokenAuthService interface {
	// TokenLogin records a pending grant after validating the owner
	// email and shared token pair. The requester is the authenticated
	// account asking for access; it may never be the owner itself.
	TokenLogin(ctx context.Context, req TokenLoginRequest) (*models.DeviceGrant, error)

	// Approve transitions a pending grant to approved. Only the grant's
	// owner may approve. Approving twice is a no-op.
	Approve(ctx context.Context, ownerID, grantID string) (*models.DeviceGrant, error)

	// Remove deletes a grant regardless of state. Only the grant's
	// owner may remove. Removing a pending grant rejects it; removing
	// an approved grant revokes access.
	Remove(ctx context.Context, ownerID, grantID string) error

	// Cancel deletes every grant the requester holds. Returns the
	// number removed.
	Cancel(ctx context.Context, requesterID string) (int, error)

	// Status re-resolves a grant for its requester. A deleted grant
	// returns ErrGrantNotFound, which the requester must treat as
	// rejection or revocation.
	Status(ctx context.Context, requesterID, grantID string) (*models.GrantStatus, error)

	// Grants lists the owner's grants, optionally filtered by state.
	Grants(ctx context.Context, ownerID, state string) ([]*models.DeviceGrant, error)

	// RegenerateToken mints a new shared access token for the owner,
	// invalidating the previous one and every outstanding grant.
	// The plaintext is returned exactly once.
	RegenerateToken(ctx context.Context, ownerID string) (string, error)
}

// TokenLoginRequest carries one device access attempt.
type TokenLoginRequest struct {
	RequesterID string
	OwnerEmail  string
	Token       string
	Device      string
	Origin      string
}

// VaultService manages folders, files, the owner's shared selection, and
// the read-only projection handed to approved devices.
type VaultService interface {
	CreateFolder(ctx context.Context, ownerID, name string) (*models.Folder, error)
	ListFolders(ctx context.Context, ownerID string) ([]*models.Folder, error)
	DeleteFolder(ctx context.Context, ownerID, folderID string) error

	UploadFile(ctx context.Context, ownerID, folderID, name, contentType string, r io.Reader, size int64) (*models.FileObject, error)
	DeleteFile(ctx context.Context, ownerID, fileID string) error

	// SetSelection replaces the owner's shared folder selection. Every
	// folder must exist and belong to the owner.
	SetSelection(ctx context.Context, ownerID string, folderIDs []string) error

	// Projection builds the device-visible view of the owner's vault
	// from the selection as it stands now, not as it stood at approval.
	Projection(ctx context.Context, ownerID string) ([]*models.FolderListing, error)

	// OpenFile streams a file's bytes for an approved device or the
	// owner. The caller closes the reader.
	OpenFile(ctx context.Context, fileID string) (*models.FileObject, io.ReadCloser, error)
}

// Mailer sends outbound notifications. Implementations are best effort;
// a failed send is logged and never blocks the grant flow.
type Mailer interface {
	SendGrantRequested(ctx context.Context, ownerEmail, requesterEmail, device string) error
}
