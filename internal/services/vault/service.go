// Package vault manages folders and files, the owner's shared folder
// selection, and the read-only projection served to approved devices.
package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/covault/internal/common"
	"github.com/bobmcallan/covault/internal/interfaces"
	"github.com/bobmcallan/covault/internal/models"
	"github.com/bobmcallan/covault/internal/storage"
)

var (
	// ErrFolderNotFound is returned when a folder does not exist or
	// belongs to another account.
	ErrFolderNotFound = errors.New("folder not found")

	// ErrFileNotFound is returned when a file does not exist or belongs
	// to another account.
	ErrFileNotFound = errors.New("file not found")
)

// presignExpiry bounds direct download URLs handed to devices.
const presignExpiry = 15 * time.Minute

// Service implements interfaces.VaultService.
type Service struct {
	storage interfaces.StorageManager
	blobs   storage.BlobStore
	logger  *common.Logger
}

// NewService creates a vault service.
func NewService(storageManager interfaces.StorageManager, blobs storage.BlobStore, logger *common.Logger) *Service {
	if logger == nil {
		logger = common.NewDefaultLogger()
	}
	return &Service{
		storage: storageManager,
		blobs:   blobs,
		logger:  logger,
	}
}

// CreateFolder adds an empty folder to the owner's vault.
func (s *Service) CreateFolder(ctx context.Context, ownerID, name string) (*models.Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("folder name is required")
	}

	folder := &models.Folder{
		FolderID: uuid.New().String(),
		OwnerID:  ownerID,
		Name:     name,
	}
	if err := s.storage.VaultStore().SaveFolder(ctx, folder); err != nil {
		return nil, err
	}

	s.logger.Debug().Str("folder_id", folder.FolderID).Str("owner_id", ownerID).Msg("Folder created")
	return folder, nil
}

// ListFolders returns the owner's folders.
func (s *Service) ListFolders(ctx context.Context, ownerID string) ([]*models.Folder, error) {
	return s.storage.VaultStore().ListFolders(ctx, ownerID)
}

// DeleteFolder removes a folder, its file metadata, its blobs, and its
// entry in the owner's shared selection.
func (s *Service) DeleteFolder(ctx context.Context, ownerID, folderID string) error {
	folder, err := s.ownedFolder(ctx, ownerID, folderID)
	if err != nil {
		return err
	}

	files, err := s.storage.VaultStore().ListFiles(ctx, folderID)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := s.blobs.Delete(ctx, f.StorageKey); err != nil {
			s.logger.Warn().Err(err).Str("file_id", f.FileID).Msg("Failed to delete blob")
		}
		if err := s.storage.VaultStore().DeleteFile(ctx, f.FileID); err != nil {
			return err
		}
	}

	if err := s.storage.VaultStore().DeleteFolder(ctx, folderID); err != nil {
		return err
	}

	// Drop the folder from the shared selection so the projection never
	// references a dead folder.
	owner, err := s.storage.InternalStore().GetUser(ctx, ownerID)
	if err == nil && owner != nil && owner.HasSelected(folderID) {
		kept := make([]string, 0, len(owner.SelectedFolders))
		for _, id := range owner.SelectedFolders {
			if id != folderID {
				kept = append(kept, id)
			}
		}
		owner.SelectedFolders = kept
		if err := s.storage.InternalStore().SaveUser(ctx, owner); err != nil {
			s.logger.Warn().Err(err).Str("owner_id", ownerID).Msg("Failed to prune selection")
		} else {
			s.syncGrantScopes(ctx, ownerID, kept)
		}
	}

	s.logger.Debug().Str("folder_id", folder.FolderID).Int("files", len(files)).Msg("Folder deleted")
	return nil
}

// UploadFile stores file bytes in the blob store and records metadata.
func (s *Service) UploadFile(ctx context.Context, ownerID, folderID, name, contentType string, r io.Reader, size int64) (*models.FileObject, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("file name is required")
	}
	if _, err := s.ownedFolder(ctx, ownerID, folderID); err != nil {
		return nil, err
	}

	fileID := uuid.New().String()
	key := fmt.Sprintf("vault/%s/%s", ownerID, fileID)

	if err := s.blobs.PutReader(ctx, key, r, size); err != nil {
		return nil, fmt.Errorf("failed to store file bytes: %w", err)
	}

	if size <= 0 {
		if meta, err := s.blobs.Metadata(ctx, key); err == nil {
			size = meta.Size
		}
	}

	file := &models.FileObject{
		FileID:      fileID,
		FolderID:    folderID,
		OwnerID:     ownerID,
		Name:        name,
		ContentType: contentType,
		Size:        size,
		StorageKey:  key,
		UploadedAt:  time.Now().UTC(),
	}
	if err := s.storage.VaultStore().SaveFile(ctx, file); err != nil {
		s.blobs.Delete(ctx, key)
		return nil, err
	}

	s.logger.Debug().
		Str("file_id", fileID).
		Str("folder_id", folderID).
		Int64("size", size).
		Msg("File uploaded")
	return file, nil
}

// DeleteFile removes a file's metadata and bytes.
func (s *Service) DeleteFile(ctx context.Context, ownerID, fileID string) error {
	file, err := s.storage.VaultStore().GetFile(ctx, fileID)
	if err != nil {
		return err
	}
	if file == nil || file.OwnerID != ownerID {
		return ErrFileNotFound
	}

	if err := s.blobs.Delete(ctx, file.StorageKey); err != nil {
		s.logger.Warn().Err(err).Str("file_id", fileID).Msg("Failed to delete blob")
	}
	return s.storage.VaultStore().DeleteFile(ctx, fileID)
}

// SetSelection replaces the owner's shared folder selection.
func (s *Service) SetSelection(ctx context.Context, ownerID string, folderIDs []string) error {
	owner, err := s.storage.InternalStore().GetUser(ctx, ownerID)
	if err != nil {
		return err
	}
	if owner == nil {
		return fmt.Errorf("account %s not found", ownerID)
	}

	seen := make(map[string]bool, len(folderIDs))
	selection := make([]string, 0, len(folderIDs))
	for _, id := range folderIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, err := s.ownedFolder(ctx, ownerID, id); err != nil {
			return err
		}
		selection = append(selection, id)
	}

	owner.SelectedFolders = selection
	if err := s.storage.InternalStore().SaveUser(ctx, owner); err != nil {
		return err
	}
	s.syncGrantScopes(ctx, ownerID, selection)

	s.logger.Info().
		Str("owner_id", ownerID).
		Int("folders", len(selection)).
		Msg("Shared selection updated")
	return nil
}

// syncGrantScopes refreshes the selection copy carried on the owner's
// grants after the selection changes. Best effort: the projection reads
// the live selection, so a stale copy never widens device access.
func (s *Service) syncGrantScopes(ctx context.Context, ownerID string, selection []string) {
	grants, err := s.storage.GrantStore().ListByOwner(ctx, ownerID, "")
	if err != nil {
		s.logger.Warn().Err(err).Str("owner_id", ownerID).Msg("Failed to list grants for scope sync")
		return
	}
	for _, grant := range grants {
		grant.ScopeOverride = append([]string(nil), selection...)
		if err := s.storage.GrantStore().Create(ctx, grant); err != nil {
			s.logger.Warn().Err(err).Str("grant_id", grant.GrantID).Msg("Failed to refresh grant scope")
		}
	}
}

// Projection builds the device-visible view of the owner's vault from
// the current selection. Folders deleted since selection are skipped
// rather than failing the whole view.
func (s *Service) Projection(ctx context.Context, ownerID string) ([]*models.FolderListing, error) {
	owner, err := s.storage.InternalStore().GetUser(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if owner == nil {
		return nil, fmt.Errorf("account %s not found", ownerID)
	}

	listings := make([]*models.FolderListing, 0, len(owner.SelectedFolders))
	for _, folderID := range owner.SelectedFolders {
		folder, err := s.storage.VaultStore().GetFolder(ctx, folderID)
		if err != nil {
			return nil, err
		}
		if folder == nil || folder.OwnerID != ownerID {
			continue
		}

		files, err := s.storage.VaultStore().ListFiles(ctx, folderID)
		if err != nil {
			return nil, err
		}

		listing := &models.FolderListing{
			FolderID: folder.FolderID,
			Name:     folder.Name,
			Files:    make([]models.FileEntry, 0, len(files)),
		}
		for _, f := range files {
			entry := models.FileEntry{
				FileID:      f.FileID,
				Name:        f.Name,
				ContentType: f.ContentType,
				Size:        f.Size,
				UploadedAt:  f.UploadedAt,
			}
			if url, err := s.blobs.PresignGet(ctx, f.StorageKey, presignExpiry); err == nil {
				entry.DownloadURL = url
			} else if !errors.Is(err, storage.ErrPresignUnsupported) {
				s.logger.Warn().Err(err).Str("file_id", f.FileID).Msg("Failed to presign download")
			}
			listing.Files = append(listing.Files, entry)
		}
		listings = append(listings, listing)
	}

	return listings, nil
}

// OpenFile streams a file's bytes. Authorization is the caller's
// responsibility; the server checks grant state before calling this.
func (s *Service) OpenFile(ctx context.Context, fileID string) (*models.FileObject, io.ReadCloser, error) {
	file, err := s.storage.VaultStore().GetFile(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}
	if file == nil {
		return nil, nil, ErrFileNotFound
	}

	r, err := s.blobs.GetReader(ctx, file.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrBlobNotFound) {
			return nil, nil, ErrFileNotFound
		}
		return nil, nil, err
	}
	return file, r, nil
}

func (s *Service) ownedFolder(ctx context.Context, ownerID, folderID string) (*models.Folder, error) {
	folder, err := s.storage.VaultStore().GetFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	if folder == nil || folder.OwnerID != ownerID {
		return nil, ErrFolderNotFound
	}
	return folder, nil
}

var _ interfaces.VaultService = (*Service)(nil)
