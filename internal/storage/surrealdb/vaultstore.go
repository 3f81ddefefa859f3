package surrealdb

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/bobmcallan/covault/internal/common"
	"github.com/bobmcallan/covault/internal/models"
)

// VaultStore manages folder and file metadata in the "folder" and
// "file" tables.
type VaultStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

func NewVaultStore(db *surrealdb.DB, logger *common.Logger) *VaultStore {
	return &VaultStore{
		db:     db,
		logger: logger,
	}
}

func (s *VaultStore) SaveFolder(ctx context.Context, folder *models.Folder) error {
	now := time.Now().UTC()
	if folder.CreatedAt.IsZero() {
		folder.CreatedAt = now
	}
	folder.ModifiedAt = now

	sql := "UPSERT type::record('folder', $id) CONTENT $folder"
	vars := map[string]any{"id": folder.FolderID, "folder": folder}

	for attempt := 1; attempt <= 3; attempt++ {
		_, err := surrealdb.Query[[]models.Folder](ctx, s.db, sql, vars)
		if err == nil {
			return nil
		}
		if attempt == 3 {
			return fmt.Errorf("failed to save folder after retries: %w", err)
		}
	}
	return nil
}

func (s *VaultStore) GetFolder(ctx context.Context, folderID string) (*models.Folder, error) {
	folder, err := surrealdb.Select[models.Folder](ctx, s.db, surrealmodels.NewRecordID("folder", folderID))
	if err != nil {
		return nil, fmt.Errorf("failed to select folder: %w", err)
	}
	if folder == nil || folder.FolderID == "" {
		return nil, nil
	}
	return folder, nil
}

func (s *VaultStore) ListFolders(ctx context.Context, ownerID string) ([]*models.Folder, error) {
	sql := "SELECT * FROM folder WHERE owner_id = $owner_id ORDER BY name ASC"
	vars := map[string]any{"owner_id": ownerID}

	results, err := surrealdb.Query[[]models.Folder](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}

	var folders []*models.Folder
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			folders = append(folders, &(*results)[0].Result[i])
		}
	}
	return folders, nil
}

func (s *VaultStore) DeleteFolder(ctx context.Context, folderID string) error {
	_, err := surrealdb.Delete[models.Folder](ctx, s.db, surrealmodels.NewRecordID("folder", folderID))
	if err != nil && !isNotFoundError(err) {
		return fmt.Errorf("failed to delete folder: %w", err)
	}
	return nil
}

func (s *VaultStore) SaveFile(ctx context.Context, file *models.FileObject) error {
	if file.UploadedAt.IsZero() {
		file.UploadedAt = time.Now().UTC()
	}

	sql := "UPSERT type::record('file', $id) CONTENT $file"
	vars := map[string]any{"id": file.FileID, "file": file}

	for attempt := 1; attempt <= 3; attempt++ {
		_, err := surrealdb.Query[[]models.FileObject](ctx, s.db, sql, vars)
		if err == nil {
			return nil
		}
		if attempt == 3 {
			return fmt.Errorf("failed to save file metadata after retries: %w", err)
		}
	}
	return nil
}

func (s *VaultStore) GetFile(ctx context.Context, fileID string) (*models.FileObject, error) {
	file, err := surrealdb.Select[models.FileObject](ctx, s.db, surrealmodels.NewRecordID("file", fileID))
	if err != nil {
		return nil, fmt.Errorf("failed to select file: %w", err)
	}
	if file == nil || file.FileID == "" {
		return nil, nil
	}
	return file, nil
}

func (s *VaultStore) ListFiles(ctx context.Context, folderID string) ([]*models.FileObject, error) {
	sql := "SELECT * FROM file WHERE folder_id = $folder_id ORDER BY name ASC"
	vars := map[string]any{"folder_id": folderID}

	results, err := surrealdb.Query[[]models.FileObject](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	var files []*models.FileObject
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			files = append(files, &(*results)[0].Result[i])
		}
	}
	return files, nil
}

func (s *VaultStore) DeleteFile(ctx context.Context, fileID string) error {
	_, err := surrealdb.Delete[models.FileObject](ctx, s.db, surrealmodels.NewRecordID("file", fileID))
	if err != nil && !isNotFoundError(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}
