package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bobmcallan/covault/internal/common"
	"github.com/bobmcallan/covault/internal/models"
)

// FileStore provides file-based JSON document storage. It backs the
// "file" storage engine used in development and tests; production runs
// against SurrealDB.
type FileStore struct {
	basePath string
	logger   *common.Logger
}

// subdirectories defines the directory layout under basePath.
var subdirectories = []string{"users", "grants", "folders", "files"}

// NewFileStore creates a new FileStore and ensures all subdirectories exist.
func NewFileStore(logger *common.Logger, basePath string) (*FileStore, error) {
	if basePath == "" {
		return nil, fmt.Errorf("storage data_path is required for the file engine")
	}

	fs := &FileStore{
		basePath: basePath,
		logger:   logger,
	}

	for _, sub := range subdirectories {
		dir := filepath.Join(fs.basePath, sub)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	logger.Debug().Str("path", basePath).Msg("FileStore opened")
	return fs, nil
}

// sanitizeKey makes a key safe for use as a filename.
// Replaces /, \, : with _ and collapses ".." to "_" to prevent path traversal.
func (fs *FileStore) sanitizeKey(key string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "..", "_")
	return r.Replace(key)
}

func (fs *FileStore) filePath(dir, key string) string {
	return filepath.Join(fs.basePath, dir, fs.sanitizeKey(key)+".json")
}

// readJSON reads and unmarshals a JSON document. Returns os.ErrNotExist
// (wrapped) when the document is absent so callers can map absence to a
// nil result.
func (fs *FileStore) readJSON(dir, key string, dest interface{}) error {
	path := fs.filePath(dir, key)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("'%s' not found: %w", key, os.ErrNotExist)
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// writeJSON marshals a document to indented JSON and writes it
// atomically via temp file + rename.
func (fs *FileStore) writeJSON(dir, key string, data interface{}) error {
	target := fs.filePath(dir, key)

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	jsonData = append(jsonData, '\n')

	tmpFile, err := os.CreateTemp(filepath.Dir(target), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(jsonData); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

func (fs *FileStore) deleteJSON(dir, key string) error {
	os.Remove(fs.filePath(dir, key))
	return nil
}

// listKeys returns all document keys in a directory.
func (fs *FileStore) listKeys(dir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(fs.basePath, dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var keys []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".json") && !strings.HasPrefix(name, ".tmp-") {
			keys = append(keys, strings.TrimSuffix(name, ".json"))
		}
	}
	return keys, nil
}

// --- Internal store (accounts) ---

type fileInternalStore struct {
	fs     *FileStore
	logger *common.Logger
}

func newFileInternalStore(fs *FileStore, logger *common.Logger) *fileInternalStore {
	return &fileInternalStore{fs: fs, logger: logger}
}

func (s *fileInternalStore) GetUser(ctx context.Context, userID string) (*models.InternalUser, error) {
	var user models.InternalUser
	if err := s.fs.readJSON("users", userID, &user); err != nil {
		if isNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (s *fileInternalStore) GetUserByEmail(ctx context.Context, email string) (*models.InternalUser, error) {
	return s.scanUsers(ctx, func(u *models.InternalUser) bool {
		return strings.EqualFold(u.Email, email)
	})
}

func (s *fileInternalStore) FindUserBySealedToken(ctx context.Context, sealed string) (*models.InternalUser, error) {
	if sealed == "" {
		return nil, nil
	}
	return s.scanUsers(ctx, func(u *models.InternalUser) bool {
		return u.SealedToken == sealed
	})
}

// scanUsers walks all account documents. Fine for the file engine's
// dev-scale data; the SurrealDB engine queries instead.
func (s *fileInternalStore) scanUsers(ctx context.Context, match func(*models.InternalUser) bool) (*models.InternalUser, error) {
	keys, err := s.fs.listKeys("users")
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		var user models.InternalUser
		if err := s.fs.readJSON("users", key, &user); err != nil {
			continue
		}
		if match(&user) {
			return &user, nil
		}
	}
	return nil, nil
}

func (s *fileInternalStore) SaveUser(ctx context.Context, user *models.InternalUser) error {
	if user.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.ModifiedAt = now

	if err := s.fs.writeJSON("users", user.UserID, user); err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	s.logger.Debug().Str("user_id", user.UserID).Msg("User saved")
	return nil
}

func (s *fileInternalStore) DeleteUser(ctx context.Context, userID string) error {
	return s.fs.deleteJSON("users", userID)
}

func (s *fileInternalStore) ListUsers(ctx context.Context) ([]string, error) {
	return s.fs.listKeys("users")
}

func (s *fileInternalStore) Close() error {
	return nil
}

// --- Grant store ---

type fileGrantStore struct {
	fs     *FileStore
	logger *common.Logger
}

func newFileGrantStore(fs *FileStore, logger *common.Logger) *fileGrantStore {
	return &fileGrantStore{fs: fs, logger: logger}
}

func (s *fileGrantStore) Create(ctx context.Context, grant *models.DeviceGrant) error {
	if grant.GrantID == "" {
		return fmt.Errorf("grant_id is required")
	}
	if err := s.fs.writeJSON("grants", grant.GrantID, grant); err != nil {
		return fmt.Errorf("failed to save grant: %w", err)
	}
	return nil
}

func (s *fileGrantStore) Get(ctx context.Context, grantID string) (*models.DeviceGrant, error) {
	var grant models.DeviceGrant
	if err := s.fs.readJSON("grants", grantID, &grant); err != nil {
		if isNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return &grant, nil
}

func (s *fileGrantStore) Approve(ctx context.Context, grantID, approvedBy string) (*models.DeviceGrant, error) {
	grant, err := s.Get(ctx, grantID)
	if err != nil {
		return nil, err
	}
	if grant == nil {
		return nil, nil
	}
	if grant.State == models.GrantStateApproved {
		return grant, nil
	}

	grant.State = models.GrantStateApproved
	grant.ApprovedAt = time.Now().UTC()
	grant.ApprovedBy = approvedBy
	if err := s.fs.writeJSON("grants", grantID, grant); err != nil {
		return nil, fmt.Errorf("failed to save grant: %w", err)
	}
	return grant, nil
}

func (s *fileGrantStore) Delete(ctx context.Context, grantID string) error {
	return s.fs.deleteJSON("grants", grantID)
}

func (s *fileGrantStore) ListByOwner(ctx context.Context, ownerID string, state string) ([]*models.DeviceGrant, error) {
	return s.scan(func(g *models.DeviceGrant) bool {
		return g.OwnerID == ownerID && (state == "" || g.State == state)
	})
}

func (s *fileGrantStore) ListByRequester(ctx context.Context, requesterID string) ([]*models.DeviceGrant, error) {
	return s.scan(func(g *models.DeviceGrant) bool {
		return g.RequesterID == requesterID
	})
}

func (s *fileGrantStore) DeleteByRequester(ctx context.Context, requesterID string) (int, error) {
	grants, err := s.ListByRequester(ctx, requesterID)
	if err != nil {
		return 0, err
	}
	for _, g := range grants {
		s.fs.deleteJSON("grants", g.GrantID)
	}
	return len(grants), nil
}

func (s *fileGrantStore) DeleteByOwner(ctx context.Context, ownerID string) (int, error) {
	grants, err := s.ListByOwner(ctx, ownerID, "")
	if err != nil {
		return 0, err
	}
	for _, g := range grants {
		s.fs.deleteJSON("grants", g.GrantID)
	}
	return len(grants), nil
}

func (s *fileGrantStore) scan(match func(*models.DeviceGrant) bool) ([]*models.DeviceGrant, error) {
	keys, err := s.fs.listKeys("grants")
	if err != nil {
		return nil, err
	}

	var grants []*models.DeviceGrant
	for _, key := range keys {
		var grant models.DeviceGrant
		if err := s.fs.readJSON("grants", key, &grant); err != nil {
			continue
		}
		if match(&grant) {
			grants = append(grants, &grant)
		}
	}
	sort.Slice(grants, func(i, j int) bool {
		return grants[i].RequestedAt.Before(grants[j].RequestedAt)
	})
	return grants, nil
}

// --- Vault store (folders and file metadata) ---

type fileVaultStore struct {
	fs     *FileStore
	logger *common.Logger
}

func newFileVaultStore(fs *FileStore, logger *common.Logger) *fileVaultStore {
	return &fileVaultStore{fs: fs, logger: logger}
}

func (s *fileVaultStore) SaveFolder(ctx context.Context, folder *models.Folder) error {
	if folder.FolderID == "" {
		return fmt.Errorf("folder_id is required")
	}
	if err := s.fs.writeJSON("folders", folder.FolderID, folder); err != nil {
		return fmt.Errorf("failed to save folder: %w", err)
	}
	return nil
}

func (s *fileVaultStore) GetFolder(ctx context.Context, folderID string) (*models.Folder, error) {
	var folder models.Folder
	if err := s.fs.readJSON("folders", folderID, &folder); err != nil {
		if isNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return &folder, nil
}

func (s *fileVaultStore) ListFolders(ctx context.Context, ownerID string) ([]*models.Folder, error) {
	keys, err := s.fs.listKeys("folders")
	if err != nil {
		return nil, err
	}

	var folders []*models.Folder
	for _, key := range keys {
		var folder models.Folder
		if err := s.fs.readJSON("folders", key, &folder); err != nil {
			continue
		}
		if folder.OwnerID == ownerID {
			folders = append(folders, &folder)
		}
	}
	sort.Slice(folders, func(i, j int) bool {
		return folders[i].Name < folders[j].Name
	})
	return folders, nil
}

func (s *fileVaultStore) DeleteFolder(ctx context.Context, folderID string) error {
	return s.fs.deleteJSON("folders", folderID)
}

func (s *fileVaultStore) SaveFile(ctx context.Context, file *models.FileObject) error {
	if file.FileID == "" {
		return fmt.Errorf("file_id is required")
	}
	if err := s.fs.writeJSON("files", file.FileID, file); err != nil {
		return fmt.Errorf("failed to save file metadata: %w", err)
	}
	return nil
}

func (s *fileVaultStore) GetFile(ctx context.Context, fileID string) (*models.FileObject, error) {
	var file models.FileObject
	if err := s.fs.readJSON("files", fileID, &file); err != nil {
		if isNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return &file, nil
}

func (s *fileVaultStore) ListFiles(ctx context.Context, folderID string) ([]*models.FileObject, error) {
	keys, err := s.fs.listKeys("files")
	if err != nil {
		return nil, err
	}

	var files []*models.FileObject
	for _, key := range keys {
		var file models.FileObject
		if err := s.fs.readJSON("files", key, &file); err != nil {
			continue
		}
		if file.FolderID == folderID {
			files = append(files, &file)
		}
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].Name < files[j].Name
	})
	return files, nil
}

func (s *fileVaultStore) DeleteFile(ctx context.Context, fileID string) error {
	return s.fs.deleteJSON("files", fileID)
}

func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
