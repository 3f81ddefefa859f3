// Package storage provides the top-level StorageManager plus the
// file-backed engine. The SurrealDB engine lives in the surrealdb
// subpackage.
package storage

import (
	"context"
	"fmt"

	"github.com/bobmcallan/covault/internal/common"
	"github.com/bobmcallan/covault/internal/interfaces"
	"github.com/bobmcallan/covault/internal/storage/surrealdb"
)

// NewStorageManager creates the storage manager for the configured
// engine: "surreal" (default) or "file".
func NewStorageManager(ctx context.Context, logger *common.Logger, config *common.Config) (interfaces.StorageManager, error) {
	switch config.Storage.Engine {
	case "", "surreal":
		return surrealdb.NewManager(ctx, logger, config)
	case "file":
		return NewFileManager(logger, config)
	default:
		return nil, fmt.Errorf("unknown storage engine: %s (supported: surreal, file)", config.Storage.Engine)
	}
}

// FileManager implements interfaces.StorageManager over local JSON
// documents.
type FileManager struct {
	internal *fileInternalStore
	grants   *fileGrantStore
	vault    *fileVaultStore
	logger   *common.Logger
}

// NewFileManager creates a file-backed storage manager.
func NewFileManager(logger *common.Logger, config *common.Config) (*FileManager, error) {
	fs, err := NewFileStore(logger, config.Storage.DataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file store: %w", err)
	}

	logger.Info().
		Str("path", config.Storage.DataPath).
		Msg("Storage manager initialized (file engine)")

	return &FileManager{
		internal: newFileInternalStore(fs, logger),
		grants:   newFileGrantStore(fs, logger),
		vault:    newFileVaultStore(fs, logger),
		logger:   logger,
	}, nil
}

func (m *FileManager) InternalStore() interfaces.InternalStore {
	return m.internal
}

func (m *FileManager) GrantStore() interfaces.GrantStore {
	return m.grants
}

func (m *FileManager) VaultStore() interfaces.VaultStore {
	return m.vault
}

func (m *FileManager) Close() error {
	return m.internal.Close()
}

// Compile-time check
var _ interfaces.StorageManager = (*FileManager)(nil)
