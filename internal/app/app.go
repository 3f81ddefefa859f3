package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bobmcallan/covault/internal/clients/mail"
	"github.com/bobmcallan/covault/internal/common"
	"github.com/bobmcallan/covault/internal/interfaces"
	"github.com/bobmcallan/covault/internal/services/tokenauth"
	"github.com/bobmcallan/covault/internal/services/vault"
	"github.com/bobmcallan/covault/internal/storage"
)

// App holds all initialized services, clients, and storage.
// It is the shared core used by cmd/covault-server and by the test harness.
type App struct {
	Config      *common.Config
	Logger      *common.Logger
	Storage     interfaces.StorageManager
	Blobs       storage.BlobStore
	Mailer      interfaces.Mailer
	TokenAuth   interfaces.TokenAuthService
	Vault       interfaces.VaultService
	StartupTime time.Time
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// NewApp initializes configuration, storage, blob store, and services.
// configPath may be empty, in which case the default resolution logic is used.
func NewApp(configPath string) (*App, error) {
	startupStart := time.Now()

	// Load version from .version file (fallback if ldflags not set)
	common.LoadVersionFromFile()

	// Get binary directory for self-contained operation
	binDir := getBinaryDir()

	// Load configuration: provided path, COVAULT_CONFIG, binary dir, then fallback
	if configPath == "" {
		configPath = os.Getenv("COVAULT_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(binDir, "covault.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/covault.toml" // fallback for development
		}
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Resolve relative paths to the binary directory
	if config.Storage.DataPath != "" && !filepath.IsAbs(config.Storage.DataPath) {
		config.Storage.DataPath = filepath.Join(binDir, config.Storage.DataPath)
	}
	if config.Blob.File.Path != "" && !filepath.IsAbs(config.Blob.File.Path) {
		config.Blob.File.Path = filepath.Join(binDir, config.Blob.File.Path)
	}

	logger := common.NewLogger(config.Logging.Level)

	if missing := config.ValidateRequired(); len(missing) > 0 {
		if config.IsProduction() {
			return nil, fmt.Errorf("missing required configuration: %v", missing)
		}
		for _, m := range missing {
			logger.Warn().Str("setting", m).Msg("Configuration incomplete, using development default")
		}
	}

	ctx := context.Background()

	storageManager, err := storage.NewStorageManager(ctx, logger, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	blobs, err := storage.NewBlobStore(ctx, logger, &config.Blob)
	if err != nil {
		storageManager.Close()
		return nil, fmt.Errorf("failed to initialize blob store: %w", err)
	}

	mailer := mail.NewClient(config.Mail, logger)

	codec, err := tokenauth.NewSecretCodec(config.Auth.TokenSealKey)
	if err != nil {
		storageManager.Close()
		blobs.Close()
		return nil, fmt.Errorf("failed to initialize token codec: %w", err)
	}

	tokenAuth := tokenauth.NewService(storageManager, codec, mailer, logger)
	vaultService := vault.NewService(storageManager, blobs, logger)

	logger.Info().
		Str("environment", config.Environment).
		Str("storage_engine", config.Storage.Engine).
		Str("blob_backend", config.Blob.Backend).
		Dur("startup", time.Since(startupStart)).
		Msg("Application initialized")

	return &App{
		Config:      config,
		Logger:      logger,
		Storage:     storageManager,
		Blobs:       blobs,
		Mailer:      mailer,
		TokenAuth:   tokenAuth,
		Vault:       vaultService,
		StartupTime: time.Now(),
	}, nil
}

// Close releases storage and blob store resources.
func (a *App) Close() error {
	var firstErr error
	if a.Blobs != nil {
		if err := a.Blobs.Close(); err != nil {
			firstErr = err
		}
	}
	if a.Storage != nil {
		if err := a.Storage.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
