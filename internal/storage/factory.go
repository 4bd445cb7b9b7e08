package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsforecast/internal/storage/implementations/file"
	"github.com/inferloop/tsforecast/internal/storage/implementations/s3"
	"github.com/inferloop/tsforecast/internal/storage/interfaces"
	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/errors"
)

// CheckpointConfig selects and configures the checkpoint backend
type CheckpointConfig struct {
	Backend string      `json:"backend" mapstructure:"backend"`
	Path    string      `json:"path" mapstructure:"path"`
	S3      s3.S3Config `json:"s3" mapstructure:"s3"`
}

// BlobCreateFunc builds an unconnected blob backend
type BlobCreateFunc func(config *CheckpointConfig, logger *logrus.Logger) (BlobBackend, error)

// BlobBackend is a BlobStorage that must be connected before use
type BlobBackend interface {
	interfaces.BlobStorage
	Connect(ctx context.Context) error
	Close() error
}

// Factory creates blob backends by name
type Factory struct {
	creators map[string]BlobCreateFunc
	mu       sync.RWMutex
	logger   *logrus.Logger
}

// NewFactory creates a new storage factory with the local and s3 backends
func NewFactory(logger *logrus.Logger) *Factory {
	if logger == nil {
		logger = logrus.New()
	}

	factory := &Factory{
		creators: make(map[string]BlobCreateFunc),
		logger:   logger,
	}
	factory.registerDefaults()

	return factory
}

// CreateStorage creates and connects the backend named by config.Backend
func (f *Factory) CreateStorage(ctx context.Context, config *CheckpointConfig) (BlobBackend, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "checkpoint config cannot be nil")
	}
	backend := config.Backend
	if backend == "" {
		backend = constants.DefaultCheckpointBackend
	}

	f.mu.RLock()
	createFunc, exists := f.creators[backend]
	f.mu.RUnlock()

	if !exists {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig,
			fmt.Sprintf("storage backend '%s' is not supported", backend))
	}

	storage, err := createFunc(config, f.logger)
	if err != nil {
		return nil, err
	}
	if err := storage.Connect(ctx); err != nil {
		return nil, err
	}

	f.logger.WithFields(logrus.Fields{
		"storage_type": backend,
	}).Info("Created storage instance")

	return storage, nil
}

// RegisterStorage registers a new backend
func (f *Factory) RegisterStorage(storageType string, createFunc BlobCreateFunc) error {
	if storageType == "" {
		return errors.NewValidationError(errors.CodeInvalidInput, "storage type cannot be empty")
	}
	if createFunc == nil {
		return errors.NewValidationError(errors.CodeInvalidInput, "storage create function cannot be nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.creators[storageType] = createFunc
	return nil
}

// IsSupported checks if a backend is registered
func (f *Factory) IsSupported(storageType string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	_, exists := f.creators[storageType]
	return exists
}

// GetSupportedTypes returns the registered backends, sorted
func (f *Factory) GetSupportedTypes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	types := make([]string, 0, len(f.creators))
	for storageType := range f.creators {
		types = append(types, storageType)
	}
	sort.Strings(types)
	return types
}

func (f *Factory) registerDefaults() {
	f.RegisterStorage("local", func(config *CheckpointConfig, logger *logrus.Logger) (BlobBackend, error) {
		path := config.Path
		if path == "" {
			path = constants.DefaultCheckpointPath
		}
		return file.NewFileStorage(&file.FileStorageConfig{
			BasePath:   path,
			CreateDirs: true,
		}, logger)
	})

	f.RegisterStorage("s3", func(config *CheckpointConfig, logger *logrus.Logger) (BlobBackend, error) {
		s3Config := config.S3
		if s3Config.Region == "" {
			s3Config.Region = "us-east-1"
		}
		if s3Config.MaxRetries == 0 {
			s3Config.MaxRetries = 3
		}
		if s3Config.Timeout == 0 {
			s3Config.Timeout = constants.DefaultStorageTimeout
		}
		return s3.NewS3Storage(&s3Config, logger)
	})
}
