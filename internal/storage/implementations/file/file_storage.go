package file

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsforecast/pkg/errors"
)

const storageType = "local"

// FileStorageConfig contains configuration for file-based blob storage
type FileStorageConfig struct {
	BasePath   string `json:"base_path" mapstructure:"path"`
	CreateDirs bool   `json:"create_dirs" mapstructure:"create_dirs"`
}

// FileStorage stores blobs as files under BasePath. Keys are slash-separated
// relative paths.
type FileStorage struct {
	config    *FileStorageConfig
	logger    *logrus.Logger
	mu        sync.RWMutex
	connected bool
}

// NewFileStorage creates a new file storage instance
func NewFileStorage(config *FileStorageConfig, logger *logrus.Logger) (*FileStorage, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "FileStorageConfig cannot be nil")
	}
	if config.BasePath == "" {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "BasePath is required")
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &FileStorage{
		config: config,
		logger: logger,
	}, nil
}

// Connect verifies the base directory, creating it when CreateDirs is set
func (s *FileStorage) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}

	if s.config.CreateDirs {
		if err := os.MkdirAll(s.config.BasePath, 0o755); err != nil {
			return errors.NewStorageConnectionError(storageType, s.config.BasePath, err)
		}
	}
	info, err := os.Stat(s.config.BasePath)
	if err != nil {
		return errors.NewStorageConnectionError(storageType, s.config.BasePath, err)
	}
	if !info.IsDir() {
		return errors.NewStorageConnectionError(storageType, s.config.BasePath,
			fmt.Errorf("%s is not a directory", s.config.BasePath))
	}

	s.connected = true
	s.logger.WithField("base_path", s.config.BasePath).Info("File storage connected")
	return nil
}

// Close releases the storage
func (s *FileStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

// Type returns "local"
func (s *FileStorage) Type() string {
	return storageType
}

// Put writes data to a temp file in the target directory and renames it into
// place, so readers never see a partial blob.
func (s *FileStorage) Put(ctx context.Context, key string, data io.Reader) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.WrapStorageError(err, "put", storageType).WithLocation(path)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return errors.WrapStorageError(err, "put", storageType).WithLocation(path)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, data)
	if err != nil {
		tmp.Close()
		return errors.WrapStorageError(err, "put", storageType).WithLocation(path)
	}
	if err := tmp.Close(); err != nil {
		return errors.WrapStorageError(err, "put", storageType).WithLocation(path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.WrapStorageError(err, "put", storageType).WithLocation(path)
	}

	s.logger.WithFields(logrus.Fields{
		"path":  path,
		"bytes": n,
	}).Debug("Stored blob")
	return nil
}

// Get opens the blob for reading
func (s *FileStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, errors.NewStorageNotFoundError(storageType, path)
	}
	if err != nil {
		return nil, errors.WrapStorageError(err, "get", storageType).WithLocation(path)
	}
	return f, nil
}

// Delete removes a blob. Deleting a missing key is not an error.
func (s *FileStorage) Delete(ctx context.Context, key string) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.WrapStorageError(err, "delete", storageType).WithLocation(path)
	}
	return nil
}

// Exists checks if a blob exists
func (s *FileStorage) Exists(ctx context.Context, key string) (bool, error) {
	path, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.WrapStorageError(err, "stat", storageType).WithLocation(path)
	}
	return true, nil
}

// List walks the base directory and returns keys with the given prefix
func (s *FileStorage) List(ctx context.Context, prefix string) ([]string, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	var keys []string
	err := filepath.WalkDir(s.config.BasePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(s.config.BasePath, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return ctx.Err()
	})
	if err != nil {
		return nil, errors.WrapStorageError(err, "list", storageType).WithLocation(s.config.BasePath)
	}
	sort.Strings(keys)
	return keys, nil
}

// resolve maps a key to a path under BasePath, rejecting keys that escape it
func (s *FileStorage) resolve(key string) (string, error) {
	if err := s.checkConnected(); err != nil {
		return "", err
	}
	if key == "" || !filepath.IsLocal(filepath.FromSlash(key)) {
		return "", errors.NewValidationError(errors.CodeInvalidInput, fmt.Sprintf("invalid blob key %q", key))
	}
	return filepath.Join(s.config.BasePath, filepath.FromSlash(key)), nil
}

func (s *FileStorage) checkConnected() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.connected {
		return errors.NewStorageError(errors.CodeNotConnected, "File storage is not connected")
	}
	return nil
}
