package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"path"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsforecast/internal/forecast"
	"github.com/inferloop/tsforecast/internal/training"
	"github.com/inferloop/tsforecast/internal/storage/interfaces"
	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/errors"
)

// ModelStore persists model checkpoints by run id on a blob backend
type ModelStore struct {
	blobs  interfaces.BlobStorage
	logger *logrus.Logger
}

// NewModelStore wraps a blob backend
func NewModelStore(blobs interfaces.BlobStorage, logger *logrus.Logger) *ModelStore {
	if logger == nil {
		logger = logrus.New()
	}
	return &ModelStore{blobs: blobs, logger: logger}
}

// CheckpointKey is the blob key of a run's checkpoint
func CheckpointKey(runID string) string {
	return path.Join(runID, constants.DefaultCheckpointFile)
}

// HistoryKey is the blob key of a run's loss history
func HistoryKey(runID string) string {
	return path.Join(runID, historyFile)
}

const historyFile = "history.json"

// SaveModel encodes m and stores it under the run. It returns the key.
func (s *ModelStore) SaveModel(ctx context.Context, runID string, m *forecast.Model) (string, error) {
	if runID == "" {
		return "", errors.NewValidationError(errors.CodeInvalidInput, "run id is required")
	}

	var buf bytes.Buffer
	if err := forecast.Save(&buf, m); err != nil {
		return "", err
	}

	key := CheckpointKey(runID)
	start := time.Now()
	if err := s.blobs.Put(ctx, key, &buf); err != nil {
		return "", err
	}

	s.logger.WithFields(logrus.Fields{
		"run_id":   runID,
		"backend":  s.blobs.Type(),
		"key":      key,
		"duration": time.Since(start),
	}).Info("Saved model checkpoint")
	return key, nil
}

// LoadModel restores the checkpoint of a run
func (s *ModelStore) LoadModel(ctx context.Context, runID string) (*forecast.Model, error) {
	key := CheckpointKey(runID)
	rc, err := s.blobs.Get(ctx, key)
	if err != nil {
		if errors.HasCode(err, errors.CodeDataNotFound) {
			return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeModelNotFound, "model checkpoint not found").
				WithContext("run_id", runID)
		}
		return nil, err
	}
	defer rc.Close()

	m, err := forecast.Load(rc, s.logger)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"run_id":     runID,
		"backend":    s.blobs.Type(),
		"parameters": m.NumParameters(),
	}).Info("Loaded model checkpoint")
	return m, nil
}

// ListRuns returns the ids of runs with a stored checkpoint
func (s *ModelStore) ListRuns(ctx context.Context) ([]string, error) {
	keys, err := s.blobs.List(ctx, "")
	if err != nil {
		return nil, err
	}

	var runs []string
	suffix := "/" + constants.DefaultCheckpointFile
	for _, key := range keys {
		if run, ok := strings.CutSuffix(key, suffix); ok && !strings.Contains(run, "/") {
			runs = append(runs, run)
		}
	}
	return runs, nil
}

// HasModel reports whether a checkpoint exists for the run
func (s *ModelStore) HasModel(ctx context.Context, runID string) (bool, error) {
	return s.blobs.Exists(ctx, CheckpointKey(runID))
}

// SaveHistory stores the loss trajectory next to the run's checkpoint
func (s *ModelStore) SaveHistory(ctx context.Context, runID string, h *training.History) error {
	if runID == "" {
		return errors.NewValidationError(errors.CodeInvalidInput, "run id is required")
	}
	payload, err := json.Marshal(h)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeInternalError, "failed to encode training history")
	}
	return s.blobs.Put(ctx, HistoryKey(runID), bytes.NewReader(payload))
}

// LoadHistory reads the loss trajectory saved by SaveHistory
func (s *ModelStore) LoadHistory(ctx context.Context, runID string) (*training.History, error) {
	rc, err := s.blobs.Get(ctx, HistoryKey(runID))
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var h training.History
	if err := json.NewDecoder(rc).Decode(&h); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "failed to decode training history").
			WithContext("run_id", runID)
	}
	return &h, nil
}
