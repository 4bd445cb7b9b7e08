package s3

import (
	"bytes"
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/tsforecast/pkg/errors"
)

func TestNewS3Storage(t *testing.T) {
	config := &S3Config{
		Region: "us-east-1",
		Bucket: "test-bucket",
	}

	logger := logrus.New()
	storage, err := NewS3Storage(config, logger)

	require.NoError(t, err)
	require.NotNil(t, storage)
	assert.Equal(t, config, storage.config)
	assert.Equal(t, logger, storage.logger)
	assert.Equal(t, "s3", storage.Type())
}

func TestNewS3StorageInvalidConfig(t *testing.T) {
	_, err := NewS3Storage(nil, logrus.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "S3 config cannot be nil")
	assert.True(t, errors.HasCode(err, errors.CodeInvalidConfig))

	_, err = NewS3Storage(&S3Config{Region: "us-east-1"}, logrus.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "S3 bucket is required")
}

func TestS3StorageGenerateKey(t *testing.T) {
	storage, err := NewS3Storage(&S3Config{
		Region: "us-east-1",
		Bucket: "test-bucket",
		Prefix: "test-prefix",
	}, logrus.New())
	require.NoError(t, err)

	assert.Equal(t, "test-prefix/models/run-1/model.ckpt.gz", storage.generateKey("run-1/model.ckpt.gz"))
	assert.Equal(t, "test-prefix/models/", storage.generateKey(""))
	assert.Equal(t, "run-1/model.ckpt.gz", storage.extractKey("test-prefix/models/run-1/model.ckpt.gz"))
}

func TestS3StorageGenerateKeyNoPrefix(t *testing.T) {
	storage, err := NewS3Storage(&S3Config{
		Region: "us-east-1",
		Bucket: "test-bucket",
	}, logrus.New())
	require.NoError(t, err)

	assert.Equal(t, "models/run-1/model.ckpt.gz", storage.generateKey("run-1/model.ckpt.gz"))
	assert.Equal(t, "s3://test-bucket/models/x", storage.location("models/x"))
}

func TestS3StorageNotConnected(t *testing.T) {
	storage, err := NewS3Storage(&S3Config{
		Region: "us-east-1",
		Bucket: "test-bucket",
	}, logrus.New())
	require.NoError(t, err)

	ctx := context.Background()

	err = storage.Put(ctx, "run-1/model.ckpt.gz", bytes.NewReader([]byte("x")))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeNotConnected))

	_, err = storage.Get(ctx, "run-1/model.ckpt.gz")
	assert.True(t, errors.HasCode(err, errors.CodeNotConnected))

	_, err = storage.Exists(ctx, "run-1/model.ckpt.gz")
	assert.True(t, errors.HasCode(err, errors.CodeNotConnected))

	_, err = storage.List(ctx, "")
	assert.True(t, errors.HasCode(err, errors.CodeNotConnected))

	assert.NoError(t, storage.Close())
}
