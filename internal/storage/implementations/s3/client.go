package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsforecast/pkg/errors"
)

const storageType = "s3"

// S3Config holds configuration for S3 storage
type S3Config struct {
	Region          string        `json:"region" mapstructure:"region"`
	Bucket          string        `json:"bucket" mapstructure:"bucket"`
	AccessKeyID     string        `json:"access_key_id" mapstructure:"access_key_id"`
	SecretAccessKey string        `json:"secret_access_key" mapstructure:"secret_access_key"`
	SessionToken    string        `json:"session_token,omitempty" mapstructure:"session_token"`
	Endpoint        string        `json:"endpoint,omitempty" mapstructure:"endpoint"`
	ForcePathStyle  bool          `json:"force_path_style" mapstructure:"force_path_style"`
	DisableSSL      bool          `json:"disable_ssl" mapstructure:"disable_ssl"`
	Prefix          string        `json:"prefix" mapstructure:"prefix"`
	Timeout         time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRetries      int           `json:"max_retries" mapstructure:"max_retries"`
	PartSize        int64         `json:"part_size" mapstructure:"part_size"`
	StorageClass    string        `json:"storage_class" mapstructure:"storage_class"`
}

// S3Storage stores blobs as objects under Prefix/models/
type S3Storage struct {
	config     *S3Config
	s3Client   *s3.S3
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
	logger     *logrus.Logger
	mu         sync.RWMutex
}

// NewS3Storage creates a new S3 storage instance
func NewS3Storage(config *S3Config, logger *logrus.Logger) (*S3Storage, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "S3 config cannot be nil")
	}
	if config.Bucket == "" {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "S3 bucket is required")
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &S3Storage{
		config: config,
		logger: logger,
	}, nil
}

// Connect creates the AWS session and checks bucket access
func (s *S3Storage) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.s3Client != nil {
		return nil
	}

	awsConfig := &aws.Config{
		Region:     aws.String(s.config.Region),
		MaxRetries: aws.Int(s.config.MaxRetries),
	}
	if s.config.AccessKeyID != "" && s.config.SecretAccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(
			s.config.AccessKeyID,
			s.config.SecretAccessKey,
			s.config.SessionToken,
		)
	}
	// S3-compatible services
	if s.config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(s.config.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(s.config.ForcePathStyle)
	}
	if s.config.DisableSSL {
		awsConfig.DisableSSL = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return errors.NewStorageConnectionError(storageType, s.config.Bucket, err)
	}

	client := s3.New(sess)
	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}
	if _, err := client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.config.Bucket),
	}); err != nil {
		return errors.NewStorageConnectionError(storageType, s.config.Bucket, err)
	}

	s.s3Client = client
	s.uploader = s3manager.NewUploader(sess)
	s.downloader = s3manager.NewDownloader(sess)
	if s.config.PartSize > 0 {
		s.uploader.PartSize = s.config.PartSize
	}

	s.logger.WithFields(logrus.Fields{
		"region": s.config.Region,
		"bucket": s.config.Bucket,
		"prefix": s.config.Prefix,
	}).Info("Connected to S3")

	return nil
}

// Close drops the session
func (s *S3Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.s3Client = nil
	s.uploader = nil
	s.downloader = nil
	return nil
}

// Type returns "s3"
func (s *S3Storage) Type() string {
	return storageType
}

// Put uploads data to the object for key
func (s *S3Storage) Put(ctx context.Context, key string, data io.Reader) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkConnected(); err != nil {
		return err
	}

	objectKey := s.generateKey(key)
	start := time.Now()
	input := &s3manager.UploadInput{
		Bucket:      aws.String(s.config.Bucket),
		Key:         aws.String(objectKey),
		Body:        data,
		ContentType: aws.String("application/octet-stream"),
	}
	if s.config.StorageClass != "" {
		input.StorageClass = aws.String(s.config.StorageClass)
	}

	if _, err := s.uploader.UploadWithContext(ctx, input); err != nil {
		return errors.WrapStorageError(err, "put", storageType).
			WithLocation(s.location(objectKey)).
			WithDuration(time.Since(start))
	}

	s.logger.WithFields(logrus.Fields{
		"key":      objectKey,
		"duration": time.Since(start),
	}).Debug("Uploaded object")
	return nil
}

// Get downloads the whole object into memory and returns a reader over it
func (s *S3Storage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	objectKey := s.generateKey(key)
	buf := aws.NewWriteAtBuffer([]byte{})
	_, err := s.downloader.DownloadWithContext(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, errors.NewStorageNotFoundError(storageType, s.location(objectKey))
		}
		return nil, errors.WrapStorageError(err, "get", storageType).WithLocation(s.location(objectKey))
	}
	return io.NopCloser(bytes.NewReader(buf.Bytes())), nil
}

// Delete removes the object for key
func (s *S3Storage) Delete(ctx context.Context, key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkConnected(); err != nil {
		return err
	}

	objectKey := s.generateKey(key)
	_, err := s.s3Client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return errors.WrapStorageError(err, "delete", storageType).WithLocation(s.location(objectKey))
	}
	return nil
}

// Exists issues a HEAD request for key
func (s *S3Storage) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkConnected(); err != nil {
		return false, err
	}

	objectKey := s.generateKey(key)
	_, err := s.s3Client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, errors.WrapStorageError(err, "head", storageType).WithLocation(s.location(objectKey))
	}
	return true, nil
}

// List returns the keys under prefix, relative to the storage root
func (s *S3Storage) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	var keys []string
	root := s.generateKey("")
	err := s.s3Client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.config.Bucket),
		Prefix: aws.String(root + prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			keys = append(keys, s.extractKey(aws.StringValue(obj.Key)))
		}
		return true
	})
	if err != nil {
		return nil, errors.WrapStorageError(err, "list", storageType).WithLocation(s.location(root + prefix))
	}
	sort.Strings(keys)
	return keys, nil
}

// generateKey maps a blob key to Prefix/models/<key>. An empty key gives the
// root with a trailing slash.
func (s *S3Storage) generateKey(key string) string {
	root := path.Join(s.config.Prefix, "models") + "/"
	return root + key
}

// extractKey strips the storage root from an object key
func (s *S3Storage) extractKey(objectKey string) string {
	return strings.TrimPrefix(objectKey, s.generateKey(""))
}

func (s *S3Storage) location(objectKey string) string {
	return fmt.Sprintf("s3://%s/%s", s.config.Bucket, objectKey)
}

// checkConnected must be called with s.mu held
func (s *S3Storage) checkConnected() error {
	if s.s3Client == nil {
		return errors.NewStorageError(errors.CodeNotConnected, "S3 not connected")
	}
	return nil
}

func isNotFound(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}
