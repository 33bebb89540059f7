// Package s3 stores images in an S3-compatible bucket.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"github.com/prn-tf/artshare/internal/config"
	"github.com/prn-tf/artshare/internal/pkg/crypto"
	"github.com/prn-tf/artshare/internal/storage"
)

// API is the subset of the S3 client used by ImageStore.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// ImageStore implements storage.ImageStore on a bucket.
type ImageStore struct {
	client  API
	bucket  string
	paths   storage.PathConfig
	maxSize int64
	logger  zerolog.Logger
}

// Ensure ImageStore implements storage.ImageStore.
var _ storage.ImageStore = (*ImageStore)(nil)

// NewClient builds an S3 client from cfg. Static credentials are used when
// both keys are set; otherwise the default AWS credential chain applies.
func NewClient(ctx context.Context, cfg config.S3StorageConfig) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// NewImageStore creates a store writing under prefix in bucket.
// A maxSize of 0 means storage.DefaultMaxImageSize.
func NewImageStore(client API, bucket, prefix string, maxSize int64, logger zerolog.Logger) *ImageStore {
	if maxSize <= 0 {
		maxSize = storage.DefaultMaxImageSize
	}
	return &ImageStore{
		client:  client,
		bucket:  bucket,
		paths:   storage.DefaultPathConfig(prefix),
		maxSize: maxSize,
		logger:  logger.With().Str("component", "image_store").Str("backend", "s3").Str("bucket", bucket).Logger(),
	}
}

// Put buffers the image to hash it, then uploads it under its sharded key.
// Images are bounded by maxSize, so buffering is acceptable.
func (s *ImageStore) Put(ctx context.Context, reader io.Reader, size int64, filename string) (string, error) {
	ext, err := storage.ValidateImage(filename, size, s.maxSize)
	if err != nil {
		return "", err
	}

	hr := crypto.NewHashReader(io.LimitReader(reader, s.maxSize+1))
	data, err := io.ReadAll(hr)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}
	if hr.Size() > s.maxSize {
		return "", fmt.Errorf("%w: limit %d", storage.ErrImageTooLarge, s.maxSize)
	}
	if size >= 0 && hr.Size() != size {
		return "", fmt.Errorf("size mismatch: expected %d, got %d", size, hr.Size())
	}

	ref := storage.Ref(hr.SHA256(), ext)
	key := storage.ComputeKey(s.paths, ref)

	exists, err := s.head(ctx, key)
	if err != nil {
		return "", err
	}
	if exists {
		s.logger.Debug().Str("ref", ref).Msg("image already stored")
		return ref, nil
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType(ext)),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}

	s.logger.Debug().Str("ref", ref).Str("key", key).Int("size", len(data)).Msg("stored image")
	return ref, nil
}

// Delete removes the object of ref. S3 deletes are idempotent, so existence
// is checked first to report ErrImageNotFound.
func (s *ImageStore) Delete(ctx context.Context, ref string) error {
	key, err := s.key(ref)
	if err != nil {
		return err
	}
	exists, err := s.head(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		return storage.ErrImageNotFound
	}

	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("failed to delete image: %w", err)
	}
	return nil
}

// Exists reports whether the object of ref exists.
func (s *ImageStore) Exists(ctx context.Context, ref string) (bool, error) {
	key, err := s.key(ref)
	if err != nil {
		return false, err
	}
	return s.head(ctx, key)
}

func (s *ImageStore) key(ref string) (string, error) {
	if _, _, err := storage.ParseRef(ref); err != nil {
		return "", err
	}
	return storage.ComputeKey(s.paths, ref), nil
}

func (s *ImageStore) head(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}

	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat image: %w", err)
}

func contentType(ext string) string {
	if t := mime.TypeByExtension("." + ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
