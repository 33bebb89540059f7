// Package filesystem stores images as content-addressed files on local disk.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/prn-tf/artshare/internal/pkg/crypto"
	"github.com/prn-tf/artshare/internal/storage"
)

// ImageStore implements storage.ImageStore on a directory tree.
type ImageStore struct {
	paths   storage.PathConfig
	tempDir string
	maxSize int64
	logger  zerolog.Logger
}

// Ensure ImageStore implements storage.ImageStore.
var _ storage.ImageStore = (*ImageStore)(nil)

// NewImageStore creates the store rooted at baseDir, creating it if needed.
// A maxSize of 0 means storage.DefaultMaxImageSize.
func NewImageStore(baseDir string, maxSize int64, logger zerolog.Logger) (*ImageStore, error) {
	if maxSize <= 0 {
		maxSize = storage.DefaultMaxImageSize
	}
	tempDir := filepath.Join(baseDir, ".tmp")
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", err)
	}

	return &ImageStore{
		paths:   storage.DefaultPathConfig(baseDir),
		tempDir: tempDir,
		maxSize: maxSize,
		logger:  logger.With().Str("component", "image_store").Str("backend", "filesystem").Logger(),
	}, nil
}

// Put writes the content to a temporary file while hashing it, then moves
// it to its sharded path. Content that is already stored is not rewritten.
func (s *ImageStore) Put(ctx context.Context, reader io.Reader, size int64, filename string) (string, error) {
	ext, err := storage.ValidateImage(filename, size, s.maxSize)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.tempDir, "upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	hr := crypto.NewHashReader(io.LimitReader(reader, s.maxSize+1))
	_, copyErr := io.Copy(tmp, hr)
	closeErr := tmp.Close()
	if copyErr != nil {
		return "", fmt.Errorf("failed to write image: %w", copyErr)
	}
	if closeErr != nil {
		return "", fmt.Errorf("failed to write image: %w", closeErr)
	}
	if hr.Size() > s.maxSize {
		return "", fmt.Errorf("%w: limit %d", storage.ErrImageTooLarge, s.maxSize)
	}
	if size >= 0 && hr.Size() != size {
		return "", fmt.Errorf("size mismatch: expected %d, got %d", size, hr.Size())
	}

	ref := storage.Ref(hr.SHA256(), ext)
	dest := storage.ComputePath(s.paths, ref)
	if _, err := os.Stat(dest); err == nil {
		s.logger.Debug().Str("ref", ref).Msg("image already stored")
		return ref, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("failed to create shard directory: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return "", fmt.Errorf("failed to move image into place: %w", err)
	}

	s.logger.Debug().Str("ref", ref).Int64("size", hr.Size()).Msg("stored image")
	return ref, nil
}

// Delete removes the file of ref.
func (s *ImageStore) Delete(ctx context.Context, ref string) error {
	p, err := s.path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return storage.ErrImageNotFound
		}
		return fmt.Errorf("failed to delete image: %w", err)
	}
	return nil
}

// Exists reports whether the file of ref exists.
func (s *ImageStore) Exists(ctx context.Context, ref string) (bool, error) {
	p, err := s.path(ref)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat image: %w", err)
	}
	return true, nil
}

func (s *ImageStore) path(ref string) (string, error) {
	if _, _, err := storage.ParseRef(ref); err != nil {
		return "", err
	}
	return storage.ComputePath(s.paths, ref), nil
}
