// Package storage defines the image store used for artwork and profile
// pictures. Images are content addressed: the reference of an image is the
// SHA-256 of its bytes followed by its extension, so identical uploads share
// one object.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// DefaultMaxImageSize is the largest accepted upload.
const DefaultMaxImageSize int64 = 16 << 20

// AllowedExtensions are the accepted image file extensions.
var AllowedExtensions = []string{"png", "jpg", "jpeg", "gif"}

var (
	// ErrImageNotFound indicates no image exists for a reference.
	ErrImageNotFound = errors.New("image not found")

	// ErrUnsupportedImage indicates a file extension outside AllowedExtensions.
	ErrUnsupportedImage = errors.New("unsupported image type")

	// ErrImageTooLarge indicates an upload above the size limit.
	ErrImageTooLarge = errors.New("image too large")

	// ErrInvalidReference indicates a malformed image reference.
	ErrInvalidReference = errors.New("invalid image reference")
)

// ImageStore persists uploaded images.
type ImageStore interface {
	// Put stores the content of reader and returns its reference.
	// filename is only used for its extension. size is the expected length,
	// or -1 if unknown.
	Put(ctx context.Context, reader io.Reader, size int64, filename string) (ref string, err error)

	// Delete removes an image. Returns ErrImageNotFound if it does not exist.
	Delete(ctx context.Context, ref string) error

	// Exists reports whether an image is stored.
	Exists(ctx context.Context, ref string) (bool, error)
}

// IsNotFound reports whether err means the image does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrImageNotFound)
}

// ValidateImage checks the extension of filename and the declared size.
// It returns the lowercased extension without the dot.
func ValidateImage(filename string, size, maxSize int64) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if !isAllowed(ext) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedImage, filename)
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxImageSize
	}
	if size > maxSize {
		return "", fmt.Errorf("%w: %d bytes, limit %d", ErrImageTooLarge, size, maxSize)
	}
	return ext, nil
}

func isAllowed(ext string) bool {
	for _, a := range AllowedExtensions {
		if ext == a {
			return true
		}
	}
	return false
}

// Ref builds an image reference from a content hash and extension.
func Ref(contentHash, ext string) string {
	return contentHash + "." + ext
}

// ParseRef splits a reference into its content hash and extension.
func ParseRef(ref string) (contentHash, ext string, err error) {
	i := strings.LastIndexByte(ref, '.')
	if i <= 0 || i == len(ref)-1 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	contentHash, ext = ref[:i], ref[i+1:]
	if len(contentHash) != 64 || !isAllowed(ext) || strings.ContainsAny(contentHash, `/\.`) {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	return contentHash, ext, nil
}
