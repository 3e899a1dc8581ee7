package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// ErrBlobNotFound reports a read of a storage path that does not exist.
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore persists raw file bytes keyed by an opaque storage path.
// Paths are generated by Put and scoped under the owning space so that
// DeleteAll can remove everything a space ever stored. Both implementations
// expose identical semantics; callers never know which backend is active.
type BlobStore interface {
	// Put writes all bytes from r and returns the generated storage path.
	Put(ctx context.Context, r io.Reader, spaceID, originalFilename, contentType string) (string, error)
	// Get opens the blob at path. Returns ErrBlobNotFound when absent.
	Get(ctx context.Context, storagePath string) (io.ReadCloser, error)
	// Delete removes one blob. Deleting a missing path is a no-op.
	Delete(ctx context.Context, storagePath string) error
	// DeleteAll removes every blob under the space's prefix. Each item is
	// attempted; failures are aggregated into the returned error.
	DeleteAll(ctx context.Context, spaceID string) error
}

var extPattern = regexp.MustCompile(`^\.[A-Za-z0-9]{1,12}$`)

// newStoragePath builds a collision-resistant path under the space prefix.
// Only the extension of the original filename is trusted, and only when it
// looks like a plain extension.
func newStoragePath(spaceID, originalFilename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(originalFilename)))
	if !extPattern.MatchString(ext) {
		ext = ""
	}
	return path.Join(spacePrefix(spaceID), uuid.NewString()+ext)
}

func spacePrefix(spaceID string) string {
	return path.Join("spaces", spaceID, "files")
}

func validateSpaceID(spaceID string) error {
	if strings.TrimSpace(spaceID) == "" || strings.ContainsAny(spaceID, "/\\") {
		return fmt.Errorf("invalid space id: %q", spaceID)
	}
	return nil
}
