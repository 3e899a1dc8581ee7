package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// FileStore saves blobs on the local filesystem under a base directory.
type FileStore struct {
	basePath string
}

// NewFileStore creates the base directory if missing.
func NewFileStore(basePath string) (*FileStore, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("storage base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

// Put writes the stream to a freshly generated path under the space prefix.
func (f *FileStore) Put(_ context.Context, r io.Reader, spaceID, originalFilename, _ string) (string, error) {
	if err := validateSpaceID(spaceID); err != nil {
		return "", err
	}
	storagePath := newStoragePath(spaceID, originalFilename)
	target := filepath.Join(f.basePath, filepath.FromSlash(storagePath))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create space dir: %w", err)
	}
	out, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, r); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return storagePath, nil
}

// Get opens the blob for reading.
func (f *FileStore) Get(_ context.Context, storagePath string) (io.ReadCloser, error) {
	file, err := os.Open(filepath.Join(f.basePath, filepath.FromSlash(storagePath)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, storagePath)
		}
		return nil, fmt.Errorf("open file: %w", err)
	}
	return file, nil
}

// Delete removes a blob. A missing path is logged and treated as success.
func (f *FileStore) Delete(_ context.Context, storagePath string) error {
	err := os.Remove(filepath.Join(f.basePath, filepath.FromSlash(storagePath)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Warn("blob already gone", "path", storagePath)
			return nil
		}
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

// DeleteAll removes the whole space directory.
func (f *FileStore) DeleteAll(_ context.Context, spaceID string) error {
	if err := validateSpaceID(spaceID); err != nil {
		return err
	}
	dir := filepath.Join(f.basePath, "spaces", spaceID)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete space dir: %w", err)
	}
	return nil
}
