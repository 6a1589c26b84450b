package storage

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// DiskStore writes blobs to the local filesystem under a base directory.
type DiskStore struct {
	baseDir string
}

// NewDiskStore creates a disk-backed blob store rooted at baseDir.
func NewDiskStore(baseDir string) *DiskStore {
	return &DiskStore{baseDir: baseDir}
}

func (s *DiskStore) Store(_ context.Context, namespace, filename string, content io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	name := uuid.NewString() + ext

	dir := filepath.Join(s.baseDir, namespace)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := io.Copy(f, content); err != nil {
		os.Remove(f.Name())
		return "", err
	}

	// References use forward slashes regardless of platform.
	return path.Join(namespace, name), nil
}

func (s *DiskStore) Remove(_ context.Context, ref string) error {
	return os.Remove(filepath.Join(s.baseDir, filepath.FromSlash(ref)))
}
