package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PublicPathPrefix is the URL prefix under which local image files are served.
const PublicPathPrefix = "/images/"

// FilesystemStoreConfig wires an image store over a local directory tree.
type FilesystemStoreConfig struct {
	Root   string
	Logger *zap.Logger
}

type filesystemStore struct {
	root   string
	logger *zap.Logger
}

// NewFilesystemStore constructs a Store that writes
// <root>/<category>/<uuid>.<ext> files and issues /images/<category>/<file>
// references for the router's static file route.
func NewFilesystemStore(cfg FilesystemStoreConfig) (Store, error) {
	if strings.TrimSpace(cfg.Root) == "" {
		return nil, errMissingRoot
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &filesystemStore{root: cfg.Root, logger: logger}, nil
}

func (store *filesystemStore) Save(ctx context.Context, category string, data []byte, extension string, contentType string) (string, error) {
	directory := filepath.Join(store.root, category)
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return "", fmt.Errorf("create image directory: %w", err)
	}

	fileName := fmt.Sprintf("%s.%s", uuid.NewString(), extension)
	if err := os.WriteFile(filepath.Join(directory, fileName), data, 0o644); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	return PublicPathPrefix + category + "/" + fileName, nil
}

func (store *filesystemStore) Fetch(ctx context.Context, reference string) ([]byte, error) {
	relative, err := store.relativePath(reference)
	if err != nil {
		return nil, err
	}
	data, readErr := os.ReadFile(filepath.Join(store.root, relative))
	if errors.Is(readErr, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if readErr != nil {
		return nil, fmt.Errorf("read image: %w", readErr)
	}
	return data, nil
}

func (store *filesystemStore) Delete(ctx context.Context, reference string) error {
	relative, err := store.relativePath(reference)
	if err != nil {
		return err
	}
	removeErr := os.Remove(filepath.Join(store.root, relative))
	if removeErr != nil && !errors.Is(removeErr, fs.ErrNotExist) {
		return fmt.Errorf("delete image: %w", removeErr)
	}
	return nil
}

// relativePath maps a /images/... reference back onto the root directory,
// rejecting references that were not issued by this store or that would
// escape it.
func (store *filesystemStore) relativePath(reference string) (string, error) {
	trimmed, ok := strings.CutPrefix(reference, PublicPathPrefix)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrForeignReference, reference)
	}
	cleaned := path.Clean(trimmed)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") || strings.HasPrefix(cleaned, "/") {
		return "", fmt.Errorf("%w: %s", ErrForeignReference, reference)
	}
	return filepath.FromSlash(cleaned), nil
}
