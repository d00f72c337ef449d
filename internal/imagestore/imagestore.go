package imagestore

import (
	"context"
	"errors"
)

// Image categories group stored files by owning entity.
const (
	CategoryWatermelons = "watermelons"
	CategoryPolaroids   = "polaroids"
	CategoryStickers    = "stickers"
)

var (
	// ErrNotFound reports that no image exists under the reference.
	ErrNotFound = errors.New("image not found")
	// ErrNotConfigured reports that the selected backend never received the
	// credentials it needs and is degraded.
	ErrNotConfigured = errors.New("image store is not configured")
	// ErrForeignReference reports a reference this store did not issue.
	ErrForeignReference = errors.New("image reference does not belong to this store")

	errMissingRoot   = errors.New("image root directory is required")
	errMissingClient = errors.New("s3 client is required")
	errMissingBucket = errors.New("bucket name is required")
	errMissingRegion = errors.New("bucket region is required")
)

// Store saves raw image bytes under generated names and addresses them by the
// opaque reference placed into record src fields: a server-relative path for
// local files, a public URL for S3 objects.
type Store interface {
	Save(ctx context.Context, category string, data []byte, extension string, contentType string) (string, error)
	Fetch(ctx context.Context, reference string) ([]byte, error)
	Delete(ctx context.Context, reference string) error
}
