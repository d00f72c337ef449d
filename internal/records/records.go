package records

import (
	"context"
	"errors"
)

// Collection names used by the entity services.
const (
	CollectionWatermelons = "watermelons"
	CollectionPolaroids   = "polaroids"
)

const recordFileSuffix = ".json"

var (
	// ErrNotFound reports that no readable record exists under the identifier.
	ErrNotFound = errors.New("record not found")
	// ErrNotConfigured reports that the selected backend never received the
	// credentials it needs and is degraded.
	ErrNotConfigured = errors.New("record store is not configured")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingCollection = errors.New("collection name is required")
	errMissingDirectory  = errors.New("record directory is required")
	errMissingClient     = errors.New("s3 client is required")
	errMissingBucket     = errors.New("bucket name is required")
	errMissingPrefix     = errors.New("object prefix is required")
	errInvalidRecordID   = errors.New("record identifier is invalid")
)

// Envelope carries one persisted record as raw JSON.
type Envelope struct {
	ID      string
	Payload []byte
}

// Store persists JSON records addressed by identifier. List returns records in
// ascending identifier order on every backend; identifiers are UUIDv7, so that
// order is creation order. A malformed payload is skipped by List and reported
// as ErrNotFound by Get rather than failing the whole operation.
type Store interface {
	List(ctx context.Context) ([]Envelope, error)
	Get(ctx context.Context, recordID string) (Envelope, error)
	Put(ctx context.Context, recordID string, payload []byte) error
	Delete(ctx context.Context, recordID string) error
}
