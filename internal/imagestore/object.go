package imagestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const objectKeyPrefix = "images/"

// ObjectStoreConfig wires an image store over public-read S3 objects.
type ObjectStoreConfig struct {
	Client *s3.Client
	Bucket string
	Region string
	Logger *zap.Logger
}

type objectStore struct {
	client *s3.Client
	bucket string
	region string
	logger *zap.Logger
}

// NewObjectStore constructs a Store that uploads images/<category>/<uuid>.<ext>
// objects and issues their public bucket URLs as references.
func NewObjectStore(cfg ObjectStoreConfig) (Store, error) {
	if cfg.Client == nil {
		return nil, errMissingClient
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errMissingBucket
	}
	if strings.TrimSpace(cfg.Region) == "" {
		return nil, errMissingRegion
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &objectStore{
		client: cfg.Client,
		bucket: cfg.Bucket,
		region: cfg.Region,
		logger: logger,
	}, nil
}

func (store *objectStore) Save(ctx context.Context, category string, data []byte, extension string, contentType string) (string, error) {
	key := fmt.Sprintf("%s%s/%s.%s", objectKeyPrefix, category, uuid.NewString(), extension)
	_, err := store.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(store.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		ACL:         types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", store.bucket, store.region, key), nil
}

func (store *objectStore) Fetch(ctx context.Context, reference string) ([]byte, error) {
	key, err := store.objectKey(reference)
	if err != nil {
		return nil, err
	}

	output, getErr := store.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(store.bucket),
		Key:    aws.String(key),
	})
	var noSuchKey *types.NoSuchKey
	if errors.As(getErr, &noSuchKey) {
		return nil, ErrNotFound
	}
	if getErr != nil {
		return nil, fmt.Errorf("download image: %w", getErr)
	}
	defer output.Body.Close()

	data, readErr := io.ReadAll(output.Body)
	if readErr != nil {
		return nil, fmt.Errorf("read image: %w", readErr)
	}
	return data, nil
}

func (store *objectStore) Delete(ctx context.Context, reference string) error {
	key, err := store.objectKey(reference)
	if err != nil {
		return err
	}
	_, deleteErr := store.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(store.bucket),
		Key:    aws.String(key),
	})
	if deleteErr != nil {
		return fmt.Errorf("delete image: %w", deleteErr)
	}
	return nil
}

// objectKey recovers the bucket key from a public URL reference. Only keys
// under images/ are accepted so record objects can never be addressed through
// an image reference.
func (store *objectStore) objectKey(reference string) (string, error) {
	parsed, parseErr := url.Parse(reference)
	if parseErr != nil {
		return "", fmt.Errorf("%w: %s", ErrForeignReference, reference)
	}
	key := strings.TrimPrefix(parsed.Path, "/")
	if !strings.HasPrefix(key, objectKeyPrefix) {
		return "", fmt.Errorf("%w: %s", ErrForeignReference, reference)
	}
	return key, nil
}
