package records

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

const recordContentType = "application/json"

// ObjectStoreConfig wires a record store over per-record S3 objects.
type ObjectStoreConfig struct {
	Client *s3.Client
	Bucket string
	// Prefix is the key prefix for the collection, e.g. data/watermelons.
	Prefix string
	Logger *zap.Logger
}

type objectStore struct {
	client *s3.Client
	bucket string
	prefix string
	logger *zap.Logger
}

// NewObjectStore constructs a Store that keeps one <prefix>/<id>.json object
// per record.
func NewObjectStore(cfg ObjectStoreConfig) (Store, error) {
	if cfg.Client == nil {
		return nil, errMissingClient
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errMissingBucket
	}
	if strings.TrimSpace(cfg.Prefix) == "" {
		return nil, errMissingPrefix
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &objectStore{
		client: cfg.Client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: logger,
	}, nil
}

func (store *objectStore) List(ctx context.Context) ([]Envelope, error) {
	// ListObjectsV2 returns keys in ascending order, which is ascending
	// record id under a fixed prefix.
	paginator := s3.NewListObjectsV2Paginator(store.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(store.bucket),
		Prefix: aws.String(store.prefix + "/"),
	})

	var envelopes []Envelope
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list record objects: %w", err)
		}
		for _, object := range page.Contents {
			key := aws.ToString(object.Key)
			if !strings.HasSuffix(key, recordFileSuffix) {
				continue
			}
			recordID := strings.TrimSuffix(path.Base(key), recordFileSuffix)
			payload, fetchErr := store.fetch(ctx, key)
			if errors.Is(fetchErr, ErrNotFound) {
				continue
			}
			if fetchErr != nil {
				return nil, fetchErr
			}
			if !json.Valid(payload) {
				store.logger.Warn("skipping malformed record object", zap.String("key", key))
				continue
			}
			envelopes = append(envelopes, Envelope{ID: recordID, Payload: payload})
		}
	}
	return envelopes, nil
}

func (store *objectStore) Get(ctx context.Context, recordID string) (Envelope, error) {
	key := store.objectKey(recordID)
	payload, err := store.fetch(ctx, key)
	if err != nil {
		return Envelope{}, err
	}
	if !json.Valid(payload) {
		store.logger.Warn("treating malformed record object as missing", zap.String("key", key))
		return Envelope{}, ErrNotFound
	}
	return Envelope{ID: recordID, Payload: payload}, nil
}

func (store *objectStore) Put(ctx context.Context, recordID string, payload []byte) error {
	_, err := store.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(store.bucket),
		Key:         aws.String(store.objectKey(recordID)),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String(recordContentType),
	})
	if err != nil {
		return fmt.Errorf("store record object: %w", err)
	}
	return nil
}

func (store *objectStore) Delete(ctx context.Context, recordID string) error {
	// DeleteObject succeeds for missing keys, matching the idempotent
	// delete contract of the other backends.
	_, err := store.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(store.bucket),
		Key:    aws.String(store.objectKey(recordID)),
	})
	if err != nil {
		return fmt.Errorf("delete record object: %w", err)
	}
	return nil
}

func (store *objectStore) fetch(ctx context.Context, key string) ([]byte, error) {
	output, err := store.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(store.bucket),
		Key:    aws.String(key),
	})
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load record object: %w", err)
	}
	defer output.Body.Close()

	payload, readErr := io.ReadAll(output.Body)
	if readErr != nil {
		return nil, fmt.Errorf("read record object: %w", readErr)
	}
	return payload, nil
}

func (store *objectStore) objectKey(recordID string) string {
	return path.Join(store.prefix, recordID+recordFileSuffix)
}
