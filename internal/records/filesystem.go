package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// FilesystemStoreConfig wires a record store over per-record JSON files.
type FilesystemStoreConfig struct {
	Directory string
	Logger    *zap.Logger
}

type filesystemStore struct {
	dir    string
	logger *zap.Logger
}

// NewFilesystemStore constructs a Store that keeps one <id>.json file per
// record under the configured directory. Writes land in a temp file first and
// are renamed into place.
func NewFilesystemStore(cfg FilesystemStoreConfig) (Store, error) {
	if strings.TrimSpace(cfg.Directory) == "" {
		return nil, errMissingDirectory
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &filesystemStore{dir: cfg.Directory, logger: logger}, nil
}

func (store *filesystemStore) List(ctx context.Context) ([]Envelope, error) {
	entries, err := os.ReadDir(store.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}

	// ReadDir sorts by filename, which is ascending record id here.
	envelopes := make([]Envelope, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), recordFileSuffix) {
			continue
		}
		recordID := strings.TrimSuffix(entry.Name(), recordFileSuffix)
		payload, readErr := os.ReadFile(filepath.Join(store.dir, entry.Name()))
		if readErr != nil {
			store.logger.Warn("skipping unreadable record",
				zap.String("record_id", recordID), zap.Error(readErr))
			continue
		}
		if !json.Valid(payload) {
			store.logger.Warn("skipping malformed record", zap.String("record_id", recordID))
			continue
		}
		envelopes = append(envelopes, Envelope{ID: recordID, Payload: payload})
	}
	return envelopes, nil
}

func (store *filesystemStore) Get(ctx context.Context, recordID string) (Envelope, error) {
	if !validRecordID(recordID) {
		return Envelope{}, ErrNotFound
	}

	payload, err := os.ReadFile(store.recordPath(recordID))
	if errors.Is(err, fs.ErrNotExist) {
		return Envelope{}, ErrNotFound
	}
	if err != nil {
		return Envelope{}, fmt.Errorf("load record: %w", err)
	}
	if !json.Valid(payload) {
		store.logger.Warn("treating malformed record as missing", zap.String("record_id", recordID))
		return Envelope{}, ErrNotFound
	}
	return Envelope{ID: recordID, Payload: payload}, nil
}

func (store *filesystemStore) Put(ctx context.Context, recordID string, payload []byte) error {
	if !validRecordID(recordID) {
		return fmt.Errorf("%w: %q", errInvalidRecordID, recordID)
	}
	if err := os.MkdirAll(store.dir, 0o755); err != nil {
		return fmt.Errorf("create record directory: %w", err)
	}

	temp, err := os.CreateTemp(store.dir, ".record-*")
	if err != nil {
		return fmt.Errorf("create temp record: %w", err)
	}
	if _, err := temp.Write(payload); err != nil {
		temp.Close()
		os.Remove(temp.Name())
		return fmt.Errorf("write record: %w", err)
	}
	if err := temp.Close(); err != nil {
		os.Remove(temp.Name())
		return fmt.Errorf("write record: %w", err)
	}
	if err := os.Rename(temp.Name(), store.recordPath(recordID)); err != nil {
		os.Remove(temp.Name())
		return fmt.Errorf("store record: %w", err)
	}
	return nil
}

func (store *filesystemStore) Delete(ctx context.Context, recordID string) error {
	if !validRecordID(recordID) {
		return nil
	}
	err := os.Remove(store.recordPath(recordID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

func (store *filesystemStore) recordPath(recordID string) string {
	return filepath.Join(store.dir, recordID+recordFileSuffix)
}

// validRecordID rejects identifiers that could escape the record directory.
func validRecordID(recordID string) bool {
	if recordID == "" || recordID == "." || recordID == ".." {
		return false
	}
	return !strings.ContainsAny(recordID, `/\`)
}
