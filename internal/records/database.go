package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	queryCollection       = "collection = ?"
	queryCollectionRecord = "collection = ? AND record_id = ?"
	orderRecordIDAsc      = "record_id ASC"
)

// RecordRow stores one JSON record per row, keyed by collection and record id.
type RecordRow struct {
	Collection       string `gorm:"column:collection;primaryKey;size:64;not null"`
	RecordID         string `gorm:"column:record_id;primaryKey;size:190;not null"`
	PayloadJSON      string `gorm:"column:payload_json;type:text;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (RecordRow) TableName() string {
	return "record_rows"
}

// DatabaseStoreConfig wires a relational record store for one collection.
type DatabaseStoreConfig struct {
	Database   *gorm.DB
	Collection string
	Clock      func() time.Time
	Logger     *zap.Logger
}

type databaseStore struct {
	db         *gorm.DB
	collection string
	clock      func() time.Time
	logger     *zap.Logger
}

// NewDatabaseStore constructs a Store backed by the record_rows table.
func NewDatabaseStore(cfg DatabaseStoreConfig) (Store, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if strings.TrimSpace(cfg.Collection) == "" {
		return nil, errMissingCollection
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &databaseStore{
		db:         cfg.Database,
		collection: cfg.Collection,
		clock:      clock,
		logger:     logger,
	}, nil
}

func (store *databaseStore) List(ctx context.Context) ([]Envelope, error) {
	var rows []RecordRow
	if err := store.db.WithContext(ctx).
		Where(queryCollection, store.collection).
		Order(orderRecordIDAsc).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list %s records: %w", store.collection, err)
	}

	envelopes := make([]Envelope, 0, len(rows))
	for _, row := range rows {
		payload := []byte(row.PayloadJSON)
		if !json.Valid(payload) {
			store.logger.Warn("skipping malformed record",
				zap.String("collection", store.collection),
				zap.String("record_id", row.RecordID))
			continue
		}
		envelopes = append(envelopes, Envelope{ID: row.RecordID, Payload: payload})
	}
	return envelopes, nil
}

func (store *databaseStore) Get(ctx context.Context, recordID string) (Envelope, error) {
	var row RecordRow
	err := store.db.WithContext(ctx).
		Where(queryCollectionRecord, store.collection, recordID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Envelope{}, ErrNotFound
	}
	if err != nil {
		return Envelope{}, fmt.Errorf("load %s record: %w", store.collection, err)
	}

	payload := []byte(row.PayloadJSON)
	if !json.Valid(payload) {
		store.logger.Warn("treating malformed record as missing",
			zap.String("collection", store.collection),
			zap.String("record_id", recordID))
		return Envelope{}, ErrNotFound
	}
	return Envelope{ID: recordID, Payload: payload}, nil
}

func (store *databaseStore) Put(ctx context.Context, recordID string, payload []byte) error {
	row := RecordRow{
		Collection:       store.collection,
		RecordID:         recordID,
		PayloadJSON:      string(payload),
		UpdatedAtSeconds: store.clock().UTC().Unix(),
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "collection"}, {Name: "record_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload_json", "updated_at_s"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("store %s record: %w", store.collection, err)
	}
	return nil
}

func (store *databaseStore) Delete(ctx context.Context, recordID string) error {
	result := store.db.WithContext(ctx).
		Where(queryCollectionRecord, store.collection, recordID).
		Delete(&RecordRow{})
	if result.Error != nil {
		return fmt.Errorf("delete %s record: %w", store.collection, result.Error)
	}
	return nil
}
