// Package watermelons manages the watermelon collection: rated photos of
// tasted watermelons backed by a record store and an image store.
package watermelons

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/keepsake/internal/imagestore"
	"github.com/MarcoPoloResearchLab/keepsake/internal/records"
)

var (
	errMissingRecordStore = errors.New("record store is required")
	errMissingImageStore  = errors.New("image store is required")
	errMissingIDProvider  = errors.New("id provider is required")
	noOpLogger            = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "watermelons.service.new"
	opList       = "watermelons.list"
	opCreate     = "watermelons.create"
	opUpdate     = "watermelons.update"
	opDelete     = "watermelons.delete"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

type ServiceConfig struct {
	Records    records.Store
	Images     imagestore.Store
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

type IDProvider interface {
	NewID() (string, error)
}

type Service struct {
	records    records.Store
	images     imagestore.Store
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
	locks      *records.KeyedMutex
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Records == nil {
		return nil, newServiceError(opServiceNew, "missing_record_store", errMissingRecordStore)
	}
	if cfg.Images == nil {
		return nil, newServiceError(opServiceNew, "missing_image_store", errMissingImageStore)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		records:    cfg.Records,
		images:     cfg.Images,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
		locks:      records.NewKeyedMutex(),
	}, nil
}

// List returns every watermelon in creation order. Records that no longer
// decode into the watermelon shape are skipped with a warning rather than
// failing the whole listing.
func (s *Service) List(ctx context.Context) ([]Watermelon, error) {
	envelopes, err := s.records.List(ctx)
	if err != nil {
		s.logError(opList, "read_failed", err)
		return nil, newServiceError(opList, "read_failed", err)
	}

	melons := make([]Watermelon, 0, len(envelopes))
	for _, envelope := range envelopes {
		var melon Watermelon
		if err := json.Unmarshal(envelope.Payload, &melon); err != nil {
			s.logger.Warn("skipping undecodable watermelon record",
				zap.String("record_id", envelope.ID),
				zap.Error(err))
			continue
		}
		melons = append(melons, melon)
	}
	return melons, nil
}

// Create decodes the uploaded data URL, stores the image, and persists a new
// watermelon with midpoint ratings for both tasters. Nothing is written when
// the upload fails validation.
func (s *Service) Create(ctx context.Context, imageBase64 string) (Watermelon, error) {
	decoded, err := imagestore.DecodeWatermelonImage(imageBase64)
	if err != nil {
		s.logError(opCreate, "invalid_image", err)
		return Watermelon{}, newServiceError(opCreate, "invalid_image", err)
	}

	melonID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return Watermelon{}, newServiceError(opCreate, "id_generation_failed", err)
	}

	reference, err := s.images.Save(ctx, imagestore.CategoryWatermelons, decoded.Data, decoded.Extension, decoded.ContentType)
	if err != nil {
		s.logError(opCreate, "image_save_failed", err, zap.String("watermelon_id", melonID))
		return Watermelon{}, newServiceError(opCreate, "image_save_failed", err)
	}

	melon := Watermelon{
		ID:        melonID,
		Src:       reference,
		CreatedAt: s.clock().UTC(),
		Rachy:     DefaultRatings(),
		Davey:     DefaultRatings(),
	}
	if err := s.put(ctx, melon); err != nil {
		s.logError(opCreate, "write_failed", err, zap.String("watermelon_id", melonID))
		s.discardImage(ctx, reference)
		return Watermelon{}, newServiceError(opCreate, "write_failed", err)
	}
	return melon, nil
}

// Update replaces both rating blocks and the creation timestamp while
// preserving the identifier and image reference. Concurrent updates to the
// same watermelon are serialized on its identifier.
func (s *Service) Update(ctx context.Context, melonID string, update WatermelonUpdate) (Watermelon, error) {
	s.locks.Lock(melonID)
	defer s.locks.Unlock(melonID)

	existing, err := s.get(ctx, opUpdate, melonID)
	if err != nil {
		return Watermelon{}, err
	}

	existing.Rachy = update.Rachy
	existing.Davey = update.Davey
	existing.CreatedAt = update.CreatedAt
	if err := s.put(ctx, existing); err != nil {
		s.logError(opUpdate, "write_failed", err, zap.String("watermelon_id", melonID))
		return Watermelon{}, newServiceError(opUpdate, "write_failed", err)
	}
	return existing, nil
}

// Delete removes the watermelon record and then its stored image. Image
// removal failures are logged and otherwise ignored so a flaky image backend
// cannot strand the record.
func (s *Service) Delete(ctx context.Context, melonID string) error {
	s.locks.Lock(melonID)
	defer s.locks.Unlock(melonID)

	existing, err := s.get(ctx, opDelete, melonID)
	if err != nil {
		return err
	}

	if err := s.records.Delete(ctx, melonID); err != nil {
		s.logError(opDelete, "delete_failed", err, zap.String("watermelon_id", melonID))
		return newServiceError(opDelete, "delete_failed", err)
	}
	s.discardImage(ctx, existing.Src)
	return nil
}

func (s *Service) get(ctx context.Context, operation, melonID string) (Watermelon, error) {
	envelope, err := s.records.Get(ctx, melonID)
	if errors.Is(err, records.ErrNotFound) {
		return Watermelon{}, newServiceError(operation, "not_found", err)
	}
	if err != nil {
		s.logError(operation, "read_failed", err, zap.String("watermelon_id", melonID))
		return Watermelon{}, newServiceError(operation, "read_failed", err)
	}

	var melon Watermelon
	if err := json.Unmarshal(envelope.Payload, &melon); err != nil {
		s.logError(operation, "record_decode_failed", err, zap.String("watermelon_id", melonID))
		return Watermelon{}, newServiceError(operation, "record_decode_failed", err)
	}
	return melon, nil
}

func (s *Service) put(ctx context.Context, melon Watermelon) error {
	payload, err := json.Marshal(melon)
	if err != nil {
		return err
	}
	return s.records.Put(ctx, melon.ID, payload)
}

func (s *Service) discardImage(ctx context.Context, reference string) {
	if reference == "" {
		return
	}
	if err := s.images.Delete(ctx, reference); err != nil {
		s.logger.Warn("watermelon image removal failed",
			zap.String("reference", reference),
			zap.Error(err))
	}
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("watermelons service error", attrs...)
}
