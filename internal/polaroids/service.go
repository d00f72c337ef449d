// Package polaroids manages the polaroid collection: annotated photos that an
// asynchronous pipeline decorates with generated chibi stickers.
package polaroids

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/keepsake/internal/chibi"
	"github.com/MarcoPoloResearchLab/keepsake/internal/imagestore"
	"github.com/MarcoPoloResearchLab/keepsake/internal/records"
)

var (
	errMissingRecordStore = errors.New("record store is required")
	errMissingImageStore  = errors.New("image store is required")
	errMissingIDProvider  = errors.New("id provider is required")
	noOpLogger            = zap.NewNop()

	// ErrGeneratorUnavailable reports that sticker generation was requested
	// but no generator is configured.
	ErrGeneratorUnavailable = errors.New("sticker generator is not configured")
	// ErrGenerationFailed reports that the generator ran and produced nothing.
	ErrGenerationFailed = errors.New("sticker generation failed")
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
	opServiceNew = "polaroids.service.new"
	opList       = "polaroids.list"
	opCreate     = "polaroids.create"
	opUpdate     = "polaroids.update"
	opDelete     = "polaroids.delete"
	opRegenerate = "polaroids.regenerate_stickers"
	opEnrich     = "polaroids.enrich"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// EventPublisher broadcasts sticker lifecycle changes to connected clients.
type EventPublisher interface {
	PublishStickerUpdate(polaroidID string, status StickerStatus)
}

type ServiceConfig struct {
	Records    records.Store
	Images     imagestore.Store
	Generator  chibi.Generator
	Events     EventPublisher
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
	generator  chibi.Generator
	events     EventPublisher
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
	locks      *records.KeyedMutex
	enrichment *enrichmentPool
}

// NewService wires a polaroid service. Generator and Events are optional:
// without a generator every polaroid is created with sticker status none, and
// without a publisher lifecycle changes are simply not broadcast.
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
		generator:  cfg.Generator,
		events:     cfg.Events,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
		locks:      records.NewKeyedMutex(),
	}, nil
}

// List returns every polaroid in creation order, skipping records that no
// longer decode into the polaroid shape.
func (s *Service) List(ctx context.Context) ([]Polaroid, error) {
	envelopes, err := s.records.List(ctx)
	if err != nil {
		s.logError(opList, "read_failed", err)
		return nil, newServiceError(opList, "read_failed", err)
	}

	polaroids := make([]Polaroid, 0, len(envelopes))
	for _, envelope := range envelopes {
		var polaroid Polaroid
		if err := json.Unmarshal(envelope.Payload, &polaroid); err != nil {
			s.logger.Warn("skipping undecodable polaroid record",
				zap.String("record_id", envelope.ID),
				zap.Error(err))
			continue
		}
		polaroids = append(polaroids, normalized(polaroid))
	}
	return polaroids, nil
}

// Create decodes the uploaded data URL, stores the image, and persists a new
// polaroid. Unless analysis is skipped, the photo is sent to the generator for
// a title and sticker designs; sticker rendering then continues in the
// background while the created record is returned immediately. Analysis
// failures reduce to an untitled polaroid rather than failing the request.
func (s *Service) Create(ctx context.Context, imageBase64 string, skipAnalysis bool) (Polaroid, error) {
	decoded, err := imagestore.DecodePolaroidImage(imageBase64)
	if err != nil {
		s.logError(opCreate, "invalid_image", err)
		return Polaroid{}, newServiceError(opCreate, "invalid_image", err)
	}

	polaroidID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return Polaroid{}, newServiceError(opCreate, "id_generation_failed", err)
	}

	reference, err := s.images.Save(ctx, imagestore.CategoryPolaroids, decoded.Data, decoded.Extension, decoded.ContentType)
	if err != nil {
		s.logError(opCreate, "image_save_failed", err, zap.String("polaroid_id", polaroidID))
		return Polaroid{}, newServiceError(opCreate, "image_save_failed", err)
	}

	polaroid := Polaroid{
		ID:            polaroidID,
		Src:           reference,
		CreatedAt:     s.clock().UTC(),
		Stickers:      []Sticker{},
		StickerStatus: StickerStatusNone,
	}

	var tasks []chibi.GenerationTask
	if !skipAnalysis && s.generator != nil {
		analysis, analyzeErr := s.generator.Analyze(ctx, decoded.Data, decoded.ContentType)
		if analyzeErr != nil {
			s.logger.Warn("polaroid analysis failed",
				zap.String("polaroid_id", polaroidID),
				zap.Error(analyzeErr))
		} else {
			polaroid.Description = analysis.Title
			tasks = analysis.Tasks
		}
	}
	if len(tasks) > 0 && s.enrichmentActive() {
		polaroid.StickerStatus = StickerStatusPending
	}

	if err := s.put(ctx, polaroid); err != nil {
		s.logError(opCreate, "write_failed", err, zap.String("polaroid_id", polaroidID))
		s.discardImage(ctx, reference)
		return Polaroid{}, newServiceError(opCreate, "write_failed", err)
	}

	if polaroid.StickerStatus == StickerStatusPending && !s.enqueueEnrichment(polaroidID, tasks) {
		polaroid.StickerStatus = StickerStatusFailed
		if err := s.put(ctx, polaroid); err != nil {
			s.logError(opCreate, "write_failed", err, zap.String("polaroid_id", polaroidID))
		}
	}
	return polaroid, nil
}

// Update replaces the annotation fields and sticker arrangement while
// preserving the identifier, image reference, and sticker status. Sticker
// images dropped by the new arrangement are deleted after the record persists.
// Concurrent updates to the same polaroid are serialized on its identifier.
func (s *Service) Update(ctx context.Context, polaroidID string, update PolaroidUpdate) (Polaroid, error) {
	s.locks.Lock(polaroidID)
	defer s.locks.Unlock(polaroidID)

	existing, err := s.get(ctx, opUpdate, polaroidID)
	if err != nil {
		return Polaroid{}, err
	}

	replacement := update.Stickers
	if replacement == nil {
		replacement = []Sticker{}
	}
	removed := removedStickers(existing.Stickers, replacement)

	existing.CreatedAt = update.CreatedAt
	existing.Description = update.Description
	existing.DiaryEntry = update.DiaryEntry
	existing.Stickers = replacement
	if err := s.put(ctx, existing); err != nil {
		s.logError(opUpdate, "write_failed", err, zap.String("polaroid_id", polaroidID))
		return Polaroid{}, newServiceError(opUpdate, "write_failed", err)
	}

	s.discardStickerImages(ctx, removed)
	return existing, nil
}

// Delete cancels any running sticker generation, removes the polaroid record,
// and then deletes the stored photo and every sticker image. Image removal
// failures are logged and otherwise ignored.
func (s *Service) Delete(ctx context.Context, polaroidID string) error {
	s.locks.Lock(polaroidID)
	defer s.locks.Unlock(polaroidID)

	existing, err := s.get(ctx, opDelete, polaroidID)
	if err != nil {
		return err
	}

	s.cancelEnrichment(polaroidID)
	if err := s.records.Delete(ctx, polaroidID); err != nil {
		s.logError(opDelete, "delete_failed", err, zap.String("polaroid_id", polaroidID))
		return newServiceError(opDelete, "delete_failed", err)
	}

	s.discardImage(ctx, existing.Src)
	s.discardStickerImages(ctx, existing.Stickers)
	return nil
}

// RegenerateStickers re-runs analysis on the stored photo and replaces the
// sticker set wholesale, synchronously. The previous stickers' images are
// deleted once the new arrangement persists.
func (s *Service) RegenerateStickers(ctx context.Context, polaroidID string) (Polaroid, error) {
	if s.generator == nil {
		s.logError(opRegenerate, "generator_unavailable", ErrGeneratorUnavailable, zap.String("polaroid_id", polaroidID))
		return Polaroid{}, newServiceError(opRegenerate, "generator_unavailable", ErrGeneratorUnavailable)
	}

	s.locks.Lock(polaroidID)
	defer s.locks.Unlock(polaroidID)

	existing, err := s.get(ctx, opRegenerate, polaroidID)
	if err != nil {
		return Polaroid{}, err
	}

	imageBytes, err := s.images.Fetch(ctx, existing.Src)
	if err != nil {
		s.logError(opRegenerate, "image_fetch_failed", err, zap.String("polaroid_id", polaroidID))
		return Polaroid{}, newServiceError(opRegenerate, "image_fetch_failed", err)
	}

	analysis, err := s.generator.Analyze(ctx, imageBytes, contentTypeForReference(existing.Src))
	if err != nil {
		s.logError(opRegenerate, "analysis_failed", err, zap.String("polaroid_id", polaroidID))
		return Polaroid{}, newServiceError(opRegenerate, "analysis_failed", fmt.Errorf("%w: %v", ErrGenerationFailed, err))
	}

	previous := existing.Stickers
	if len(analysis.Tasks) == 0 {
		existing.Stickers = []Sticker{}
		existing.StickerStatus = StickerStatusNone
	} else {
		stickers := s.renderStickers(ctx, polaroidID, analysis.Tasks)
		if len(stickers) == 0 {
			existing.StickerStatus = StickerStatusFailed
			if putErr := s.put(ctx, existing); putErr != nil {
				s.logError(opRegenerate, "write_failed", putErr, zap.String("polaroid_id", polaroidID))
			}
			s.publishStickerUpdate(polaroidID, StickerStatusFailed)
			return Polaroid{}, newServiceError(opRegenerate, "render_failed", ErrGenerationFailed)
		}
		existing.Stickers = stickers
		existing.StickerStatus = StickerStatusComplete
	}

	if err := s.put(ctx, existing); err != nil {
		s.logError(opRegenerate, "write_failed", err, zap.String("polaroid_id", polaroidID))
		s.discardStickerImages(ctx, stickersNotIn(existing.Stickers, previous))
		return Polaroid{}, newServiceError(opRegenerate, "write_failed", err)
	}

	s.discardStickerImages(ctx, stickersNotIn(previous, existing.Stickers))
	s.publishStickerUpdate(polaroidID, existing.StickerStatus)
	return existing, nil
}

func (s *Service) get(ctx context.Context, operation, polaroidID string) (Polaroid, error) {
	envelope, err := s.records.Get(ctx, polaroidID)
	if errors.Is(err, records.ErrNotFound) {
		return Polaroid{}, newServiceError(operation, "not_found", err)
	}
	if err != nil {
		s.logError(operation, "read_failed", err, zap.String("polaroid_id", polaroidID))
		return Polaroid{}, newServiceError(operation, "read_failed", err)
	}

	var polaroid Polaroid
	if err := json.Unmarshal(envelope.Payload, &polaroid); err != nil {
		s.logError(operation, "record_decode_failed", err, zap.String("polaroid_id", polaroidID))
		return Polaroid{}, newServiceError(operation, "record_decode_failed", err)
	}
	return normalized(polaroid), nil
}

func (s *Service) put(ctx context.Context, polaroid Polaroid) error {
	payload, err := json.Marshal(normalized(polaroid))
	if err != nil {
		return err
	}
	return s.records.Put(ctx, polaroid.ID, payload)
}

// normalized keeps the wire shape stable: stickers marshal as an empty array,
// never null, and an unset status reads as none.
func normalized(polaroid Polaroid) Polaroid {
	if polaroid.Stickers == nil {
		polaroid.Stickers = []Sticker{}
	}
	if polaroid.StickerStatus == "" {
		polaroid.StickerStatus = StickerStatusNone
	}
	return polaroid
}

// removedStickers returns the stickers whose image references disappear when
// replacement supersedes current.
func removedStickers(current, replacement []Sticker) []Sticker {
	kept := make(map[string]struct{}, len(replacement))
	for _, sticker := range replacement {
		kept[sticker.Src] = struct{}{}
	}
	var removed []Sticker
	for _, sticker := range current {
		if _, ok := kept[sticker.Src]; !ok {
			removed = append(removed, sticker)
		}
	}
	return removed
}

// stickersNotIn returns the stickers from candidates whose references do not
// appear in reference.
func stickersNotIn(candidates, reference []Sticker) []Sticker {
	return removedStickers(candidates, reference)
}

func (s *Service) discardImage(ctx context.Context, reference string) {
	if reference == "" {
		return
	}
	if err := s.images.Delete(ctx, reference); err != nil {
		s.logger.Warn("polaroid image removal failed",
			zap.String("reference", reference),
			zap.Error(err))
	}
}

func (s *Service) discardStickerImages(ctx context.Context, stickers []Sticker) {
	for _, sticker := range stickers {
		s.discardImage(ctx, sticker.Src)
	}
}

func (s *Service) publishStickerUpdate(polaroidID string, status StickerStatus) {
	if s.events == nil {
		return
	}
	s.events.PublishStickerUpdate(polaroidID, status)
}

// contentTypeForReference infers the media type of a stored photo from its
// reference suffix, defaulting to JPEG the way the uploads themselves do.
func contentTypeForReference(reference string) string {
	switch strings.ToLower(path.Ext(reference)) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
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
	s.logger.Error("polaroids service error", attrs...)
}
