package polaroids

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MarcoPoloResearchLab/keepsake/internal/chibi"
	"github.com/MarcoPoloResearchLab/keepsake/internal/imagestore"
	"github.com/MarcoPoloResearchLab/keepsake/internal/records"
)

const (
	// enrichmentQueueCapacity bounds how many polaroids may wait for sticker
	// generation. Requests beyond it degrade to a failed status instead of
	// blocking the create call.
	enrichmentQueueCapacity = 32
	// renderConcurrency caps parallel model calls within one job.
	renderConcurrency = 2
)

type enrichmentJob struct {
	polaroidID string
	tasks      []chibi.GenerationTask
}

type enrichmentPool struct {
	jobs      chan enrichmentJob
	wg        sync.WaitGroup
	baseCtx   context.Context
	cancelAll context.CancelFunc

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	stopped bool
}

func (pool *enrichmentPool) track(polaroidID string, cancel context.CancelFunc) {
	pool.mu.Lock()
	pool.cancels[polaroidID] = cancel
	pool.mu.Unlock()
}

func (pool *enrichmentPool) untrack(polaroidID string) {
	pool.mu.Lock()
	delete(pool.cancels, polaroidID)
	pool.mu.Unlock()
}

// StartEnrichment launches the background sticker workers. It is a no-op when
// no generator is configured or the workers are already running.
func (s *Service) StartEnrichment(workers int) {
	if s.generator == nil || s.enrichment != nil {
		return
	}
	if workers < 1 {
		workers = 1
	}

	baseCtx, cancelAll := context.WithCancel(context.Background())
	pool := &enrichmentPool{
		jobs:      make(chan enrichmentJob, enrichmentQueueCapacity),
		baseCtx:   baseCtx,
		cancelAll: cancelAll,
		cancels:   make(map[string]context.CancelFunc),
	}
	s.enrichment = pool
	for i := 0; i < workers; i++ {
		pool.wg.Add(1)
		go s.enrichmentWorker(pool)
	}
	s.logger.Info("sticker enrichment workers started", zap.Int("workers", workers))
}

// StopEnrichment cancels running jobs and waits for the workers to drain.
func (s *Service) StopEnrichment() {
	pool := s.enrichment
	if pool == nil {
		return
	}
	pool.mu.Lock()
	if pool.stopped {
		pool.mu.Unlock()
		return
	}
	pool.stopped = true
	pool.mu.Unlock()

	pool.cancelAll()
	close(pool.jobs)
	pool.wg.Wait()
	s.logger.Info("sticker enrichment workers stopped")
}

func (s *Service) enrichmentActive() bool {
	pool := s.enrichment
	if pool == nil {
		return false
	}
	pool.mu.Lock()
	defer pool.mu.Unlock()
	return !pool.stopped
}

// enqueueEnrichment hands a rendering job to the workers without blocking.
// The stopped check and the send share the pool mutex so a job can never race
// the queue closing.
func (s *Service) enqueueEnrichment(polaroidID string, tasks []chibi.GenerationTask) bool {
	pool := s.enrichment
	if pool == nil || len(tasks) == 0 {
		return false
	}
	pool.mu.Lock()
	defer pool.mu.Unlock()
	if pool.stopped {
		return false
	}
	select {
	case pool.jobs <- enrichmentJob{polaroidID: polaroidID, tasks: tasks}:
		return true
	default:
		s.logger.Warn("sticker generation queue is full", zap.String("polaroid_id", polaroidID))
		return false
	}
}

// cancelEnrichment aborts the running job for one polaroid, if any. Queued
// jobs that have not started yet notice the deletion on their own.
func (s *Service) cancelEnrichment(polaroidID string) {
	pool := s.enrichment
	if pool == nil {
		return
	}
	pool.mu.Lock()
	cancel, ok := pool.cancels[polaroidID]
	pool.mu.Unlock()
	if ok {
		cancel()
	}
}

func (s *Service) enrichmentWorker(pool *enrichmentPool) {
	defer pool.wg.Done()
	for job := range pool.jobs {
		jobCtx, cancel := context.WithCancel(pool.baseCtx)
		pool.track(job.polaroidID, cancel)
		s.runEnrichment(jobCtx, job)
		pool.untrack(job.polaroidID)
		cancel()
	}
}

// runEnrichment renders the stickers for one polaroid and attaches them. The
// final bookkeeping happens under the record lock with a fresh read, so a
// polaroid deleted mid-render keeps none of the generated images.
func (s *Service) runEnrichment(ctx context.Context, job enrichmentJob) {
	if _, err := s.records.Get(ctx, job.polaroidID); errors.Is(err, records.ErrNotFound) {
		s.logger.Info("skipping sticker generation for deleted polaroid",
			zap.String("polaroid_id", job.polaroidID))
		return
	}

	stickers := s.renderStickers(ctx, job.polaroidID, job.tasks)

	finalizeCtx := context.WithoutCancel(ctx)
	s.locks.Lock(job.polaroidID)
	defer s.locks.Unlock(job.polaroidID)

	existing, err := s.get(finalizeCtx, opEnrich, job.polaroidID)
	if err != nil {
		s.discardStickerImages(finalizeCtx, stickers)
		return
	}

	status := StickerStatusComplete
	if len(stickers) == 0 {
		status = StickerStatusFailed
	}
	existing.Stickers = append(existing.Stickers, stickers...)
	existing.StickerStatus = status
	if err := s.put(finalizeCtx, existing); err != nil {
		s.logError(opEnrich, "write_failed", err, zap.String("polaroid_id", job.polaroidID))
		s.discardStickerImages(finalizeCtx, stickers)
		return
	}
	s.publishStickerUpdate(job.polaroidID, status)
}

// renderStickers runs one model call per task and stores every returned
// image. Individual task failures are logged and skipped; only cancellation
// stops the whole batch.
func (s *Service) renderStickers(ctx context.Context, polaroidID string, tasks []chibi.GenerationTask) []Sticker {
	results := make([][]Sticker, len(tasks))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(renderConcurrency)
	for index, task := range tasks {
		group.Go(func() error {
			images, err := s.generator.Render(groupCtx, task.GenerationPrompt)
			if err != nil {
				if groupCtx.Err() != nil {
					return groupCtx.Err()
				}
				s.logger.Warn("sticker render failed",
					zap.String("polaroid_id", polaroidID),
					zap.String("character", task.CharacterDescription),
					zap.Error(err))
				return nil
			}

			stickers := make([]Sticker, 0, len(images))
			for _, imageBytes := range images {
				stickerID, idErr := s.idProvider.NewID()
				if idErr != nil {
					s.logger.Warn("sticker id generation failed",
						zap.String("polaroid_id", polaroidID),
						zap.Error(idErr))
					continue
				}
				reference, saveErr := s.images.Save(groupCtx, imagestore.CategoryStickers, imageBytes, "png", "image/png")
				if saveErr != nil {
					s.logger.Warn("sticker image save failed",
						zap.String("polaroid_id", polaroidID),
						zap.Error(saveErr))
					continue
				}
				stickers = append(stickers, Sticker{ID: stickerID, Src: reference, Scale: 1})
			}
			results[index] = stickers
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		s.logger.Info("sticker rendering interrupted",
			zap.String("polaroid_id", polaroidID),
			zap.Error(err))
	}

	var flattened []Sticker
	for _, stickers := range results {
		flattened = append(flattened, stickers...)
	}
	return flattened
}
