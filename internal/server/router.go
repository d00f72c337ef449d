package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/keepsake/internal/imagestore"
	"github.com/MarcoPoloResearchLab/keepsake/internal/polaroids"
	"github.com/MarcoPoloResearchLab/keepsake/internal/records"
	"github.com/MarcoPoloResearchLab/keepsake/internal/watermelons"
)

var (
	errMissingWatermelonService = errors.New("watermelon service dependency required")
	errMissingPolaroidService   = errors.New("polaroid service dependency required")
)

type Dependencies struct {
	Watermelons *watermelons.Service
	Polaroids   *polaroids.Service
	Realtime    *RealtimeDispatcher
	Logger      *zap.Logger

	// ImagesDir, when set, is served under /images/ for the filesystem
	// image backend. Object storage backends serve images themselves.
	ImagesDir string

	// StorageBackend names the active record backend for the health endpoint.
	StorageBackend string
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Watermelons == nil {
		return nil, errMissingWatermelonService
	}
	if deps.Polaroids == nil {
		return nil, errMissingPolaroidService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		watermelons:    deps.Watermelons,
		polaroids:      deps.Polaroids,
		realtime:       deps.Realtime,
		logger:         logger,
		storageBackend: deps.StorageBackend,
	}

	router.GET("/healthz", handler.handleHealth)

	router.GET("/watermelons", handler.handleListWatermelons)
	router.POST("/watermelons", handler.handleCreateWatermelon)
	router.PUT("/watermelons/:id", handler.handleUpdateWatermelon)
	router.DELETE("/watermelons/:id", handler.handleDeleteWatermelon)

	router.GET("/polaroids", handler.handleListPolaroids)
	router.POST("/polaroids", handler.handleCreatePolaroid)
	router.PUT("/polaroids/:id", handler.handleUpdatePolaroid)
	router.DELETE("/polaroids/:id", handler.handleDeletePolaroid)
	router.POST("/polaroids/:id/stickers", handler.handleRegenerateStickers)
	if deps.Realtime != nil {
		router.GET("/polaroids/events", handler.handlePolaroidEvents)
	}

	if deps.ImagesDir != "" {
		router.Static("/images", deps.ImagesDir)
	}

	return router, nil
}

type httpHandler struct {
	watermelons    *watermelons.Service
	polaroids      *polaroids.Service
	realtime       *RealtimeDispatcher
	logger         *zap.Logger
	storageBackend string
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "backend": h.storageBackend})
}

type createWatermelonRequest struct {
	ImageBase64 string `json:"image_base64"`
}

// ratingsPayload keeps the upload contract lenient: omitted scores fall back
// to the midpoint instead of zero.
type ratingsPayload struct {
	Texture   *int `json:"texture"`
	Juiciness *int `json:"juiciness"`
	Sweetness *int `json:"sweetness"`
}

func (p *ratingsPayload) toRatings() watermelons.Ratings {
	ratings := watermelons.DefaultRatings()
	if p.Texture != nil {
		ratings.Texture = *p.Texture
	}
	if p.Juiciness != nil {
		ratings.Juiciness = *p.Juiciness
	}
	if p.Sweetness != nil {
		ratings.Sweetness = *p.Sweetness
	}
	return ratings
}

type updateWatermelonRequest struct {
	Rachy     *ratingsPayload `json:"rachy"`
	Davey     *ratingsPayload `json:"davey"`
	CreatedAt time.Time       `json:"createdAt"`
}

func (h *httpHandler) handleListWatermelons(c *gin.Context) {
	melons, err := h.watermelons.List(c.Request.Context())
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, melons)
}

func (h *httpHandler) handleCreateWatermelon(c *gin.Context) {
	var request createWatermelonRequest
	if err := c.ShouldBindJSON(&request); err != nil || request.ImageBase64 == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	melon, err := h.watermelons.Create(c.Request.Context(), request.ImageBase64)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, melon)
}

func (h *httpHandler) handleUpdateWatermelon(c *gin.Context) {
	var request updateWatermelonRequest
	if err := c.ShouldBindJSON(&request); err != nil || request.Rachy == nil || request.Davey == nil || request.CreatedAt.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	melon, err := h.watermelons.Update(c.Request.Context(), c.Param("id"), watermelons.WatermelonUpdate{
		Rachy:     request.Rachy.toRatings(),
		Davey:     request.Davey.toRatings(),
		CreatedAt: request.CreatedAt,
	})
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, melon)
}

func (h *httpHandler) handleDeleteWatermelon(c *gin.Context) {
	if err := h.watermelons.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type createPolaroidRequest struct {
	ImageBase64 string `json:"image_base64"`
	SkipAI      bool   `json:"skip_ai"`
}

type stickerPayload struct {
	ID       string  `json:"id"`
	Src      string  `json:"src"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Rotation float64 `json:"rotation"`
	Scale    float64 `json:"scale"`
	OnBack   bool    `json:"onBack"`
}

type updatePolaroidRequest struct {
	CreatedAt   time.Time        `json:"createdAt"`
	Description string           `json:"description"`
	DiaryEntry  string           `json:"diary_entry"`
	Stickers    []stickerPayload `json:"stickers"`
}

func (h *httpHandler) handleListPolaroids(c *gin.Context) {
	listed, err := h.polaroids.List(c.Request.Context())
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, listed)
}

func (h *httpHandler) handleCreatePolaroid(c *gin.Context) {
	var request createPolaroidRequest
	if err := c.ShouldBindJSON(&request); err != nil || request.ImageBase64 == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	polaroid, err := h.polaroids.Create(c.Request.Context(), request.ImageBase64, request.SkipAI)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, polaroid)
}

func (h *httpHandler) handleUpdatePolaroid(c *gin.Context) {
	var request updatePolaroidRequest
	if err := c.ShouldBindJSON(&request); err != nil || request.CreatedAt.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	stickers := make([]polaroids.Sticker, 0, len(request.Stickers))
	for _, sticker := range request.Stickers {
		stickers = append(stickers, polaroids.Sticker{
			ID:       sticker.ID,
			Src:      sticker.Src,
			X:        sticker.X,
			Y:        sticker.Y,
			Rotation: sticker.Rotation,
			Scale:    sticker.Scale,
			OnBack:   sticker.OnBack,
		})
	}

	polaroid, err := h.polaroids.Update(c.Request.Context(), c.Param("id"), polaroids.PolaroidUpdate{
		CreatedAt:   request.CreatedAt,
		Description: request.Description,
		DiaryEntry:  request.DiaryEntry,
		Stickers:    stickers,
	})
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, polaroid)
}

func (h *httpHandler) handleDeletePolaroid(c *gin.Context) {
	if err := h.polaroids.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleRegenerateStickers(c *gin.Context) {
	polaroid, err := h.polaroids.RegenerateStickers(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, polaroid)
}

func (h *httpHandler) handlePolaroidEvents(c *gin.Context) {
	stream, cancel := h.realtime.Subscribe(c.Request.Context())
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case message, ok := <-stream:
			if !ok {
				return
			}
			c.SSEvent(RealtimeEventStickerUpdate, message)
			c.Writer.Flush()
		case <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"timestamp": time.Now().UTC()})
			c.Writer.Flush()
		}
	}
}

// respondServiceError maps service failures onto the wire contract: client
// mistakes become 4xx codes, unconfigured backends 503, generator trouble
// 503 or 502, and everything else a 500 carrying the service error code.
func (h *httpHandler) respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, records.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, imagestore.ErrInvalidDataURL):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_image"})
	case errors.Is(err, imagestore.ErrUnsupportedFormat):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_image_format"})
	case errors.Is(err, records.ErrNotConfigured), errors.Is(err, imagestore.ErrNotConfigured):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage_unavailable"})
	case errors.Is(err, polaroids.ErrGeneratorUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "generation_unavailable"})
	case errors.Is(err, polaroids.ErrGenerationFailed):
		c.JSON(http.StatusBadGateway, gin.H{"error": "generation_failed"})
	default:
		h.logger.Error("request failed", zap.Error(err))
		response := gin.H{"error": "internal_error"}
		var coded interface{ Code() string }
		if errors.As(err, &coded) {
			response["code"] = coded.Code()
		}
		c.JSON(http.StatusInternalServerError, response)
	}
}
