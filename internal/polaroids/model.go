package polaroids

import "time"

// StickerStatus reports where asynchronous sticker generation stands for a
// polaroid. Clients poll it or follow the event stream to refresh.
type StickerStatus string

const (
	// StickerStatusNone means no generation was requested or applicable.
	StickerStatusNone StickerStatus = "none"
	// StickerStatusPending means a generation job is queued or running.
	StickerStatusPending StickerStatus = "pending"
	// StickerStatusComplete means generated stickers are attached.
	StickerStatusComplete StickerStatus = "complete"
	// StickerStatusFailed means generation ran and produced nothing usable.
	StickerStatusFailed StickerStatus = "failed"
)

// Sticker is one decorative overlay owned by a polaroid. Placement fields are
// in the frontend's coordinate space and default to an unscaled, unrotated
// sticker at the origin.
type Sticker struct {
	ID       string  `json:"id"`
	Src      string  `json:"src"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Rotation float64 `json:"rotation"`
	Scale    float64 `json:"scale"`
	OnBack   bool    `json:"onBack"`
}

// Polaroid is one annotated photo. The persisted JSON shape is also the wire
// shape.
type Polaroid struct {
	ID            string        `json:"id"`
	Src           string        `json:"src"`
	CreatedAt     time.Time     `json:"createdAt"`
	Description   string        `json:"description"`
	DiaryEntry    string        `json:"diary_entry"`
	Stickers      []Sticker     `json:"stickers"`
	StickerStatus StickerStatus `json:"stickerStatus"`
}

// PolaroidUpdate carries the client-replaceable fields. The image reference,
// identifier, and sticker status are immutable through updates.
type PolaroidUpdate struct {
	CreatedAt   time.Time
	Description string
	DiaryEntry  string
	Stickers    []Sticker
}
