package watermelons

import "time"

const defaultRating = 50

// Ratings scores one taster's impression on the implied 0-100 scale. The
// range is not enforced; the frontend owns it.
type Ratings struct {
	Texture   int `json:"texture"`
	Juiciness int `json:"juiciness"`
	Sweetness int `json:"sweetness"`
}

// DefaultRatings returns the midpoint scores assigned on creation.
func DefaultRatings() Ratings {
	return Ratings{Texture: defaultRating, Juiciness: defaultRating, Sweetness: defaultRating}
}

// Watermelon is one tasted watermelon with a rating block per taster. The
// persisted JSON shape is also the wire shape.
type Watermelon struct {
	ID        string    `json:"id"`
	Src       string    `json:"src"`
	CreatedAt time.Time `json:"createdAt"`
	Rachy     Ratings   `json:"rachy"`
	Davey     Ratings   `json:"davey"`
}

// WatermelonUpdate carries the client-replaceable fields. Src and ID are
// immutable after creation.
type WatermelonUpdate struct {
	Rachy     Ratings
	Davey     Ratings
	CreatedAt time.Time
}
