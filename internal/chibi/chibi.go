// Package chibi talks to the hosted generative models that turn polaroid
// photos into sticker artwork: a multimodal model designs the stickers, a
// text-to-image model renders them, and a local cutout pass makes the
// background transparent.
package chibi

import "context"

// GenerationTask describes one sticker to render.
type GenerationTask struct {
	CharacterDescription string `json:"character_description"`
	Action               string `json:"chibi_action"`
	GenerationPrompt     string `json:"generation_prompt"`
}

// Analysis is the outcome of inspecting an uploaded photo: a short title for
// the record plus one generation task per designed sticker.
type Analysis struct {
	Title string
	Tasks []GenerationTask
}

// Generator is the boundary to the hosted models. Callers treat total failure
// as non-fatal: records are still created without titles or stickers.
type Generator interface {
	Analyze(ctx context.Context, image []byte, contentType string) (Analysis, error)
	Render(ctx context.Context, prompt string) ([][]byte, error)
}
