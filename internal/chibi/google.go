package chibi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

const (
	defaultBaseURL             = "https://generativelanguage.googleapis.com/v1beta"
	defaultAnalyzeModel        = "gemini-2.5-pro"
	defaultRenderModel         = "imagen-4.0-generate-001"
	defaultStickerMaxDimension = 512

	apiKeyHeader    = "x-goog-api-key"
	jsonContentType = "application/json"
)

var (
	errMissingAPIKey    = errors.New("api key is required")
	errEmptyAnalysis    = errors.New("analysis returned no candidates")
	errNoRenderedImages = errors.New("render returned no images")
)

// GoogleGeneratorConfig bundles configuration for the Generative Language API
// client. BaseURL and HTTPClient exist so tests can point the client at a
// local server.
type GoogleGeneratorConfig struct {
	APIKey              string
	BaseURL             string
	AnalyzeModel        string
	RenderModel         string
	StickerMaxDimension int
	HTTPClient          *http.Client
	Logger              *zap.Logger
}

// GoogleGenerator implements Generator over the Generative Language REST API:
// generateContent for analysis, predict (Imagen) for rendering.
type GoogleGenerator struct {
	apiKey       string
	baseURL      string
	analyzeModel string
	renderModel  string
	maxDimension int
	httpClient   *http.Client
	logger       *zap.Logger
}

// NewGoogleGenerator constructs a generator with validated configuration.
func NewGoogleGenerator(cfg GoogleGeneratorConfig) (*GoogleGenerator, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errMissingAPIKey
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	analyzeModel := cfg.AnalyzeModel
	if analyzeModel == "" {
		analyzeModel = defaultAnalyzeModel
	}
	renderModel := cfg.RenderModel
	if renderModel == "" {
		renderModel = defaultRenderModel
	}
	maxDimension := cfg.StickerMaxDimension
	if maxDimension <= 0 {
		maxDimension = defaultStickerMaxDimension
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &GoogleGenerator{
		apiKey:       apiKey,
		baseURL:      baseURL,
		analyzeModel: analyzeModel,
		renderModel:  renderModel,
		maxDimension: maxDimension,
		httpClient:   httpClient,
		logger:       logger,
	}, nil
}

type modelContent struct {
	Parts []contentPart `json:"parts"`
}

type contentPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generationConfig struct {
	ResponseMIMEType string          `json:"response_mime_type"`
	ResponseSchema   json.RawMessage `json:"response_schema,omitempty"`
}

type generateContentRequest struct {
	SystemInstruction *modelContent    `json:"system_instruction,omitempty"`
	Contents          []modelContent   `json:"contents"`
	GenerationConfig  generationConfig `json:"generation_config"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content modelContent `json:"content"`
	} `json:"candidates"`
}

// analysisPayload is the structured output requested from the analysis model.
type analysisPayload struct {
	ShortTitle string           `json:"short_title"`
	ChibiTasks []GenerationTask `json:"chibi_tasks"`
}

var analysisResponseSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"short_title": {"type": "string"},
		"chibi_tasks": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"character_description": {"type": "string"},
					"chibi_action": {"type": "string"},
					"generation_prompt": {"type": "string"}
				},
				"required": ["character_description", "chibi_action", "generation_prompt"]
			}
		}
	},
	"required": ["short_title", "chibi_tasks"]
}`)

// Analyze sends the photo to the multimodal model and returns the designed
// title and sticker tasks.
func (generator *GoogleGenerator) Analyze(ctx context.Context, image []byte, contentType string) (Analysis, error) {
	request := generateContentRequest{
		SystemInstruction: &modelContent{Parts: []contentPart{{Text: designerSystemPrompt}}},
		Contents: []modelContent{{
			Parts: []contentPart{{
				InlineData: &inlineData{
					MIMEType: contentType,
					Data:     base64.StdEncoding.EncodeToString(image),
				},
			}},
		}},
		GenerationConfig: generationConfig{
			ResponseMIMEType: jsonContentType,
			ResponseSchema:   analysisResponseSchema,
		},
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", generator.baseURL, generator.analyzeModel)
	var response generateContentResponse
	if err := generator.post(ctx, endpoint, request, &response); err != nil {
		return Analysis{}, fmt.Errorf("analysis request: %w", err)
	}
	if len(response.Candidates) == 0 {
		return Analysis{}, errEmptyAnalysis
	}

	var textBuilder strings.Builder
	for _, candidatePart := range response.Candidates[0].Content.Parts {
		textBuilder.WriteString(candidatePart.Text)
	}

	var payload analysisPayload
	if err := json.Unmarshal([]byte(textBuilder.String()), &payload); err != nil {
		return Analysis{}, fmt.Errorf("decode analysis payload: %w", err)
	}

	generator.logger.Debug("photo analysis complete",
		zap.String("title", payload.ShortTitle),
		zap.Int("tasks", len(payload.ChibiTasks)))
	return Analysis{Title: payload.ShortTitle, Tasks: payload.ChibiTasks}, nil
}

type predictRequest struct {
	Instances  []predictInstance `json:"instances"`
	Parameters predictParameters `json:"parameters"`
}

type predictInstance struct {
	Prompt string `json:"prompt"`
}

type predictParameters struct {
	SampleCount     int           `json:"sampleCount"`
	AspectRatio     string        `json:"aspectRatio"`
	SampleImageSize string        `json:"sampleImageSize"`
	OutputOptions   outputOptions `json:"outputOptions"`
}

type outputOptions struct {
	MIMEType string `json:"mimeType"`
}

type predictResponse struct {
	Predictions []struct {
		BytesBase64Encoded string `json:"bytesBase64Encoded"`
		MIMEType           string `json:"mimeType"`
	} `json:"predictions"`
}

// Render asks the image model for one square sticker image, then keys out its
// background and re-encodes it as PNG.
func (generator *GoogleGenerator) Render(ctx context.Context, prompt string) ([][]byte, error) {
	request := predictRequest{
		Instances: []predictInstance{{Prompt: prompt}},
		Parameters: predictParameters{
			SampleCount:     1,
			AspectRatio:     "1:1",
			SampleImageSize: "1K",
			OutputOptions:   outputOptions{MIMEType: "image/jpeg"},
		},
	}

	endpoint := fmt.Sprintf("%s/models/%s:predict", generator.baseURL, generator.renderModel)
	var response predictResponse
	if err := generator.post(ctx, endpoint, request, &response); err != nil {
		return nil, fmt.Errorf("render request: %w", err)
	}
	if len(response.Predictions) == 0 {
		return nil, errNoRenderedImages
	}

	stickers := make([][]byte, 0, len(response.Predictions))
	for _, prediction := range response.Predictions {
		rendered, decodeErr := base64.StdEncoding.DecodeString(prediction.BytesBase64Encoded)
		if decodeErr != nil {
			generator.logger.Warn("skipping undecodable rendered image", zap.Error(decodeErr))
			continue
		}
		sticker, cutErr := cutOut(rendered, generator.maxDimension)
		if cutErr != nil {
			generator.logger.Warn("skipping uncuttable rendered image", zap.Error(cutErr))
			continue
		}
		stickers = append(stickers, sticker)
	}
	if len(stickers) == 0 {
		return nil, errNoRenderedImages
	}
	return stickers, nil
}

func (generator *GoogleGenerator) post(ctx context.Context, endpoint string, requestBody any, responseBody any) error {
	encoded, marshalErr := json.Marshal(requestBody)
	if marshalErr != nil {
		return marshalErr
	}

	request, requestErr := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if requestErr != nil {
		return requestErr
	}
	request.Header.Set("Content-Type", jsonContentType)
	request.Header.Set(apiKeyHeader, generator.apiKey)

	response, doErr := generator.httpClient.Do(request)
	if doErr != nil {
		return doErr
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("model request returned status %d", response.StatusCode)
	}
	return json.NewDecoder(response.Body).Decode(responseBody)
}
