package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/MarcoPoloResearchLab/keepsake/internal/identity"
	"github.com/MarcoPoloResearchLab/keepsake/internal/imagestore"
	"github.com/MarcoPoloResearchLab/keepsake/internal/records"
	"github.com/MarcoPoloResearchLab/keepsake/internal/watermelons"
)

type watermelonPayload struct {
	ID        string `json:"id"`
	Src       string `json:"src"`
	CreatedAt string `json:"createdAt"`
	Rachy     struct {
		Texture   int `json:"texture"`
		Juiciness int `json:"juiciness"`
		Sweetness int `json:"sweetness"`
	} `json:"rachy"`
	Davey struct {
		Texture   int `json:"texture"`
		Juiciness int `json:"juiciness"`
		Sweetness int `json:"sweetness"`
	} `json:"davey"`
}

func TestWatermelonLifecycle(testContext *testing.T) {
	fx := newServerFixture(testContext, nil)

	createBody := fmt.Sprintf(`{"image_base64":%q}`, testDataURL("image/png", "melon-photo"))
	created := fx.do(testContext, http.MethodPost, "/watermelons", createBody)
	if created.Code != http.StatusCreated {
		testContext.Fatalf("expected created status, got %d: %s", created.Code, created.Body.String())
	}
	var melon watermelonPayload
	if err := json.Unmarshal(created.Body.Bytes(), &melon); err != nil {
		testContext.Fatalf("failed to decode response: %v", err)
	}
	if melon.ID == "" || melon.Src == "" || melon.CreatedAt == "" {
		testContext.Fatalf("incomplete watermelon payload: %s", created.Body.String())
	}
	if melon.Rachy.Texture != 50 || melon.Davey.Sweetness != 50 {
		testContext.Fatalf("expected midpoint ratings, got %s", created.Body.String())
	}

	served := fx.do(testContext, http.MethodGet, melon.Src, "")
	if served.Code != http.StatusOK || served.Body.String() != "melon-photo" {
		testContext.Fatalf("expected stored image to be served, got %d", served.Code)
	}

	updateBody := fmt.Sprintf(`{"rachy":{"texture":90,"juiciness":80,"sweetness":70},"davey":{"texture":10},"createdAt":%q}`, melon.CreatedAt)
	updated := fx.do(testContext, http.MethodPut, "/watermelons/"+melon.ID, updateBody)
	if updated.Code != http.StatusOK {
		testContext.Fatalf("expected ok status, got %d: %s", updated.Code, updated.Body.String())
	}
	var revised watermelonPayload
	if err := json.Unmarshal(updated.Body.Bytes(), &revised); err != nil {
		testContext.Fatalf("failed to decode response: %v", err)
	}
	if revised.ID != melon.ID || revised.Src != melon.Src {
		testContext.Fatalf("update must preserve identity, got %s", updated.Body.String())
	}
	if revised.Rachy.Texture != 90 || revised.Davey.Texture != 10 {
		testContext.Fatalf("unexpected ratings after update: %s", updated.Body.String())
	}
	if revised.Davey.Juiciness != 50 {
		testContext.Fatalf("omitted scores should fall back to the midpoint, got %s", updated.Body.String())
	}

	listed := fx.do(testContext, http.MethodGet, "/watermelons", "")
	if listed.Code != http.StatusOK {
		testContext.Fatalf("expected ok status, got %d", listed.Code)
	}
	var melons []watermelonPayload
	if err := json.Unmarshal(listed.Body.Bytes(), &melons); err != nil {
		testContext.Fatalf("failed to decode listing: %v", err)
	}
	if len(melons) != 1 || melons[0].ID != melon.ID {
		testContext.Fatalf("unexpected listing: %s", listed.Body.String())
	}

	deleted := fx.do(testContext, http.MethodDelete, "/watermelons/"+melon.ID, "")
	if deleted.Code != http.StatusNoContent {
		testContext.Fatalf("expected no content status, got %d", deleted.Code)
	}
	emptied := fx.do(testContext, http.MethodGet, "/watermelons", "")
	if emptied.Body.String() != "[]" {
		testContext.Fatalf("expected empty listing, got %s", emptied.Body.String())
	}
}

func TestWatermelonValidationFailures(testContext *testing.T) {
	fx := newServerFixture(testContext, nil)

	testCases := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantError  string
	}{
		{
			name:       "create-missing-image",
			method:     http.MethodPost,
			path:       "/watermelons",
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid_request",
		},
		{
			name:       "create-malformed-data-url",
			method:     http.MethodPost,
			path:       "/watermelons",
			body:       `{"image_base64":"plain text"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid_image",
		},
		{
			name:       "create-unsupported-format",
			method:     http.MethodPost,
			path:       "/watermelons",
			body:       fmt.Sprintf(`{"image_base64":%q}`, testDataURL("image/webp", "payload")),
			wantStatus: http.StatusBadRequest,
			wantError:  "unsupported_image_format",
		},
		{
			name:       "update-missing-ratings",
			method:     http.MethodPut,
			path:       "/watermelons/some-id",
			body:       `{"createdAt":"2024-05-01T10:00:00Z"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid_request",
		},
		{
			name:       "update-unknown-id",
			method:     http.MethodPut,
			path:       "/watermelons/missing-id",
			body:       `{"rachy":{},"davey":{},"createdAt":"2024-05-01T10:00:00Z"}`,
			wantStatus: http.StatusNotFound,
			wantError:  "not_found",
		},
		{
			name:       "delete-unknown-id",
			method:     http.MethodDelete,
			path:       "/watermelons/missing-id",
			body:       "",
			wantStatus: http.StatusNotFound,
			wantError:  "not_found",
		},
	}

	for _, testCase := range testCases {
		testContext.Run(testCase.name, func(testContext *testing.T) {
			recorder := fx.do(testContext, testCase.method, testCase.path, testCase.body)
			if recorder.Code != testCase.wantStatus {
				testContext.Fatalf("unexpected status: got %d want %d (%s)", recorder.Code, testCase.wantStatus, recorder.Body.String())
			}
			var payload map[string]any
			if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
				testContext.Fatalf("failed to decode payload: %v", err)
			}
			if payload["error"] != testCase.wantError {
				testContext.Fatalf("expected error %s, got %v", testCase.wantError, payload["error"])
			}
		})
	}
}

func TestWatermelonRoutesReportUnconfiguredStorage(testContext *testing.T) {
	watermelonService, err := watermelons.NewService(watermelons.ServiceConfig{
		Records:    records.NewDisabledStore(),
		Images:     imagestore.NewDisabledStore(),
		IDProvider: identity.NewUUIDProvider(),
	})
	if err != nil {
		testContext.Fatalf("failed to construct watermelons service: %v", err)
	}

	fx := newServerFixture(testContext, nil)
	handler, err := NewHTTPHandler(Dependencies{
		Watermelons: watermelonService,
		Polaroids:   fx.polaroids,
	})
	if err != nil {
		testContext.Fatalf("failed to construct http handler: %v", err)
	}
	fx.handler = handler

	recorder := fx.do(testContext, http.MethodGet, "/watermelons", "")
	if recorder.Code != http.StatusServiceUnavailable {
		testContext.Fatalf("expected service unavailable status, got %d", recorder.Code)
	}
	expected := `{"error":"storage_unavailable"}`
	if recorder.Body.String() != expected {
		testContext.Fatalf("unexpected response body: %s", recorder.Body.String())
	}
}
