package server

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/MarcoPoloResearchLab/keepsake/internal/chibi"
	"github.com/MarcoPoloResearchLab/keepsake/internal/identity"
	"github.com/MarcoPoloResearchLab/keepsake/internal/imagestore"
	"github.com/MarcoPoloResearchLab/keepsake/internal/polaroids"
	"github.com/MarcoPoloResearchLab/keepsake/internal/records"
	"github.com/MarcoPoloResearchLab/keepsake/internal/watermelons"
)

type serverFixture struct {
	handler     http.Handler
	watermelons *watermelons.Service
	polaroids   *polaroids.Service
	dispatcher  *RealtimeDispatcher
	root        string
}

func newServerFixture(testContext *testing.T, generator chibi.Generator) *serverFixture {
	testContext.Helper()
	gin.SetMode(gin.TestMode)

	root := testContext.TempDir()
	watermelonRecords, err := records.NewFilesystemStore(records.FilesystemStoreConfig{
		Directory: filepath.Join(root, "records", "watermelons"),
	})
	if err != nil {
		testContext.Fatalf("failed to construct watermelon record store: %v", err)
	}
	polaroidRecords, err := records.NewFilesystemStore(records.FilesystemStoreConfig{
		Directory: filepath.Join(root, "records", "polaroids"),
	})
	if err != nil {
		testContext.Fatalf("failed to construct polaroid record store: %v", err)
	}
	imageStore, err := imagestore.NewFilesystemStore(imagestore.FilesystemStoreConfig{
		Root: filepath.Join(root, "images"),
	})
	if err != nil {
		testContext.Fatalf("failed to construct image store: %v", err)
	}

	watermelonService, err := watermelons.NewService(watermelons.ServiceConfig{
		Records:    watermelonRecords,
		Images:     imageStore,
		IDProvider: identity.NewUUIDProvider(),
	})
	if err != nil {
		testContext.Fatalf("failed to construct watermelons service: %v", err)
	}

	dispatcher := NewRealtimeDispatcher()
	polaroidService, err := polaroids.NewService(polaroids.ServiceConfig{
		Records:    polaroidRecords,
		Images:     imageStore,
		Generator:  generator,
		Events:     dispatcher,
		IDProvider: identity.NewUUIDProvider(),
	})
	if err != nil {
		testContext.Fatalf("failed to construct polaroids service: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Watermelons:    watermelonService,
		Polaroids:      polaroidService,
		Realtime:       dispatcher,
		ImagesDir:      filepath.Join(root, "images"),
		StorageBackend: "fs",
	})
	if err != nil {
		testContext.Fatalf("failed to construct http handler: %v", err)
	}

	return &serverFixture{
		handler:     handler,
		watermelons: watermelonService,
		polaroids:   polaroidService,
		dispatcher:  dispatcher,
		root:        root,
	}
}

func (fx *serverFixture) do(testContext *testing.T, method, path, body string) *httptest.ResponseRecorder {
	testContext.Helper()
	request := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	fx.handler.ServeHTTP(recorder, request)
	return recorder
}

func testDataURL(contentType, payload string) string {
	return fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString([]byte(payload)))
}

// testGenerator satisfies chibi.Generator with canned responses.
type testGenerator struct {
	mu           sync.Mutex
	analysis     chibi.Analysis
	analyzeErr   error
	renderImages [][]byte
	renderErr    error
}

func (g *testGenerator) Analyze(ctx context.Context, image []byte, contentType string) (chibi.Analysis, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.analyzeErr != nil {
		return chibi.Analysis{}, g.analyzeErr
	}
	return g.analysis, nil
}

func (g *testGenerator) Render(ctx context.Context, prompt string) ([][]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.renderErr != nil {
		return nil, g.renderErr
	}
	return g.renderImages, nil
}
