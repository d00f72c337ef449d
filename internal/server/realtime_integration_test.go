package server

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/keepsake/internal/chibi"
	"github.com/MarcoPoloResearchLab/keepsake/internal/identity"
	"github.com/MarcoPoloResearchLab/keepsake/internal/imagestore"
	"github.com/MarcoPoloResearchLab/keepsake/internal/polaroids"
	"github.com/MarcoPoloResearchLab/keepsake/internal/records"
	"github.com/MarcoPoloResearchLab/keepsake/internal/watermelons"
	githubsqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestRealtimeStreamEmitsStickerUpdates(t *testing.T) {
	db, err := gorm.Open(githubsqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := db.AutoMigrate(&records.RecordRow{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	watermelonRecords, err := records.NewDatabaseStore(records.DatabaseStoreConfig{
		Database:   db,
		Collection: records.CollectionWatermelons,
	})
	if err != nil {
		t.Fatalf("failed to construct watermelon records: %v", err)
	}
	polaroidRecords, err := records.NewDatabaseStore(records.DatabaseStoreConfig{
		Database:   db,
		Collection: records.CollectionPolaroids,
	})
	if err != nil {
		t.Fatalf("failed to construct polaroid records: %v", err)
	}
	imageStore, err := imagestore.NewFilesystemStore(imagestore.FilesystemStoreConfig{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to construct image store: %v", err)
	}

	generator := &testGenerator{
		analysis: chibi.Analysis{
			Title: "Lake day",
			Tasks: []chibi.GenerationTask{{CharacterDescription: "a swimmer", GenerationPrompt: "render the swimmer"}},
		},
		renderImages: [][]byte{[]byte("sticker-image")},
	}
	dispatcher := NewRealtimeDispatcher()

	watermelonService, err := watermelons.NewService(watermelons.ServiceConfig{
		Records:    watermelonRecords,
		Images:     imageStore,
		IDProvider: identity.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to construct watermelons service: %v", err)
	}
	polaroidService, err := polaroids.NewService(polaroids.ServiceConfig{
		Records:    polaroidRecords,
		Images:     imageStore,
		Generator:  generator,
		Events:     dispatcher,
		IDProvider: identity.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to construct polaroids service: %v", err)
	}
	polaroidService.StartEnrichment(1)
	t.Cleanup(polaroidService.StopEnrichment)

	handler, err := NewHTTPHandler(Dependencies{
		Watermelons: watermelonService,
		Polaroids:   polaroidService,
		Realtime:    dispatcher,
		Logger:      zap.NewExample(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	streamRequest, err := http.NewRequest(http.MethodGet, server.URL+"/polaroids/events", http.NoBody)
	if err != nil {
		t.Fatalf("failed to construct stream request: %v", err)
	}
	streamResp, err := http.DefaultClient.Do(streamRequest)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() {
		_ = streamResp.Body.Close()
	})
	if streamResp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status: %d", streamResp.StatusCode)
	}
	if contentType := streamResp.Header.Get("Content-Type"); !strings.HasPrefix(contentType, "text/event-stream") {
		t.Fatalf("unexpected stream content type: %s", contentType)
	}

	streamReader := bufio.NewReader(streamResp.Body)

	createBody := fmt.Sprintf(`{"image_base64":%q}`, testDataURL("image/jpeg", "lake-photo"))
	createResp, err := http.Post(server.URL+"/polaroids", "application/json", strings.NewReader(createBody))
	if err != nil {
		t.Fatalf("create request failed: %v", err)
	}
	if createResp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected create status: %d", createResp.StatusCode)
	}
	var created struct {
		ID            string `json:"id"`
		StickerStatus string `json:"stickerStatus"`
	}
	if err := json.NewDecoder(createResp.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode create response: %v", err)
	}
	_ = createResp.Body.Close()
	if created.StickerStatus != "pending" {
		t.Fatalf("expected pending sticker status, got %s", created.StickerStatus)
	}

	type eventPayload struct {
		PolaroidID string `json:"polaroidId"`
		Status     string `json:"stickerStatus"`
	}

	currentEventType := ""
	deadline := time.After(5 * time.Second)
	type readResult struct {
		line string
		err  error
	}
	for {
		resultCh := make(chan readResult, 1)
		go func() {
			line, err := streamReader.ReadString('\n')
			resultCh <- readResult{line: line, err: err}
		}()
		select {
		case <-deadline:
			t.Fatal("timed out waiting for sticker update event")
		case res := <-resultCh:
			if res.err != nil {
				t.Fatalf("failed to read stream: %v", res.err)
			}
			line := strings.TrimSpace(res.line)
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "event:") {
				currentEventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				continue
			}
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			if currentEventType != RealtimeEventStickerUpdate {
				continue
			}
			dataJSON := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			var payload eventPayload
			if err := json.Unmarshal([]byte(dataJSON), &payload); err != nil {
				t.Fatalf("failed to decode event payload: %v", err)
			}
			if payload.PolaroidID != created.ID {
				t.Fatalf("unexpected polaroid identifier: %s", payload.PolaroidID)
			}
			if payload.Status != string(polaroids.StickerStatusComplete) {
				t.Fatalf("expected complete status, got %s", payload.Status)
			}
			return
		}
	}
}
