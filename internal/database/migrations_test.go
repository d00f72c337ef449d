package database

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/keepsake/internal/records"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsBackfillsStickerStatus(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&records.RecordRow{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	legacyPolaroid := records.RecordRow{
		Collection:       records.CollectionPolaroids,
		RecordID:         "polaroid-legacy",
		PayloadJSON:      `{"id":"polaroid-legacy","src":"/images/polaroids/legacy.png","createdAt":"2024-05-01T10:00:00Z","description":"Lake","stickers":[]}`,
		UpdatedAtSeconds: 1700000000,
	}
	trackedPolaroid := records.RecordRow{
		Collection:       records.CollectionPolaroids,
		RecordID:         "polaroid-tracked",
		PayloadJSON:      `{"id":"polaroid-tracked","src":"/images/polaroids/tracked.png","createdAt":"2024-06-01T10:00:00Z","stickers":[],"stickerStatus":"complete"}`,
		UpdatedAtSeconds: 1700000100,
	}
	watermelon := records.RecordRow{
		Collection:       records.CollectionWatermelons,
		RecordID:         "melon-1",
		PayloadJSON:      `{"id":"melon-1","src":"/images/watermelons/melon.png"}`,
		UpdatedAtSeconds: 1700000200,
	}
	for _, row := range []records.RecordRow{legacyPolaroid, trackedPolaroid, watermelon} {
		if err := database.Create(&row).Error; err != nil {
			testContext.Fatalf("failed to seed row %s: %v", row.RecordID, err)
		}
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	statusFor := func(collection, recordID string) string {
		var row records.RecordRow
		if err := database.Where("collection = ? AND record_id = ?", collection, recordID).Take(&row).Error; err != nil {
			testContext.Fatalf("failed to reload row %s: %v", recordID, err)
		}
		var payload map[string]any
		if err := json.Unmarshal([]byte(row.PayloadJSON), &payload); err != nil {
			testContext.Fatalf("failed to decode payload for %s: %v", recordID, err)
		}
		status, _ := payload["stickerStatus"].(string)
		return status
	}

	if status := statusFor(records.CollectionPolaroids, "polaroid-legacy"); status != "none" {
		testContext.Fatalf("expected backfilled status none, got %q", status)
	}
	if status := statusFor(records.CollectionPolaroids, "polaroid-tracked"); status != "complete" {
		testContext.Fatalf("expected tracked status to survive, got %q", status)
	}
	if status := statusFor(records.CollectionWatermelons, "melon-1"); status != "" {
		testContext.Fatalf("expected watermelon payload to stay untouched, got %q", status)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationBackfillStickerStatus).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("expected second run to skip applied migrations: %v", err)
	}
}

func TestOpenSQLitePreparesRecordSchema(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "keepsake.db")

	database, err := OpenSQLite(databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}

	row := records.RecordRow{
		Collection:       records.CollectionWatermelons,
		RecordID:         "melon-1",
		PayloadJSON:      `{"id":"melon-1"}`,
		UpdatedAtSeconds: 1700000000,
	}
	if err := database.Create(&row).Error; err != nil {
		testContext.Fatalf("expected record table to be ready: %v", err)
	}

	if _, err := OpenSQLite("", zap.NewNop()); err == nil {
		testContext.Fatalf("expected empty path to be rejected")
	}
}
