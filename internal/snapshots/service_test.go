package snapshots

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:bookworm_snapshots_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&UserSnapshot{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clock := func() time.Time { return time.UnixMilli(1700000600123).UTC() }
	service, err := NewService(ServiceConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to construct snapshots service: %v", err)
	}
	return service, db
}

func TestNewServiceRequiresDatabase(t *testing.T) {
	_, err := NewService(ServiceConfig{})
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("expected service error, got %v", err)
	}
	if serviceErr.Code() != "snapshots.service.new.missing_database" {
		t.Fatalf("unexpected code %s", serviceErr.Code())
	}
}

func TestFetchLatestReturnsNotFoundForNewUser(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.FetchLatest(context.Background(), "user-1")
	if !errors.Is(err, ErrSnapshotNotFound) {
		t.Fatalf("expected ErrSnapshotNotFound, got %v", err)
	}
}

func TestUpsertCreatesThenReplacesSingleRow(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()

	first, err := service.Upsert(ctx, Record{
		UserID:    "user-1",
		Snapshot:  json.RawMessage(`{"books":[]}`),
		UpdatedAt: time.UnixMilli(1700000000000).UTC(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Version != 1 {
		t.Fatalf("expected version 1, got %d", first.Version)
	}

	second, err := service.Upsert(ctx, Record{
		UserID:    "user-1",
		Snapshot:  json.RawMessage(`{"books":[{"id":"b1"}]}`),
		UpdatedAt: time.UnixMilli(1700000005000).UTC(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Version != 2 {
		t.Fatalf("expected version 2, got %d", second.Version)
	}

	var count int64
	if err := db.Model(&UserSnapshot{}).Where("user_id = ?", "user-1").Count(&count).Error; err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one row per user, got %d", count)
	}

	latest, err := service.FetchLatest(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected fetch error: %v", err)
	}
	if string(latest.Snapshot) != `{"books":[{"id":"b1"}]}` {
		t.Fatalf("unexpected snapshot %s", latest.Snapshot)
	}
	if !latest.UpdatedAt.Equal(time.UnixMilli(1700000005000)) {
		t.Fatalf("unexpected updated_at %v", latest.UpdatedAt)
	}
}

func TestUpsertScopesRowsByUser(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	for _, userID := range []string{"user-a", "user-b"} {
		payload := json.RawMessage(fmt.Sprintf(`{"owner":%q}`, userID))
		if _, err := service.Upsert(ctx, Record{UserID: userID, Snapshot: payload}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	record, err := service.FetchLatest(ctx, "user-b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(record.Snapshot) != `{"owner":"user-b"}` {
		t.Fatalf("expected user-b snapshot, got %s", record.Snapshot)
	}
}

func TestUpsertStampsMissingTimestampWithClock(t *testing.T) {
	service, _ := newTestService(t)

	record, err := service.Upsert(context.Background(), Record{UserID: "user-1", Snapshot: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.UpdatedAt.UnixMilli() != 1700000600123 {
		t.Fatalf("expected clock timestamp, got %d", record.UpdatedAt.UnixMilli())
	}
}

func TestUpsertRejectsInvalidInput(t *testing.T) {
	service, _ := newTestService(t)

	testCases := []struct {
		name   string
		record Record
		code   string
	}{
		{name: "missing-user", record: Record{Snapshot: json.RawMessage(`{}`)}, code: "snapshots.upsert.invalid_user_id"},
		{name: "empty-snapshot", record: Record{UserID: "user-1"}, code: "snapshots.upsert.invalid_snapshot"},
		{name: "array-snapshot", record: Record{UserID: "user-1", Snapshot: json.RawMessage(`[]`)}, code: "snapshots.upsert.invalid_snapshot"},
		{name: "broken-snapshot", record: Record{UserID: "user-1", Snapshot: json.RawMessage(`{"books":`)}, code: "snapshots.upsert.invalid_snapshot"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := service.Upsert(context.Background(), testCase.record)
			var serviceErr *ServiceError
			if !errors.As(err, &serviceErr) {
				t.Fatalf("expected service error, got %v", err)
			}
			if serviceErr.Code() != testCase.code {
				t.Fatalf("expected code %s, got %s", testCase.code, serviceErr.Code())
			}
		})
	}
}

func TestRecordJSONUsesMilliseconds(t *testing.T) {
	record := Record{
		UserID:    "user-1",
		Snapshot:  json.RawMessage(`{"books":[]}`),
		UpdatedAt: time.UnixMilli(1700000000456).UTC(),
		Version:   3,
	}

	encoded, err := json.Marshal(record)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := `{"user_id":"user-1","snapshot":{"books":[]},"updated_at_ms":1700000000456,"version":3}`
	if string(encoded) != expected {
		t.Fatalf("unexpected encoding %s", encoded)
	}

	var decoded Record
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if !decoded.UpdatedAt.Equal(record.UpdatedAt) || decoded.Version != 3 {
		t.Fatalf("unexpected decoded record %+v", decoded)
	}
}
