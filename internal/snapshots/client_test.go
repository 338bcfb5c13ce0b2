package snapshots

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(ClientConfig{BaseURL: "  "}); err == nil {
		t.Fatalf("expected error for empty base url")
	}
}

func TestClientFetchLatestMapsNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"snapshot not found"}`)
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = client.FetchLatest(context.Background(), "user-1")
	if !errors.Is(err, ErrSnapshotNotFound) {
		t.Fatalf("expected ErrSnapshotNotFound, got %v", err)
	}
}

func TestClientFetchLatestSendsBearerToken(t *testing.T) {
	var authorization, path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization = r.Header.Get("Authorization")
		path = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"user_id":"user-1","snapshot":{"books":[]},"updated_at_ms":1700000000000,"version":4}`)
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{BaseURL: server.URL + "/", Token: "session-token"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	record, err := client.FetchLatest(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if authorization != "Bearer session-token" {
		t.Fatalf("unexpected authorization header %q", authorization)
	}
	if path != "/snapshot" {
		t.Fatalf("unexpected path %q", path)
	}
	if record.Version != 4 || !record.UpdatedAt.Equal(time.UnixMilli(1700000000000)) {
		t.Fatalf("unexpected record %+v", record)
	}
}

func TestClientUpsertRoundTripsRecord(t *testing.T) {
	var received Record
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		received.Version = 7
		_ = json.NewEncoder(w).Encode(received)
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored, err := client.Upsert(context.Background(), Record{
		UserID:    "user-1",
		Snapshot:  json.RawMessage(`{"notes":[]}`),
		UpdatedAt: time.UnixMilli(1700000001000).UTC(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(received.Snapshot) != `{"notes":[]}` {
		t.Fatalf("unexpected uploaded snapshot %s", received.Snapshot)
	}
	if stored.Version != 7 {
		t.Fatalf("expected server version, got %d", stored.Version)
	}
}

func TestClientUpsertReportsServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":"invalid session"}`)
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = client.Upsert(context.Background(), Record{UserID: "user-1", Snapshot: json.RawMessage(`{}`)})
	if err == nil || !strings.Contains(err.Error(), "status 401: invalid session") {
		t.Fatalf("expected status error, got %v", err)
	}
}
