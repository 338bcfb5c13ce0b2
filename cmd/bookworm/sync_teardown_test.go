package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/bookworm/internal/challenge"
	"github.com/MarcoPoloResearchLab/bookworm/internal/database"
	"github.com/MarcoPoloResearchLab/bookworm/internal/localstorage"
	"github.com/MarcoPoloResearchLab/bookworm/internal/snapshots"
	"go.uber.org/zap"
)

const testSyncUser = "reader-1"

type testDevice struct {
	dataDir      string
	syncDatabase string
}

func newTestDevices(t *testing.T, count int) []testDevice {
	t.Helper()
	root := t.TempDir()
	syncDatabase := filepath.Join(root, "remote.db")
	devices := make([]testDevice, count)
	for index := range devices {
		devices[index] = testDevice{
			dataDir:      filepath.Join(root, "device", string(rune('a'+index))),
			syncDatabase: syncDatabase,
		}
	}
	return devices
}

func (d testDevice) run(t *testing.T, args ...string) string {
	t.Helper()
	rootCmd := newRootCommand()
	var output bytes.Buffer
	rootCmd.SetOut(&output)
	rootCmd.SetErr(&output)
	rootCmd.SetArgs(append([]string{
		"--data-dir", d.dataDir,
		"--user", testSyncUser,
		"--sync-database", d.syncDatabase,
		"--log-level", "error",
	}, args...))
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("bookworm %s failed: %v\n%s", strings.Join(args, " "), err, output.String())
	}
	return output.String()
}

func openRemoteService(t *testing.T, path string) (*snapshots.Service, func()) {
	t.Helper()
	db, err := database.OpenSQLite(path, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open remote database: %v", err)
	}
	service, err := snapshots.NewService(snapshots.ServiceConfig{Database: db})
	if err != nil {
		_ = database.Close(db)
		t.Fatalf("failed to construct snapshot service: %v", err)
	}
	return service, func() {
		_ = database.Close(db)
	}
}

func TestFreshDeviceExportKeepsRemoteBooks(t *testing.T) {
	devices := newTestDevices(t, 2)
	deviceA, deviceB := devices[0], devices[1]

	deviceA.run(t, "book", "add", "--title", "Dune", "--pages", "100")

	exported := deviceB.run(t, "snapshot", "export", "--format", "json")
	if !strings.Contains(exported, "Dune") {
		t.Fatalf("expected the export to reflect the remote snapshot, got %s", exported)
	}

	listed := deviceA.run(t, "book", "list")
	if !strings.Contains(listed, "Dune") {
		t.Fatalf("device A lost its book after another device exported: %s", listed)
	}
}

func TestSignOutDoesNotUpload(t *testing.T) {
	devices := newTestDevices(t, 2)
	deviceA, deviceB := devices[0], devices[1]

	deviceA.run(t, "book", "add", "--title", "Dune", "--pages", "100")
	deviceB.run(t, "signout")

	listed := deviceA.run(t, "book", "list")
	if !strings.Contains(listed, "Dune") {
		t.Fatalf("sign out on another device replaced the remote snapshot: %s", listed)
	}
}

func TestSignOutClearsShownAnimations(t *testing.T) {
	device := newTestDevices(t, 1)[0]
	stateDir := filepath.Join(device.dataDir, stateDirName)

	storage, err := localstorage.OpenBadger(stateDir, nil)
	if err != nil {
		t.Fatalf("failed to open local storage: %v", err)
	}
	if err := storage.Write(challenge.ShownAnimationsKey, []byte(`["c1"]`)); err != nil {
		t.Fatalf("failed to seed shown animations: %v", err)
	}
	if err := storage.Close(); err != nil {
		t.Fatalf("failed to close local storage: %v", err)
	}

	device.run(t, "signout")

	storage, err = localstorage.OpenBadger(stateDir, nil)
	if err != nil {
		t.Fatalf("failed to reopen local storage: %v", err)
	}
	defer storage.Close()
	if _, found, err := storage.Read(challenge.ShownAnimationsKey); err != nil || found {
		t.Fatalf("expected shown animations to be cleared, found=%v err=%v", found, err)
	}
}

func TestFailedLoadSyncSkipsTeardownUpload(t *testing.T) {
	device := newTestDevices(t, 1)[0]
	undecodable := json.RawMessage(`{"books":"not-a-list"}`)

	remote, release := openRemoteService(t, device.syncDatabase)
	seeded, err := remote.Upsert(context.Background(), snapshots.Record{UserID: testSyncUser, Snapshot: undecodable})
	release()
	if err != nil {
		t.Fatalf("failed to seed remote snapshot: %v", err)
	}

	device.run(t, "book", "list")

	remote, release = openRemoteService(t, device.syncDatabase)
	defer release()
	stored, err := remote.FetchLatest(context.Background(), testSyncUser)
	if err != nil {
		t.Fatalf("failed to fetch remote snapshot: %v", err)
	}
	if stored.Version != seeded.Version {
		t.Fatalf("expected version %d to survive a failed load, got %d", seeded.Version, stored.Version)
	}
	if string(stored.Snapshot) != string(undecodable) {
		t.Fatalf("remote snapshot was overwritten: %s", stored.Snapshot)
	}
}
