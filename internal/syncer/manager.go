// Package syncer reconciles the local tracker state with a remote snapshot store
// using last-writer-wins at snapshot granularity.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MarcoPoloResearchLab/bookworm/internal/snapshots"
	"github.com/MarcoPoloResearchLab/bookworm/internal/tracker"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Outcome reports what a sync attempt did.
type Outcome string

const (
	OutcomeSkipped  Outcome = "skipped"
	OutcomeHydrated Outcome = "hydrated"
	OutcomeUploaded Outcome = "uploaded"
	OutcomeFailed   Outcome = "failed"
)

const (
	triggerLoad   = "load"
	triggerUpload = "upload"
	triggerFlush  = "flush"

	// DefaultInterval is the period of the automatic upload loop.
	DefaultInterval = 60 * time.Second
	// DefaultFlushTimeout bounds the final upload at shutdown.
	DefaultFlushTimeout = 2 * time.Second
)

var (
	errMissingState  = errors.New("syncer: local state is required")
	errMissingRemote = errors.New("syncer: remote snapshot store is required")
	noOpLogger       = zap.NewNop()
)

// LocalState is the part of the tracker store the manager reads and replaces.
type LocalState interface {
	Snapshot() tracker.Snapshot
	HydrateFromSnapshot(snapshot tracker.Snapshot)
	LastSyncedAt() (time.Time, bool)
	SetLastSyncedAt(timestamp time.Time)
	ClearAllData()
}

// Remote is the remote snapshot store keyed by user id.
type Remote interface {
	FetchLatest(ctx context.Context, userID string) (snapshots.Record, error)
	Upsert(ctx context.Context, record snapshots.Record) (snapshots.Record, error)
}

// Config wires the manager to the local store and the remote snapshot store.
type Config struct {
	State      LocalState
	Remote     Remote
	Clock      func() time.Time
	Logger     *zap.Logger
	Registerer prometheus.Registerer
}

// Manager is owned by the composition root; one per running client.
type Manager struct {
	state   LocalState
	remote  Remote
	clock   func() time.Time
	logger  *zap.Logger
	metrics *metrics

	userMu sync.RWMutex
	userID string

	busy     atomic.Bool
	uploadMu sync.Mutex
}

// NewManager constructs a signed-out manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.State == nil {
		return nil, errMissingState
	}
	if cfg.Remote == nil {
		return nil, errMissingRemote
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Manager{
		state:   cfg.State,
		remote:  cfg.Remote,
		clock:   clock,
		logger:  logger,
		metrics: newMetrics(cfg.Registerer),
	}, nil
}

// SignIn scopes subsequent syncs to userID.
func (m *Manager) SignIn(userID string) error {
	validated, err := snapshots.NewUserID(userID)
	if err != nil {
		return err
	}
	m.userMu.Lock()
	m.userID = validated.String()
	m.userMu.Unlock()
	m.logger.Info("sync scope set", zap.String("user_id", validated.String()))
	return nil
}

// SignOut drops the user scope and clears all local data.
func (m *Manager) SignOut() {
	m.uploadMu.Lock()
	defer m.uploadMu.Unlock()
	m.userMu.Lock()
	m.userID = ""
	m.userMu.Unlock()
	m.state.ClearAllData()
	m.logger.Info("signed out; local data cleared")
}

// UserID returns the current scope, empty when signed out.
func (m *Manager) UserID() string {
	m.userMu.RLock()
	defer m.userMu.RUnlock()
	return m.userID
}

// Busy reports whether a SyncOnLoad run is in flight.
func (m *Manager) Busy() bool {
	return m.busy.Load()
}

// SyncOnLoad fetches the remote snapshot and hydrates local state when the remote is strictly
// newer than the local lastSyncedAt; otherwise it uploads. A call made while another run is in
// flight returns OutcomeSkipped immediately. Failures are logged, never returned.
func (m *Manager) SyncOnLoad(ctx context.Context) Outcome {
	userID := m.UserID()
	if userID == "" {
		return m.record(triggerLoad, OutcomeSkipped)
	}
	if !m.busy.CompareAndSwap(false, true) {
		m.logger.Debug("sync already in progress")
		return m.record(triggerLoad, OutcomeSkipped)
	}
	defer m.busy.Store(false)

	remote, err := m.remote.FetchLatest(ctx, userID)
	if errors.Is(err, snapshots.ErrSnapshotNotFound) {
		m.logger.Info("no remote snapshot; uploading local state", zap.String("user_id", userID))
		return m.record(triggerLoad, m.upload(ctx, userID))
	}
	if err != nil {
		m.logSyncError("sync.fetch", "fetch_failed", err, zap.String("user_id", userID))
		return m.record(triggerLoad, OutcomeFailed)
	}

	localSyncedAt, synced := m.state.LastSyncedAt()
	if !synced || remote.UpdatedAt.After(localSyncedAt) {
		var snapshot tracker.Snapshot
		if err := json.Unmarshal(remote.Snapshot, &snapshot); err != nil {
			m.logSyncError("sync.hydrate", "decode_failed", err, zap.String("user_id", userID))
			return m.record(triggerLoad, OutcomeFailed)
		}
		m.state.HydrateFromSnapshot(snapshot)
		m.state.SetLastSyncedAt(remote.UpdatedAt)
		m.metrics.lastSuccessMs.Set(float64(remote.UpdatedAt.UnixMilli()))
		m.logger.Info("local state hydrated from remote",
			zap.String("user_id", userID),
			zap.Int64("version", remote.Version),
			zap.Time("remote_updated_at", remote.UpdatedAt))
		return m.record(triggerLoad, OutcomeHydrated)
	}

	return m.record(triggerLoad, m.upload(ctx, userID))
}

// UploadSnapshot sends the full local snapshot, stamped with the current time.
// Failures are logged and the next trigger acts as the retry.
func (m *Manager) UploadSnapshot(ctx context.Context) Outcome {
	userID := m.UserID()
	if userID == "" {
		return m.record(triggerUpload, OutcomeSkipped)
	}
	return m.record(triggerUpload, m.upload(ctx, userID))
}

// RunAutoSync uploads on every tick until ctx is cancelled.
func (m *Manager) RunAutoSync(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.UploadSnapshot(ctx)
		}
	}
}

// Flush is the best-effort final upload at shutdown. Delivery is not guaranteed:
// the attempt is abandoned once timeout elapses.
func (m *Manager) Flush(timeout time.Duration) Outcome {
	userID := m.UserID()
	if userID == "" {
		return m.record(triggerFlush, OutcomeSkipped)
	}
	if timeout <= 0 {
		timeout = DefaultFlushTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return m.record(triggerFlush, m.upload(ctx, userID))
}

func (m *Manager) upload(ctx context.Context, userID string) Outcome {
	m.uploadMu.Lock()
	defer m.uploadMu.Unlock()

	if m.UserID() != userID {
		return OutcomeSkipped
	}

	payload, err := json.Marshal(m.state.Snapshot())
	if err != nil {
		m.logSyncError("sync.upload", "encode_failed", err, zap.String("user_id", userID))
		return OutcomeFailed
	}
	stamp := m.clock().UTC().Truncate(time.Millisecond)
	stored, err := m.remote.Upsert(ctx, snapshots.Record{
		UserID:    userID,
		Snapshot:  payload,
		UpdatedAt: stamp,
	})
	if err != nil {
		m.logSyncError("sync.upload", "upsert_failed", err, zap.String("user_id", userID))
		return OutcomeFailed
	}

	m.state.SetLastSyncedAt(stamp)
	m.metrics.lastSuccessMs.Set(float64(stamp.UnixMilli()))
	m.metrics.snapshotBytes.Observe(float64(len(payload)))
	m.logger.Debug("snapshot uploaded",
		zap.String("user_id", userID),
		zap.Int64("version", stored.Version),
		zap.Int("bytes", len(payload)))
	return OutcomeUploaded
}

func (m *Manager) record(trigger string, outcome Outcome) Outcome {
	m.metrics.observe(trigger, outcome)
	return outcome
}

func (m *Manager) logSyncError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	m.logger.Warn("sync did not complete", attrs...)
}
