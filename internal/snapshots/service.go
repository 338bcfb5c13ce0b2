package snapshots

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// ServiceError carries a stable operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "snapshots.service.new"
	opFetch      = "snapshots.fetch_latest"
	opUpsert     = "snapshots.upsert"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig holds the database handle and optional clock and logger.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service keeps one snapshot row per user in a SQL database.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService validates dependencies and constructs a snapshot service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:     cfg.Database,
		clock:  clock,
		logger: logger,
	}, nil
}

// FetchLatest returns the stored snapshot for the user or ErrSnapshotNotFound.
func (s *Service) FetchLatest(ctx context.Context, userID string) (Record, error) {
	validatedID, err := NewUserID(userID)
	if err != nil {
		return Record{}, newServiceError(opFetch, "invalid_user_id", err)
	}

	var row UserSnapshot
	err = s.db.WithContext(ctx).
		Where("user_id = ?", validatedID.String()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, ErrSnapshotNotFound
	}
	if err != nil {
		s.logError(opFetch, "query_failed", err, zap.String("user_id", validatedID.String()))
		return Record{}, newServiceError(opFetch, "query_failed", err)
	}
	return row.record(), nil
}

// Upsert replaces the user's snapshot keyed on user_id and bumps its version.
// A zero UpdatedAt is stamped with the service clock.
func (s *Service) Upsert(ctx context.Context, record Record) (Record, error) {
	validatedID, err := NewUserID(record.UserID)
	if err != nil {
		return Record{}, newServiceError(opUpsert, "invalid_user_id", err)
	}
	if err := validateSnapshot(record.Snapshot); err != nil {
		return Record{}, newServiceError(opUpsert, "invalid_snapshot", err)
	}
	updatedAt := record.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = s.clock()
	}

	var stored UserSnapshot
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing UserSnapshot
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", validatedID.String()).
			Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			existing = UserSnapshot{UserID: validatedID.String()}
		case err != nil:
			s.logError(opUpsert, "snapshot_select_failed", err, zap.String("user_id", validatedID.String()))
			return newServiceError(opUpsert, "snapshot_select_failed", err)
		}

		existing.SnapshotJSON = string(record.Snapshot)
		existing.UpdatedAtMillis = updatedAt.UnixMilli()
		existing.Version++
		if err := tx.Save(&existing).Error; err != nil {
			s.logError(opUpsert, "snapshot_save_failed", err, zap.String("user_id", validatedID.String()))
			return newServiceError(opUpsert, "snapshot_save_failed", err)
		}
		stored = existing
		return nil
	})
	if txErr != nil {
		return Record{}, txErr
	}

	s.logger.Debug("snapshot stored",
		zap.String("user_id", stored.UserID),
		zap.Int64("version", stored.Version),
		zap.Int("bytes", len(stored.SnapshotJSON)))
	return stored.record(), nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("snapshots service error", attrs...)
}
