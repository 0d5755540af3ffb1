// Package sandbox runs assets in an isolated environment and keeps the audit
// trail of every run.
package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	marketdb "github.com/Maphikza/vexis-market/internal/database"
	"github.com/Maphikza/vexis-market/internal/events"
	"github.com/Maphikza/vexis-market/internal/logger"
	"github.com/Maphikza/vexis-market/internal/types"
)

var (
	ErrNotFound = errors.New("sandbox test not found")
	// ErrSealed is returned when writing to a run that already completed or failed.
	ErrSealed = errors.New("sandbox test is sealed")
)

// Store persists SandboxTest records. Log lines are published to the event
// bus after they are committed.
type Store struct {
	db  *gorm.DB
	pub events.Publisher
	log *zap.Logger
	now func() time.Time
}

// NewStore wraps an open database.
func NewStore(db *gorm.DB, pub events.Publisher, log *zap.Logger) *Store {
	return &Store{
		db:  db,
		pub: events.OrNop(pub),
		log: logger.OrNop(log),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Create records a queued run for assetID under a fresh id.
func (s *Store) Create(ctx context.Context, assetID string) (*types.SandboxTest, error) {
	if assetID == "" {
		return nil, types.Invalid("asset_id", "must not be empty")
	}
	t := &types.SandboxTest{
		ID:        uuid.NewString(),
		AssetID:   assetID,
		Status:    types.SandboxQueued,
		StartedAt: s.now(),
		Logs:      []string{},
	}
	m, err := toModel(t)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		s.log.Error("failed to create sandbox test", zap.String("asset_id", assetID), zap.Error(err))
		return nil, fmt.Errorf("failed to create sandbox test: %w", err)
	}
	return t, nil
}

// Start moves a queued run to running.
func (s *Store) Start(ctx context.Context, id string) (*types.SandboxTest, error) {
	return s.update(ctx, id, func(t *types.SandboxTest) error {
		if t.Status != types.SandboxQueued {
			return fmt.Errorf("cannot start test in status %s", t.Status)
		}
		t.Status = types.SandboxRunning
		t.StartedAt = s.now()
		return nil
	})
}

// AppendLog appends lines to a run that is not yet sealed.
func (s *Store) AppendLog(ctx context.Context, id string, lines ...string) error {
	t, err := s.update(ctx, id, func(t *types.SandboxTest) error {
		t.Logs = append(t.Logs, lines...)
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(t, lines)
	return nil
}

// Complete attaches the report, appends any final lines and seals the run.
func (s *Store) Complete(ctx context.Context, id string, report types.SafetyReport, lines ...string) (*types.SandboxTest, error) {
	t, err := s.update(ctx, id, func(t *types.SandboxTest) error {
		now := s.now()
		r := report
		t.Report = &r
		t.Logs = append(t.Logs, lines...)
		t.Status = types.SandboxCompleted
		t.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(t, lines)
	return t, nil
}

// Fail seals the run as failed with a closing log line.
func (s *Store) Fail(ctx context.Context, id, reason string) error {
	line := "[failed] " + reason
	t, err := s.update(ctx, id, func(t *types.SandboxTest) error {
		now := s.now()
		t.Logs = append(t.Logs, line)
		t.Status = types.SandboxFailed
		t.CompletedAt = &now
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(t, []string{line})
	return nil
}

// Get loads one run.
func (s *Store) Get(ctx context.Context, id string) (*types.SandboxTest, error) {
	var m marketdb.SQLiteSandboxTest
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sandbox test: %w", err)
	}
	return fromModel(&m)
}

// ListByAsset returns every run for an asset, oldest first.
func (s *Store) ListByAsset(ctx context.Context, assetID string) ([]*types.SandboxTest, error) {
	return s.list(s.db.WithContext(ctx).Where("asset_id = ?", assetID))
}

// ListByStatus returns every run in the given status, oldest first.
func (s *Store) ListByStatus(ctx context.Context, status types.SandboxStatus) ([]*types.SandboxTest, error) {
	return s.list(s.db.WithContext(ctx).Where("status = ?", string(status)))
}

// Delete removes a run record.
func (s *Store) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&marketdb.SQLiteSandboxTest{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete sandbox test: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) list(q *gorm.DB) ([]*types.SandboxTest, error) {
	var rows []marketdb.SQLiteSandboxTest
	if err := q.Order("started_at asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list sandbox tests: %w", err)
	}
	out := make([]*types.SandboxTest, 0, len(rows))
	for i := range rows {
		t, err := fromModel(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// update is the single read-modify-write path; sealed runs are never rewritten.
func (s *Store) update(ctx context.Context, id string, fn func(*types.SandboxTest) error) (*types.SandboxTest, error) {
	var out *types.SandboxTest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m marketdb.SQLiteSandboxTest
		if err := tx.Where("id = ?", id).First(&m).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		t, err := fromModel(&m)
		if err != nil {
			return err
		}
		if t.Status.Terminal() {
			return ErrSealed
		}
		if err := fn(t); err != nil {
			return err
		}
		updated, err := toModel(t)
		if err != nil {
			return err
		}
		if err := tx.Save(updated).Error; err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrSealed) {
			s.log.Error("sandbox test update failed", zap.String("test_id", id), zap.Error(err))
			return nil, fmt.Errorf("failed to update sandbox test: %w", err)
		}
		return nil, err
	}
	return out, nil
}

func (s *Store) publish(t *types.SandboxTest, lines []string) {
	for _, line := range lines {
		s.pub.Publish(events.Event{
			Kind:     events.KindLog,
			Pipeline: "sandbox",
			Subject:  t.AssetID,
			Stage:    string(t.Status),
			Message:  line,
		})
	}
}

func toModel(t *types.SandboxTest) (*marketdb.SQLiteSandboxTest, error) {
	logs, err := json.Marshal(t.Logs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode logs: %w", err)
	}
	var report []byte
	if t.Report != nil {
		if report, err = json.Marshal(t.Report); err != nil {
			return nil, fmt.Errorf("failed to encode report: %w", err)
		}
	}
	return &marketdb.SQLiteSandboxTest{
		ID:          t.ID,
		AssetID:     t.AssetID,
		Status:      string(t.Status),
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
		Report:      string(report),
		Logs:        string(logs),
	}, nil
}

func fromModel(m *marketdb.SQLiteSandboxTest) (*types.SandboxTest, error) {
	t := &types.SandboxTest{
		ID:          m.ID,
		AssetID:     m.AssetID,
		Status:      types.SandboxStatus(m.Status),
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
		Logs:        []string{},
	}
	if m.Logs != "" {
		if err := json.Unmarshal([]byte(m.Logs), &t.Logs); err != nil {
			return nil, fmt.Errorf("failed to decode logs: %w", err)
		}
	}
	if m.Report != "" {
		var r types.SafetyReport
		if err := json.Unmarshal([]byte(m.Report), &r); err != nil {
			return nil, fmt.Errorf("failed to decode report: %w", err)
		}
		t.Report = &r
	}
	return t, nil
}
