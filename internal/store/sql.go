package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/sznuper/overwatch/internal/check"
)

type resultRow struct {
	Target        string `gorm:"primaryKey;size:255"`
	CheckName     string `gorm:"primaryKey;size:255"`
	Stdout        string `gorm:"type:text"`
	Stderr        string `gorm:"type:text"`
	ReturnCode    int
	RawReturnCode int
	RepeatCount   int
	LastRun       time.Time
	AlertStatus   int
}

func (resultRow) TableName() string { return "results" }

type alertRow struct {
	ID         string `gorm:"primaryKey;size:36"`
	Target     string `gorm:"size:255;uniqueIndex:idx_alert_pair"`
	CheckName  string `gorm:"size:255;uniqueIndex:idx_alert_pair"`
	Stdout     string `gorm:"type:text"`
	Stderr     string `gorm:"type:text"`
	ReturnCode int
	Status     int
	CreatedAt  time.Time
}

func (alertRow) TableName() string { return "alerts" }

type handlerStateRow struct {
	Target     string `gorm:"primaryKey;size:255"`
	CheckName  string `gorm:"primaryKey;size:255"`
	HandlerID  string `gorm:"primaryKey;size:255"`
	ReturnCode int
}

func (handlerStateRow) TableName() string { return "handler_states" }

// toggleRow records a disabled target, check or pair. Target or CheckName
// is empty for the single-dimension kinds.
type toggleRow struct {
	Kind      string `gorm:"primaryKey;size:16"`
	Target    string `gorm:"primaryKey;size:255"`
	CheckName string `gorm:"primaryKey;size:255"`
}

func (toggleRow) TableName() string { return "disabled" }

const (
	toggleTarget = "target"
	toggleCheck  = "check"
	togglePair   = "pair"
)

// SQLConfig selects the database behind an SQL store.
type SQLConfig struct {
	Driver string // sqlite, postgres or mysql
	DSN    string
}

// SQL is a Store backed by a relational database through gorm.
type SQL struct {
	db *gorm.DB
}

var _ Store = (*SQL)(nil)

// OpenSQL connects to the configured database and migrates the schema.
func OpenSQL(cfg SQLConfig, log *slog.Logger) (*SQL, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite", "":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "overwatch.db"
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	gcfg := &gorm.Config{Logger: logger.Discard}
	if log != nil {
		gcfg.Logger = logger.NewSlogLogger(log, logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		})
	}

	db, err := gorm.Open(dialector, gcfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := db.AutoMigrate(&resultRow{}, &alertRow{}, &handlerStateRow{}, &toggleRow{}); err != nil {
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return &SQL{db: db}, nil
}

func pair(target, name string) map[string]any {
	return map[string]any{"target": target, "check_name": name}
}

func (s *SQL) toResult(ctx context.Context, db *gorm.DB, row resultRow) (*check.Result, error) {
	enabled, err := s.enabled(db.WithContext(ctx), togglePair, row.Target, row.CheckName)
	if err != nil {
		return nil, err
	}
	return &check.Result{
		Target:        row.Target,
		Check:         row.CheckName,
		Stdout:        row.Stdout,
		Stderr:        row.Stderr,
		ReturnCode:    row.ReturnCode,
		RawReturnCode: row.RawReturnCode,
		Count:         row.RepeatCount,
		LastRun:       row.LastRun,
		AlertStatus:   check.Status(row.AlertStatus),
		Enabled:       enabled,
	}, nil
}

func fromResult(r *check.Result) resultRow {
	return resultRow{
		Target:        r.Target,
		CheckName:     r.Check,
		Stdout:        r.Stdout,
		Stderr:        r.Stderr,
		ReturnCode:    r.ReturnCode,
		RawReturnCode: r.RawReturnCode,
		RepeatCount:   r.Count,
		LastRun:       r.LastRun,
		AlertStatus:   int(r.AlertStatus),
	}
}

func (s *SQL) Get(ctx context.Context, target, name string) (*check.Result, error) {
	var row resultRow
	err := s.db.WithContext(ctx).Where(pair(target, name)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading result: %w", err)
	}
	return s.toResult(ctx, s.db, row)
}

func (s *SQL) Record(ctx context.Context, target, name string, obs check.Observation) (*check.Result, error) {
	var next *check.Result
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		if tx.Dialector.Name() != "sqlite" {
			q = tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
		}

		var prev *check.Result
		var row resultRow
		err := q.Where(pair(target, name)).First(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return err
		default:
			if prev, err = s.toResult(ctx, tx, row); err != nil {
				return err
			}
		}

		next = check.Advance(prev, target, name, obs)
		enabled, err := s.enabled(tx, togglePair, target, name)
		if err != nil {
			return err
		}
		next.Enabled = enabled
		out := fromResult(next)
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&out).Error
	})
	if err != nil {
		return nil, fmt.Errorf("recording result: %w", err)
	}
	return next, nil
}

func (s *SQL) Upsert(ctx context.Context, r *check.Result) error {
	row := fromResult(r)
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("saving result: %w", err)
	}
	return nil
}

func (s *SQL) SetAlertStatus(ctx context.Context, target, name string, st check.Status) error {
	res := s.db.WithContext(ctx).Model(&resultRow{}).Where(pair(target, name)).Update("alert_status", int(st))
	if res.Error != nil {
		return fmt.Errorf("updating alert status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQL) ListResults(ctx context.Context, f Filter) ([]*check.Result, error) {
	q := s.db.WithContext(ctx).Order("target").Order("check_name")
	if f.Target != "" {
		q = q.Where(map[string]any{"target": f.Target})
	}
	if f.Check != "" {
		q = q.Where(map[string]any{"check_name": f.Check})
	}
	var rows []resultRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing results: %w", err)
	}
	out := make([]*check.Result, 0, len(rows))
	for _, row := range rows {
		r, err := s.toResult(ctx, s.db, row)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *SQL) enabled(db *gorm.DB, kind, target, name string) (bool, error) {
	var n int64
	err := db.Model(&toggleRow{}).
		Where(map[string]any{"kind": kind, "target": target, "check_name": name}).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("reading toggle: %w", err)
	}
	return n == 0, nil
}

func (s *SQL) setEnabled(ctx context.Context, kind, target, name string, enabled bool) error {
	row := toggleRow{Kind: kind, Target: target, CheckName: name}
	db := s.db.WithContext(ctx)
	var err error
	if enabled {
		err = db.Where(map[string]any{"kind": kind, "target": target, "check_name": name}).Delete(&toggleRow{}).Error
	} else {
		err = db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	}
	if err != nil {
		return fmt.Errorf("writing toggle: %w", err)
	}
	return nil
}

func (s *SQL) IsTargetEnabled(ctx context.Context, target string) (bool, error) {
	return s.enabled(s.db.WithContext(ctx), toggleTarget, target, "")
}

func (s *SQL) IsCheckEnabled(ctx context.Context, name string) (bool, error) {
	return s.enabled(s.db.WithContext(ctx), toggleCheck, "", name)
}

func (s *SQL) IsTargetCheckEnabled(ctx context.Context, target, name string) (bool, error) {
	return s.enabled(s.db.WithContext(ctx), togglePair, target, name)
}

func (s *SQL) SetTargetEnabled(ctx context.Context, target string, enabled bool) error {
	return s.setEnabled(ctx, toggleTarget, target, "", enabled)
}

func (s *SQL) SetCheckEnabled(ctx context.Context, name string, enabled bool) error {
	return s.setEnabled(ctx, toggleCheck, "", name, enabled)
}

func (s *SQL) SetTargetCheckEnabled(ctx context.Context, target, name string, enabled bool) error {
	return s.setEnabled(ctx, togglePair, target, name, enabled)
}

func (s *SQL) LastHandlerReturnCode(ctx context.Context, target, name, handlerID string) (int, error) {
	var row handlerStateRow
	err := s.db.WithContext(ctx).
		Where(map[string]any{"target": target, "check_name": name, "handler_id": handlerID}).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("loading handler state: %w", err)
	}
	return row.ReturnCode, nil
}

func (s *SQL) SetLastHandlerReturnCode(ctx context.Context, target, name, handlerID string, code int) error {
	row := handlerStateRow{Target: target, CheckName: name, HandlerID: handlerID, ReturnCode: code}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "target"}, {Name: "check_name"}, {Name: "handler_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"return_code"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("saving handler state: %w", err)
	}
	return nil
}

func (s *SQL) AddAlert(ctx context.Context, a check.Alert) error {
	row := alertRow{
		ID:         a.ID,
		Target:     a.Target,
		CheckName:  a.Check,
		Stdout:     a.Stdout,
		Stderr:     a.Stderr,
		ReturnCode: a.ReturnCode,
		Status:     int(a.Status),
		CreatedAt:  a.Created,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(pair(a.Target, a.Check)).Delete(&alertRow{}).Error; err != nil {
			return err
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return fmt.Errorf("saving alert: %w", err)
	}
	return nil
}

func (s *SQL) RemoveAlert(ctx context.Context, target, name string) error {
	if err := s.db.WithContext(ctx).Where(pair(target, name)).Delete(&alertRow{}).Error; err != nil {
		return fmt.Errorf("removing alert: %w", err)
	}
	return nil
}

func (s *SQL) ListAlerts(ctx context.Context) ([]check.Alert, error) {
	var rows []alertRow
	if err := s.db.WithContext(ctx).Order("created_at").Order("check_name").Order("target").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing alerts: %w", err)
	}
	out := make([]check.Alert, 0, len(rows))
	for _, row := range rows {
		out = append(out, check.Alert{
			ID:         row.ID,
			Target:     row.Target,
			Check:      row.CheckName,
			Stdout:     row.Stdout,
			Stderr:     row.Stderr,
			ReturnCode: row.ReturnCode,
			Status:     check.Status(row.Status),
			Created:    row.CreatedAt,
		})
	}
	return out, nil
}

func (s *SQL) ResetCheck(ctx context.Context, name string) error {
	return s.deleteWhere(ctx, map[string]any{"check_name": name})
}

func (s *SQL) DeleteTarget(ctx context.Context, target string) error {
	if err := s.deleteWhere(ctx, map[string]any{"target": target}); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Where(map[string]any{"target": target}).Delete(&toggleRow{}).Error
	if err != nil {
		return fmt.Errorf("deleting target toggles: %w", err)
	}
	return nil
}

func (s *SQL) deleteWhere(ctx context.Context, cond map[string]any) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{&resultRow{}, &alertRow{}, &handlerStateRow{}} {
			if err := tx.Where(cond).Delete(model).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting state: %w", err)
	}
	return nil
}

func (s *SQL) Prune(ctx context.Context, checks, targets []string) (int, error) {
	var rows []resultRow
	if err := s.db.WithContext(ctx).Select("target", "check_name").Find(&rows).Error; err != nil {
		return 0, fmt.Errorf("listing results: %w", err)
	}
	n := 0
	for _, row := range rows {
		if !stale(check.Key{Target: row.Target, Check: row.CheckName}, checks, targets) {
			continue
		}
		if err := s.deleteWhere(ctx, pair(row.Target, row.CheckName)); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (s *SQL) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
