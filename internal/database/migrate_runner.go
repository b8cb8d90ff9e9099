package database

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"schooldesk/internal/middleware"

	"gorm.io/gorm"
)

// MigrationLog records one applied migration.
type MigrationLog struct {
	Version   int       `gorm:"primaryKey;autoIncrement:false"`
	Name      string    `gorm:"size:255"`
	Checksum  string    `gorm:"size:64"`
	AppliedAt time.Time `gorm:"autoCreateTime"`
}

// TableName returns the database table name for MigrationLog.
func (MigrationLog) TableName() string {
	return "migration_logs"
}

const ensureMigrationLogsSQL = `CREATE TABLE IF NOT EXISTS migration_logs (
	version BIGINT PRIMARY KEY,
	name VARCHAR(255) NOT NULL,
	checksum VARCHAR(64) NOT NULL DEFAULT '',
	applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// Migrator applies and reverts a fixed, version-ordered set of migrations.
// Each migration runs in its own transaction together with its log row.
type Migrator struct {
	db         *gorm.DB
	migrations []Migration
}

func NewMigrator(db *gorm.DB, migrations []Migration) *Migrator {
	return &Migrator{db: db, migrations: migrations}
}

// Applied returns the recorded migrations ordered by version. A database
// without a log table has applied nothing.
func (m *Migrator) Applied(ctx context.Context) ([]MigrationLog, error) {
	var logs []MigrationLog
	if err := m.db.WithContext(ctx).Order("version ASC").Find(&logs).Error; err != nil {
		if isMissingTableError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read migration_logs: %w", err)
	}
	return logs, nil
}

func isMissingTableError(err error) bool {
	msg := err.Error()
	return (strings.Contains(msg, "relation") && strings.Contains(msg, "does not exist")) ||
		strings.Contains(msg, "no such table")
}

// Verify fails when the log names a version this build does not know, or
// when an applied script was edited afterwards. Rows without a checksum are
// not compared.
func (m *Migrator) Verify(logs []MigrationLog) error {
	var unknown, edited []string
	for _, l := range logs {
		mig, ok := findMigration(m.migrations, l.Version)
		if !ok {
			unknown = append(unknown, fmt.Sprintf("%06d", l.Version))
			continue
		}
		if l.Checksum != "" && l.Checksum != mig.Checksum {
			edited = append(edited, mig.String())
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf(
			"migration_logs contains versions unknown to this build: %s (reset the development database or deploy the matching build)",
			strings.Join(unknown, ", "),
		)
	}
	if len(edited) > 0 {
		return fmt.Errorf("applied migrations changed on disk: %s", strings.Join(edited, ", "))
	}
	return nil
}

// Pending returns the migrations not present in logs.
func (m *Migrator) Pending(logs []MigrationLog) []Migration {
	done := make(map[int]struct{}, len(logs))
	for _, l := range logs {
		done[l.Version] = struct{}{}
	}
	var pending []Migration
	for _, mig := range m.migrations {
		if _, ok := done[mig.Version]; !ok {
			pending = append(pending, mig)
		}
	}
	return pending
}

// Up applies every pending migration in version order and returns the ones it ran.
func (m *Migrator) Up(ctx context.Context) ([]Migration, error) {
	if err := m.db.WithContext(ctx).Exec(ensureMigrationLogsSQL).Error; err != nil {
		return nil, fmt.Errorf("ensure migration_logs: %w", err)
	}
	logs, err := m.Applied(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.Verify(logs); err != nil {
		return nil, err
	}

	var ran []Migration
	for _, mig := range m.Pending(logs) {
		middleware.Logger.Info("Applying migration", slog.String("migration", mig.String()))
		err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Exec(mig.UpScript).Error; err != nil {
				return fmt.Errorf("apply %s: %w", mig, err)
			}
			entry := MigrationLog{Version: mig.Version, Name: mig.Name, Checksum: mig.Checksum}
			if err := tx.Create(&entry).Error; err != nil {
				return fmt.Errorf("record %s: %w", mig, err)
			}
			return nil
		})
		if err != nil {
			return ran, err
		}
		ran = append(ran, mig)
	}
	return ran, nil
}

// Down reverts the most recently applied migration. A non-zero version must
// name that migration; older ones cannot be reverted out of order.
func (m *Migrator) Down(ctx context.Context, version int) (Migration, error) {
	logs, err := m.Applied(ctx)
	if err != nil {
		return Migration{}, err
	}
	if len(logs) == 0 {
		return Migration{}, fmt.Errorf("no migrations have been applied")
	}
	latest := logs[len(logs)-1].Version
	if version == 0 {
		version = latest
	}
	if version != latest {
		return Migration{}, fmt.Errorf("migration %06d is not the latest applied (%06d)", version, latest)
	}
	mig, ok := findMigration(m.migrations, version)
	if !ok {
		return Migration{}, fmt.Errorf("migration %06d is not known to this build", version)
	}

	middleware.Logger.Info("Rolling back migration", slog.String("migration", mig.String()))
	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(mig.DownScript).Error; err != nil {
			return fmt.Errorf("revert %s: %w", mig, err)
		}
		return tx.Where("version = ?", version).Delete(&MigrationLog{}).Error
	})
	if err != nil {
		return Migration{}, err
	}
	return mig, nil
}

// RunMigrations applies the embedded migrations.
func RunMigrations(ctx context.Context, db *gorm.DB) error {
	set, err := GetMigrations()
	if err != nil {
		return err
	}
	_, err = NewMigrator(db, set).Up(ctx)
	return err
}

// RollbackMigration reverts the latest embedded migration, or version when it is non-zero.
func RollbackMigration(ctx context.Context, db *gorm.DB, version int) (Migration, error) {
	set, err := GetMigrations()
	if err != nil {
		return Migration{}, err
	}
	return NewMigrator(db, set).Down(ctx, version)
}
