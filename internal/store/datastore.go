package store

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"fleetsim/internal/models"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Datastore persists snapshot history, baselines, stress-test logs and
// alerts in MySQL.
type Datastore struct {
	db *gorm.DB
}

func NewDatastore(dsn string) (*Datastore, error) {
	newLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  true,
		},
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger:                 newLogger,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get generic database object: %w", err)
	}
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	return NewWithDB(db), nil
}

func NewWithDB(db *gorm.DB) *Datastore {
	return &Datastore{db: db}
}

func (ds *Datastore) AutoMigrate() error {
	return ds.db.AutoMigrate(&MetricsHistory{}, &NodeBaseline{}, &StressTestLog{}, &AlertRecord{})
}

func (ds *Datastore) Close() error {
	sqlDB, err := ds.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (ds *Datastore) SaveSnapshots(ctx context.Context, snaps []models.MetricsSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	rows := make([]MetricsHistory, 0, len(snaps))
	for _, s := range snaps {
		rows = append(rows, toHistory(s))
	}
	return ds.db.WithContext(ctx).CreateInBatches(rows, 100).Error
}

// History returns snapshots of nodeID taken at or after since, newest first.
func (ds *Datastore) History(ctx context.Context, nodeID string, since time.Time, limit int) ([]models.MetricsSnapshot, error) {
	var rows []MetricsHistory
	q := ds.db.WithContext(ctx).Where("node_id = ? AND timestamp >= ?", nodeID, since).Order("timestamp DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]models.MetricsSnapshot, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.snapshot())
	}
	return out, nil
}

// PruneHistory removes snapshots older than before.
func (ds *Datastore) PruneHistory(ctx context.Context, before time.Time) (int64, error) {
	result := ds.db.WithContext(ctx).Where("timestamp < ?", before).Delete(&MetricsHistory{})
	return result.RowsAffected, result.Error
}

func (ds *Datastore) SaveBaseline(ctx context.Context, b models.Baseline) error {
	return ds.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "node_id"}},
		UpdateAll: true,
	}).Create(&NodeBaseline{
		NodeID:      b.NodeID,
		CPUBaseline: b.CPU,
		RAMBaseline: b.RAM,
		UpdatedBy:   b.UpdatedBy,
	}).Error
}

func (ds *Datastore) LoadBaseline(ctx context.Context, nodeID string) (models.Baseline, bool, error) {
	var rows []NodeBaseline
	if err := ds.db.WithContext(ctx).Where("node_id = ?", nodeID).Limit(1).Find(&rows).Error; err != nil {
		return models.Baseline{}, false, err
	}
	if len(rows) == 0 {
		return models.Baseline{}, false, nil
	}
	r := rows[0]
	return models.Baseline{NodeID: r.NodeID, CPU: r.CPUBaseline, RAM: r.RAMBaseline, UpdatedBy: r.UpdatedBy, UpdatedAt: r.UpdatedAt}, true, nil
}

// SaveStressLog inserts or updates the log keyed by its event id.
func (ds *Datastore) SaveStressLog(ctx context.Context, l models.StressTestLog) error {
	rec := toStressLog(l)
	return ds.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"completed_at", "status", "max_cpu", "max_ram", "max_temp"}),
	}).Create(&rec).Error
}

func (ds *Datastore) StressLogs(ctx context.Context, nodeID string, limit int) ([]models.StressTestLog, error) {
	var rows []StressTestLog
	q := ds.db.WithContext(ctx).Order("started_at DESC")
	if nodeID != "" {
		q = q.Where("node_id = ?", nodeID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]models.StressTestLog, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

func (ds *Datastore) SaveAlerts(ctx context.Context, alerts []models.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	rows := make([]AlertRecord, 0, len(alerts))
	for _, a := range alerts {
		rows = append(rows, toAlert(a))
	}
	return ds.db.WithContext(ctx).Create(&rows).Error
}

// Alerts lists persisted alerts, newest first.
func (ds *Datastore) Alerts(ctx context.Context, limit int, unreadOnly bool) ([]models.Alert, error) {
	var rows []AlertRecord
	q := ds.db.WithContext(ctx).Scopes(unread(unreadOnly)).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]models.Alert, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

func (ds *Datastore) Alert(ctx context.Context, id string) (models.Alert, bool, error) {
	var rows []AlertRecord
	if err := ds.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&rows).Error; err != nil {
		return models.Alert{}, false, err
	}
	if len(rows) == 0 {
		return models.Alert{}, false, nil
	}
	return rows[0].model(), true, nil
}

// MarkAlertRead reports false when no alert has the id. MySQL counts only
// changed rows, so an alert already read is confirmed with a lookup.
func (ds *Datastore) MarkAlertRead(ctx context.Context, id string) (bool, error) {
	result := ds.db.WithContext(ctx).Model(&AlertRecord{}).Where("id = ?", id).Update("is_read", true)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected > 0 {
		return true, nil
	}
	_, ok, err := ds.Alert(ctx, id)
	return ok, err
}

func (ds *Datastore) DeleteAlert(ctx context.Context, id string) (bool, error) {
	result := ds.db.WithContext(ctx).Where("id = ?", id).Delete(&AlertRecord{})
	return result.RowsAffected > 0, result.Error
}

// DeleteHistory removes nodeID's snapshots taken before before, or all of
// them when before is zero.
func (ds *Datastore) DeleteHistory(ctx context.Context, nodeID string, before time.Time) (int64, error) {
	result := ds.db.WithContext(ctx).Scopes(nodeHistory(nodeID, before)).Delete(&MetricsHistory{})
	return result.RowsAffected, result.Error
}

func nodeHistory(nodeID string, before time.Time) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		db = db.Where("node_id = ?", nodeID)
		if !before.IsZero() {
			db = db.Where("timestamp < ?", before)
		}
		return db
	}
}

func unread(only bool) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if only {
			return db.Where("is_read = ?", false)
		}
		return db
	}
}
