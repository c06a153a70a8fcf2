package store

import (
	"time"

	"fleetsim/internal/models"
)

// MetricsHistory is one persisted snapshot.
type MetricsHistory struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	NodeID      string    `gorm:"size:64;not null;index:idx_node_ts,priority:1"`
	Timestamp   time.Time `gorm:"not null;index:idx_node_ts,priority:2;index:idx_ts"`
	CPUUsage    float64   `gorm:"type:decimal(5,2);not null;default:0"`
	RAMUsage    float64   `gorm:"type:decimal(5,2);not null;default:0"`
	Temperature float64   `gorm:"type:decimal(5,2);not null;default:22"`
	Uptime      int64     `gorm:"not null;default:0"`
	Status      string    `gorm:"size:20;not null;default:offline"`
}

func (MetricsHistory) TableName() string { return "server_metrics_history" }

type NodeBaseline struct {
	NodeID      string    `gorm:"primaryKey;size:64"`
	CPUBaseline float64   `gorm:"not null;default:30"`
	RAMBaseline float64   `gorm:"not null;default:40"`
	UpdatedBy   string    `gorm:"size:255"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

func (NodeBaseline) TableName() string { return "server_baselines" }

type StressTestLog struct {
	ID          int64      `gorm:"primaryKey;autoIncrement"`
	EventID     string     `gorm:"size:36;not null;uniqueIndex"`
	NodeID      string     `gorm:"size:64;not null;index"`
	StartedAt   time.Time  `gorm:"not null"`
	CompletedAt *time.Time
	Duration    int64      `gorm:"not null"`
	Intensity   float64    `gorm:"not null"`
	StartedBy   string     `gorm:"size:255"`
	Status      string     `gorm:"size:20;not null;default:running"`
	BaselineCPU float64
	BaselineRAM float64
	MaxCPU      float64
	MaxRAM      float64
	MaxTemp     float64
}

func (StressTestLog) TableName() string { return "stress_test_logs" }

type AlertRecord struct {
	ID        string    `gorm:"primaryKey;size:36"`
	Source    string    `gorm:"size:64;not null;index"`
	Level     string    `gorm:"size:20;not null"`
	Metric    string    `gorm:"size:32"`
	Title     string    `gorm:"size:255;not null"`
	Message   string    `gorm:"size:1024;not null"`
	Value     float64
	Threshold float64
	IsRead    bool      `gorm:"default:false"`
	CreatedAt time.Time `gorm:"index"`
}

func (AlertRecord) TableName() string { return "alerts" }

func toHistory(s models.MetricsSnapshot) MetricsHistory {
	return MetricsHistory{
		NodeID:      s.NodeID,
		Timestamp:   s.Timestamp,
		CPUUsage:    s.CPUUsage,
		RAMUsage:    s.RAMUsage,
		Temperature: s.Temperature,
		Uptime:      s.Uptime,
		Status:      string(s.Status),
	}
}

func (h MetricsHistory) snapshot() models.MetricsSnapshot {
	return models.MetricsSnapshot{
		NodeID:      h.NodeID,
		Timestamp:   h.Timestamp,
		CPUUsage:    h.CPUUsage,
		RAMUsage:    h.RAMUsage,
		Temperature: h.Temperature,
		Uptime:      h.Uptime,
		Status:      models.Status(h.Status),
	}
}

func toStressLog(l models.StressTestLog) StressTestLog {
	return StressTestLog{
		EventID:     l.EventID,
		NodeID:      l.NodeID,
		StartedAt:   l.StartedAt,
		CompletedAt: l.CompletedAt,
		Duration:    l.Duration,
		Intensity:   l.Intensity,
		StartedBy:   l.StartedBy,
		Status:      string(l.Status),
		BaselineCPU: l.BaselineCPU,
		BaselineRAM: l.BaselineRAM,
		MaxCPU:      l.MaxCPU,
		MaxRAM:      l.MaxRAM,
		MaxTemp:     l.MaxTemp,
	}
}

func (r StressTestLog) model() models.StressTestLog {
	return models.StressTestLog{
		EventID:     r.EventID,
		NodeID:      r.NodeID,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		Duration:    r.Duration,
		Intensity:   r.Intensity,
		StartedBy:   r.StartedBy,
		Status:      models.StressStatus(r.Status),
		BaselineCPU: r.BaselineCPU,
		BaselineRAM: r.BaselineRAM,
		MaxCPU:      r.MaxCPU,
		MaxRAM:      r.MaxRAM,
		MaxTemp:     r.MaxTemp,
	}
}

func toAlert(a models.Alert) AlertRecord {
	return AlertRecord{
		ID:        a.ID,
		Source:    a.NodeID,
		Level:     string(a.Level),
		Metric:    a.Metric,
		Title:     a.Title,
		Message:   a.Message,
		Value:     a.Value,
		Threshold: a.Threshold,
		IsRead:    a.Read,
		CreatedAt: a.CreatedAt,
	}
}

func (r AlertRecord) model() models.Alert {
	return models.Alert{
		ID:        r.ID,
		NodeID:    r.Source,
		Level:     models.AlertLevel(r.Level),
		Metric:    r.Metric,
		Title:     r.Title,
		Message:   r.Message,
		Value:     r.Value,
		Threshold: r.Threshold,
		Read:      r.IsRead,
		CreatedAt: r.CreatedAt,
	}
}
