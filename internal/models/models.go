package models

import (
	"math"
	"time"
)

// Physical defaults applied to every freshly registered node.
const (
	DefaultCPUBaseline  = 30.0
	DefaultCPUVariance  = 15.0
	DefaultRAMBaseline  = 40.0
	DefaultRAMVariance  = 10.0
	DefaultIdleTemp     = 22.0
	DefaultMaxTemp      = 75.0
	DefaultCoolingRate  = 0.3
	DefaultHeatingRate  = 0.5
	DefaultStressCPUCap = 95.0
	DefaultStressRAMCap = 90.0
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// NodeState is the mutable simulation state of one node.
type NodeState struct {
	NodeID string `json:"id"`
	Online bool   `json:"online"`

	CPUBaseline float64 `json:"cpu_baseline"`
	CPUVariance float64 `json:"cpu_variance"`
	CPUCurrent  float64 `json:"cpu_current"`

	RAMBaseline float64 `json:"ram_baseline"`
	RAMVariance float64 `json:"ram_variance"`
	RAMCurrent  float64 `json:"ram_current"`

	TempCurrent float64 `json:"temperature_current"`
	TempIdle    float64 `json:"temperature_idle"`
	TempMax     float64 `json:"temperature_max"`

	CoolingRate float64 `json:"cooling_rate"`
	HeatingRate float64 `json:"heating_rate"`

	UptimeSeconds int64     `json:"uptime"`
	LastUpdate    time.Time `json:"last_update"`
}

// NewNodeState returns a state carrying the default physical constants.
func NewNodeState(id string, online bool) NodeState {
	return NodeState{
		NodeID:      id,
		Online:      online,
		CPUBaseline: DefaultCPUBaseline,
		CPUVariance: DefaultCPUVariance,
		RAMBaseline: DefaultRAMBaseline,
		RAMVariance: DefaultRAMVariance,
		TempCurrent: DefaultIdleTemp,
		TempIdle:    DefaultIdleTemp,
		TempMax:     DefaultMaxTemp,
		CoolingRate: DefaultCoolingRate,
		HeatingRate: DefaultHeatingRate,
	}
}

func (s NodeState) Status() Status {
	if s.Online {
		return StatusOnline
	}
	return StatusOffline
}

type EventKind string

const EventStressTest EventKind = "stress_test"

// StressParams holds the timing breakpoints of a stress event and the
// operating point captured when it was triggered.
type StressParams struct {
	Start       time.Time     `json:"start_time"`
	WarmupEnd   time.Time     `json:"warmup_end"`
	PlateauEnd  time.Time     `json:"plateau_end"`
	End         time.Time     `json:"end_time"`
	Duration    time.Duration `json:"duration"`
	Intensity   float64       `json:"intensity"`
	BaselineCPU float64       `json:"baseline_cpu"`
	BaselineRAM float64       `json:"baseline_ram"`
}

type StressEvent struct {
	ID     string       `json:"id"`
	Kind   EventKind    `json:"kind"`
	NodeID string       `json:"node_id"`
	Params StressParams `json:"params"`
}

// Active reports whether now falls inside the event window.
func (e StressEvent) Active(now time.Time) bool {
	return now.Before(e.Params.End)
}

// MetricsSnapshot is the immutable result of one tick.
type MetricsSnapshot struct {
	NodeID      string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	CPUUsage    float64   `json:"cpu_usage"`
	RAMUsage    float64   `json:"ram_usage"`
	Temperature float64   `json:"temperature"`
	Uptime      int64     `json:"uptime"`
	Status      Status    `json:"status"`
}

// NewSnapshot captures the state at ts, rounding readings to two decimals.
func NewSnapshot(s NodeState, ts time.Time) MetricsSnapshot {
	return MetricsSnapshot{
		NodeID:      s.NodeID,
		Timestamp:   ts,
		CPUUsage:    Round2(s.CPUCurrent),
		RAMUsage:    Round2(s.RAMCurrent),
		Temperature: Round2(s.TempCurrent),
		Uptime:      s.UptimeSeconds,
		Status:      s.Status(),
	}
}

func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

type AlertLevel string

const (
	AlertInfo     AlertLevel = "info"
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

type Alert struct {
	ID        string     `json:"id"`
	NodeID    string     `json:"source"`
	Level     AlertLevel `json:"level"`
	Metric    string     `json:"metric"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	Value     float64    `json:"value"`
	Threshold float64    `json:"threshold"`
	Read      bool       `json:"is_read"`
	CreatedAt time.Time  `json:"created_at"`
}

// AlertThresholds are the warning/critical levels compared against the
// latest snapshot of each node.
type AlertThresholds struct {
	CPUWarning          float64 `json:"cpu_warning_threshold" yaml:"cpu_warning"`
	CPUCritical         float64 `json:"cpu_critical_threshold" yaml:"cpu_critical"`
	RAMWarning          float64 `json:"ram_warning_threshold" yaml:"ram_warning"`
	RAMCritical         float64 `json:"ram_critical_threshold" yaml:"ram_critical"`
	TemperatureWarning  float64 `json:"temperature_warning_threshold" yaml:"temperature_warning"`
	TemperatureCritical float64 `json:"temperature_critical_threshold" yaml:"temperature_critical"`
}

func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		CPUWarning:          85,
		CPUCritical:         95,
		RAMWarning:          85,
		RAMCritical:         95,
		TemperatureWarning:  70,
		TemperatureCritical: 80,
	}
}

type AnalyticsStats struct {
	TotalSnapshots  int64     `json:"total_snapshots"`
	TotalAlerts     int64     `json:"total_alerts"`
	TotalAnomalies  int64     `json:"total_anomalies"`
	AlertRate       float64   `json:"alert_rate"`
	LastAlertTime   time.Time `json:"last_alert_time,omitempty"`
	WindowSize      int       `json:"window_size"`
	ZScoreThreshold float64   `json:"z_score_threshold"`
}

type StressStatus string

const (
	StressRunning   StressStatus = "running"
	StressCompleted StressStatus = "completed"
	StressCancelled StressStatus = "cancelled"
)

// StressTestLog records one stress run and the peaks it produced.
type StressTestLog struct {
	EventID     string       `json:"event_id"`
	NodeID      string       `json:"node_id"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Duration    int64        `json:"duration_seconds"`
	Intensity   float64      `json:"intensity"`
	StartedBy   string       `json:"started_by,omitempty"`
	Status      StressStatus `json:"status"`
	BaselineCPU float64      `json:"baseline_cpu_before"`
	BaselineRAM float64      `json:"baseline_ram_before"`
	MaxCPU      float64      `json:"max_cpu_reached"`
	MaxRAM      float64      `json:"max_ram_reached"`
	MaxTemp     float64      `json:"max_temp_reached"`
}

// Observe raises the recorded peaks to the values in snap.
func (l *StressTestLog) Observe(snap MetricsSnapshot) {
	l.MaxCPU = math.Max(l.MaxCPU, snap.CPUUsage)
	l.MaxRAM = math.Max(l.MaxRAM, snap.RAMUsage)
	l.MaxTemp = math.Max(l.MaxTemp, snap.Temperature)
}

// Baseline is a persisted operating-point override.
type Baseline struct {
	NodeID    string    `json:"node_id"`
	CPU       float64   `json:"cpu_baseline"`
	RAM       float64   `json:"ram_baseline"`
	UpdatedBy string    `json:"updated_by,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
