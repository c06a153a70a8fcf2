package analytics

import (
	"fmt"
	"math"
	"sync"

	"fleetsim/internal/models"

	"github.com/google/uuid"
)

const (
	metricCPU         = "cpu"
	metricRAM         = "ram"
	metricTemperature = "temperature"

	maxRecentAlerts = 100
	minWindow       = 10
)

// Analyzer compares snapshots against alert thresholds and flags
// temperature readings that stray from the node's rolling average.
//
// An alert is raised when a metric enters a higher level than the one last
// reported for that node, so a node parked above a threshold alerts once.
type Analyzer struct {
	windowSize      int
	zScoreThreshold float64
	thresholds      models.AlertThresholds

	windows map[string][]float64
	levels  map[string]models.AlertLevel
	alerts  []models.Alert
	stats   models.AnalyticsStats
	mu      sync.RWMutex
}

func NewAnalyzer(windowSize int, zScoreThreshold float64, thresholds models.AlertThresholds) *Analyzer {
	return &Analyzer{
		windowSize:      windowSize,
		zScoreThreshold: zScoreThreshold,
		thresholds:      thresholds,
		windows:         make(map[string][]float64),
		levels:          make(map[string]models.AlertLevel),
		alerts:          make([]models.Alert, 0, maxRecentAlerts),
		stats: models.AnalyticsStats{
			WindowSize:      windowSize,
			ZScoreThreshold: zScoreThreshold,
		},
	}
}

// Analyze evaluates one snapshot and returns any newly raised alerts.
func (a *Analyzer) Analyze(snap models.MetricsSnapshot) []models.Alert {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.TotalSnapshots++

	if snap.Status != models.StatusOnline {
		a.reset(snap.NodeID)
		return nil
	}

	var raised []models.Alert
	th := a.thresholds
	checks := []struct {
		metric   string
		value    float64
		warning  float64
		critical float64
	}{
		{metricCPU, snap.CPUUsage, th.CPUWarning, th.CPUCritical},
		{metricRAM, snap.RAMUsage, th.RAMWarning, th.RAMCritical},
		{metricTemperature, snap.Temperature, th.TemperatureWarning, th.TemperatureCritical},
	}
	for _, c := range checks {
		if alert, ok := a.checkThreshold(snap, c.metric, c.value, c.warning, c.critical); ok {
			raised = append(raised, alert)
		}
	}

	if alert, ok := a.checkAnomaly(snap); ok {
		raised = append(raised, alert)
	}

	for _, alert := range raised {
		a.record(alert)
	}
	return raised
}

func (a *Analyzer) checkThreshold(snap models.MetricsSnapshot, metric string, value, warning, critical float64) (models.Alert, bool) {
	key := snap.NodeID + "/" + metric

	var level models.AlertLevel
	var threshold float64
	switch {
	case value >= critical:
		level, threshold = models.AlertCritical, critical
	case value >= warning:
		level, threshold = models.AlertWarning, warning
	default:
		delete(a.levels, key)
		return models.Alert{}, false
	}

	if prev, ok := a.levels[key]; ok && rank(prev) >= rank(level) {
		a.levels[key] = level
		return models.Alert{}, false
	}
	a.levels[key] = level

	return models.Alert{
		ID:        uuid.NewString(),
		NodeID:    snap.NodeID,
		Level:     level,
		Metric:    metric,
		Title:     fmt.Sprintf("%s %s on %s", titleCase(metric), level, snap.NodeID),
		Message:   fmt.Sprintf("%s at %.2f exceeds %s threshold %.2f", metric, value, level, threshold),
		Value:     value,
		Threshold: threshold,
		CreatedAt: snap.Timestamp,
	}, true
}

func (a *Analyzer) checkAnomaly(snap models.MetricsSnapshot) (models.Alert, bool) {
	window := append(a.windows[snap.NodeID], snap.Temperature)
	if len(window) > a.windowSize {
		window = window[1:]
	}
	a.windows[snap.NodeID] = window

	mean := rollingAverage(window)
	z := zScore(window, snap.Temperature, mean)
	if math.Abs(z) <= a.zScoreThreshold || len(window) < minWindow {
		return models.Alert{}, false
	}

	a.stats.TotalAnomalies++
	return models.Alert{
		ID:        uuid.NewString(),
		NodeID:    snap.NodeID,
		Level:     models.AlertInfo,
		Metric:    metricTemperature,
		Title:     fmt.Sprintf("Temperature anomaly on %s", snap.NodeID),
		Message:   fmt.Sprintf("temperature %.2f deviates from rolling average %.2f (z=%.2f)", snap.Temperature, mean, z),
		Value:     snap.Temperature,
		Threshold: mean,
		CreatedAt: snap.Timestamp,
	}, true
}

func (a *Analyzer) record(alert models.Alert) {
	a.stats.TotalAlerts++
	a.stats.LastAlertTime = alert.CreatedAt
	a.stats.AlertRate = float64(a.stats.TotalAlerts) / float64(a.stats.TotalSnapshots)

	a.alerts = append(a.alerts, alert)
	if len(a.alerts) > maxRecentAlerts {
		a.alerts = a.alerts[1:]
	}
}

// reset forgets an offline node's history so a fresh boot starts clean.
func (a *Analyzer) reset(nodeID string) {
	delete(a.windows, nodeID)
	for _, m := range []string{metricCPU, metricRAM, metricTemperature} {
		delete(a.levels, nodeID+"/"+m)
	}
}

func rollingAverage(window []float64) float64 {
	if len(window) == 0 {
		return 0
	}
	var sum float64
	for _, v := range window {
		sum += v
	}
	return sum / float64(len(window))
}

func zScore(window []float64, value, mean float64) float64 {
	if len(window) < 2 {
		return 0
	}

	var variance float64
	for _, v := range window {
		diff := v - mean
		variance += diff * diff
	}

	stdDev := math.Sqrt(variance / float64(len(window)-1))
	if stdDev == 0 {
		return 0
	}
	return (value - mean) / stdDev
}

func rank(l models.AlertLevel) int {
	switch l {
	case models.AlertCritical:
		return 2
	case models.AlertWarning:
		return 1
	default:
		return 0
	}
}

func titleCase(metric string) string {
	switch metric {
	case metricCPU:
		return "CPU"
	case metricRAM:
		return "RAM"
	default:
		return "Temperature"
	}
}

func (a *Analyzer) Thresholds() models.AlertThresholds {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.thresholds
}

func (a *Analyzer) SetThresholds(th models.AlertThresholds) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.thresholds = th
}

func (a *Analyzer) GetCurrentStats() models.AnalyticsStats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.stats
}

// GetRecentAlerts returns up to limit alerts, oldest first.
func (a *Analyzer) GetRecentAlerts(limit int) []models.Alert {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return lastN(a.alerts, limit)
}

// GetUnreadAlerts is GetRecentAlerts restricted to alerts not yet marked read.
func (a *Analyzer) GetUnreadAlerts(limit int) []models.Alert {
	a.mu.RLock()
	defer a.mu.RUnlock()

	unread := make([]models.Alert, 0, len(a.alerts))
	for _, alert := range a.alerts {
		if !alert.Read {
			unread = append(unread, alert)
		}
	}
	return lastN(unread, limit)
}

func lastN(alerts []models.Alert, limit int) []models.Alert {
	if limit > len(alerts) || limit <= 0 {
		limit = len(alerts)
	}

	start := len(alerts) - limit
	out := make([]models.Alert, limit)
	copy(out, alerts[start:])
	return out
}

func (a *Analyzer) GetAlert(id string) (models.Alert, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if i := a.indexOf(id); i >= 0 {
		return a.alerts[i], true
	}
	return models.Alert{}, false
}

func (a *Analyzer) MarkRead(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	i := a.indexOf(id)
	if i < 0 {
		return false
	}
	a.alerts[i].Read = true
	return true
}

func (a *Analyzer) DeleteAlert(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	i := a.indexOf(id)
	if i < 0 {
		return false
	}
	a.alerts = append(a.alerts[:i], a.alerts[i+1:]...)
	return true
}

func (a *Analyzer) indexOf(id string) int {
	for i := range a.alerts {
		if a.alerts[i].ID == id {
			return i
		}
	}
	return -1
}
