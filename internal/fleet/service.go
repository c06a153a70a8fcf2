package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fleetsim/internal/analytics"
	"fleetsim/internal/cache"
	"fleetsim/internal/logger"
	"fleetsim/internal/models"
	"fleetsim/internal/simulator"

	"go.uber.org/zap"
)

// SnapshotCache holds recent history and baseline overrides.
type SnapshotCache interface {
	StoreSnapshots(ctx context.Context, snaps []models.MetricsSnapshot) error
	GetRecentSnapshots(ctx context.Context, nodeID string, count int64) ([]models.MetricsSnapshot, error)
	ClearHistory(ctx context.Context, nodeID string, before time.Time) (int64, error)
	SaveBaseline(ctx context.Context, b models.Baseline) error
	LoadBaseline(ctx context.Context, nodeID string) (models.Baseline, bool, error)
}

// Publisher broadcasts batches to live listeners.
type Publisher interface {
	Publish(ctx context.Context, msg cache.Message) error
}

// HistoryStore is the durable record of snapshots and bookkeeping.
type HistoryStore interface {
	SaveSnapshots(ctx context.Context, snaps []models.MetricsSnapshot) error
	DeleteHistory(ctx context.Context, nodeID string, before time.Time) (int64, error)
	SaveBaseline(ctx context.Context, b models.Baseline) error
	LoadBaseline(ctx context.Context, nodeID string) (models.Baseline, bool, error)
	SaveStressLog(ctx context.Context, l models.StressTestLog) error
	SaveAlerts(ctx context.Context, alerts []models.Alert) error
}

// Service is the single driver of a simulation engine. It serializes every
// tick and control command behind one mutex and fans results out to the
// configured sinks. Any sink may be nil.
type Service struct {
	mu       sync.Mutex
	engine   *simulator.Engine
	interval time.Duration
	stress   map[string]*models.StressTestLog
	latest   map[string]models.MetricsSnapshot

	analyzer  *analytics.Analyzer
	cache     SnapshotCache
	publisher Publisher
	store     HistoryStore
}

type Option func(*Service)

func WithCache(c SnapshotCache) Option    { return func(s *Service) { s.cache = c } }
func WithPublisher(p Publisher) Option    { return func(s *Service) { s.publisher = p } }
func WithStore(h HistoryStore) Option     { return func(s *Service) { s.store = h } }
func WithInterval(d time.Duration) Option { return func(s *Service) { s.interval = d } }

func NewService(engine *simulator.Engine, analyzer *analytics.Analyzer, opts ...Option) *Service {
	s := &Service{
		engine:   engine,
		analyzer: analyzer,
		interval: 10 * time.Second,
		stress:   make(map[string]*models.StressTestLog),
		latest:   make(map[string]models.MetricsSnapshot),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type RegisterRequest struct {
	ID          string  `json:"id"`
	Online      bool    `json:"online"`
	CPU         float64 `json:"cpu"`
	RAM         float64 `json:"ram"`
	Temperature float64 `json:"temperature"`
	Uptime      int64   `json:"uptime"`
}

// Register adds a node and re-applies any saved baseline override. A zero
// temperature starts the node at idle.
func (s *Service) Register(ctx context.Context, req RegisterRequest) models.NodeState {
	if req.Temperature == 0 {
		req.Temperature = models.DefaultIdleTemp
	}

	saved, ok := s.loadBaseline(ctx, req.ID)

	s.mu.Lock()
	replaced := s.finishStressLocked(req.ID, models.StressCancelled, s.engine.Now())
	state := s.engine.Register(req.ID, req.Online, req.CPU, req.RAM, req.Temperature, req.Uptime)
	if ok && req.Online {
		_ = s.engine.SetBaseline(req.ID, saved.CPU, saved.RAM)
		state, _ = s.engine.State(req.ID)
	}
	s.mu.Unlock()

	if replaced != nil {
		s.saveStressLog(ctx, *replaced)
	}
	logger.Info("node registered",
		zap.String("node_id", req.ID),
		zap.Bool("online", req.Online),
		zap.Bool("baseline_restored", ok))
	return state
}

func (s *Service) loadBaseline(ctx context.Context, id string) (models.Baseline, bool) {
	if s.cache != nil {
		b, ok, err := s.cache.LoadBaseline(ctx, id)
		if err != nil {
			logger.Warn("load baseline from cache failed", zap.String("node_id", id), zap.Error(err))
		} else if ok {
			return b, true
		}
	}
	if s.store != nil {
		b, ok, err := s.store.LoadBaseline(ctx, id)
		if err != nil {
			logger.Warn("load baseline from store failed", zap.String("node_id", id), zap.Error(err))
			return models.Baseline{}, false
		}
		return b, ok
	}
	return models.Baseline{}, false
}

// SetStatus powers a node on or off. Powering off cancels a running stress test.
func (s *Service) SetStatus(ctx context.Context, id string, online bool) error {
	s.mu.Lock()
	if err := s.engine.SetStatus(id, online); err != nil {
		s.mu.Unlock()
		return err
	}
	var cancelled *models.StressTestLog
	if !online && s.engine.CancelStress(id) {
		cancelled = s.finishStressLocked(id, models.StressCancelled, s.engine.Now())
	}
	s.mu.Unlock()

	if cancelled != nil {
		s.saveStressLog(ctx, *cancelled)
	}
	logger.Info("node power changed", zap.String("node_id", id), zap.Bool("online", online))
	return nil
}

// SetBaseline overrides a node's operating point and persists the override.
func (s *Service) SetBaseline(ctx context.Context, id string, cpu, ram float64, by string) (models.Baseline, error) {
	s.mu.Lock()
	err := s.engine.SetBaseline(id, cpu, ram)
	state, _ := s.engine.State(id)
	s.mu.Unlock()
	if err != nil {
		return models.Baseline{}, err
	}

	b := models.Baseline{
		NodeID:    id,
		CPU:       state.CPUBaseline,
		RAM:       state.RAMBaseline,
		UpdatedBy: by,
		UpdatedAt: s.engine.Now(),
	}
	var errs []error
	if s.cache != nil {
		if err := s.cache.SaveBaseline(ctx, b); err != nil {
			errs = append(errs, err)
		}
	}
	if s.store != nil {
		if err := s.store.SaveBaseline(ctx, b); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		logger.Warn("persist baseline failed", zap.String("node_id", id), zap.Error(err))
	}
	logger.Info("baseline set", zap.String("node_id", id), zap.Float64("cpu", b.CPU), zap.Float64("ram", b.RAM))
	return b, nil
}

// TriggerStress starts a stress run and opens its log.
func (s *Service) TriggerStress(ctx context.Context, id string, duration time.Duration, intensity float64, by string) (models.StressEvent, error) {
	s.mu.Lock()
	ev, err := s.engine.TriggerStress(id, duration, intensity)
	if err != nil {
		s.mu.Unlock()
		stressTestsTotal.WithLabelValues("rejected").Inc()
		return models.StressEvent{}, err
	}
	// an ended run the ticker has not yet closed
	prev := s.finishStressLocked(id, models.StressCompleted, ev.Params.Start)
	l := &models.StressTestLog{
		EventID:     ev.ID,
		NodeID:      id,
		StartedAt:   ev.Params.Start,
		Duration:    int64(duration / time.Second),
		Intensity:   intensity,
		StartedBy:   by,
		Status:      models.StressRunning,
		BaselineCPU: ev.Params.BaselineCPU,
		BaselineRAM: ev.Params.BaselineRAM,
	}
	s.stress[id] = l
	logCopy := *l
	s.mu.Unlock()

	stressTestsTotal.WithLabelValues("started").Inc()
	if prev != nil {
		s.saveStressLog(ctx, *prev)
	}
	s.saveStressLog(ctx, logCopy)
	logger.Info("stress test started",
		zap.String("node_id", id),
		zap.String("event_id", ev.ID),
		zap.Duration("duration", duration),
		zap.Float64("intensity", intensity),
		zap.Time("warmup_end", ev.Params.WarmupEnd),
		zap.Time("plateau_end", ev.Params.PlateauEnd))
	return ev, nil
}

// CancelStress ends a node's stress run early.
func (s *Service) CancelStress(ctx context.Context, id string) bool {
	s.mu.Lock()
	ok := s.engine.CancelStress(id)
	var l *models.StressTestLog
	if ok {
		l = s.finishStressLocked(id, models.StressCancelled, s.engine.Now())
	}
	s.mu.Unlock()

	if l != nil {
		s.saveStressLog(ctx, *l)
		logger.Info("stress test cancelled", zap.String("node_id", id), zap.String("event_id", l.EventID))
	}
	return ok
}

func (s *Service) finishStressLocked(id string, status models.StressStatus, at time.Time) *models.StressTestLog {
	l, ok := s.stress[id]
	if !ok {
		return nil
	}
	delete(s.stress, id)
	l.Status = status
	l.CompletedAt = &at
	stressTestsTotal.WithLabelValues(string(status)).Inc()
	return l
}

func (s *Service) saveStressLog(ctx context.Context, l models.StressTestLog) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveStressLog(ctx, l); err != nil {
		persistFailures.WithLabelValues("store").Inc()
		logger.Warn("persist stress log failed", zap.String("event_id", l.EventID), zap.Error(err))
	}
}

// TickAll advances every registered node once and fans the batch out to the
// cache, the store and the publisher. Sink failures are returned joined;
// the batch itself is always complete.
func (s *Service) TickAll(ctx context.Context) ([]models.MetricsSnapshot, error) {
	start := time.Now()
	defer func() { tickDuration.Observe(time.Since(start).Seconds()) }()

	s.mu.Lock()
	ids := s.engine.NodeIDs()
	batch := make([]models.MetricsSnapshot, 0, len(ids))
	var finished []models.StressTestLog
	for _, id := range ids {
		snap, err := s.engine.Tick(id, s.interval)
		if err != nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("tick batch: %w", err)
		}
		batch = append(batch, snap)
		if l := s.trackStressLocked(id, snap); l != nil {
			finished = append(finished, *l)
		}
	}
	for _, snap := range batch {
		s.latest[snap.NodeID] = snap
	}
	s.mu.Unlock()

	ticksTotal.Add(float64(len(batch)))
	for _, snap := range batch {
		nodeCPU.WithLabelValues(snap.NodeID).Set(snap.CPUUsage)
		nodeRAM.WithLabelValues(snap.NodeID).Set(snap.RAMUsage)
		nodeTemperature.WithLabelValues(snap.NodeID).Set(snap.Temperature)
	}
	for _, l := range finished {
		s.saveStressLog(ctx, l)
		logger.Info("stress test completed",
			zap.String("node_id", l.NodeID),
			zap.String("event_id", l.EventID),
			zap.Float64("max_cpu", l.MaxCPU),
			zap.Float64("max_temp", l.MaxTemp))
	}

	return batch, s.fanOut(ctx, batch)
}

// trackStressLocked updates peaks of a running log and closes it once the
// engine has dropped the event.
func (s *Service) trackStressLocked(id string, snap models.MetricsSnapshot) *models.StressTestLog {
	l, ok := s.stress[id]
	if !ok {
		return nil
	}
	if _, pending := s.engine.PendingEvent(id); pending {
		l.Observe(snap)
		return nil
	}
	return s.finishStressLocked(id, models.StressCompleted, snap.Timestamp)
}

func (s *Service) fanOut(ctx context.Context, batch []models.MetricsSnapshot) error {
	if len(batch) == 0 {
		return nil
	}
	var errs []error
	if s.cache != nil {
		if err := s.cache.StoreSnapshots(ctx, batch); err != nil {
			persistFailures.WithLabelValues("cache").Inc()
			errs = append(errs, err)
		}
	}
	if s.store != nil {
		if err := s.store.SaveSnapshots(ctx, batch); err != nil {
			persistFailures.WithLabelValues("store").Inc()
			errs = append(errs, err)
		}
	}
	if s.publisher != nil {
		msg := cache.Message{Type: cache.MessageMetrics, Timestamp: s.engine.Now().UTC(), Snapshots: batch}
		if err := s.publisher.Publish(ctx, msg); err != nil {
			persistFailures.WithLabelValues("publish").Inc()
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CheckAlerts compares the latest snapshot of each node with the alert
// thresholds and returns the alerts raised.
func (s *Service) CheckAlerts(ctx context.Context) ([]models.Alert, error) {
	s.mu.Lock()
	ids := s.engine.NodeIDs()
	latest := make([]models.MetricsSnapshot, 0, len(ids))
	for _, id := range ids {
		if snap, ok := s.latest[id]; ok {
			latest = append(latest, snap)
		}
	}
	s.mu.Unlock()

	var raised []models.Alert
	for _, snap := range latest {
		raised = append(raised, s.analyzer.Analyze(snap)...)
	}
	if len(raised) == 0 {
		return nil, nil
	}

	for _, a := range raised {
		alertsRaised.WithLabelValues(string(a.Level)).Inc()
		logger.Warn(a.Title, zap.String("node_id", a.NodeID), zap.String("message", a.Message))
	}

	var errs []error
	if s.store != nil {
		if err := s.store.SaveAlerts(ctx, raised); err != nil {
			persistFailures.WithLabelValues("store").Inc()
			errs = append(errs, err)
		}
	}
	if s.publisher != nil {
		msg := cache.Message{Type: cache.MessageAlerts, Timestamp: s.engine.Now().UTC(), Alerts: raised}
		if err := s.publisher.Publish(ctx, msg); err != nil {
			persistFailures.WithLabelValues("publish").Inc()
			errs = append(errs, err)
		}
	}
	return raised, errors.Join(errs...)
}

func (s *Service) State(id string) (models.NodeState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.State(id)
}

func (s *Service) States() map[string]models.NodeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.States()
}

func (s *Service) PendingEvent(id string) (models.StressEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.PendingEvent(id)
}

// StressLog returns the running log for id, if any.
func (s *Service) StressLog(id string) (models.StressTestLog, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.stress[id]
	if !ok {
		return models.StressTestLog{}, false
	}
	return *l, true
}

func (s *Service) Latest(id string) (models.MetricsSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.latest[id]
	return snap, ok
}

// History returns up to limit recent snapshots for id, newest first.
func (s *Service) History(ctx context.Context, id string, limit int64) ([]models.MetricsSnapshot, error) {
	if s.cache == nil {
		if snap, ok := s.Latest(id); ok {
			return []models.MetricsSnapshot{snap}, nil
		}
		return nil, nil
	}
	return s.cache.GetRecentSnapshots(ctx, id, limit)
}

// ClearHistory deletes id's snapshots taken before before, or all of them
// when before is zero. The count is the store's when one is configured.
func (s *Service) ClearHistory(ctx context.Context, id string, before time.Time) (int64, error) {
	s.mu.Lock()
	if _, ok := s.engine.State(id); !ok {
		s.mu.Unlock()
		return 0, fmt.Errorf("clear history %q: %w", id, simulator.ErrNodeNotFound)
	}
	if snap, ok := s.latest[id]; ok && (before.IsZero() || snap.Timestamp.Before(before)) {
		delete(s.latest, id)
	}
	s.mu.Unlock()

	var deleted int64
	var errs []error
	if s.cache != nil {
		n, err := s.cache.ClearHistory(ctx, id, before)
		if err != nil {
			errs = append(errs, err)
		}
		deleted = n
	}
	if s.store != nil {
		n, err := s.store.DeleteHistory(ctx, id, before)
		if err != nil {
			errs = append(errs, err)
		}
		deleted = n
	}
	if err := errors.Join(errs...); err != nil {
		return deleted, err
	}
	logger.Info("metrics history cleared", zap.String("node_id", id), zap.Int64("deleted", deleted))
	return deleted, nil
}

func (s *Service) Analyzer() *analytics.Analyzer {
	return s.analyzer
}
