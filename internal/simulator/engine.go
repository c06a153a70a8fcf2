package simulator

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"fleetsim/internal/models"

	"github.com/google/uuid"
)

var (
	ErrNodeNotFound    = errors.New("node not registered")
	ErrNodeOffline     = errors.New("node is offline")
	ErrStressActive    = errors.New("stress test already active")
	ErrInvalidDuration = errors.New("stress duration must be positive")
)

// Engine owns the per-node simulation state and the pending stress events.
//
// Engine does no locking. Callers that tick or control it from more than
// one goroutine must serialize access themselves.
type Engine struct {
	nodes  map[string]*models.NodeState
	events map[string]*models.StressEvent
	rng    Rand
	now    func() time.Time
	loc    *time.Location
}

type Option func(*Engine)

// WithRand sets the random source used for noise and baseline jitter.
func WithRand(rng Rand) Option {
	return func(e *Engine) { e.rng = rng }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLocation sets the zone the time-of-day load factor is evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		nodes:  make(map[string]*models.NodeState),
		events: make(map[string]*models.StressEvent),
		now:    time.Now,
		loc:    time.UTC,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rng == nil {
		e.rng = NewRand(0)
	}
	return e
}

// Register creates (or replaces) the state for id. Online nodes get a
// jittered baseline so each one settles at its own operating point.
// Replacing a node drops its pending stress run.
func (e *Engine) Register(id string, online bool, cpu, ram, temp float64, uptime int64) models.NodeState {
	delete(e.events, id)
	state := models.NewNodeState(id, online)
	state.CPUCurrent = clampPercent(cpu)
	state.RAMCurrent = clampPercent(ram)
	state.TempCurrent = temp
	state.UptimeSeconds = max(uptime, 0)
	state.LastUpdate = e.now()
	if online {
		e.jitterBaseline(&state)
	}
	e.nodes[id] = &state
	return state
}

// Now reads the engine clock.
func (e *Engine) Now() time.Time {
	return e.now()
}

func (e *Engine) jitterBaseline(s *models.NodeState) {
	s.CPUBaseline = 25 + uniform(e.rng, 0, 20)
	s.RAMBaseline = 35 + uniform(e.rng, 0, 15)
}

// SetStatus powers a node on or off. Powering on is a fresh boot: new
// baseline, uptime from zero. Usage drops to zero on the next tick.
func (e *Engine) SetStatus(id string, online bool) error {
	s, ok := e.nodes[id]
	if !ok {
		return fmt.Errorf("set status %q: %w", id, ErrNodeNotFound)
	}
	wasOffline := !s.Online
	s.Online = online
	switch {
	case online && wasOffline:
		e.jitterBaseline(s)
		s.UptimeSeconds = 0
	case !online:
		s.UptimeSeconds = 0
	}
	return nil
}

// SetBaseline overrides the operating point; it applies from the next tick.
func (e *Engine) SetBaseline(id string, cpu, ram float64) error {
	s, ok := e.nodes[id]
	if !ok {
		return fmt.Errorf("set baseline %q: %w", id, ErrNodeNotFound)
	}
	s.CPUBaseline = clampPercent(cpu)
	s.RAMBaseline = clampPercent(ram)
	return nil
}

// TriggerStress queues a warmup/plateau/cooldown run for id. A node carries
// at most one run at a time.
func (e *Engine) TriggerStress(id string, duration time.Duration, intensity float64) (models.StressEvent, error) {
	s, ok := e.nodes[id]
	if !ok {
		return models.StressEvent{}, fmt.Errorf("trigger stress %q: %w", id, ErrNodeNotFound)
	}
	if duration <= 0 {
		return models.StressEvent{}, fmt.Errorf("trigger stress %q: %w", id, ErrInvalidDuration)
	}
	if !s.Online {
		return models.StressEvent{}, fmt.Errorf("trigger stress %q: %w", id, ErrNodeOffline)
	}
	now := e.now()
	if ev, ok := e.events[id]; ok && ev.Active(now) {
		return models.StressEvent{}, fmt.Errorf("trigger stress %q: %w", id, ErrStressActive)
	}

	ev := &models.StressEvent{
		ID:     uuid.NewString(),
		Kind:   models.EventStressTest,
		NodeID: id,
		Params: NewStressParams(now, duration, intensity, s.CPUBaseline, s.RAMBaseline),
	}
	e.events[id] = ev
	return *ev, nil
}

// CancelStress drops the queued run for id, if any.
func (e *Engine) CancelStress(id string) bool {
	if _, ok := e.events[id]; !ok {
		return false
	}
	delete(e.events, id)
	return true
}

// Tick advances id by the wall-clock time elapsed since its last update.
// interval is the scheduler's nominal cadence; the step itself is sized by
// the node's timestamps so late or early ticks integrate correctly.
func (e *Engine) Tick(id string, interval time.Duration) (models.MetricsSnapshot, error) {
	s, ok := e.nodes[id]
	if !ok {
		return models.MetricsSnapshot{}, fmt.Errorf("tick %q (interval %s): %w", id, interval, ErrNodeNotFound)
	}

	now := e.now()
	dt := now.Sub(s.LastUpdate).Seconds()
	if dt < 0 {
		dt = 0
	}

	stressCPU, stressRAM, stressed := e.advanceStress(id, now)

	if s.Online {
		if stressed {
			s.CPUCurrent, s.RAMCurrent = stressCPU, stressRAM
		} else {
			s.CPUCurrent = CPU(e.rng, s.CPUBaseline, s.CPUVariance, now.In(e.loc))
			s.RAMCurrent = RAM(e.rng, s.RAMBaseline, s.RAMVariance, s.CPUCurrent)
		}
		target := TargetTemperature(s.CPUCurrent, s.TempIdle, s.TempMax)
		s.TempCurrent = Integrate(s.TempCurrent, target, s.HeatingRate, s.CoolingRate, dt)
		s.UptimeSeconds += int64(dt)
	} else {
		s.CPUCurrent, s.RAMCurrent = 0, 0
		s.TempCurrent = Cool(s.TempCurrent, s.TempIdle, s.CoolingRate, dt)
		s.UptimeSeconds = 0
	}
	s.TempCurrent = clamp(s.TempCurrent, s.TempIdle, s.TempMax)
	s.LastUpdate = now

	return models.NewSnapshot(*s, now), nil
}

// advanceStress evaluates id's run at now and drops it once it has ended.
func (e *Engine) advanceStress(id string, now time.Time) (cpu, ram float64, ok bool) {
	ev, found := e.events[id]
	if !found {
		return 0, 0, false
	}
	cpu, ram, ok = StressLoad(e.rng, ev.Params, now)
	if !ok {
		delete(e.events, id)
	}
	return cpu, ram, ok
}

// State returns a copy of id's state.
func (e *Engine) State(id string) (models.NodeState, bool) {
	s, ok := e.nodes[id]
	if !ok {
		return models.NodeState{}, false
	}
	return *s, true
}

// States returns a copy of every node's state keyed by id.
func (e *Engine) States() map[string]models.NodeState {
	out := make(map[string]models.NodeState, len(e.nodes))
	for id, s := range e.nodes {
		out[id] = *s
	}
	return out
}

// NodeIDs lists registered ids in sorted order.
func (e *Engine) NodeIDs() []string {
	ids := make([]string, 0, len(e.nodes))
	for id := range e.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (e *Engine) PendingEvent(id string) (models.StressEvent, bool) {
	ev, ok := e.events[id]
	if !ok {
		return models.StressEvent{}, false
	}
	return *ev, true
}

func (e *Engine) PendingEvents() []models.StressEvent {
	out := make([]models.StressEvent, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, *ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}
