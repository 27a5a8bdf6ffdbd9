// Package monitor drives the fetch, evaluate and notify cycle for armed alerts.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"stockalert/internal/alerts"
	apperrors "stockalert/internal/errors"
	"stockalert/internal/feed"
	"stockalert/internal/logging"
	"stockalert/internal/metrics"
	"stockalert/internal/models"
	"stockalert/internal/notify"
	"stockalert/internal/observation"
	"stockalert/internal/resilience"
	"stockalert/internal/store"
)

// Config holds the monitor's timing.
type Config struct {
	Interval     time.Duration
	FetchTimeout time.Duration
}

// DefaultConfig returns a five minute cadence with a ten second fetch bound.
func DefaultConfig() Config {
	return Config{
		Interval:     300 * time.Second,
		FetchTimeout: 10 * time.Second,
	}
}

// Deps are the collaborators a Monitor works with. Store, Registry and Sink
// default to fresh instances and a no-op sink; Journal, Metrics and Health
// are optional.
type Deps struct {
	Store    *observation.Store
	Registry *alerts.Registry
	Sources  []feed.Source
	Sink     notify.Sink
	Journal  store.Journal
	Metrics  *metrics.Metrics
	Health   *resilience.HealthMonitor
	Logger   zerolog.Logger
}

// Monitor periodically refreshes observations and fires armed alerts.
type Monitor struct {
	cfg      Config
	store    *observation.Store
	registry *alerts.Registry
	sources  []feed.Source
	sink     notify.Sink
	journal  store.Journal
	metrics  *metrics.Metrics
	health   *resilience.HealthMonitor
	logger   zerolog.Logger

	// cycleMu serializes whole cycles; applyMu serializes the handling of
	// each kind's fetch result within a cycle.
	cycleMu sync.Mutex
	applyMu sync.Mutex

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	onTrigger func(models.Alert, models.Observation)
	now       func() time.Time
}

// New creates a Monitor. Every source is wrapped with the fetch timeout.
func New(cfg Config, deps Deps) *Monitor {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}

	m := &Monitor{
		cfg:      cfg,
		store:    deps.Store,
		registry: deps.Registry,
		sink:     deps.Sink,
		journal:  deps.Journal,
		metrics:  deps.Metrics,
		health:   deps.Health,
		logger:   logging.WithComponent(deps.Logger, "monitor"),
		now:      time.Now,
	}
	if m.store == nil {
		m.store = observation.NewStore()
	}
	if m.registry == nil {
		m.registry = alerts.NewRegistry()
	}
	if m.sink == nil {
		m.sink = notify.NewNoOpNotifier()
	}
	for _, src := range deps.Sources {
		m.sources = append(m.sources, feed.Timed(src, cfg.FetchTimeout))
		m.health.RegisterComponent(string(src.Kind()))
	}
	return m
}

// SetOnTrigger sets a callback invoked after each trigger is delivered.
func (m *Monitor) SetOnTrigger(fn func(models.Alert, models.Observation)) {
	m.onTrigger = fn
}

// Store returns the observation store.
func (m *Monitor) Store() *observation.Store { return m.store }

// Registry returns the alert registry.
func (m *Monitor) Registry() *alerts.Registry { return m.registry }

// Health returns the feed health tracker, which may be nil.
func (m *Monitor) Health() *resilience.HealthMonitor { return m.health }

// Start runs a cycle immediately and then one per interval until ctx is
// cancelled or Stop is called. Calling Start on a running monitor is a
// no-op; once the loop has ended it can be started again.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.started = true

	go m.loop(ctx, m.done)

	m.logger.Info().
		Dur("interval", m.cfg.Interval).
		Int("sources", len(m.sources)).
		Msg("Alert monitor started")
	return nil
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer m.loopExited(done)

	m.RunCycle(ctx)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RunCycle(ctx)
		}
	}
}

// loopExited clears the running state when the loop ends because its parent
// context was cancelled. A newer Start owns a different done channel.
func (m *Monitor) loopExited(done chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done == done && m.started {
		m.started = false
		m.cancel()
		m.logger.Info().Msg("Alert monitor stopped: context cancelled")
	}
}

// Stop cancels the loop and waits for an in-flight cycle to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	<-done
	m.logger.Info().Msg("Alert monitor stopped")
}

// KindResult is the outcome of one kind within a cycle.
type KindResult struct {
	Fetched   int            `json:"fetched"`
	Err       error          `json:"-"`
	Error     string         `json:"error,omitempty"`
	Triggered []models.Alert `json:"triggered,omitempty"`
}

// CycleResult summarizes a cycle.
type CycleResult struct {
	StartedAt time.Time                   `json:"started_at"`
	Duration  time.Duration               `json:"duration"`
	Kinds     map[models.Kind]*KindResult `json:"kinds"`
}

// Triggered returns every alert triggered during the cycle.
func (r CycleResult) Triggered() []models.Alert {
	var out []models.Alert
	for _, k := range models.Kinds {
		if kr, ok := r.Kinds[k]; ok {
			out = append(out, kr.Triggered...)
		}
	}
	return out
}

// RunCycle fetches every source concurrently, then applies each result one
// at a time. Cycles never overlap: a second caller waits for the first.
func (m *Monitor) RunCycle(ctx context.Context) CycleResult {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	started := m.now()
	result := CycleResult{
		StartedAt: started,
		Kinds:     make(map[models.Kind]*KindResult, len(m.sources)),
	}

	var wg conc.WaitGroup
	for _, src := range m.sources {
		src := src
		wg.Go(func() {
			t0 := time.Now()
			entities, err := src.Fetch(ctx)
			m.apply(ctx, src.Kind(), entities, err, time.Since(t0), &result)
		})
	}
	if r := wg.WaitAndRecover(); r != nil {
		m.logger.Error().Err(r.AsError()).Msg("Fetch panicked")
	}

	result.Duration = m.now().Sub(started)
	m.metrics.RecordCycle(result.Duration.Seconds())
	m.updateGauges()

	m.logger.Debug().
		Dur("duration", result.Duration).
		Int("triggered", len(result.Triggered())).
		Msg("Cycle completed")
	return result
}

// apply stores a fetch result and evaluates that kind. A failed fetch leaves
// the previous observations in place and skips evaluation.
func (m *Monitor) apply(ctx context.Context, kind models.Kind, entities []models.Entity, err error, took time.Duration, result *CycleResult) {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	kr := &KindResult{}
	result.Kinds[kind] = kr

	logger := logging.WithKind(m.logger, string(kind))
	logging.LogFetch(logger, string(kind), len(entities), took, err)
	m.metrics.RecordFetch(string(kind), took.Seconds(), len(entities), err)
	m.health.RecordFetch(string(kind), took, err)

	if err != nil {
		kr.Err = err
		kr.Error = err.Error()
		return
	}

	kr.Fetched = len(entities)
	m.store.ReplaceAll(kind, models.ObservationsFrom(kind, entities, m.now()))
	kr.Triggered = m.evaluate(ctx, kind)
}

// Evaluate checks every armed alert of kind against the current observations
// without fetching. It is what a cycle does after a successful fetch.
func (m *Monitor) Evaluate(ctx context.Context, kind models.Kind) []models.Alert {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()
	triggered := m.evaluate(ctx, kind)
	m.updateGauges()
	return triggered
}

func (m *Monitor) evaluate(ctx context.Context, kind models.Kind) []models.Alert {
	var triggered []models.Alert

	for _, a := range m.registry.Armed(kind) {
		obs, ok := m.store.Get(a.Key)
		if !ok {
			continue
		}
		if !alerts.Evaluate(obs, a) {
			continue
		}

		// Only the call that flips the state delivers. A concurrent Remove
		// or re-Arm makes this a no-op.
		fired, ok := m.registry.MarkTriggered(a.Key, a.ID)
		if !ok {
			continue
		}

		m.metrics.RecordTrigger(string(kind))
		logging.LogTrigger(m.logger, fired.ID, string(kind), fired.Key.ID, fired.Threshold, obs.Value)

		m.deliver(ctx, fired, obs)
		triggered = append(triggered, fired)
	}

	return triggered
}

func (m *Monitor) deliver(ctx context.Context, alert models.Alert, obs models.Observation) {
	n := notify.AlertNotification(alert, obs)
	n.Timestamp = m.now()

	err := m.safeDeliver(ctx, n)
	m.metrics.RecordDelivery(err)
	if err != nil {
		m.logger.Warn().
			Err(err).
			Str("alert_id", alert.ID).
			Str("entity", alert.Key.String()).
			Msg("Notification delivery failed, alert stays triggered")
	}

	if m.journal != nil {
		rec := &models.TriggerRecord{
			ID:          n.ID,
			AlertID:     alert.ID,
			Key:         alert.Key,
			Threshold:   alert.Threshold,
			Value:       obs.Value,
			Title:       n.Title,
			Body:        n.Body,
			Delivered:   err == nil,
			TriggeredAt: n.Timestamp,
		}
		if err != nil {
			rec.DeliveryError = err.Error()
		}
		if jerr := m.journal.RecordTrigger(ctx, rec); jerr != nil {
			m.logger.Warn().Err(jerr).Str("alert_id", alert.ID).Msg("Failed to journal trigger")
		}
	}

	if m.onTrigger != nil {
		m.onTrigger(alert, obs)
	}
}

// safeDeliver turns a panicking sink into a delivery error.
func (m *Monitor) safeDeliver(ctx context.Context, n notify.Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.NewDeliveryError("sink", apperrors.Wrapf(apperrors.ErrDeliveryFailed, "panic: %v", r))
		}
	}()
	return m.sink.Deliver(ctx, n)
}

func (m *Monitor) updateGauges() {
	stats := m.registry.Stats()
	m.metrics.SetAlerts(stats.Armed, stats.Triggered)
}

// Arm validates the threshold input and arms an alert for kind/id.
func (m *Monitor) Arm(kind, id, threshold string) (models.Alert, error) {
	k, err := models.ParseKind(kind)
	if err != nil {
		return models.Alert{}, err
	}
	if id == "" {
		return models.Alert{}, apperrors.NewValidationError("id", id, "entity id is required")
	}
	t, err := alerts.ParseThreshold(threshold)
	if err != nil {
		return models.Alert{}, err
	}

	alert := m.registry.Arm(models.NewKey(k, id), t)
	m.updateGauges()
	m.logger.Info().
		Str("alert_id", alert.ID).
		Str("entity", alert.Key.String()).
		Float64("threshold", alert.Threshold).
		Msg("Alert armed")
	return alert, nil
}

// Remove deletes the alert for key. Removing an absent alert is not an error.
func (m *Monitor) Remove(key models.EntityKey) bool {
	removed := m.registry.Remove(key)
	m.updateGauges()
	if removed {
		m.logger.Info().Str("entity", key.String()).Msg("Alert removed")
	}
	return removed
}

// ClearAll removes every alert.
func (m *Monitor) ClearAll() {
	m.registry.ClearAll()
	m.updateGauges()
	m.logger.Info().Msg("All alerts cleared")
}
