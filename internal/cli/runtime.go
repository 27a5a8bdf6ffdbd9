package cli

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"stockalert/internal/alerts"
	"stockalert/internal/config"
	"stockalert/internal/feed"
	"stockalert/internal/metrics"
	"stockalert/internal/models"
	"stockalert/internal/monitor"
	"stockalert/internal/notify"
	"stockalert/internal/resilience"
	"stockalert/internal/store"
)

// runtime bundles everything a monitoring command needs.
type runtime struct {
	Monitor  *monitor.Monitor
	Journal  store.Journal
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Notifier *notify.MultiNotifier

	logger zerolog.Logger
}

// buildRuntime wires the monitor from configuration. A journal that cannot
// be opened is logged and skipped. Without notifications nothing is
// journaled, so history only lists triggers the user was told about.
func (app *App) buildRuntime(notifications bool) (*runtime, error) {
	cfg := app.Config
	logger := app.Logger

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	notifCfg := cfg.Notifications
	if !notifications {
		notifCfg.Enabled = false
	}
	notifier := notify.NewMultiNotifier(notifCfg)
	notifier.AddChannel(notify.NewLogNotifier(logger))

	var journal store.Journal
	if cfg.Store.Enabled && notifications {
		s, err := store.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			logger.Warn().Err(err).Str("path", cfg.Store.Path).Msg("Trigger history unavailable")
		} else {
			journal = s
		}
	}

	kinds, err := configuredKinds(cfg.Monitor.Kinds)
	if err != nil {
		return nil, err
	}

	// A feed is stale once two scheduled refreshes have been missed.
	health := resilience.NewHealthMonitor(resilience.HealthMonitorConfig{
		StaleAfter: 2*cfg.Monitor.Interval + cfg.Monitor.FetchTimeout,
	})

	client := feed.NewClient(cfg.Feed)
	mon := monitor.New(monitor.Config{
		Interval:     cfg.Monitor.Interval,
		FetchTimeout: cfg.Monitor.FetchTimeout,
	}, monitor.Deps{
		Sources: client.Sources(kinds...),
		Sink:    notifier,
		Journal: journal,
		Metrics: m,
		Health:  health,
		Logger:  logger,
	})

	armConfigured(mon, cfg.Alerts, logger)

	return &runtime{
		Monitor:  mon,
		Journal:  journal,
		Registry: reg,
		Metrics:  m,
		Notifier: notifier,
		logger:   logger,
	}, nil
}

// Close releases the journal and notification channels.
func (rt *runtime) Close() {
	if rt.Journal != nil {
		rt.Journal.Close()
	}
	if err := rt.Notifier.Close(); err != nil {
		rt.logger.Warn().Err(err).Msg("Closing notification channels")
	}
}

func configuredKinds(names []string) ([]models.Kind, error) {
	if len(names) == 0 {
		return models.Kinds, nil
	}
	var kinds []models.Kind
	seen := make(map[models.Kind]bool)
	for _, n := range names {
		k, err := models.ParseKind(n)
		if err != nil {
			return nil, err
		}
		if !seen[k] {
			seen[k] = true
			kinds = append(kinds, k)
		}
	}
	return kinds, nil
}

// armConfigured arms the [[alerts]] entries. Entries with a bad threshold
// are reported and skipped.
func armConfigured(mon *monitor.Monitor, entries []config.AlertConfig, logger zerolog.Logger) {
	for i, a := range entries {
		if _, err := mon.Arm(a.Kind, a.ID, a.Threshold); err != nil {
			logger.Warn().Err(err).Int("index", i).Str("id", a.ID).Msg("Skipping configured alert")
		}
	}
}

// parseAlertConfig validates one [[alerts]] entry without arming it.
func parseAlertConfig(a config.AlertConfig) (models.EntityKey, error) {
	k, err := models.ParseKind(a.Kind)
	if err != nil {
		return models.EntityKey{}, err
	}
	if _, err := alerts.ParseThreshold(a.Threshold); err != nil {
		return models.EntityKey{}, err
	}
	return models.NewKey(k, a.ID), nil
}
