// Package alerts owns armed threshold alerts and their evaluation.
package alerts

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"stockalert/internal/models"
)

// Registry holds at most one alert per entity. All methods are safe for
// concurrent use and hand out copies; the registry never shares its alerts.
type Registry struct {
	mu     sync.RWMutex
	alerts map[models.EntityKey]*models.Alert
	order  []models.EntityKey
	now    func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		alerts: make(map[models.EntityKey]*models.Alert),
		now:    time.Now,
	}
}

// Arm replaces any alert for key with a new Armed alert at threshold. The
// current observation is not consulted.
func (r *Registry) Arm(key models.EntityKey, threshold float64) models.Alert {
	alert := &models.Alert{
		ID:        uuid.NewString(),
		Key:       key,
		Threshold: threshold,
		State:     models.AlertArmed,
		ArmedAt:   r.now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(key)
	r.alerts[key] = alert
	r.order = append(r.order, key)
	return *alert
}

// Remove deletes the alert for key if there is one.
func (r *Registry) Remove(key models.EntityKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(key)
}

func (r *Registry) removeLocked(key models.EntityKey) bool {
	if _, ok := r.alerts[key]; !ok {
		return false
	}
	delete(r.alerts, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// ClearAll removes every alert.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = make(map[models.EntityKey]*models.Alert)
	r.order = nil
}

// Get returns a copy of the alert for key.
func (r *Registry) Get(key models.EntityKey) (models.Alert, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.alerts[key]
	if !ok {
		return models.Alert{}, false
	}
	return *a, true
}

// List returns all alerts in insertion order.
func (r *Registry) List() []models.Alert {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Alert, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, *r.alerts[k])
	}
	return out
}

// Armed returns the Armed alerts of the given kind.
func (r *Registry) Armed(kind models.Kind) []models.Alert {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.Alert
	for _, k := range r.order {
		a := r.alerts[k]
		if k.Kind == kind && a.Armed() {
			out = append(out, *a)
		}
	}
	return out
}

// MarkTriggered moves the alert for key from Armed to Triggered, provided it
// is still the alert identified by alertID. It returns true only for the call
// that performed the transition.
func (r *Registry) MarkTriggered(key models.EntityKey, alertID string) (models.Alert, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.alerts[key]
	if !ok || a.ID != alertID || !a.Armed() {
		return models.Alert{}, false
	}

	now := r.now()
	a.State = models.AlertTriggered
	a.TriggeredAt = &now
	return *a, true
}

// Len returns the number of alerts in the registry.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.alerts)
}

// Stats contains counts of alerts by state and kind.
type Stats struct {
	Total     int                 `json:"total"`
	Armed     int                 `json:"armed"`
	Triggered int                 `json:"triggered"`
	ByKind    map[models.Kind]int `json:"by_kind"`
}

// Stats returns alert statistics.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{ByKind: make(map[models.Kind]int)}
	for _, a := range r.alerts {
		stats.Total++
		if a.Armed() {
			stats.Armed++
		} else {
			stats.Triggered++
		}
		stats.ByKind[a.Key.Kind]++
	}
	return stats
}
