package models

import "time"

// AlertState is the lifecycle state of an alert.
type AlertState string

const (
	AlertArmed     AlertState = "armed"
	AlertTriggered AlertState = "triggered"
)

// Alert represents a floor-breach threshold on one entity.
type Alert struct {
	ID          string     `json:"id"`
	Key         EntityKey  `json:"key"`
	Threshold   float64    `json:"threshold"`
	State       AlertState `json:"state"`
	ArmedAt     time.Time  `json:"armed_at"`
	TriggeredAt *time.Time `json:"triggered_at,omitempty"`
}

// Armed reports whether the alert is still eligible for evaluation.
func (a Alert) Armed() bool {
	return a.State == AlertArmed
}

// TriggerRecord is a journaled alert trigger.
type TriggerRecord struct {
	ID            string    `json:"id"`
	AlertID       string    `json:"alert_id"`
	Key           EntityKey `json:"key"`
	Threshold     float64   `json:"threshold"`
	Value         float64   `json:"value"`
	Title         string    `json:"title"`
	Body          string    `json:"body"`
	Delivered     bool      `json:"delivered"`
	DeliveryError string    `json:"delivery_error,omitempty"`
	TriggeredAt   time.Time `json:"triggered_at"`
}
