// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"stockalert/internal/models"
)

// Journal records alert triggers. It is a history only; alert state is
// never restored from it.
type Journal interface {
	RecordTrigger(ctx context.Context, rec *models.TriggerRecord) error
	GetTriggers(ctx context.Context, filter TriggerFilter) ([]models.TriggerRecord, error)
	Close() error
}

// TriggerFilter represents filters for querying triggers.
type TriggerFilter struct {
	Kind  models.Kind
	ID    string
	Since time.Time
	Limit int
}
