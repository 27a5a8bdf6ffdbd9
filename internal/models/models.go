// Package models provides domain models for the alert monitoring engine.
package models

import (
	"fmt"
	"strings"
	"time"

	apperrors "stockalert/internal/errors"
)

// Kind is the namespace an entity belongs to.
type Kind string

const (
	KindStock    Kind = "stock"
	KindCurrency Kind = "currency"
)

// Kinds lists every supported kind in evaluation order.
var Kinds = []Kind{KindStock, KindCurrency}

// ParseKind converts user input into a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "stock", "stocks":
		return KindStock, nil
	case "currency", "currencies":
		return KindCurrency, nil
	default:
		return "", fmt.Errorf("%w %q", apperrors.ErrUnknownKind, s)
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindStock || k == KindCurrency
}

// ValueLabel is the human name of the value tracked for the kind.
func (k Kind) ValueLabel() string {
	if k == KindCurrency {
		return "rate"
	}
	return "price"
}

// EntityKey identifies an entity. Stock and currency IDs never collide even
// when the strings are equal.
type EntityKey struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
}

// NewKey builds an EntityKey.
func NewKey(kind Kind, id string) EntityKey {
	return EntityKey{Kind: kind, ID: id}
}

func (k EntityKey) String() string {
	return string(k.Kind) + ":" + k.ID
}

// Entity is one instrument as returned by a fetch.
type Entity struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Value         float64 `json:"value"`
	ChangePercent float64 `json:"change_percent"`
}

// Observation is the latest known value for an entity.
type Observation struct {
	Key           EntityKey `json:"key"`
	Name          string    `json:"name"`
	Value         float64   `json:"value"`
	ChangePercent float64   `json:"change_percent"`
	ObservedAt    time.Time `json:"observed_at"`
}

// ObservationsFrom stamps a fetched entity set with kind and time.
func ObservationsFrom(kind Kind, entities []Entity, at time.Time) []Observation {
	obs := make([]Observation, 0, len(entities))
	for _, e := range entities {
		obs = append(obs, Observation{
			Key:           NewKey(kind, e.ID),
			Name:          e.Name,
			Value:         e.Value,
			ChangePercent: e.ChangePercent,
			ObservedAt:    at,
		})
	}
	return obs
}
