// Package records persists per-strategy trade results and reconciles them
// with the terminal's deal history once positions close.
package records

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// Result is one recorded trade. A result is written when the order fills and
// patched by the updater when the position closes.
type Result struct {
	ID       string `json:"id" csv:"id" gorm:"primaryKey;size:36"`
	Strategy string `json:"strategy" csv:"strategy" gorm:"index"`
	Symbol   string `json:"symbol" csv:"symbol"`

	Order    int64 `json:"order" csv:"order"`
	Deal     int64 `json:"deal" csv:"deal"`
	Position int64 `json:"position" csv:"position" gorm:"index"`

	// Time is the fill time in Unix milliseconds UTC.
	Time int64 `json:"time" csv:"time"`

	Type       string  `json:"type" csv:"type"`
	Volume     float64 `json:"volume" csv:"volume"`
	Price      float64 `json:"price" csv:"price"`
	StopLoss   float64 `json:"stop_loss" csv:"stop_loss"`
	TakeProfit float64 `json:"take_profit" csv:"take_profit"`
	Pips       float64 `json:"pips" csv:"pips"`

	ExpectedProfit float64 `json:"expected_profit" csv:"expected_profit"`
	ActualProfit   float64 `json:"actual_profit" csv:"actual_profit"`
	Win            bool    `json:"win" csv:"win"`
	Closed         bool    `json:"closed" csv:"closed"`

	// Params are the strategy parameters active when the trade was taken,
	// kept so results can be grouped by configuration afterwards.
	Params map[string]any `json:"parameters" csv:"-" gorm:"-"`
}

// NewID returns a fresh result identifier.
func NewID() string { return uuid.NewString() }

func (r *Result) paramsJSON() string {
	if len(r.Params) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(r.Params)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func parseParams(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Store is a persistence backend for trade results. One store instance is
// shared by all strategies; results are partitioned by strategy name.
type Store interface {
	// Save appends a new result.
	Save(ctx context.Context, res *Result) error
	// Update rewrites an existing result, matched by ID.
	Update(ctx context.Context, res *Result) error
	// Open returns the strategy's results not yet marked closed.
	Open(ctx context.Context, strategy string) ([]Result, error)
	// All returns every result recorded for the strategy.
	All(ctx context.Context, strategy string) ([]Result, error)
}
