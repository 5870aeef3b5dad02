// Package alerts holds price and volume threshold alerts and evaluates them
// against incoming samples. An alert fires at most once until an update
// re-arms it.
package alerts

import (
	"time"

	"poly-trade-bot/internal/clob"
)

type Condition string

const (
	PriceAbove  Condition = "PRICE_ABOVE"
	PriceBelow  Condition = "PRICE_BELOW"
	VolumeAbove Condition = "VOLUME_ABOVE"
	VolumeBelow Condition = "VOLUME_BELOW"
)

func (c Condition) Valid() bool {
	switch c {
	case PriceAbove, PriceBelow, VolumeAbove, VolumeBelow:
		return true
	default:
		return false
	}
}

// Met compares the sample against threshold strictly.
func (c Condition) Met(sample clob.PriceData, threshold float64) bool {
	switch c {
	case PriceAbove:
		return sample.Price > threshold
	case PriceBelow:
		return sample.Price < threshold
	case VolumeAbove:
		return sample.Volume24h > threshold
	case VolumeBelow:
		return sample.Volume24h < threshold
	default:
		return false
	}
}

type Alert struct {
	ID          string     `json:"id" msgpack:"id"`
	AccountID   string     `json:"accountId" msgpack:"accountId"`
	TokenID     string     `json:"tokenId" msgpack:"tokenId"`
	Condition   Condition  `json:"condition" msgpack:"condition"`
	Threshold   float64    `json:"threshold" msgpack:"threshold"`
	Enabled     bool       `json:"enabled" msgpack:"enabled"`
	Triggered   bool       `json:"triggered" msgpack:"triggered"`
	TriggeredAt *time.Time `json:"triggeredAt,omitempty" msgpack:"triggeredAt,omitempty"`
	// TriggerValue is the sample value that fired the alert.
	TriggerValue float64   `json:"triggerValue,omitempty" msgpack:"triggerValue,omitempty"`
	CreatedAt    time.Time `json:"createdAt" msgpack:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt" msgpack:"updatedAt"`
}

type Spec struct {
	AccountID string    `json:"accountId"`
	TokenID   string    `json:"tokenId"`
	Condition Condition `json:"condition"`
	Threshold float64   `json:"threshold"`
	Enabled   *bool     `json:"enabled"`
}

// Patch fields are applied when non-nil. Triggered may only be set to false.
type Patch struct {
	TokenID   *string    `json:"tokenId"`
	Condition *Condition `json:"condition"`
	Threshold *float64   `json:"threshold"`
	Enabled   *bool      `json:"enabled"`
	Triggered *bool      `json:"triggered"`
}
