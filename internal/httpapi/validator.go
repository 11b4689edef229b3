package httpapi

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tejusbharadwaj/currentcost/internal/settings"
)

// a session never outlives the reading buffer, so a year is plenty
const maxSpan = 366 * 24 * time.Hour

type RequestValidator struct {
	validFeeds    map[string]bool
	validActions  map[string]bool
	validSettings map[string]bool
}

func NewRequestValidator() *RequestValidator {
	return &RequestValidator{
		validFeeds: map[string]bool{
			"demand":    true,
			"frequency": true,
		},
		validActions: map[string]bool{
			"start": true,
			"stop":  true,
			"pause": true,
		},
		validSettings: map[string]bool{
			settings.KeyKWhCost: true,
		},
	}
}

// ValidateSpan parses and checks a selected span.
func (v *RequestValidator) ValidateSpan(from, to string) (time.Time, time.Time, error) {
	if from == "" || to == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("missing timestamp")
	}
	start, err := time.Parse(time.RFC3339, from)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid from: %q is not RFC 3339", from)
	}
	end, err := time.Parse(time.RFC3339, to)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid to: %q is not RFC 3339", to)
	}

	if start.After(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("start time must be before end time")
	}
	if end.Sub(start) > maxSpan {
		return time.Time{}, time.Time{}, fmt.Errorf("time range exceeds maximum allowed")
	}
	return start, end, nil
}

// ValidateGridAction checks a national grid display command.
func (v *RequestValidator) ValidateGridAction(feed, action string) error {
	if !v.validFeeds[feed] {
		return fmt.Errorf("invalid feed: %s", feed)
	}
	if !v.validActions[action] {
		return fmt.Errorf("invalid action: %s", action)
	}
	return nil
}

// ValidateSetting checks a setting key and, when value is non-nil, its
// new value. Unit costs are non-negative decimals in pence.
func (v *RequestValidator) ValidateSetting(key string, value *string) error {
	if !v.validSettings[key] {
		return fmt.Errorf("unknown setting: %s", key)
	}
	if value == nil {
		return nil
	}
	d, err := decimal.NewFromString(*value)
	if err != nil {
		return fmt.Errorf("invalid %s: %q is not a number", key, *value)
	}
	if d.IsNegative() {
		return fmt.Errorf("invalid %s: must not be negative", key)
	}
	return nil
}
