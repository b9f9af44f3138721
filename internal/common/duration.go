package common

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration is a time.Duration that round-trips through YAML, JSON, and TOML
// config files using Go duration strings (e.g. "500ms", "1m30s").
type Duration struct {
	time.Duration
}

// NewDuration wraps a time.Duration.
func NewDuration(d time.Duration) Duration {
	return Duration{Duration: d}
}

// UnmarshalText parses a duration string. Used by TOML and YAML decoders.
func (d *Duration) UnmarshalText(data []byte) error {
	parsed, err := time.ParseDuration(string(data))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(data), err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText formats the duration as a string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalJSON accepts either a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch v := raw.(type) {
	case string:
		return d.UnmarshalText([]byte(v))
	case float64:
		d.Duration = time.Duration(v)
		return nil
	default:
		return fmt.Errorf("invalid duration value: %v", raw)
	}
}

// MarshalJSON formats the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}
