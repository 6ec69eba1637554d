package config

import (
	"errors"
	"fmt"
)

// ErrNotConfigured is returned when a feature is exercised without the
// configuration it requires. In development the feature degrades to a
// no-op; in production missing required keys abort startup instead.
var ErrNotConfigured = errors.New("not configured")

// MissingKeyError identifies the environment key whose absence disabled
// a feature or failed startup.
type MissingKeyError struct {
	Key     string
	Feature string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("missing required key %s for %s", e.Key, e.Feature)
}

func (e *MissingKeyError) Unwrap() error { return ErrNotConfigured }

// InvalidEnumError reports a configuration value outside its enum.
type InvalidEnumError struct {
	Key   string
	Value string
}

func (e *InvalidEnumError) Error() string {
	return fmt.Sprintf("invalid value %q for %s", e.Value, e.Key)
}
