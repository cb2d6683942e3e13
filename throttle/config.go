package throttle

import (
	"io"
	"time"

	"github.com/creasty/defaults"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned for a Config that cannot drive a Throttle.
var ErrInvalidConfig = errors.New("invalid throttle config")

// Config controls how a Throttle sizes its quanta. Zero fields take the
// values in the default tags.
type Config struct {
	// IdealDuration is the wall-clock time each quantum should take.
	IdealDuration time.Duration `yaml:"ideal_duration" default:"10ms"`
	// MinimumQuantum is the smallest quantum the controller will choose.
	MinimumQuantum int `yaml:"minimum_quantum" default:"1"`
	// InitialQuantum is the quantum of the first step.
	InitialQuantum int `yaml:"initial_quantum" default:"1"`
	// ThrottlingLimit, when positive, pins every quantum to this size and
	// disables the controller.
	ThrottlingLimit int `yaml:"throttling_limit"`
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() Config {
	var c Config
	defaults.MustSet(&c)
	return c
}

// LoadConfig reads a YAML document into a Config, applies defaults to the
// fields it leaves unset and validates the result. An empty document gives
// DefaultConfig.
func LoadConfig(r io.Reader) (Config, error) {
	var c Config
	if err := yaml.NewDecoder(r).Decode(&c); err != nil && err != io.EOF {
		return Config{}, errors.Wrap(err, "decoding throttle config")
	}
	if err := defaults.Set(&c); err != nil {
		return Config{}, errors.Wrap(err, "applying throttle config defaults")
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate reports whether c is usable.
func (c Config) Validate() error {
	switch {
	case c.IdealDuration <= 0:
		return errors.Wrapf(ErrInvalidConfig, "ideal duration %v must be positive", c.IdealDuration)
	case c.MinimumQuantum < 1:
		return errors.Wrapf(ErrInvalidConfig, "minimum quantum %d must be at least 1", c.MinimumQuantum)
	case c.InitialQuantum < c.MinimumQuantum:
		return errors.Wrapf(ErrInvalidConfig, "initial quantum %d is below the minimum %d", c.InitialQuantum, c.MinimumQuantum)
	case c.ThrottlingLimit < 0:
		return errors.Wrapf(ErrInvalidConfig, "throttling limit %d is negative", c.ThrottlingLimit)
	}
	return nil
}
