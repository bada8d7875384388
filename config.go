package logthrottle

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the declarative form of a Throttle's settings, suitable for
// embedding in an application's YAML configuration:
//
//	delay: 5s
type Config struct {
	// Delay is the quiet period, written as a Go duration string.
	Delay time.Duration `yaml:"delay"`
}

// DefaultConfig returns the settings New uses when given no options.
func DefaultConfig() Config {
	return Config{Delay: DefaultDelay}
}

// ParseConfig decodes YAML into a Config. Fields missing from data keep
// their defaults.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("logthrottle: parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the settings can build a Throttle.
func (c Config) Validate() error {
	if c.Delay <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidDelay, c.Delay)
	}
	return nil
}

// NewFromConfig creates a Throttle from cfg. Options are applied after cfg
// and may override it.
func NewFromConfig[T any](cfg Config, opts ...Option[T]) (*Throttle[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return New(append([]Option[T]{WithDelay[T](cfg.Delay)}, opts...)...)
}
