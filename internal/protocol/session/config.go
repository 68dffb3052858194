package session

import "time"

// BackoffConfig defines dial retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines transport and request reliability defaults for one
// instrument connection.
type Config struct {
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	WriteTimeout   time.Duration
	InitVersion    uint8
	Backoff        BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 5 * time.Second,
		RequestTimeout: 10 * time.Second,
		WriteTimeout:   5 * time.Second,
		InitVersion:    1,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.InitVersion == 0 {
		c.InitVersion = def.InitVersion
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	return c
}
