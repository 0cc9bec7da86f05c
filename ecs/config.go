package ecs

import (
	"runtime"

	jlconfig "github.com/JeremyLoy/config"
	"github.com/rotisserie/eris"
)

// Config tunes a World. The zero value of a field means "use the default".
type Config struct {
	// MaxTableRows bounds the rows of any single table. Growth past it fails with
	// ErrAllocationFailure. Zero means unbounded.
	MaxTableRows int `config:"COLONY_MAX_TABLE_ROWS"`
	// MaxDeferGenerations bounds how many generations of deferred ops one flush replays.
	MaxDeferGenerations int `config:"COLONY_MAX_DEFER_GENERATIONS"`
	// Workers limits how many systems of one phase wave run at once.
	Workers int `config:"COLONY_WORKERS"`
	// StrictAccess turns access outside a system's declared sets into ErrAccessViolation
	// instead of a logged warning.
	StrictAccess bool `config:"COLONY_STRICT_ACCESS"`
	// SkipConstructors leaves newly added components zeroed instead of running Ctor hooks.
	SkipConstructors bool `config:"COLONY_SKIP_CONSTRUCTORS"`
	// InitialCapacity pre-sizes the entity index.
	InitialCapacity int `config:"COLONY_INITIAL_CAPACITY"`
}

const (
	defaultMaxDeferGenerations = 16
	defaultInitialCapacity     = 1024
)

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		MaxDeferGenerations: defaultMaxDeferGenerations,
		Workers:             runtime.GOMAXPROCS(0),
		InitialCapacity:     defaultInitialCapacity,
	}
}

// ConfigFromEnv layers COLONY_* environment variables over DefaultConfig.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := jlconfig.FromEnv().To(&cfg); err != nil {
		return Config{}, eris.Wrap(err, "loading config from env")
	}
	return cfg.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxDeferGenerations <= 0 {
		c.MaxDeferGenerations = def.MaxDeferGenerations
	}
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.InitialCapacity <= 0 {
		c.InitialCapacity = def.InitialCapacity
	}
	if c.MaxTableRows < 0 {
		c.MaxTableRows = 0
	}
	return c
}
