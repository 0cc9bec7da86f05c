package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"runtime"
	"strings"
	"time"

	jlconfig "github.com/JeremyLoy/config"
	"github.com/pkg/profile"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/plus3/colony/ecs"
	"github.com/plus3/colony/internal/statsd"
)

// StressConfig is read from STRESS_* environment variables; flags override it.
type StressConfig struct {
	Duration    string `config:"STRESS_DURATION"`
	Entities    int    `config:"STRESS_ENTITIES"`
	Profile     string `config:"STRESS_PROFILE"`
	StatsdAddr  string `config:"STRESS_STATSD_ADDR"`
	LogLevel    string `config:"STRESS_LOG_LEVEL"`
	PrettyLog   bool   `config:"STRESS_PRETTY_LOG"`
	GCPauseInfo bool   `config:"STRESS_GC_PAUSE_METRICS"`
}

func defaultStressConfig() StressConfig {
	return StressConfig{
		Duration:  "10s",
		Entities:  10000,
		LogLevel:  "info",
		PrettyLog: true,
	}
}

func loadConfig() (StressConfig, ecs.Config, error) {
	cfg := defaultStressConfig()
	if err := jlconfig.FromEnv().To(&cfg); err != nil {
		return cfg, ecs.Config{}, eris.Wrap(err, "loading stress config")
	}

	flag.StringVar(&cfg.Duration, "duration", cfg.Duration, "The total duration the test should run for.")
	flag.IntVar(&cfg.Entities, "entities", cfg.Entities, "The initial number of entities to create.")
	flag.StringVar(&cfg.Profile, "profile", cfg.Profile, "Write a cpu or mem profile to the working directory.")
	flag.StringVar(&cfg.StatsdAddr, "statsd", cfg.StatsdAddr, "Send metrics to this statsd address.")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level.")
	flag.BoolVar(&cfg.PrettyLog, "pretty", cfg.PrettyLog, "Human readable console logs.")
	flag.BoolVar(&cfg.GCPauseInfo, "gc-pause-metrics", cfg.GCPauseInfo, "Enable detailed GC pause metrics in the report.")
	flag.Parse()

	worldCfg, err := ecs.ConfigFromEnv()
	if err != nil {
		return cfg, ecs.Config{}, err
	}
	return cfg, worldCfg, nil
}

func setupLogging(cfg StressConfig) error {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return eris.Wrapf(err, "log level %q", cfg.LogLevel)
	}
	zerolog.SetGlobalLevel(level)
	if cfg.PrettyLog {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return nil
}

func startProfile(kind string) (interface{ Stop() }, error) {
	switch strings.ToLower(kind) {
	case "":
		return nil, nil
	case "cpu":
		return profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook), nil
	case "mem":
		return profile.Start(profile.MemProfileAllocs, profile.ProfilePath("."), profile.NoShutdownHook), nil
	}
	return nil, eris.Errorf("unknown profile kind %q", kind)
}

func main() {
	cfg, worldCfg, err := loadConfig()
	if err == nil {
		err = setupLogging(cfg)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	duration, err := time.ParseDuration(cfg.Duration)
	if err != nil {
		log.Fatal().Err(err).Str("duration", cfg.Duration).Msg("invalid duration")
	}

	if cfg.StatsdAddr != "" {
		if err := statsd.Init(cfg.StatsdAddr, []string{"service:ecs-stress"}); err != nil {
			log.Fatal().Err(err).Msg("failed to start statsd client")
		}
		defer statsd.Reset()
	}

	p, err := startProfile(cfg.Profile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start profiling")
	}
	if p != nil {
		defer p.Stop()
	}

	log.Info().Str("profile", cfg.Profile).Msg("starting stress run")

	registry := ecs.NewComponentRegistry()
	comps, err := registerComponents(registry)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to register components")
	}
	world := ecs.NewWorld(registry, ecs.WithConfig(worldCfg), ecs.WithLogger(log.Logger))
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	if err := registerSystems(world, comps, cfg.Entities, rng); err != nil {
		log.Fatal().Err(err).Msg("failed to register systems")
	}

	log.Info().Int("entities", cfg.Entities).Msg("populating world")
	for i := 0; i < cfg.Entities; i++ {
		if _, err := spawnRandomEntity(world, comps, rng); err != nil {
			log.Fatal().Err(err).Msg("failed to populate world")
		}
	}
	log.Info().Int("tables", len(world.Tables())).Msg("world populated")

	report := &Report{
		Duration:   duration,
		Entities:   cfg.Entities,
		Components: len(registry.Components()),
		Systems:    world.Scheduler().GetStats().SystemCount,
		ShowGC:     cfg.GCPauseInfo,
	}

	runtime.ReadMemStats(&report.MemBefore)

	log.Info().Dur("duration", duration).Msg("running simulation")
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()
	began := time.Now()
	if err := runFrames(ctx, world, &report.Frames); err != nil {
		log.Fatal().Err(err).Int("frame", len(report.Frames.samples)).Msg("simulation failed")
	}
	report.Elapsed = time.Since(began)
	report.Frames.Summarize()
	runtime.ReadMemStats(&report.MemAfter)
	if counter, err := ecs.NewSingleton[FrameCounter](world); err == nil && counter.Exists() {
		report.Population = *counter.Get()
	}
	report.World = world.Stats()
	report.Scheduler = world.Scheduler().GetStats()

	log.Info().Msg("simulation finished")
	world.LogState(zerolog.DebugLevel)
	if err := world.Validate(); err != nil {
		log.Fatal().Err(err).Msg("world is inconsistent")
	}

	fmt.Println()
	if err := report.Generate(os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("writing report")
	}
}

// runFrames steps the world as fast as it can until ctx is done, feeding the measured wall
// time of each frame back in as the next delta.
func runFrames(ctx context.Context, world *ecs.World, times *FrameTimes) error {
	prev := time.Now()
	for ctx.Err() == nil {
		now := time.Now()
		if err := world.Scheduler().Progress(now.Sub(prev).Seconds()); err != nil {
			return err
		}
		prev = now
		times.Record(time.Since(now))
	}
	return nil
}
