package ecs

import (
	"context"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kelindar/bitmap"
	"github.com/plus3/colony/internal/statsd"
	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"
)

// Phase names a stage of the pipeline. Systems run once per phase invocation.
type Phase string

// Builtin pipeline, in execution order.
const (
	OnLoad     Phase = "OnLoad"
	PostLoad   Phase = "PostLoad"
	PreUpdate  Phase = "PreUpdate"
	OnUpdate   Phase = "OnUpdate"
	OnValidate Phase = "OnValidate"
	PostUpdate Phase = "PostUpdate"
	PreStore   Phase = "PreStore"
	OnStore    Phase = "OnStore"
)

// DefaultPipeline returns the builtin phases in execution order.
func DefaultPipeline() []Phase {
	return []Phase{OnLoad, PostLoad, PreUpdate, OnUpdate, OnValidate, PostUpdate, PreStore, OnStore}
}

// SchedulerStats provides statistics about scheduler execution.
type SchedulerStats struct {
	SystemCount     int
	TotalExecutions int64
	Systems         []SystemStats
}

// SystemStats provides execution statistics for a single system.
type SystemStats struct {
	Name           string
	Phase          Phase
	Wave           int
	ExecutionCount int64
	MinDuration    time.Duration
	MaxDuration    time.Duration
	AvgDuration    time.Duration
	LastDuration   time.Duration
	TotalDuration  time.Duration
}

type systemStatsInternal struct {
	executionCount int64
	minDuration    time.Duration
	maxDuration    time.Duration
	totalDuration  time.Duration
	lastDuration   time.Duration
}

func (s *systemStatsInternal) record(d time.Duration) {
	s.executionCount++
	s.lastDuration = d
	s.totalDuration += d
	if d < s.minDuration {
		s.minDuration = d
	}
	if d > s.maxDuration {
		s.maxDuration = d
	}
}

// systemEntry is a registered system with its declared access.
type systemEntry struct {
	name   string
	system System
	phase  Phase
	reads  Signature
	writes Signature
	// masks of component ids, used for conflict checks
	readMask  bitmap.Bitmap
	writeMask bitmap.Bitmap
	wave      int
	stats     systemStatsInternal
}

func (e *systemEntry) conflicts(other *systemEntry) bool {
	return intersects(e.writeMask, other.writeMask) ||
		intersects(e.writeMask, other.readMask) ||
		intersects(e.readMask, other.writeMask)
}

func (e *systemEntry) canRead(comp ComponentId) bool {
	return e.readMask.Contains(uint32(comp)) || e.writeMask.Contains(uint32(comp))
}

func (e *systemEntry) canWrite(comp ComponentId) bool {
	return e.writeMask.Contains(uint32(comp))
}

func intersects(a, b bitmap.Bitmap) bool {
	if a.Count() == 0 || b.Count() == 0 {
		return false
	}
	both := a.Clone(nil)
	both.And(b)
	return both.Count() > 0
}

func maskOf(sig Signature) bitmap.Bitmap {
	var m bitmap.Bitmap
	for _, id := range sig {
		m.Set(uint32(id))
	}
	return m
}

type phaseSchedule struct {
	systems []*systemEntry
	waves   [][]*systemEntry
}

// Scheduler groups systems into phases and runs each phase as a sequence of waves.
// Systems of one wave have no conflicting access and run in parallel; a system is placed in
// the wave after the latest earlier system of its phase it conflicts with.
type Scheduler struct {
	world *World

	mu          sync.Mutex
	pipeline    []Phase
	phases      map[Phase]*phaseSchedule
	order       []*systemEntry
	diagnostics []error

	// serializes phase runs
	runMu sync.Mutex
}

func newScheduler(world *World) *Scheduler {
	s := &Scheduler{
		world:  world,
		phases: make(map[Phase]*phaseSchedule),
	}
	for _, phase := range DefaultPipeline() {
		s.pipeline = append(s.pipeline, phase)
		s.phases[phase] = &phaseSchedule{}
	}
	return s
}

// Pipeline returns the phases in execution order
func (s *Scheduler) Pipeline() []Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.pipeline)
}

// AddPhase inserts phase into the pipeline right after another one.
// Adding a phase that already exists is a no-op.
func (s *Scheduler) AddPhase(phase Phase, after Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.phases[phase]; ok {
		return nil
	}
	idx := slices.Index(s.pipeline, after)
	if idx < 0 {
		return eris.Wrapf(ErrUnknownPhase, "phase %s", after)
	}
	s.pipeline = slices.Insert(s.pipeline, idx+1, phase)
	s.phases[phase] = &phaseSchedule{}
	return nil
}

// Register adds a system to phase with its declared component access.
//
// A component declared as both read and written is reported as an ErrConflictingAccessDeclaration
// diagnostic (see Diagnostics) and treated as written. Struct systems get their View and
// Singleton fields initialized against the world.
func (s *Scheduler) Register(name string, system System, phase Phase, reads, writes Signature) error {
	reads = NewSignature(reads...)
	writes = NewSignature(writes...)
	if err := s.world.registry.validate(reads.Union(writes)); err != nil {
		return eris.Wrapf(err, "system %s", name)
	}
	if err := s.initializeFields(system); err != nil {
		return eris.Wrapf(err, "system %s", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	schedule, ok := s.phases[phase]
	if !ok {
		return eris.Wrapf(ErrUnknownPhase, "phase %s", phase)
	}

	if overlap := reads.Intersect(writes); len(overlap) > 0 {
		diag := eris.Wrapf(ErrConflictingAccessDeclaration, "system %s reads and writes %s", name, overlap)
		s.diagnostics = append(s.diagnostics, diag)
		s.world.logger.Warn().
			Str("system", name).
			Str("components", overlap.String()).
			Msg("system declares the same components as read and written, treating them as written")
		reads = reads.Difference(writes)
	}

	entry := &systemEntry{
		name:      name,
		system:    system,
		phase:     phase,
		reads:     reads,
		writes:    writes,
		readMask:  maskOf(reads),
		writeMask: maskOf(writes),
		stats:     systemStatsInternal{minDuration: time.Duration(1<<63 - 1)},
	}
	for _, earlier := range schedule.systems {
		if entry.conflicts(earlier) && earlier.wave+1 > entry.wave {
			entry.wave = earlier.wave + 1
		}
	}
	if entry.wave == len(schedule.waves) {
		schedule.waves = append(schedule.waves, nil)
	}
	schedule.waves[entry.wave] = append(schedule.waves[entry.wave], entry)
	schedule.systems = append(schedule.systems, entry)
	s.order = append(s.order, entry)

	s.world.logger.Debug().
		Str("system", name).
		Str("phase", string(phase)).
		Int("wave", entry.wave).
		Str("reads", reads.String()).
		Str("writes", writes.String()).
		Msg("system registered")
	return nil
}

// initializeFields calls Init(*World) on every exported View or Singleton field of a struct system.
func (s *Scheduler) initializeFields(system System) error {
	systemValue := reflect.ValueOf(system)
	if systemValue.Kind() != reflect.Ptr || systemValue.IsNil() {
		return nil
	}
	systemValue = systemValue.Elem()
	if systemValue.Kind() != reflect.Struct {
		return nil
	}

	systemType := systemValue.Type()
	worldValue := reflect.ValueOf(s.world)
	for i := 0; i < systemValue.NumField(); i++ {
		field := systemValue.Field(i)
		if !field.CanSet() {
			continue
		}

		// *View[T] and *Singleton[T] fields are allocated before Init
		if field.Kind() == reflect.Ptr && field.IsNil() && isInitializable(field.Type().Elem()) {
			field.Set(reflect.New(field.Type().Elem()))
		}
		target := field
		if field.Kind() == reflect.Struct {
			target = field.Addr()
		}
		if target.Kind() != reflect.Ptr || !isInitializable(target.Type().Elem()) {
			continue
		}

		initMethod := target.MethodByName("Init")
		if !initMethod.IsValid() {
			return eris.Errorf("Init method not found on field %s", systemType.Field(i).Name)
		}
		out := initMethod.Call([]reflect.Value{worldValue})
		if len(out) == 1 && !out[0].IsNil() {
			return eris.Wrapf(out[0].Interface().(error), "initializing field %s", systemType.Field(i).Name)
		}
	}
	return nil
}

var ecsPkgPath = reflect.TypeFor[World]().PkgPath()

func isInitializable(t reflect.Type) bool {
	if t.PkgPath() != ecsPkgPath {
		return false
	}
	return strings.HasPrefix(t.Name(), "View[") || strings.HasPrefix(t.Name(), "Singleton[")
}

// Diagnostics returns the access declaration problems found at registration
func (s *Scheduler) Diagnostics() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.diagnostics)
}

// Waves returns the system names of phase grouped by wave
func (s *Scheduler) Waves(phase Phase) [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	schedule, ok := s.phases[phase]
	if !ok {
		return nil
	}
	out := make([][]string, len(schedule.waves))
	for i, wave := range schedule.waves {
		for _, entry := range wave {
			out[i] = append(out[i], entry.name)
		}
	}
	return out
}

// RunPhase runs every system of phase and then applies the changes they deferred.
// Structural changes made by systems stay deferred until the whole phase completes.
// The first system error stops later waves; the command buffer is flushed regardless.
func (s *Scheduler) RunPhase(dt float64, phase Phase) error {
	s.mu.Lock()
	schedule, ok := s.phases[phase]
	var waves [][]*systemEntry
	if ok {
		waves = slices.Clone(schedule.waves)
	}
	s.mu.Unlock()
	if !ok {
		return eris.Wrapf(ErrUnknownPhase, "phase %s", phase)
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	w := s.world
	start := time.Now()
	w.phaseActive.Store(true)

	var runErr error
	for _, wave := range waves {
		if runErr = s.runWave(dt, phase, wave); runErr != nil {
			break
		}
	}

	w.phaseActive.Store(false)
	var flushErr error
	if w.iterating.Load() == 0 {
		flushErr = w.commands.Flush()
	}
	statsd.EmitTiming("phase", start, statsd.Tag("phase", string(phase)))

	if runErr != nil {
		return eris.Wrapf(runErr, "phase %s", phase)
	}
	if flushErr != nil {
		return eris.Wrapf(flushErr, "flushing phase %s", phase)
	}
	return nil
}

func (s *Scheduler) runWave(dt float64, phase Phase, wave []*systemEntry) error {
	if len(wave) == 1 {
		return s.runSystem(dt, phase, wave[0])
	}
	g := new(errgroup.Group)
	g.SetLimit(s.world.config.Workers)
	for _, entry := range wave {
		g.Go(func() error {
			return s.runSystem(dt, phase, entry)
		})
	}
	return g.Wait()
}

func (s *Scheduler) runSystem(dt float64, phase Phase, entry *systemEntry) error {
	frame := &Frame{
		DeltaTime: dt,
		Phase:     phase,
		World:     s.world,
		Commands:  s.world.commands,
		system:    entry,
	}

	start := time.Now()
	err := entry.system.Run(frame)
	duration := time.Since(start)

	s.mu.Lock()
	entry.stats.record(duration)
	s.mu.Unlock()
	statsd.EmitTiming("system", start, statsd.Tag("system", entry.name), statsd.Tag("phase", string(phase)))

	if err != nil {
		return eris.Wrapf(err, "system %s failed", entry.name)
	}
	return nil
}

// Progress runs every phase of the pipeline in order.
func (s *Scheduler) Progress(dt float64) error {
	for _, phase := range s.Pipeline() {
		if err := s.RunPhase(dt, phase); err != nil {
			return err
		}
	}
	return nil
}

// Run calls Progress at the given interval until the context is cancelled or a phase fails.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			dt := now.Sub(lastTime).Seconds()
			lastTime = now
			if err := s.Progress(dt); err != nil {
				return err
			}
		}
	}
}

// GetStats returns statistics about system execution in registration order.
func (s *Scheduler) GetStats() *SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &SchedulerStats{
		SystemCount: len(s.order),
		Systems:     make([]SystemStats, len(s.order)),
	}

	var totalExecs int64
	for i, entry := range s.order {
		internal := entry.stats
		avgDuration := time.Duration(0)
		minDuration := internal.minDuration
		if internal.executionCount > 0 {
			avgDuration = internal.totalDuration / time.Duration(internal.executionCount)
		} else {
			minDuration = 0
		}

		stats.Systems[i] = SystemStats{
			Name:           entry.name,
			Phase:          entry.phase,
			Wave:           entry.wave,
			ExecutionCount: internal.executionCount,
			MinDuration:    minDuration,
			MaxDuration:    internal.maxDuration,
			AvgDuration:    avgDuration,
			LastDuration:   internal.lastDuration,
			TotalDuration:  internal.totalDuration,
		}
		totalExecs += internal.executionCount
	}

	stats.TotalExecutions = totalExecs
	return stats
}
