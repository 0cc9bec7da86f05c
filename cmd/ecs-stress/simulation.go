package main

import (
	"encoding/binary"
	"math/rand"

	"github.com/rotisserie/eris"

	"github.com/plus3/colony/ecs"
)

type Position struct{ X, Y float64 }

type Velocity struct{ X, Y float64 }

type Health struct {
	Current float64
	Max     float64
}

type Lifetime struct{ Remaining float64 }

// Frozen entities are skipped by movement.
type Frozen struct{}

// FrameCounter is a singleton updated once per frame.
type FrameCounter struct {
	Frames    int64
	Destroyed int64
	Spawned   int64
}

type components struct {
	position ecs.ComponentId
	velocity ecs.ComponentId
	health   ecs.ComponentId
	lifetime ecs.ComponentId
	frozen   ecs.ComponentId
	// team is registered from a raw layout: one little-endian uint32
	team ecs.ComponentId
}

func registerComponents(r *ecs.ComponentRegistry) (components, error) {
	healthHooks := ecs.TypedHooks[Health]{
		Ctor: func(h *Health) { *h = Health{Current: 100, Max: 100} },
	}
	c := components{
		position: ecs.RegisterComponent[Position](r),
		velocity: ecs.RegisterComponent[Velocity](r),
		health:   ecs.RegisterComponent[Health](r, ecs.WithHooks(healthHooks.Erase())),
		lifetime: ecs.RegisterComponent[Lifetime](r),
		frozen:   ecs.RegisterComponent[Frozen](r),
	}
	team, err := r.Register(ecs.ComponentDesc{Name: "stress.Team", Size: 4, Align: 4})
	if err != nil {
		return c, eris.Wrap(err, "registering team layout")
	}
	c.team = team
	return c, nil
}

func spawnRandomEntity(w *ecs.World, c components, rng *rand.Rand) (ecs.EntityId, error) {
	e, err := w.Create()
	if err != nil {
		return 0, err
	}
	if err := w.Set(e, c.position, Position{X: rng.Float64() * 100, Y: rng.Float64() * 100}); err != nil {
		return e, err
	}
	if rng.Intn(2) == 0 {
		if err := w.Set(e, c.velocity, Velocity{X: rng.NormFloat64(), Y: rng.NormFloat64()}); err != nil {
			return e, err
		}
	}
	if rng.Intn(3) == 0 {
		if err := w.Add(e, c.health); err != nil {
			return e, err
		}
	}
	if rng.Intn(4) == 0 {
		if err := w.Set(e, c.lifetime, Lifetime{Remaining: 1 + rng.Float64()*4}); err != nil {
			return e, err
		}
	}
	if rng.Intn(5) == 0 {
		team := make([]byte, 4)
		binary.LittleEndian.PutUint32(team, uint32(rng.Intn(4)))
		if err := w.Set(e, c.team, team); err != nil {
			return e, err
		}
	}
	return e, nil
}

type movementView struct {
	*Position
	*Velocity
	Frozen *Frozen `ecs:"exclude"`
}

// MovementSystem integrates velocity into position.
type MovementSystem struct {
	Movers *ecs.View[movementView]
}

func (s *MovementSystem) Run(frame *ecs.Frame) error {
	for _, m := range s.Movers.Iter() {
		m.Position.X += m.Velocity.X * frame.DeltaTime
		m.Position.Y += m.Velocity.Y * frame.DeltaTime
	}
	return nil
}

// RegenSystem heals every damaged entity.
type RegenSystem struct {
	health ecs.ComponentId
}

func (s *RegenSystem) Run(frame *ecs.Frame) error {
	q := frame.World.Query(s.health)
	for r := range q.Iter() {
		col := ecs.Column[Health](r.Table, s.health)
		for i := r.Start; i < r.End; i++ {
			h := &col[i]
			h.Current = min(h.Max, h.Current+5*frame.DeltaTime)
		}
	}
	return nil
}

// DecaySystem counts lifetimes down and destroys expired entities.
type DecaySystem struct {
	lifetime ecs.ComponentId
	Counter  *ecs.Singleton[FrameCounter]
}

func (s *DecaySystem) Run(frame *ecs.Frame) error {
	counter := s.Counter.Get()
	for r := range frame.World.Query(s.lifetime).Iter() {
		col := ecs.Column[Lifetime](r.Table, s.lifetime)
		for i, e := range r.Entities() {
			col[r.Start+i].Remaining -= frame.DeltaTime
			if col[r.Start+i].Remaining > 0 {
				continue
			}
			frame.Commands.Destroy(e)
			if counter != nil {
				counter.Destroyed++
			}
		}
	}
	return nil
}

// SpawnerSystem keeps the population near its target.
type SpawnerSystem struct {
	target  int
	comps   components
	rng     *rand.Rand
	Counter *ecs.Singleton[FrameCounter]
}

func (s *SpawnerSystem) Run(frame *ecs.Frame) error {
	missing := s.target - frame.World.Count()
	counter := s.Counter.Get()
	for i := 0; i < missing; i++ {
		if _, err := spawnRandomEntity(frame.World, s.comps, s.rng); err != nil {
			return err
		}
		if counter != nil {
			counter.Spawned++
		}
	}
	return nil
}

// FreezeSystem toggles the Frozen tag on a few entities every frame.
type FreezeSystem struct {
	comps components
	rng   *rand.Rand
}

func (s *FreezeSystem) Run(frame *ecs.Frame) error {
	for e := range frame.World.Query(s.comps.velocity).Entities() {
		if s.rng.Intn(1000) != 0 {
			continue
		}
		if frame.World.Has(e, s.comps.frozen) {
			frame.Commands.Remove(e, s.comps.frozen)
		} else {
			frame.Commands.Add(e, s.comps.frozen)
		}
	}
	return nil
}

// AuditSystem counts frames and checks the world invariants now and then.
type AuditSystem struct {
	Counter *ecs.Singleton[FrameCounter]
}

func (s *AuditSystem) Run(frame *ecs.Frame) error {
	counter := s.Counter.Get()
	if counter == nil {
		return nil
	}
	counter.Frames++
	if counter.Frames%100 == 0 {
		return frame.World.Validate()
	}
	return nil
}

func registerSystems(w *ecs.World, c components, target int, rng *rand.Rand) error {
	if _, err := ecs.NewSingleton(w, FrameCounter{}); err != nil {
		return err
	}
	// Spawner and freezer share the rng, so they stay in different phases.
	systems := []struct {
		name   string
		system ecs.System
		phase  ecs.Phase
		reads  ecs.Signature
		writes ecs.Signature
	}{
		{"spawner", &SpawnerSystem{target: target, comps: c, rng: rng}, ecs.PreUpdate, nil,
			ecs.NewSignature(c.position, c.velocity, c.health, c.lifetime, c.team)},
		{"movement", &MovementSystem{}, ecs.OnUpdate, ecs.NewSignature(c.velocity, c.frozen), ecs.NewSignature(c.position)},
		{"regen", &RegenSystem{health: c.health}, ecs.OnUpdate, nil, ecs.NewSignature(c.health)},
		{"decay", &DecaySystem{lifetime: c.lifetime}, ecs.OnUpdate, nil, ecs.NewSignature(c.lifetime)},
		{"freeze", &FreezeSystem{comps: c, rng: rng}, ecs.PostUpdate, ecs.NewSignature(c.velocity), ecs.NewSignature(c.frozen)},
		{"audit", &AuditSystem{}, ecs.OnValidate, nil, nil},
	}
	for _, s := range systems {
		if err := w.Scheduler().Register(s.name, s.system, s.phase, s.reads, s.writes); err != nil {
			return err
		}
	}
	return nil
}
