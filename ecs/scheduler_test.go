package ecs_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plus3/colony/ecs"
)

func noopSystem() ecs.System {
	return ecs.SystemFunc(func(frame *ecs.Frame) error { return nil })
}

func TestSchedulerWaves(t *testing.T) {
	w, c := newTestWorld(t)
	s := w.Scheduler()

	require.NoError(t, s.Register("move", noopSystem(), ecs.OnUpdate, ecs.Signature{c.velocity}, ecs.Signature{c.position}))
	require.NoError(t, s.Register("think", noopSystem(), ecs.OnUpdate, ecs.Signature{c.health}, ecs.Signature{c.ai}))
	require.NoError(t, s.Register("render", noopSystem(), ecs.OnUpdate, ecs.Signature{c.position}, nil))
	require.NoError(t, s.Register("label", noopSystem(), ecs.OnUpdate, ecs.Signature{c.position, c.name}, nil))
	require.NoError(t, s.Register("heal", noopSystem(), ecs.OnUpdate, nil, ecs.Signature{c.health}))

	assert.Equal(t, [][]string{
		{"move", "think"},
		{"render", "label", "heal"},
	}, s.Waves(ecs.OnUpdate))

	// readers of the same component never conflict
	require.NoError(t, s.Register("a", noopSystem(), ecs.OnStore, ecs.Signature{c.position}, nil))
	require.NoError(t, s.Register("b", noopSystem(), ecs.OnStore, ecs.Signature{c.position}, nil))
	require.NoError(t, s.Register("c", noopSystem(), ecs.OnStore, nil, ecs.Signature{c.position}))
	require.NoError(t, s.Register("d", noopSystem(), ecs.OnStore, ecs.Signature{c.position}, nil))
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}, {"d"}}, s.Waves(ecs.OnStore))

	assert.Empty(t, s.Waves(ecs.OnLoad))
	assert.Nil(t, s.Waves("Missing"))
}

func TestSchedulerRegisterErrors(t *testing.T) {
	w, c := newTestWorld(t)
	s := w.Scheduler()

	err := s.Register("bad phase", noopSystem(), "Missing", nil, nil)
	assert.ErrorIs(t, err, ecs.ErrUnknownPhase)

	err = s.Register("bad component", noopSystem(), ecs.OnUpdate, ecs.Signature{999}, nil)
	assert.ErrorIs(t, err, ecs.ErrUnknownComponent)

	require.NoError(t, s.Register("rw", noopSystem(), ecs.OnUpdate, ecs.Signature{c.position, c.velocity}, ecs.Signature{c.position}))
	diags := s.Diagnostics()
	require.Len(t, diags, 1)
	assert.ErrorIs(t, diags[0], ecs.ErrConflictingAccessDeclaration)

	// position is treated as written, so a reader lands in the next wave
	require.NoError(t, s.Register("reader", noopSystem(), ecs.OnUpdate, ecs.Signature{c.position}, nil))
	assert.Equal(t, [][]string{{"rw"}, {"reader"}}, s.Waves(ecs.OnUpdate))
}

func TestSchedulerPipelineOrder(t *testing.T) {
	w, _ := newTestWorld(t)
	s := w.Scheduler()

	var order []ecs.Phase
	record := ecs.SystemFunc(func(frame *ecs.Frame) error {
		order = append(order, frame.Phase)
		return nil
	})

	require.NoError(t, s.AddPhase("Physics", ecs.OnUpdate))
	require.NoError(t, s.AddPhase("Physics", ecs.OnLoad))
	assert.ErrorIs(t, s.AddPhase("Late", "Missing"), ecs.ErrUnknownPhase)

	require.NoError(t, s.Register("store", record, ecs.OnStore, nil, nil))
	require.NoError(t, s.Register("physics", record, "Physics", nil, nil))
	require.NoError(t, s.Register("load", record, ecs.OnLoad, nil, nil))
	require.NoError(t, s.Register("update", record, ecs.OnUpdate, nil, nil))

	require.NoError(t, s.Progress(1.0/60))
	assert.Equal(t, []ecs.Phase{ecs.OnLoad, ecs.OnUpdate, "Physics", ecs.OnStore}, order)
	assert.Equal(t, []ecs.Phase{
		ecs.OnLoad, ecs.PostLoad, ecs.PreUpdate, ecs.OnUpdate, "Physics",
		ecs.OnValidate, ecs.PostUpdate, ecs.PreStore, ecs.OnStore,
	}, s.Pipeline())
}

func integrate(c testComponents) ecs.System {
	return ecs.SystemFunc(func(frame *ecs.Frame) error {
		for r := range frame.World.Query(c.position, c.velocity).Iter() {
			positions := ecs.Column[Position](r.Table, c.position)
			velocities := ecs.Column[Velocity](r.Table, c.velocity)
			for i := r.Start; i < r.End; i++ {
				positions[i].X += velocities[i].DX * float32(frame.DeltaTime)
				positions[i].Y += velocities[i].DY * float32(frame.DeltaTime)
			}
		}
		return nil
	})
}

func regenerate(c testComponents) ecs.System {
	return ecs.SystemFunc(func(frame *ecs.Frame) error {
		for r := range frame.World.Query(c.health).Iter() {
			health := ecs.Column[Health](r.Table, c.health)
			for i := r.Start; i < r.End; i++ {
				if health[i].Current < health[i].Max {
					health[i].Current++
				}
			}
		}
		return nil
	})
}

func runSimulation(t *testing.T, workers int) []Position {
	t.Helper()
	w, c := newTestWorld(t, ecs.WithConfig(ecs.Config{Workers: workers}))
	var ids []ecs.EntityId
	for i := 0; i < 200; i++ {
		ids = append(ids, mustSpawn(t, w,
			Position{X: float32(i)},
			Velocity{DX: float32(i%7) - 3, DY: 1},
			Health{Current: i % 10, Max: 10},
		))
	}
	s := w.Scheduler()
	require.NoError(t, s.Register("integrate", integrate(c), ecs.OnUpdate, ecs.Signature{c.velocity}, ecs.Signature{c.position}))
	require.NoError(t, s.Register("regenerate", regenerate(c), ecs.OnUpdate, nil, ecs.Signature{c.health}))
	require.Len(t, s.Waves(ecs.OnUpdate), 1)

	for i := 0; i < 10; i++ {
		require.NoError(t, s.Progress(0.5))
	}
	out := make([]Position, len(ids))
	for i, e := range ids {
		p, err := ecs.Get[Position](w, e)
		require.NoError(t, err)
		out[i] = *p
		h, err := ecs.Get[Health](w, e)
		require.NoError(t, err)
		assert.Equal(t, 10, h.Current)
	}
	return out
}

func TestSchedulerParallelMatchesSequential(t *testing.T) {
	sequential := runSimulation(t, 1)
	parallel := runSimulation(t, 8)
	assert.Equal(t, sequential, parallel)
	assert.Equal(t, float32(-15), sequential[0].X)
	assert.Equal(t, float32(5), sequential[0].Y)
}

func TestSchedulerDefersUntilPhaseEnds(t *testing.T) {
	w, c := newTestWorld(t)
	s := w.Scheduler()

	var created ecs.EntityId
	require.NoError(t, s.Register("spawner", ecs.SystemFunc(func(frame *ecs.Frame) error {
		assert.True(t, frame.World.Deferring())
		e, err := frame.World.Spawn(Position{X: 7})
		created = e
		return err
	}), ecs.OnUpdate, nil, ecs.Signature{c.position}))

	seen := -1
	require.NoError(t, s.Register("counter", ecs.SystemFunc(func(frame *ecs.Frame) error {
		seen = frame.World.Query(c.position).Count()
		return nil
	}), ecs.OnUpdate, ecs.Signature{c.position}, nil))

	require.NoError(t, s.RunPhase(0, ecs.OnUpdate))
	assert.Equal(t, 0, seen)
	assert.False(t, w.Deferring())
	assert.True(t, w.IsAlive(created))

	pos, err := ecs.Get[Position](w, created)
	require.NoError(t, err)
	assert.Equal(t, float32(7), pos.X)

	assert.ErrorIs(t, s.RunPhase(0, "Missing"), ecs.ErrUnknownPhase)
}

func TestSchedulerSystemErrorStopsLaterWaves(t *testing.T) {
	w, c := newTestWorld(t)
	s := w.Scheduler()
	boom := errors.New("boom")

	require.NoError(t, s.Register("fails", ecs.SystemFunc(func(frame *ecs.Frame) error {
		frame.Commands.Create()
		return boom
	}), ecs.OnUpdate, nil, ecs.Signature{c.position}))

	ranLater := false
	require.NoError(t, s.Register("later", ecs.SystemFunc(func(frame *ecs.Frame) error {
		ranLater = true
		return nil
	}), ecs.OnUpdate, ecs.Signature{c.position}, nil))

	err := s.Progress(0)
	assert.ErrorIs(t, err, boom)
	assert.False(t, ranLater)
	// the buffer is still applied
	assert.Equal(t, 1, w.Count())
}

func TestSchedulerAccessChecks(t *testing.T) {
	run := func(t *testing.T, strict bool) error {
		w, c := newTestWorld(t, ecs.WithConfig(ecs.Config{StrictAccess: strict}))
		e := mustSpawn(t, w, Position{X: 1}, Health{Current: 1})

		require.NoError(t, w.Scheduler().Register("sneaky", ecs.SystemFunc(func(frame *ecs.Frame) error {
			assert.Equal(t, "sneaky", frame.System())
			if _, err := ecs.Read[Position](frame, e); err != nil {
				return err
			}
			if _, err := ecs.Read[Health](frame, e); err != nil {
				return err
			}
			return ecs.Write(frame, e, Health{Current: 2})
		}), ecs.OnUpdate, ecs.Signature{c.position}, nil))
		return w.Scheduler().Progress(0)
	}

	assert.NoError(t, run(t, false))
	assert.ErrorIs(t, run(t, true), ecs.ErrAccessViolation)
}

func TestFrameWriteRequiresWriteAccess(t *testing.T) {
	w, c := newTestWorld(t, ecs.WithConfig(ecs.Config{StrictAccess: true}))
	e := mustSpawn(t, w, Position{X: 1})

	require.NoError(t, w.Scheduler().Register("readonly", ecs.SystemFunc(func(frame *ecs.Frame) error {
		return frame.Set(e, c.position, Position{X: 2})
	}), ecs.OnUpdate, ecs.Signature{c.position}, nil))
	assert.ErrorIs(t, w.Scheduler().Progress(0), ecs.ErrAccessViolation)

	pos, err := ecs.Get[Position](w, e)
	require.NoError(t, err)
	assert.Equal(t, float32(1), pos.X)
}

type Wallet struct {
	Coins int
}

type payoutSystem struct {
	Players *ecs.View[struct {
		*Name
		*Score
	}]
	Bank  ecs.Singleton[Wallet]
	ticks int
}

func (s *payoutSystem) Run(frame *ecs.Frame) error {
	s.ticks++
	for _, player := range s.Players.Iter() {
		*player.Score += 10
		s.Bank.Get().Coins -= 10
	}
	return nil
}

func TestSchedulerInitializesStructFields(t *testing.T) {
	w, c := newTestWorld(t)
	_, err := ecs.NewSingleton(w, Wallet{Coins: 100})
	require.NoError(t, err)
	mustSpawn(t, w, Name{Value: "ada"}, Score(0))
	mustSpawn(t, w, Name{Value: "bob"}, Score(5))
	mustSpawn(t, w, Name{Value: "npc"})

	system := &payoutSystem{}
	wallet := ecs.RegisterComponent[Wallet](w.Registry())
	require.NoError(t, w.Scheduler().Register("payout", system, ecs.OnUpdate,
		ecs.Signature{c.name}, ecs.Signature{c.score, wallet}))
	require.NotNil(t, system.Players)
	assert.Equal(t, 2, system.Players.Count())

	require.NoError(t, w.Scheduler().Progress(1))
	assert.Equal(t, 1, system.ticks)
	assert.Equal(t, 80, system.Bank.Get().Coins)
}

func TestSchedulerStats(t *testing.T) {
	w, c := newTestWorld(t)
	s := w.Scheduler()
	require.NoError(t, s.Register("first", noopSystem(), ecs.PreUpdate, nil, ecs.Signature{c.position}))
	require.NoError(t, s.Register("second", noopSystem(), ecs.OnUpdate, nil, ecs.Signature{c.position}))
	require.NoError(t, s.Register("never", noopSystem(), ecs.OnStore, nil, nil))

	for i := 0; i < 3; i++ {
		require.NoError(t, s.RunPhase(0, ecs.PreUpdate))
		require.NoError(t, s.RunPhase(0, ecs.OnUpdate))
	}

	stats := s.GetStats()
	assert.Equal(t, 3, stats.SystemCount)
	assert.Equal(t, int64(6), stats.TotalExecutions)
	require.Len(t, stats.Systems, 3)

	assert.Equal(t, "first", stats.Systems[0].Name)
	assert.Equal(t, ecs.PreUpdate, stats.Systems[0].Phase)
	assert.Equal(t, int64(3), stats.Systems[0].ExecutionCount)
	assert.LessOrEqual(t, stats.Systems[0].MinDuration, stats.Systems[0].MaxDuration)
	assert.Equal(t, stats.Systems[0].TotalDuration/3, stats.Systems[0].AvgDuration)

	assert.Zero(t, stats.Systems[2].ExecutionCount)
	assert.Zero(t, stats.Systems[2].MinDuration)
}

func TestSchedulerRunStopsOnCancel(t *testing.T) {
	w, _ := newTestWorld(t)
	var mu sync.Mutex
	ticks := 0
	require.NoError(t, w.Scheduler().Register("tick", ecs.SystemFunc(func(frame *ecs.Frame) error {
		mu.Lock()
		ticks++
		mu.Unlock()
		return nil
	}), ecs.OnUpdate, nil, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, w.Scheduler().Run(ctx, 5*time.Millisecond))

	mu.Lock()
	defer mu.Unlock()
	assert.Greater(t, ticks, 0)
}
