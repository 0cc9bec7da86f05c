package ecs_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/plus3/colony/ecs"
)

// Common test component types
type Position struct {
	X, Y float32
}

type Velocity struct {
	DX, DY float32
}

type Name struct {
	Value string
}

type Health struct {
	Current int
	Max     int
}

type PlayerController struct{}

type AI struct {
	State int
}

// Custom primitive types for testing non-struct components
type Score int32
type Temperature float64

type Inventory struct {
	Items []string
}

type testComponents struct {
	position, velocity, name, health, player, ai, score ecs.ComponentId
}

func newTestRegistry() (*ecs.ComponentRegistry, testComponents) {
	registry := ecs.NewComponentRegistry()
	c := testComponents{
		position: ecs.RegisterComponent[Position](registry),
		velocity: ecs.RegisterComponent[Velocity](registry),
		name:     ecs.RegisterComponent[Name](registry),
		health:   ecs.RegisterComponent[Health](registry),
		player:   ecs.RegisterComponent[PlayerController](registry),
		ai:       ecs.RegisterComponent[AI](registry),
		score:    ecs.RegisterComponent[Score](registry),
	}
	ecs.RegisterComponent[Temperature](registry)
	ecs.RegisterComponent[Inventory](registry)
	return registry, c
}

func newTestWorld(t testing.TB, opts ...ecs.Option) (*ecs.World, testComponents) {
	t.Helper()
	registry, c := newTestRegistry()
	return ecs.NewWorld(registry, opts...), c
}

func mustCreate(t testing.TB, w *ecs.World) ecs.EntityId {
	t.Helper()
	e, err := w.Create()
	require.NoError(t, err)
	return e
}

func mustSpawn(t testing.TB, w *ecs.World, values ...any) ecs.EntityId {
	t.Helper()
	e, err := w.Spawn(values...)
	require.NoError(t, err)
	return e
}
