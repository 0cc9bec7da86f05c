package ecs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plus3/colony/ecs"
)

type movable struct {
	*Position
	*Velocity
}

func TestView(t *testing.T) {
	w, _ := newTestWorld(t)
	entityId := mustSpawn(t, w, &Position{X: 1, Y: 2}, Temperature(32))

	view, err := ecs.NewView[struct {
		*Position
		*Temperature
	}](w)
	require.NoError(t, err)

	item := view.Get(entityId)
	require.NotNil(t, item)
	assert.Equal(t, Temperature(32), *item.Temperature)
	assert.Equal(t, float32(1), item.Position.X)
	assert.Equal(t, float32(2), item.Position.Y)
}

func TestViewMissingComponent(t *testing.T) {
	w, _ := newTestWorld(t)
	entityId := mustSpawn(t, w, Position{X: 5, Y: 10})

	view, err := ecs.NewView[movable](w)
	require.NoError(t, err)
	assert.Nil(t, view.Get(entityId))

	var item movable
	assert.False(t, view.Fill(entityId, &item))
	assert.False(t, view.Fill(ecs.NewEntityId(99, 0), &item))
	assert.Nil(t, view.Get(0))
}

func TestViewRejectsBadStructs(t *testing.T) {
	w, _ := newTestWorld(t)

	_, err := ecs.NewView[Position](w)
	assert.Error(t, err)

	_, err = ecs.NewView[struct{ Position Position }](w)
	assert.Error(t, err)

	_, err = ecs.NewView[struct {
		Position *Position
		Velocity *Velocity `ecs:"invalid"`
	}](w)
	assert.ErrorContains(t, err, "invalid ecs tag value")

	type unregistered struct{ V int }
	_, err = ecs.NewView[struct{ *unregistered }](w)
	assert.ErrorIs(t, err, ecs.ErrUnknownComponent)
}

func TestViewMutationThroughPointers(t *testing.T) {
	w, _ := newTestWorld(t)
	entityId := mustSpawn(t, w, Position{X: 1}, Velocity{DX: 2})

	view, err := ecs.NewView[movable](w)
	require.NoError(t, err)

	for _, item := range view.Iter() {
		item.Position.X += item.Velocity.DX
	}

	pos, err := ecs.Get[Position](w, entityId)
	require.NoError(t, err)
	assert.Equal(t, float32(3), pos.X)
}

func TestViewIterMultipleTables(t *testing.T) {
	w, c := newTestWorld(t)
	for i := 0; i < 10; i++ {
		mustSpawn(t, w, Position{X: float32(i)}, Velocity{DX: 1})
	}
	for i := 0; i < 5; i++ {
		mustSpawn(t, w, Position{X: float32(i)}, Velocity{DX: 1}, Health{Current: 1})
	}
	for i := 0; i < 5; i++ {
		mustSpawn(t, w, Position{X: float32(i)})
	}

	view, err := ecs.NewView[movable](w)
	require.NoError(t, err)

	seen := map[ecs.EntityId]bool{}
	for id, item := range view.Iter() {
		require.NotNil(t, item.Position)
		require.NotNil(t, item.Velocity)
		assert.True(t, w.Has(id, c.velocity))
		seen[id] = true
	}
	assert.Len(t, seen, 15)
	assert.Equal(t, 15, view.Count())

	values := 0
	for item := range view.Values() {
		assert.Equal(t, float32(1), item.Velocity.DX)
		values++
	}
	assert.Equal(t, 15, values)
}

func TestViewIterEarlyBreak(t *testing.T) {
	w, _ := newTestWorld(t)
	for i := 0; i < 100; i++ {
		mustSpawn(t, w, Position{X: float32(i)}, Velocity{})
	}
	view, err := ecs.NewView[movable](w)
	require.NoError(t, err)

	count := 0
	for range view.Iter() {
		count++
		if count == 10 {
			break
		}
	}
	assert.Equal(t, 10, count)
	assert.False(t, w.Deferring())
}

func TestViewIterEmpty(t *testing.T) {
	w, _ := newTestWorld(t)
	view, err := ecs.NewView[movable](w)
	require.NoError(t, err)

	for range view.Iter() {
		t.Fatal("unexpected entity")
	}
	assert.Zero(t, view.Count())
}

func TestViewIterDefersDestroy(t *testing.T) {
	w, _ := newTestWorld(t)
	for i := 0; i < 20; i++ {
		mustSpawn(t, w, Position{X: float32(i)}, Velocity{})
	}
	view, err := ecs.NewView[movable](w)
	require.NoError(t, err)

	visited := 0
	for id, item := range view.Iter() {
		visited++
		if int(item.Position.X)%2 == 0 {
			require.NoError(t, w.Destroy(id))
		}
	}
	assert.Equal(t, 20, visited)
	assert.Equal(t, 10, view.Count())
	for item := range view.Values() {
		assert.Equal(t, 1, int(item.Position.X)%2)
	}
}

func TestViewOptionalComponent(t *testing.T) {
	w, _ := newTestWorld(t)
	both := mustSpawn(t, w, Position{X: 1, Y: 1}, Velocity{DX: 0.1, DY: 0.1})
	onlyPosition := mustSpawn(t, w, Position{X: 2, Y: 2})
	mustSpawn(t, w, Velocity{DX: 3})

	view, err := ecs.NewView[struct {
		Position *Position
		Velocity *Velocity `ecs:"optional"`
	}](w)
	require.NoError(t, err)

	item := view.Get(both)
	require.NotNil(t, item)
	require.NotNil(t, item.Velocity)
	assert.Equal(t, float32(0.1), item.Velocity.DX)

	item = view.Get(onlyPosition)
	require.NotNil(t, item)
	assert.Equal(t, float32(2), item.Position.X)
	assert.Nil(t, item.Velocity)

	// optional fields never widen the match
	assert.Equal(t, 2, view.Count())

	withVelocity := 0
	for _, item := range view.Iter() {
		if item.Velocity != nil {
			withVelocity++
		}
	}
	assert.Equal(t, 1, withVelocity)
}

func TestViewExcludedComponent(t *testing.T) {
	w, c := newTestWorld(t)
	active := mustSpawn(t, w, Position{X: 1})
	player := mustSpawn(t, w, Position{X: 2}, PlayerController{})

	view, err := ecs.NewView[struct {
		Position *Position
		Player   *PlayerController `ecs:"exclude"`
	}](w)
	require.NoError(t, err)

	assert.NotNil(t, view.Get(active))
	assert.Nil(t, view.Get(player))
	assert.Equal(t, 1, view.Count())

	for id, item := range view.Iter() {
		assert.Equal(t, active, id)
		assert.Nil(t, item.Player)
	}

	require.NoError(t, w.Remove(player, c.player))
	assert.Equal(t, 2, view.Count())
}

func TestViewTagField(t *testing.T) {
	w, _ := newTestWorld(t)
	e := mustSpawn(t, w, Position{}, PlayerController{})

	view, err := ecs.NewView[struct {
		*Position
		*PlayerController
	}](w)
	require.NoError(t, err)

	item := view.Get(e)
	require.NotNil(t, item)
	assert.NotNil(t, item.PlayerController)
}

func TestViewWithPrimitivesAndSlices(t *testing.T) {
	w, _ := newTestWorld(t)
	e := mustSpawn(t, w, Score(100), Inventory{Items: []string{"sword", "shield"}})

	view, err := ecs.NewView[struct {
		*Score
		*Inventory
	}](w)
	require.NoError(t, err)

	item := view.Get(e)
	require.NotNil(t, item)
	assert.Equal(t, Score(100), *item.Score)
	item.Inventory.Items = append(item.Inventory.Items, "potion")

	inv, err := ecs.Get[Inventory](w, e)
	require.NoError(t, err)
	assert.Equal(t, []string{"sword", "shield", "potion"}, inv.Items)
}

func TestViewSpawn(t *testing.T) {
	w, c := newTestWorld(t)
	view, err := ecs.NewView[struct {
		Position *Position
		Velocity *Velocity
		Health   *Health           `ecs:"optional"`
		Player   *PlayerController `ecs:"exclude"`
	}](w)
	require.NoError(t, err)

	pos := &Position{X: 10, Y: 20}
	e, err := view.Spawn(struct {
		Position *Position
		Velocity *Velocity
		Health   *Health           `ecs:"optional"`
		Player   *PlayerController `ecs:"exclude"`
	}{Position: pos, Velocity: &Velocity{DX: 1}, Player: &PlayerController{}})
	require.NoError(t, err)

	sig, err := w.Signature(e)
	require.NoError(t, err)
	assert.Equal(t, ecs.NewSignature(c.position, c.velocity), sig)

	// the spawned value is a copy
	pos.X = 99
	item := view.Get(e)
	require.NotNil(t, item)
	assert.Equal(t, float32(10), item.Position.X)
	assert.Nil(t, item.Health)

	_, err = view.Spawn(struct {
		Position *Position
		Velocity *Velocity
		Health   *Health           `ecs:"optional"`
		Player   *PlayerController `ecs:"exclude"`
	}{Position: &Position{}})
	assert.ErrorContains(t, err, "required component")
	assert.Equal(t, 1, w.Count())
}

func TestViewSpawnWhileIterating(t *testing.T) {
	w, _ := newTestWorld(t)
	view, err := ecs.NewView[movable](w)
	require.NoError(t, err)
	mustSpawn(t, w, Position{X: 1}, Velocity{DX: 1})

	for _, item := range view.Iter() {
		_, err := view.Spawn(movable{Position: &Position{X: item.Position.X + 1}, Velocity: &Velocity{}})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, view.Count())
}

func TestViewSharesQuery(t *testing.T) {
	w, c := newTestWorld(t)
	a, err := ecs.NewView[movable](w)
	require.NoError(t, err)
	b, err := ecs.NewView[struct {
		V *Velocity
		P *Position
	}](w)
	require.NoError(t, err)

	assert.Same(t, a.Query(), b.Query())
	assert.Same(t, w.Query(c.position, c.velocity), a.Query())
}
