package ecs_test

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plus3/colony/ecs"
)

func TestWorldStats(t *testing.T) {
	w, c := newTestWorld(t)
	for i := 0; i < 3; i++ {
		mustSpawn(t, w, Position{X: float32(i)})
	}
	mustSpawn(t, w, Position{}, Name{Value: "named"})
	w.Query(c.position)
	w.Commands().Func(func(*ecs.World) error { return nil })

	stats := w.Stats()
	assert.Equal(t, 3, stats.TableCount)
	assert.Equal(t, 4, stats.EntityCount)
	assert.Equal(t, 9, stats.ComponentCount)
	assert.Equal(t, 1, stats.QueryCount)
	assert.Equal(t, 1, stats.PendingOps)
	assert.Zero(t, stats.SingletonCount)

	require.Len(t, stats.Tables, 3)
	assert.Empty(t, stats.Tables[0].Components)
	assert.Equal(t, []string{"ecs_test.Position"}, stats.Tables[1].Components)
	assert.Equal(t, 3, stats.Tables[1].EntityCount)
	assert.GreaterOrEqual(t, stats.Tables[1].Capacity, 3)
	assert.Equal(t, ecs.NewSignature(c.position, c.name), stats.Tables[2].Signature)
}

func TestLogState(t *testing.T) {
	var buf bytes.Buffer
	w, c := newTestWorld(t, ecs.WithLogger(zerolog.New(&buf)))
	e := mustSpawn(t, w, Position{X: 1}, Health{Current: 2})
	require.NoError(t, w.Scheduler().Register("noop", noopSystem(), ecs.OnUpdate, ecs.Signature{c.position}, nil))
	buf.Reset()

	w.LogState(zerolog.InfoLevel)
	assert.Contains(t, buf.String(), `"message":"world state"`)
	assert.Contains(t, buf.String(), `"name":"noop"`)
	assert.Contains(t, buf.String(), `"entities":1`)

	buf.Reset()
	w.LogEntity(zerolog.InfoLevel, e)
	assert.Contains(t, buf.String(), `"component_name":"ecs_test.Health"`)

	buf.Reset()
	require.NoError(t, w.Destroy(e))
	w.LogEntity(zerolog.InfoLevel, e)
	assert.Contains(t, buf.String(), "cannot log entity")
}
