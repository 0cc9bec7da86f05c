package ecs

import (
	"github.com/rs/zerolog"
)

func componentsArray(infos []ComponentInfo) *zerolog.Array {
	arr := zerolog.Arr()
	for _, info := range infos {
		arr = arr.Dict(zerolog.Dict().
			Uint32("component_id", uint32(info.Id)).
			Str("component_name", info.Name).
			Uint64("size", uint64(info.Size)))
	}
	return arr
}

// LogState logs the registered components, tables and systems of the world at level.
func (w *World) LogState(level zerolog.Level) {
	stats := w.Stats()

	tables := zerolog.Arr()
	for _, t := range stats.Tables {
		tables = tables.Dict(zerolog.Dict().
			Uint32("table_id", uint32(t.Id)).
			Str("signature", t.Signature.String()).
			Int("entities", t.EntityCount))
	}

	systems := zerolog.Arr()
	for _, sys := range w.scheduler.GetStats().Systems {
		systems = systems.Dict(zerolog.Dict().
			Str("name", sys.Name).
			Str("phase", string(sys.Phase)).
			Int("wave", sys.Wave))
	}

	components := w.registry.Components()
	w.logger.WithLevel(level).
		Int("total_components", len(components)).
		Array("components", componentsArray(components)).
		Int("total_tables", stats.TableCount).
		Array("tables", tables).
		Int("total_systems", len(w.scheduler.GetStats().Systems)).
		Array("systems", systems).
		Int("entities", stats.EntityCount).
		Int("pending_ops", stats.PendingOps).
		Msg("world state")
}

// LogEntity logs the components of one entity at level.
func (w *World) LogEntity(level zerolog.Level, id EntityId) {
	t, row, err := w.Locate(id)
	if err != nil {
		w.logger.Err(err).Str("entity", id.String()).Msg("cannot log entity")
		return
	}
	w.logger.WithLevel(level).
		Str("entity", id.String()).
		Uint32("table_id", uint32(t.id)).
		Int("row", row).
		Array("components", componentsArray(t.infos)).
		Msg("entity")
}
