package ecs

// WorldStats is a point-in-time summary of a world's storage.
type WorldStats struct {
	TableCount     int
	EntityCount    int
	ComponentCount int
	QueryCount     int
	PendingOps     int
	SingletonCount int
	Tables         []TableStats
}

// TableStats describes one table.
type TableStats struct {
	Id          TableId
	Signature   Signature
	Components  []string
	EntityCount int
	Capacity    int
}

// Stats collects a summary of the world. It must not run concurrently with structural changes.
func (w *World) Stats() WorldStats {
	tables := w.store.Tables()
	stats := WorldStats{
		TableCount:     len(tables),
		EntityCount:    w.store.entities.count(),
		ComponentCount: len(w.registry.Components()),
		QueryCount:     w.queries.count(),
		PendingOps:     w.commands.Len(),
		Tables:         make([]TableStats, 0, len(tables)),
	}

	if holder, ok := w.singletonHolder(false); ok {
		if sig, err := w.Signature(holder); err == nil {
			stats.SingletonCount = len(sig)
		}
	}

	for _, t := range tables {
		names := make([]string, len(t.infos))
		for i, info := range t.infos {
			names[i] = info.Name
		}
		stats.Tables = append(stats.Tables, TableStats{
			Id:          t.id,
			Signature:   t.signature,
			Components:  names,
			EntityCount: t.Len(),
			Capacity:    cap(t.entities),
		})
	}
	return stats
}
