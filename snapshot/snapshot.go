// Package snapshot captures the component values of a world and restores them into another.
package snapshot

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"

	"github.com/plus3/colony/codec"
	"github.com/plus3/colony/ecs"
)

// Snapshot is a serializable copy of every entity's components, keyed by component name.
type Snapshot struct {
	TakenAt    time.Time                  `json:"taken_at"`
	Components []Component                `json:"components"`
	Entities   []Entity                   `json:"entities"`
	Singletons map[string]json.RawMessage `json:"singletons,omitempty"`
}

// Component records the layout a snapshot was taken with.
type Component struct {
	Name string  `json:"name"`
	Size uintptr `json:"size"`
}

// Entity is one entity of a snapshot. Id is the entity's ID in the source world.
type Entity struct {
	Id         ecs.EntityId               `json:"id"`
	Components map[string]json.RawMessage `json:"components"`
}

// Take copies every live entity of w. It must not run while structural changes are being made.
func Take(w *ecs.World) (*Snapshot, error) {
	s := &Snapshot{TakenAt: time.Now().UTC()}
	for _, info := range w.Registry().Components() {
		s.Components = append(s.Components, Component{Name: info.Name, Size: info.Size})
	}

	holder, hasHolder := w.SingletonEntity()
	for _, t := range w.Tables() {
		sig := t.Signature()
		infos := make([]ecs.ComponentInfo, len(sig))
		for i, comp := range sig {
			info, err := w.Registry().Lookup(comp)
			if err != nil {
				return nil, err
			}
			infos[i] = info
		}

		for row, id := range t.Entities() {
			values := make(map[string]json.RawMessage, len(sig))
			for i, comp := range sig {
				bz, err := codec.EncodeValue(infos[i], t.Value(comp, row))
				if err != nil {
					return nil, eris.Wrapf(err, "entity %s", id)
				}
				values[infos[i].Name] = bz
			}
			if hasHolder && id == holder {
				s.Singletons = values
				continue
			}
			s.Entities = append(s.Entities, Entity{Id: id, Components: values})
		}
	}
	return s, nil
}

// Restore recreates the entities of s in w and returns the new ID of every snapshot entity.
// Component names must be registered in w with the layout size they were taken with.
func Restore(w *ecs.World, s *Snapshot) (map[ecs.EntityId]ecs.EntityId, error) {
	registry := w.Registry()
	infos := make(map[string]ecs.ComponentInfo, len(s.Components))
	for _, comp := range s.Components {
		info, err := registry.LookupName(comp.Name)
		if err != nil {
			continue
		}
		if info.Size != comp.Size {
			return nil, eris.Wrapf(ecs.ErrTypeMismatch, "component %s was %d bytes, is %d", comp.Name, comp.Size, info.Size)
		}
		infos[comp.Name] = info
	}
	decode := func(name string, data json.RawMessage) (ecs.ComponentInfo, any, error) {
		info, ok := infos[name]
		if !ok {
			return info, nil, eris.Wrapf(ecs.ErrUnknownComponent, "component %q", name)
		}
		value, err := codec.DecodeValue(info, data)
		return info, value, err
	}

	mapping := make(map[ecs.EntityId]ecs.EntityId, len(s.Entities))
	for _, e := range s.Entities {
		id, err := w.Create()
		if err != nil {
			return mapping, err
		}
		mapping[e.Id] = id
		for name, data := range e.Components {
			info, value, err := decode(name, data)
			if err != nil {
				return mapping, eris.Wrapf(err, "entity %s", e.Id)
			}
			if info.IsTag() {
				err = w.Add(id, info.Id)
			} else {
				err = w.Set(id, info.Id, value)
			}
			if err != nil {
				return mapping, eris.Wrapf(err, "entity %s", e.Id)
			}
		}
	}

	for name, data := range s.Singletons {
		info, value, err := decode(name, data)
		if err != nil {
			return mapping, eris.Wrap(err, "singleton")
		}
		if err := w.SetSingleton(info.Id, value); err != nil {
			return mapping, eris.Wrapf(err, "singleton %s", name)
		}
	}
	return mapping, nil
}
