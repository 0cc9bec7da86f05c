package ecs

import "fmt"

// EntityId encodes the generation (upper 32 bits) and the dense index (lower 32 bits)
type EntityId uint64

// NewEntityId creates an EntityId from a dense index and a generation
func NewEntityId(index uint32, generation uint32) EntityId {
	return EntityId(uint64(generation)<<32 | uint64(index))
}

// Index extracts the dense index from the entity ID
func (e EntityId) Index() uint32 {
	return uint32(e & 0xFFFFFFFF)
}

// Generation extracts the generation counter from the entity ID
func (e EntityId) Generation() uint32 {
	return uint32(e >> 32)
}

func (e EntityId) String() string {
	return fmt.Sprintf("%d#%d", e.Index(), e.Generation())
}
