// Package locality provides the addressable identifier for a locality
// (one process in the cluster) and for the components living inside it.
package locality

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	indexBits         = 32
	componentTypeBits = 16
	generationBits    = 16

	componentTypeOffset = generationBits
	indexOffset         = componentTypeOffset + componentTypeBits

	indexMask         = uint64(1)<<indexBits - 1
	componentTypeMask = uint64(1)<<componentTypeBits - 1
	generationMask    = uint64(1)<<generationBits - 1
)

// ComponentType distinguishes what a GID names within a locality: the
// locality's own runtime-support server, its memory component, or a
// plugin-contributed component.
type ComponentType uint16

const (
	ComponentRuntimeSupport ComponentType = 0
	ComponentMemory         ComponentType = 1
	ComponentPlugin         ComponentType = 2
)

// GID is a 64-bit locality-scoped identifier packing a dense locality
// index, a component type, and a generation counter — the Go analogue
// of the teacher's area/set/func/inst entity-id bit-packing, adapted
// from a 4-field process address to a 3-field cluster address: which
// locality, which component within it, and which incarnation (a
// locality that restarts under the same index gets a new generation).
//
//	 63                 32 31          16 15           0
//	┌──────────────────────┬──────────────┬──────────────┐
//	│    locality index     │component type│  generation  │
//	└──────────────────────┴──────────────┴──────────────┘
type GID uint64

// NewGID packs a locality index, component type and generation into a GID.
func NewGID(index uint32, ct ComponentType, generation uint16) GID {
	v := uint64(index)<<indexOffset | uint64(ct)<<componentTypeOffset | uint64(generation)
	return GID(v)
}

// Index returns the locality index this GID belongs to.
func (g GID) Index() uint32 {
	return uint32((uint64(g) >> indexOffset) & indexMask)
}

// ComponentType returns the component type encoded in the GID.
func (g GID) ComponentType() ComponentType {
	return ComponentType((uint64(g) >> componentTypeOffset) & componentTypeMask)
}

// Generation returns the generation counter encoded in the GID.
func (g GID) Generation() uint16 {
	return uint16(uint64(g) & generationMask)
}

// IsInvalid reports whether g is the zero value, the sentinel used by
// the action surface for "no requester to respond to".
func (g GID) IsInvalid() bool {
	return g == 0
}

// InvalidGID is the sentinel "no locality" value, returned e.g. as
// respond_to when an action was not issued on behalf of any initiator.
const InvalidGID GID = 0

// String renders a GID as "index.component.generation", mirroring the
// teacher's dotted area.set.func.inst rendering of an entity id.
func (g GID) String() string {
	var sb strings.Builder
	sb.Grow(20)
	sb.WriteString(strconv.FormatUint(uint64(g.Index()), 10))
	sb.WriteByte('.')
	sb.WriteString(strconv.FormatUint(uint64(g.ComponentType()), 10))
	sb.WriteByte('.')
	sb.WriteString(strconv.FormatUint(uint64(g.Generation()), 10))
	return sb.String()
}

// ParseGID parses the "index.component.generation" form produced by String.
func ParseGID(s string) (GID, error) {
	var index, ct, gen int
	n, err := fmt.Sscanf(s, "%d.%d.%d", &index, &ct, &gen)
	if err != nil || n != 3 {
		return 0, fmt.Errorf("locality: %q is not a valid gid", s)
	}
	if index < 0 || index > int(indexMask) || ct < 0 || ct > int(componentTypeMask) || gen < 0 || gen > int(generationMask) {
		return 0, fmt.Errorf("locality: %q out of range for a gid", s)
	}
	return NewGID(uint32(index), ComponentType(ct), uint16(gen)), nil
}

// ID identifies a locality within the fixed cluster-wide set, dense in
// [0, N). This is distinct from GID: ID addresses the process, GID
// addresses a specific component living inside one.
type ID uint32

// Root is the well-known console/root locality.
const Root ID = 0

// RuntimeSupportGID returns the GID of the runtime-support server
// hosted by locality id, at the given generation.
func (id ID) RuntimeSupportGID(generation uint16) GID {
	return NewGID(uint32(id), ComponentRuntimeSupport, generation)
}

// MemoryGID returns the GID of the memory component hosted by locality id.
func (id ID) MemoryGID(generation uint16) GID {
	return NewGID(uint32(id), ComponentMemory, generation)
}
