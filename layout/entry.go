package layout

import (
	"fmt"
	"sort"
)

const (
	localBits = 28
	typeBits  = 4

	// MaxLocalID is the largest local id an entry can carry.
	MaxLocalID = 1<<localBits - 1
)

// EntryType is the role of an entity in an interface.
type EntryType uint8

const (
	// EntryMaster marks the holder with the lowest rank of a shared entity.
	EntryMaster EntryType = iota + 1
	// EntrySlave marks every further holder of a shared entity.
	EntrySlave
	// EntryNeighbor marks an element whose facet neighbour lives on the
	// other process.
	EntryNeighbor
)

// Valid reports whether t is one of the defined roles.
func (t EntryType) Valid() bool { return t >= EntryMaster && t <= EntryNeighbor }

func (t EntryType) String() string {
	switch t {
	case EntryMaster:
		return "master"
	case EntrySlave:
		return "slave"
	case EntryNeighbor:
		return "neighbor"
	}
	return fmt.Sprintf("EntryType(%d)", uint8(t))
}

// InterfaceEntry refers to a node of the receiving process by its local id.
// On the wire it is a 32-bit word: local id in the high 28 bits, type in the
// low 4.
type InterfaceEntry struct {
	LocalID int32
	Type    EntryType
}

// Pack encodes the entry. LocalID must lie in [0, MaxLocalID].
func (e InterfaceEntry) Pack() uint32 {
	return uint32(e.LocalID)<<typeBits | uint32(e.Type)&(1<<typeBits-1)
}

// Unpack decodes a packed entry.
func Unpack(w uint32) InterfaceEntry {
	return InterfaceEntry{
		LocalID: int32(w >> typeBits),
		Type:    EntryType(w & (1<<typeBits - 1)),
	}
}

// Interface is the ordered list of entries shared with one neighbour.
// Position i on both sides of a link refers to the same connection.
type Interface []InterfaceEntry

// LocalIDs returns the local ids in interface order.
func (it Interface) LocalIDs() []int {
	ids := make([]int, len(it))
	for i, e := range it {
		ids[i] = int(e.LocalID)
	}
	return ids
}

// InterfaceMap holds the interfaces of one level keyed by neighbour rank.
type InterfaceMap map[int]Interface

// Ranks returns the neighbour ranks, ascending.
func (m InterfaceMap) Ranks() []int {
	ranks := make([]int, 0, len(m))
	for r := range m {
		ranks = append(ranks, r)
	}
	sort.Ints(ranks)
	return ranks
}
