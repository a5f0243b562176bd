package layout

import (
	"sort"

	"github.com/notargets/DGDist/mesh"
)

// NodeLayout holds the nodes of one element kind assigned to a process and
// its interfaces per grid level.
type NodeLayout struct {
	// Nodes lists element indices ordered by (level, global id); a node's
	// local id is its position here.
	Nodes []int
	// Maps is indexed by grid level.
	Maps []InterfaceMap
}

func (nl *NodeLayout) NumLevels() int { return len(nl.Maps) }

// InterfaceMap returns the interfaces on level, or nil.
func (nl *NodeLayout) InterfaceMap(level int) InterfaceMap {
	if level < 0 || level >= len(nl.Maps) {
		return nil
	}
	return nl.Maps[level]
}

// Interface returns the interface with rank on level, or nil.
func (nl *NodeLayout) Interface(rank, level int) Interface {
	return nl.InterfaceMap(level)[rank]
}

// Append adds an entry to the interface with rank on level.
func (nl *NodeLayout) Append(rank, level int, e InterfaceEntry) {
	for len(nl.Maps) <= level {
		nl.Maps = append(nl.Maps, nil)
	}
	if nl.Maps[level] == nil {
		nl.Maps[level] = make(InterfaceMap)
	}
	nl.Maps[level][rank] = append(nl.Maps[level][rank], e)
}

// SetNumLevels grows or trims the level list.
func (nl *NodeLayout) SetNumLevels(n int) {
	for len(nl.Maps) < n {
		nl.Maps = append(nl.Maps, nil)
	}
	nl.Maps = nl.Maps[:n]
}

// Layout gathers the node layouts of every kind for one target process.
type Layout struct {
	Rank  int
	Top   mesh.ElementKind
	Kinds [mesh.NumKinds]NodeLayout

	local [mesh.NumKinds]map[int]int
}

// NewLayout returns an empty layout for rank.
func NewLayout(rank int, top mesh.ElementKind) *Layout {
	l := &Layout{Rank: rank, Top: top}
	for k := range l.local {
		l.local[k] = make(map[int]int)
	}
	return l
}

// Local returns the local id of element index e of kind, if held.
func (l *Layout) Local(kind mesh.ElementKind, e int) (int, bool) {
	i, ok := l.local[kind][e]
	return i, ok
}

// Holds reports whether the layout holds element e of kind.
func (l *Layout) Holds(kind mesh.ElementKind, e int) bool {
	_, ok := l.local[kind][e]
	return ok
}

// AddNode appends element e of kind; its local id is its position.
func (l *Layout) AddNode(kind mesh.ElementKind, e int) {
	l.local[kind][e] = len(l.Kinds[kind].Nodes)
	l.Kinds[kind].Nodes = append(l.Kinds[kind].Nodes, e)
}

// Neighbors returns every rank l shares an interface with, ascending.
func (l *Layout) Neighbors() []int {
	seen := make(map[int]bool)
	var out []int
	for k := range l.Kinds {
		for _, m := range l.Kinds[k].Maps {
			for r := range m {
				if !seen[r] {
					seen[r] = true
					out = append(out, r)
				}
			}
		}
	}
	sort.Ints(out)
	return out
}

// Layouts maps target rank to layout.
type Layouts map[int]*Layout

// Ranks returns the target ranks, ascending.
func (ls Layouts) Ranks() []int {
	ranks := make([]int, 0, len(ls))
	for r := range ls {
		ranks = append(ranks, r)
	}
	sort.Ints(ranks)
	return ranks
}
