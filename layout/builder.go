// Package layout turns a partition assignment into per-process distribution
// layouts: the entities every target process receives and the ordered
// interfaces it shares with its neighbours on each grid level.
package layout

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/notargets/DGDist/mesh"
	"github.com/notargets/DGDist/partitions"
)

// Build creates the layout of every target process of a.
//
// Elements of the assigned kind go to their target. Every lower-dimensional
// entity goes to each process holding an element whose closure contains it;
// entities outside any closure go to fallback. Interfaces are filled in a
// single pass in ascending global id, so both sides of a link list their
// entries in the same order.
func Build(mg *mesh.MultiGrid, a *partitions.Assignment, fallback int) (Layouts, error) {
	if err := a.Validate(mg); err != nil {
		return nil, err
	}
	top := a.Kind
	holders := closureHolders(mg, a, fallback)

	ls := make(Layouts)
	for k := mesh.ElementKind(0); k <= top; k++ {
		for _, e := range byLevelAndID(mg, k) {
			for _, r := range holders[k][e] {
				l, ok := ls[r]
				if !ok {
					l = NewLayout(r, top)
					ls[r] = l
				}
				l.AddNode(k, e)
			}
		}
	}
	for _, l := range ls {
		for k := mesh.ElementKind(0); k <= top; k++ {
			if n := len(l.Kinds[k].Nodes); n > MaxLocalID+1 {
				return nil, errors.Wrapf(ErrLocalIDOverflow, "rank %d holds %d %s entities", l.Rank, n, k)
			}
			l.Kinds[k].SetNumLevels(mg.NumLevels())
		}
	}

	// elements across cut facets
	for lvl := 0; lvl < mg.NumLevels(); lvl++ {
		for _, adj := range mg.Adjacencies(top, lvl) {
			p, q := a.Ranks[adj.A], a.Ranks[adj.B]
			if p == q {
				continue
			}
			ls[p].appendEntry(top, q, lvl, adj.A, EntryNeighbor)
			ls[q].appendEntry(top, p, lvl, adj.B, EntryNeighbor)
		}
	}

	// entities held by several processes
	for k := mesh.ElementKind(0); k < top; k++ {
		for _, e := range byID(mg, k) {
			h := holders[k][e]
			if len(h) < 2 {
				continue
			}
			lvl := mg.Element(k, e).Level
			for _, p := range h {
				t := EntrySlave
				if p == h[0] {
					t = EntryMaster
				}
				for _, q := range h {
					if q != p {
						ls[p].appendEntry(k, q, lvl, e, t)
					}
				}
			}
		}
	}
	return ls, nil
}

func (l *Layout) appendEntry(kind mesh.ElementKind, rank, lvl, e int, t EntryType) {
	l.Kinds[kind].Append(rank, lvl, InterfaceEntry{LocalID: int32(l.local[kind][e]), Type: t})
}

// closureHolders returns, per kind and element, the ascending ranks holding
// the element.
func closureHolders(mg *mesh.MultiGrid, a *partitions.Assignment, fallback int) [mesh.NumKinds][][]int {
	var holders [mesh.NumKinds][][]int
	for k := range holders {
		holders[k] = make([][]int, mg.NumElements(mesh.ElementKind(k)))
	}
	top := a.Kind
	for e, r := range a.Ranks {
		holders[top][e] = []int{r}
	}
	for k := top; k > mesh.Vertex; k-- {
		lower := k - 1
		for e := range holders[k] {
			if holders[k][e] == nil {
				holders[k][e] = []int{fallback}
			}
			for _, s := range mg.Element(k, e).Sides {
				for _, r := range holders[k][e] {
					holders[lower][s] = insertSorted(holders[lower][s], r)
				}
			}
		}
	}
	for e := range holders[mesh.Vertex] {
		if holders[mesh.Vertex][e] == nil {
			holders[mesh.Vertex][e] = []int{fallback}
		}
	}
	return holders
}

func insertSorted(xs []int, x int) []int {
	i := sort.SearchInts(xs, x)
	if i < len(xs) && xs[i] == x {
		return xs
	}
	xs = append(xs, 0)
	copy(xs[i+1:], xs[i:])
	xs[i] = x
	return xs
}

// byLevelAndID orders the elements of kind so parents precede children.
func byLevelAndID(mg *mesh.MultiGrid, kind mesh.ElementKind) []int {
	els := mg.Elements(kind)
	idx := make([]int, len(els))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		ea, eb := &els[idx[a]], &els[idx[b]]
		if ea.Level != eb.Level {
			return ea.Level < eb.Level
		}
		return ea.ID < eb.ID
	})
	return idx
}

func byID(mg *mesh.MultiGrid, kind mesh.ElementKind) []int {
	els := mg.Elements(kind)
	idx := make([]int, len(els))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return els[idx[a]].ID < els[idx[b]].ID })
	return idx
}
