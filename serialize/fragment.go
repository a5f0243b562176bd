package serialize

import (
	"github.com/pkg/errors"

	"github.com/notargets/DGDist/layout"
	"github.com/notargets/DGDist/mesh"
)

// GridLayoutMap holds the received node layout of every kind. Nodes are the
// identity since the fragment's grid is numbered locally.
type GridLayoutMap [mesh.NumKinds]layout.NodeLayout

// Fragment is the part of a distributed grid one process holds.
type Fragment struct {
	Rank    int
	Top     mesh.ElementKind
	Grid    *mesh.MultiGrid
	Layouts GridLayoutMap
}

// Interface returns the local element handles shared with rank on level,
// in transmission order.
func (f *Fragment) Interface(kind mesh.ElementKind, rank, level int) []int {
	return f.Entries(kind, rank, level).LocalIDs()
}

// Entries returns the raw interface entries shared with rank on level.
func (f *Fragment) Entries(kind mesh.ElementKind, rank, level int) layout.Interface {
	if !kind.Valid() {
		return nil
	}
	return f.Layouts[kind].Interface(rank, level)
}

// ChildCounts returns the descendant count of every element of kind as it
// was on the source grid, including children held by other processes.
func (f *Fragment) ChildCounts(kind mesh.ElementKind) []int {
	return f.Grid.ChildCounts(kind)
}

func (f *Fragment) NumLevels() int {
	return f.Layouts[f.Top].NumLevels()
}

// Layout views the fragment as a layout over its own grid, so it can be
// encoded again. The interface maps are shared, not copied.
func (f *Fragment) Layout() *layout.Layout {
	l := layout.NewLayout(f.Rank, f.Top)
	for k := mesh.Vertex; k <= f.Top; k++ {
		for i := range f.Layouts[k].Nodes {
			l.AddNode(k, i)
		}
		l.Kinds[k].Maps = f.Layouts[k].Maps
	}
	return l
}

// Neighbors returns every rank the fragment shares an interface with.
func (f *Fragment) Neighbors() []int {
	return f.Layout().Neighbors()
}

// InterfaceSizes encodes the length of every interface f shares with q, per
// kind and level, for a handshake with q. A nil fragment reports nothing.
func (f *Fragment) InterfaceSizes(q int) []byte {
	if f == nil {
		return nil
	}
	w := &writer{}
	w.u8(uint8(f.Top))
	w.u32(uint32(f.NumLevels()))
	for k := mesh.Vertex; k <= f.Top; k++ {
		for lvl := 0; lvl < f.NumLevels(); lvl++ {
			w.u32(uint32(len(f.Entries(k, q, lvl))))
		}
	}
	return w.buf
}

// CheckInterfaceSizes compares the sizes q reported with f's own view of
// the same links. An empty report means q holds nothing, so f must not
// list q either. A nil fragment accepts only reports of empty interfaces.
func (f *Fragment) CheckInterfaceSizes(q int, peer []byte) error {
	rank := -1
	if f != nil {
		rank = f.Rank
	}
	mine := func(k mesh.ElementKind, lvl int) int {
		if f == nil || k > f.Top {
			return 0
		}
		return len(f.Entries(k, q, lvl))
	}

	if len(peer) == 0 {
		if f == nil {
			return nil
		}
		for k := mesh.Vertex; k <= f.Top; k++ {
			for lvl := 0; lvl < f.NumLevels(); lvl++ {
				if n := mine(k, lvl); n != 0 {
					return errors.Wrapf(ErrInterfaceMismatch, "%s level %d: rank %d holds nothing, rank %d lists %d entries",
						k, lvl, q, rank, n)
				}
			}
		}
		return nil
	}

	r := &reader{buf: peer}
	top, levels := mesh.ElementKind(r.u8()), int(r.u32())
	if r.err != nil || !top.Valid() || (f != nil && (top != f.Top || levels != f.NumLevels())) {
		return errors.Wrapf(ErrCorruptStream, "rank %d reported sizes for %s on %d levels", q, top, levels)
	}
	if levels > r.remaining()/4 {
		return errors.Wrapf(ErrCorruptStream, "rank %d reported %d levels in %d bytes", q, levels, len(peer))
	}
	for k := mesh.Vertex; k <= top; k++ {
		for lvl := 0; lvl < levels; lvl++ {
			theirs := int(r.u32())
			if r.err != nil {
				return r.err
			}
			if n := mine(k, lvl); theirs != n {
				return errors.Wrapf(ErrInterfaceMismatch, "%s level %d: rank %d lists %d entries for %d, rank %d lists %d",
					k, lvl, q, theirs, rank, rank, n)
			}
		}
	}
	if r.remaining() != 0 {
		return errors.Wrapf(ErrCorruptStream, "%d extra bytes in sizes from rank %d", r.remaining(), q)
	}
	return nil
}
