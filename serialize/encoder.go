// Package serialize writes the per-process stream of a distribution layout
// and rebuilds it on the receiver as a Fragment with local indices.
package serialize

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"

	"github.com/notargets/DGDist/layout"
	"github.com/notargets/DGDist/mesh"
)

// Encoder produces the streams of every target of one grid.
type Encoder struct {
	mg          *mesh.MultiGrid
	descendants [mesh.NumKinds][]int
}

func NewEncoder(mg *mesh.MultiGrid) *Encoder {
	return &Encoder{mg: mg}
}

// childCounts caches the descendant counts of kind on the source grid.
func (enc *Encoder) childCounts(kind mesh.ElementKind) []int {
	if enc.descendants[kind] == nil {
		enc.descendants[kind] = enc.mg.ChildCounts(kind)
	}
	return enc.descendants[kind]
}

// Encode writes the stream for the target of l. Every reference is
// rewritten to the receiver's local ids; a parent the receiver does not
// hold becomes -1. Each element carries its descendant count on the source
// grid, so counts survive when children go to other processes.
func (enc *Encoder) Encode(l *layout.Layout) ([]byte, error) {
	top := l.Top
	numLevels := 0
	size := headerSize + trailerSize
	for k := mesh.Vertex; k <= top; k++ {
		if n := l.Kinds[k].NumLevels(); n > numLevels {
			numLevels = n
		}
		size += len(l.Kinds[k].Nodes) * 32
	}

	w := &writer{buf: make([]byte, 0, size)}
	w.u32(magic)
	w.u16(version)
	w.u8(uint8(top))
	w.u8(0)
	w.i32(l.Rank)
	w.u32(uint32(numLevels))
	for k := mesh.ElementKind(0); k < mesh.NumKinds; k++ {
		n := 0
		if k <= top {
			n = len(l.Kinds[k].Nodes)
		}
		w.u32(uint32(n))
	}
	w.u64(0)

	for k := mesh.Vertex; k <= top; k++ {
		for _, e := range l.Kinds[k].Nodes {
			if err := enc.element(w, l, k, e); err != nil {
				return nil, err
			}
		}
	}

	for k := mesh.Vertex; k <= top; k++ {
		nl := &l.Kinds[k]
		for lvl := 0; lvl < numLevels; lvl++ {
			m := nl.InterfaceMap(lvl)
			ranks := m.Ranks()
			w.u32(uint32(len(ranks)))
			for _, q := range ranks {
				it := m[q]
				w.u32(uint32(lvl))
				w.i32(q)
				w.u32(uint32(len(it)))
				for _, e := range it {
					w.u32(e.Pack())
				}
			}
		}
	}

	binary.LittleEndian.PutUint64(w.buf[sizeOffset:], uint64(len(w.buf)+trailerSize))
	w.u64(xxhash.Sum64(w.buf))
	return w.buf, nil
}

func (enc *Encoder) element(w *writer, l *layout.Layout, kind mesh.ElementKind, e int) error {
	el := enc.mg.Element(kind, e)
	w.u64(uint64(el.ID))
	w.u8(uint8(el.Shape))
	w.u32(uint32(el.Level))

	parent := -1
	if el.Parent >= 0 {
		if p, ok := l.Local(kind, el.Parent); ok {
			parent = p
		}
	}
	w.i32(parent)
	w.u32(uint32(enc.childCounts(kind)[e]))

	w.u8(uint8(len(el.Vertices)))
	for _, v := range el.Vertices {
		lv, ok := l.Local(mesh.Vertex, v)
		if !ok {
			return errors.Wrapf(ErrDanglingReference, "rank %d: %s %d vertex %d", l.Rank, kind, el.ID, v)
		}
		w.u32(uint32(lv))
	}

	facet, _ := kind.Facet()
	w.u8(uint8(len(el.Sides)))
	for _, s := range el.Sides {
		ls, ok := l.Local(facet, s)
		if !ok {
			return errors.Wrapf(ErrDanglingReference, "rank %d: %s %d side %d", l.Rank, kind, el.ID, s)
		}
		w.u32(uint32(ls))
	}

	if kind == mesh.Vertex {
		for _, x := range el.Coord {
			w.f64(x)
		}
	}
	return nil
}
