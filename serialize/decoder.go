package serialize

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"

	"github.com/notargets/DGDist/layout"
	"github.com/notargets/DGDist/mesh"
)

// Decode rebuilds the fragment carried by buf. Interfaces keep the order in
// which they were transmitted.
func Decode(buf []byte) (*Fragment, error) {
	if len(buf) < headerSize+trailerSize {
		return nil, errors.Wrapf(ErrShortStream, "%d bytes, header needs %d", len(buf), headerSize+trailerSize)
	}
	size := binary.LittleEndian.Uint64(buf[sizeOffset:])
	switch {
	case size < headerSize+trailerSize:
		return nil, errors.Wrapf(ErrCorruptStream, "declared size %d", size)
	case uint64(len(buf)) < size:
		return nil, errors.Wrapf(ErrShortStream, "%d of %d bytes", len(buf), size)
	case uint64(len(buf)) > size:
		return nil, errors.Wrapf(ErrCorruptStream, "%d trailing bytes", uint64(len(buf))-size)
	}
	body := buf[:size-trailerSize]
	if sum := binary.LittleEndian.Uint64(buf[size-trailerSize:]); sum != xxhash.Sum64(body) {
		return nil, errors.Wrapf(ErrCorruptStream, "checksum %016x, computed %016x", sum, xxhash.Sum64(body))
	}

	r := &reader{buf: body}
	if m := r.u32(); m != magic {
		return nil, errors.Wrapf(ErrCorruptStream, "magic %08x", m)
	}
	if v := r.u16(); v != version {
		return nil, errors.Wrapf(ErrCorruptStream, "version %d", v)
	}
	top := mesh.ElementKind(r.u8())
	r.u8()
	if !top.Valid() {
		return nil, errors.Wrapf(ErrCorruptStream, "top kind %d", top)
	}
	f := &Fragment{Rank: r.i32(), Top: top, Grid: mesh.NewMultiGrid()}
	numLevels := int(r.u32())
	var counts [mesh.NumKinds]int
	for k := range counts {
		counts[k] = int(r.u32())
		if mesh.ElementKind(k) > top && counts[k] != 0 {
			return nil, errors.Wrapf(ErrCorruptStream, "%d %s entities above top kind %s", counts[k], mesh.ElementKind(k), top)
		}
		if counts[k] > len(body) {
			return nil, errors.Wrapf(ErrCorruptStream, "%s count %d", mesh.ElementKind(k), counts[k])
		}
	}
	r.u64()
	if f.Rank < 0 || numLevels > len(body) {
		return nil, errors.Wrapf(ErrCorruptStream, "rank %d, %d levels", f.Rank, numLevels)
	}

	for k := mesh.Vertex; k <= top; k++ {
		for i := 0; i < counts[k]; i++ {
			el := r.element(k, i, numLevels)
			if r.err != nil {
				return nil, r.err
			}
			if _, err := f.Grid.InsertElement(el); err != nil {
				return nil, errors.Wrapf(ErrCorruptStream, "%s %d: %v", k, el.ID, err)
			}
		}
	}

	for k := mesh.Vertex; k <= top; k++ {
		nl := &f.Layouts[k]
		nl.Nodes = make([]int, counts[k])
		for i := range nl.Nodes {
			nl.Nodes[i] = i
		}
		nl.SetNumLevels(numLevels)
		for lvl := 0; lvl < numLevels; lvl++ {
			r.links(nl, k, lvl, f.Rank)
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	if n := r.remaining(); n != 0 {
		return nil, errors.Wrapf(ErrCorruptStream, "%d unread bytes before the trailer", n)
	}
	return f, nil
}

// element reads the i-th record of kind. References may only point at
// records already read.
func (r *reader) element(kind mesh.ElementKind, i, numLevels int) mesh.Element {
	el := mesh.Element{ID: int64(r.u64())}
	el.Shape = mesh.Shape(r.u8())
	el.Level = int(r.u32())
	el.Parent = r.i32()
	el.Descendants = int(r.u32())
	if r.err != nil {
		return el
	}
	if !el.Shape.Valid() || el.Shape.Kind() != kind {
		r.fail("%s record %d has shape %d", kind, i, el.Shape)
	}
	if el.Level >= numLevels {
		r.fail("%s %d on level %d of %d", kind, el.ID, el.Level, numLevels)
	}
	if el.Parent < -1 || el.Parent >= i {
		r.fail("%s %d parent %d", kind, el.ID, el.Parent)
	}
	if el.Descendants < 0 || el.Descendants > 1<<30 {
		r.fail("%s %d has %d descendants", kind, el.ID, el.Descendants)
	}

	if nv := int(r.u8()); nv > 0 {
		el.Vertices = make([]int, nv)
		for j := range el.Vertices {
			el.Vertices[j] = int(r.u32())
		}
	}
	if ns := int(r.u8()); ns > 0 {
		el.Sides = make([]int, ns)
		for j := range el.Sides {
			el.Sides[j] = int(r.u32())
		}
	}
	if kind == mesh.Vertex {
		for j := range el.Coord {
			el.Coord[j] = r.f64()
		}
	}
	return el
}

// links reads the interfaces of one kind and level. Neighbour ranks must be
// ascending and distinct from the receiver.
func (r *reader) links(nl *layout.NodeLayout, kind mesh.ElementKind, lvl, rank int) {
	n := int(r.u32())
	prev := -1
	for j := 0; j < n && r.err == nil; j++ {
		l, q, count := int(r.u32()), r.i32(), int(r.u32())
		if r.err != nil {
			return
		}
		if l != lvl || q < 0 || q == rank || q <= prev {
			r.fail("%s level %d: link record (level %d, rank %d) after rank %d", kind, lvl, l, q, prev)
			return
		}
		if count > r.remaining()/4 {
			r.fail("%s level %d rank %d: %d entries", kind, lvl, q, count)
			return
		}
		prev = q
		it := make(layout.Interface, count)
		for x := range it {
			e := layout.Unpack(r.u32())
			if int(e.LocalID) >= len(nl.Nodes) || !e.Type.Valid() {
				r.fail("%s level %d rank %d entry %d: local id %d type %d", kind, lvl, q, x, e.LocalID, e.Type)
				return
			}
			it[x] = e
		}
		if nl.Maps[lvl] == nil {
			nl.Maps[lvl] = make(layout.InterfaceMap)
		}
		nl.Maps[lvl][q] = it
	}
}
