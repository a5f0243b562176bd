package layout

import (
	"github.com/pkg/errors"

	"github.com/notargets/DGDist/mesh"
)

// Verify checks a set of layouts against the grid they were built from:
// every element of the top kind is held exactly once, every interface has a
// counterpart of equal length, and matching positions refer to the same
// shared entity or to facet neighbours.
func (ls Layouts) Verify(mg *mesh.MultiGrid) error {
	if len(ls) == 0 {
		return nil
	}
	top := ls[ls.Ranks()[0]].Top

	held := make([]int, mg.NumElements(top))
	for _, l := range ls {
		for _, e := range l.Kinds[top].Nodes {
			held[e]++
		}
	}
	for e, n := range held {
		if n != 1 {
			return errors.Errorf("%s %d held by %d processes", top, e, n)
		}
	}

	for _, p := range ls.Ranks() {
		lp := ls[p]
		for k := mesh.ElementKind(0); k <= top; k++ {
			for lvl, m := range lp.Kinds[k].Maps {
				for _, q := range m.Ranks() {
					if err := ls.verifyLink(mg, k, lvl, p, q); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

func (ls Layouts) verifyLink(mg *mesh.MultiGrid, kind mesh.ElementKind, lvl, p, q int) error {
	lp, lq := ls[p], ls[q]
	if lq == nil {
		return errors.Wrapf(ErrAsymmetric, "%s level %d: rank %d lists unknown rank %d", kind, lvl, p, q)
	}
	a, b := lp.Kinds[kind].Interface(q, lvl), lq.Kinds[kind].Interface(p, lvl)
	if len(a) != len(b) {
		return errors.Wrapf(ErrAsymmetric, "%s level %d: %d->%d has %d entries, %d->%d has %d",
			kind, lvl, p, q, len(a), q, p, len(b))
	}
	np, nq := lp.Kinds[kind].Nodes, lq.Kinds[kind].Nodes
	for i := range a {
		if int(a[i].LocalID) >= len(np) || int(b[i].LocalID) >= len(nq) || a[i].LocalID < 0 || b[i].LocalID < 0 {
			return errors.Wrapf(ErrBadEntry, "%s level %d: link %d-%d position %d", kind, lvl, p, q, i)
		}
		ea, eb := np[a[i].LocalID], nq[b[i].LocalID]
		if kind == lp.Top {
			if a[i].Type != EntryNeighbor || b[i].Type != EntryNeighbor || !adjacent(mg, kind, ea, eb) {
				return errors.Wrapf(ErrAsymmetric, "%s level %d: link %d-%d position %d pairs %d and %d",
					kind, lvl, p, q, i, ea, eb)
			}
			continue
		}
		if ea != eb {
			return errors.Wrapf(ErrAsymmetric, "%s level %d: link %d-%d position %d refers to %d and %d",
				kind, lvl, p, q, i, ea, eb)
		}
		if a[i].Type == EntryMaster && b[i].Type == EntryMaster {
			return errors.Wrapf(ErrAsymmetric, "%s %d has two masters (%d, %d)", kind, ea, p, q)
		}
	}
	return nil
}

// adjacent reports whether two elements of kind share a connector.
func adjacent(mg *mesh.MultiGrid, kind mesh.ElementKind, a, b int) bool {
	if a == b {
		return false
	}
	x, y := mg.Element(kind, a), mg.Element(kind, b)
	if kind == mesh.Vertex {
		for _, ed := range mg.Elements(mesh.Edge) {
			if ed.Level == x.Level && len(ed.Vertices) == 2 &&
				((ed.Vertices[0] == a && ed.Vertices[1] == b) || (ed.Vertices[0] == b && ed.Vertices[1] == a)) {
				return true
			}
		}
		return false
	}
	for _, s := range x.Sides {
		for _, t := range y.Sides {
			if s == t {
				return true
			}
		}
	}
	return false
}
