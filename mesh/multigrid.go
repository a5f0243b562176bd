package mesh

import (
	"fmt"
	"sort"
)

// State tracks whether a multigrid may be used by downstream layers.
type State uint8

const (
	StateValid State = iota
	StateRedistributing
	StateInvalid
)

func (s State) String() string {
	switch s {
	case StateValid:
		return "valid"
	case StateRedistributing:
		return "redistributing"
	case StateInvalid:
		return "invalid"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// sideKey identifies an entity by its sorted corner vertices on one level.
type sideKey struct {
	kind  ElementKind
	level int
	n     int
	v     [8]int
}

func makeSideKey(kind ElementKind, level int, verts []int) sideKey {
	k := sideKey{kind: kind, level: level, n: len(verts)}
	copy(k.v[:], verts)
	s := k.v[:k.n]
	sort.Ints(s)
	return k
}

// MultiGrid is a hierarchical mesh. Every level carries its own vertices,
// edges, faces and volumes; parent/child links join elements of the same
// kind on neighbouring levels.
type MultiGrid struct {
	elems     [NumKinds][]Element
	nextID    [NumKinds]int64
	numLevels int
	index     map[sideKey]int
	state     State
}

// NewMultiGrid returns an empty multigrid.
func NewMultiGrid() *MultiGrid {
	return &MultiGrid{index: make(map[sideKey]int)}
}

// NumLevels returns the number of levels holding at least one element.
func (mg *MultiGrid) NumLevels() int { return mg.numLevels }

// NumElements returns the number of elements of the given kind.
func (mg *MultiGrid) NumElements(kind ElementKind) int { return len(mg.elems[kind]) }

// Element returns the element of the given kind at index i.
func (mg *MultiGrid) Element(kind ElementKind, i int) *Element { return &mg.elems[kind][i] }

// Elements exposes the element slice of one kind. Callers must not append.
func (mg *MultiGrid) Elements(kind ElementKind) []Element { return mg.elems[kind] }

// TopKind returns the highest-dimensional kind present in the grid.
func (mg *MultiGrid) TopKind() ElementKind {
	for k := Volume; k > Vertex; k-- {
		if len(mg.elems[k]) > 0 {
			return k
		}
	}
	return Vertex
}

// LevelElements returns the indices of all elements of kind on level lvl,
// in ascending global id.
func (mg *MultiGrid) LevelElements(kind ElementKind, lvl int) []int {
	var out []int
	for i := range mg.elems[kind] {
		if mg.elems[kind][i].Level == lvl {
			out = append(out, i)
		}
	}
	els := mg.elems[kind]
	sort.SliceStable(out, func(a, b int) bool { return els[out[a]].ID < els[out[b]].ID })
	return out
}

// State returns the redistribution state.
func (mg *MultiGrid) State() State { return mg.state }

// Check returns ErrInvalidMesh if a previous redistribution was aborted.
func (mg *MultiGrid) Check() error {
	if mg.state == StateInvalid {
		return ErrInvalidMesh
	}
	return nil
}

// BeginRedistribution marks the grid as exclusively owned by a pass.
func (mg *MultiGrid) BeginRedistribution() error {
	if mg.state == StateRedistributing {
		return fmt.Errorf("multigrid already in a redistribution pass")
	}
	mg.state = StateRedistributing
	return nil
}

// EndRedistribution closes a pass. A non-nil err leaves the grid invalid.
func (mg *MultiGrid) EndRedistribution(err error) {
	if err != nil {
		mg.state = StateInvalid
		return
	}
	mg.state = StateValid
}

func (mg *MultiGrid) touchLevel(level int) {
	if level+1 > mg.numLevels {
		mg.numLevels = level + 1
	}
}

// AddVertex appends a vertex on the given level and returns its index.
func (mg *MultiGrid) AddVertex(level int, coord [3]float64) int {
	mg.touchLevel(level)
	idx := len(mg.elems[Vertex])
	mg.elems[Vertex] = append(mg.elems[Vertex], Element{
		ID:     mg.nextID[Vertex],
		Shape:  Point,
		Level:  level,
		Parent: -1,
		Coord:  coord,
	})
	mg.nextID[Vertex]++
	return idx
}

// AddCell creates an element of the given shape spanned by verts together
// with every missing lower-dimensional side. If the element already exists
// on that level its index is returned. parent links the new element to an
// element of the same kind on level-1; pass -1 for none.
func (mg *MultiGrid) AddCell(level int, shape Shape, verts []int, parent int) (int, error) {
	if !shape.Valid() || shape == Point {
		return -1, fmt.Errorf("%w: %v", ErrUnknownShape, shape)
	}
	if len(verts) != shape.NumVertices() {
		return -1, fmt.Errorf("%w: %v needs %d, got %d", ErrVertexCount,
			shape, shape.NumVertices(), len(verts))
	}
	for _, v := range verts {
		if v < 0 || v >= len(mg.elems[Vertex]) {
			return -1, fmt.Errorf("%w: vertex %d", ErrBadReference, v)
		}
	}
	idx := mg.getOrCreate(level, shape, verts)
	if parent >= 0 {
		if err := mg.SetParent(shape.Kind(), idx, parent); err != nil {
			return -1, err
		}
	}
	return idx, nil
}

func (mg *MultiGrid) getOrCreate(level int, shape Shape, verts []int) int {
	kind := shape.Kind()
	key := makeSideKey(kind, level, verts)
	if idx, ok := mg.index[key]; ok {
		return idx
	}

	var sides []int
	info := shapeTraits[shape]
	if kind == Edge {
		sides = append([]int(nil), verts...)
	} else {
		sides = make([]int, len(info.sides))
		sv := make([]int, 0, 4)
		for s, local := range info.sides {
			sv = sv[:0]
			for _, lv := range local {
				sv = append(sv, verts[lv])
			}
			sides[s] = mg.getOrCreate(level, info.sideShapes[s], sv)
		}
	}

	mg.touchLevel(level)
	idx := len(mg.elems[kind])
	mg.elems[kind] = append(mg.elems[kind], Element{
		ID:       mg.nextID[kind],
		Shape:    shape,
		Level:    level,
		Parent:   -1,
		Vertices: append([]int(nil), verts...),
		Sides:    sides,
	})
	mg.nextID[kind]++
	mg.index[key] = idx
	return idx
}

// SetParent links child to parent, both of the given kind.
func (mg *MultiGrid) SetParent(kind ElementKind, child, parent int) error {
	els := mg.elems[kind]
	if child < 0 || child >= len(els) || parent < 0 || parent >= len(els) {
		return fmt.Errorf("%w: %v child %d parent %d", ErrBadReference, kind, child, parent)
	}
	if els[parent].Level != els[child].Level-1 {
		return fmt.Errorf("%v parent %d on level %d cannot own child %d on level %d",
			kind, parent, els[parent].Level, child, els[child].Level)
	}
	if old := els[child].Parent; old >= 0 {
		els[old].Children = removeInt(els[old].Children, child)
	}
	els[child].Parent = parent
	els[parent].Children = append(els[parent].Children, child)
	return nil
}

// InsertElement appends a fully described element, keeping its global id.
// Vertices, Sides and Parent must already refer to inserted elements. It is
// the reconstruction path used by deserialization.
func (mg *MultiGrid) InsertElement(e Element) (int, error) {
	if !e.Shape.Valid() {
		return -1, fmt.Errorf("%w: %v", ErrUnknownShape, e.Shape)
	}
	kind := e.Kind()
	if kind != Vertex && len(e.Vertices) != e.Shape.NumVertices() {
		return -1, fmt.Errorf("%w: %v id %d", ErrVertexCount, e.Shape, e.ID)
	}
	for _, v := range e.Vertices {
		if v < 0 || v >= len(mg.elems[Vertex]) {
			return -1, fmt.Errorf("%w: %v id %d vertex %d", ErrBadReference, kind, e.ID, v)
		}
	}
	if facet, ok := kind.Facet(); ok {
		if len(e.Sides) != e.Shape.NumSides() {
			return -1, fmt.Errorf("%w: %v id %d has %d sides", ErrBadReference, kind, e.ID, len(e.Sides))
		}
		for _, s := range e.Sides {
			if s < 0 || s >= len(mg.elems[facet]) {
				return -1, fmt.Errorf("%w: %v id %d side %d", ErrBadReference, kind, e.ID, s)
			}
		}
	}

	mg.touchLevel(e.Level)
	idx := len(mg.elems[kind])
	parent := e.Parent
	e.Parent = -1
	e.Children = nil
	mg.elems[kind] = append(mg.elems[kind], e)
	if e.ID >= mg.nextID[kind] {
		mg.nextID[kind] = e.ID + 1
	}
	if kind != Vertex {
		mg.index[makeSideKey(kind, e.Level, e.Vertices)] = idx
	}
	if parent >= 0 {
		if err := mg.SetParent(kind, idx, parent); err != nil {
			return -1, err
		}
	}
	return idx, nil
}

func removeInt(s []int, v int) []int {
	for i, x := range s {
		if x == v {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}
