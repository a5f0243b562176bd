package mesh

import "fmt"

// ElementKind is the closed set of entity kinds a multigrid holds.
type ElementKind uint8

const (
	Vertex ElementKind = iota
	Edge
	Face
	Volume

	NumKinds = 4
)

// Kinds lists every kind in ascending dimension.
var Kinds = [NumKinds]ElementKind{Vertex, Edge, Face, Volume}

type kindInfo struct {
	name string
	dim  int
}

var kindTraits = [NumKinds]kindInfo{
	Vertex: {name: "vertex", dim: 0},
	Edge:   {name: "edge", dim: 1},
	Face:   {name: "face", dim: 2},
	Volume: {name: "volume", dim: 3},
}

func (k ElementKind) Valid() bool { return int(k) < NumKinds }

func (k ElementKind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
	return kindTraits[k].name
}

// Dim returns the topological dimension of the kind.
func (k ElementKind) Dim() int { return kindTraits[k].dim }

// Facet returns the kind of the entities bounding an element of kind k.
// Vertices have no facets.
func (k ElementKind) Facet() (ElementKind, bool) {
	if k == Vertex || !k.Valid() {
		return 0, false
	}
	return k - 1, true
}

// ParseKind converts a kind name back to its ElementKind.
func ParseKind(name string) (ElementKind, error) {
	for _, k := range Kinds {
		if kindTraits[k].name == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown element kind %q", name)
}

// Shape identifies the geometry of an element
type Shape uint8

const (
	Point Shape = iota
	Line
	Tri
	Quad
	Tet
	Hex
	Prism
	Pyramid

	numShapes
)

type shapeInfo struct {
	name       string
	kind       ElementKind
	numVerts   int
	sides      [][]int // local vertex indices of each side
	sideShapes []Shape
}

var shapeTraits = [numShapes]shapeInfo{
	Point: {name: "point", kind: Vertex, numVerts: 1},
	Line: {
		name: "line", kind: Edge, numVerts: 2,
		sides:      [][]int{{0}, {1}},
		sideShapes: []Shape{Point, Point},
	},
	Tri: {
		name: "tri", kind: Face, numVerts: 3,
		sides:      [][]int{{0, 1}, {1, 2}, {2, 0}},
		sideShapes: []Shape{Line, Line, Line},
	},
	Quad: {
		name: "quad", kind: Face, numVerts: 4,
		sides:      [][]int{{0, 1}, {1, 2}, {2, 3}, {3, 0}},
		sideShapes: []Shape{Line, Line, Line, Line},
	},
	Tet: {
		name: "tet", kind: Volume, numVerts: 4,
		sides:      [][]int{{0, 1, 2}, {0, 1, 3}, {1, 2, 3}, {0, 2, 3}},
		sideShapes: []Shape{Tri, Tri, Tri, Tri},
	},
	Hex: {
		name: "hex", kind: Volume, numVerts: 8,
		sides: [][]int{
			{0, 3, 2, 1}, {4, 5, 6, 7},
			{0, 1, 5, 4}, {1, 2, 6, 5}, {2, 3, 7, 6}, {3, 0, 4, 7},
		},
		sideShapes: []Shape{Quad, Quad, Quad, Quad, Quad, Quad},
	},
	Prism: {
		name: "prism", kind: Volume, numVerts: 6,
		sides:      [][]int{{0, 2, 1}, {3, 4, 5}, {0, 1, 4, 3}, {1, 2, 5, 4}, {2, 0, 3, 5}},
		sideShapes: []Shape{Tri, Tri, Quad, Quad, Quad},
	},
	Pyramid: {
		name: "pyramid", kind: Volume, numVerts: 5,
		sides:      [][]int{{0, 3, 2, 1}, {0, 1, 4}, {1, 2, 4}, {2, 3, 4}, {3, 0, 4}},
		sideShapes: []Shape{Quad, Tri, Tri, Tri, Tri},
	},
}

func (s Shape) Valid() bool { return s < numShapes }

func (s Shape) String() string {
	if !s.Valid() {
		return fmt.Sprintf("shape(%d)", uint8(s))
	}
	return shapeTraits[s].name
}

// Kind returns the entity kind of the shape.
func (s Shape) Kind() ElementKind { return shapeTraits[s].kind }

// NumVertices returns the number of corner vertices.
func (s Shape) NumVertices() int { return shapeTraits[s].numVerts }

// NumSides returns the number of facets bounding the shape.
func (s Shape) NumSides() int { return len(shapeTraits[s].sides) }

// Element is one entity of a multigrid. Index fields (Parent, Children,
// Vertices, Sides) refer to positions in the MultiGrid slices of the
// appropriate kind.
type Element struct {
	ID       int64 // stable global id, the canonical ordering key
	Shape    Shape
	Level    int
	Parent   int   // same kind, Level-1; -1 if none
	Children []int // same kind, Level+1
	Vertices []int // corner vertices
	Sides    []int // facets of kind Kind()-1; for edges these are the vertices
	Coord    [3]float64
	// Descendants is the descendant count recorded when the element was
	// received; zero means it is derived from local links.
	Descendants int
}

// Kind returns the element's kind.
func (e *Element) Kind() ElementKind { return e.Shape.Kind() }
