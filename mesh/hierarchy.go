package mesh

import "sort"

// Adjacency is one pair of same-kind elements joined through a connector.
type Adjacency struct {
	A, B int // element indices, A has the smaller global id
	Via  int // connector index, of kind ConnectorKind(kind)
}

// ConnectorKind returns the kind of entity through which elements of kind
// are considered adjacent: facets for edges, faces and volumes, edges for
// vertices.
func ConnectorKind(kind ElementKind) ElementKind {
	if f, ok := kind.Facet(); ok {
		return f
	}
	return Edge
}

type incidenceFunc func(mg *MultiGrid, kind ElementKind, lvl int, nodes []int) map[int][]int

// incidence dispatches on the node kind; vertices are joined by the edges
// spanning them, everything else by shared sides.
var incidence = [NumKinds]incidenceFunc{
	Vertex: vertexIncidence,
	Edge:   sideIncidence,
	Face:   sideIncidence,
	Volume: sideIncidence,
}

func sideIncidence(mg *MultiGrid, kind ElementKind, _ int, nodes []int) map[int][]int {
	inc := make(map[int][]int)
	for _, e := range nodes {
		for _, s := range mg.elems[kind][e].Sides {
			inc[s] = append(inc[s], e)
		}
	}
	return inc
}

func vertexIncidence(mg *MultiGrid, _ ElementKind, lvl int, nodes []int) map[int][]int {
	member := make(map[int]bool, len(nodes))
	for _, v := range nodes {
		member[v] = true
	}
	inc := make(map[int][]int)
	for i := range mg.elems[Edge] {
		ed := &mg.elems[Edge][i]
		if ed.Level != lvl {
			continue
		}
		for _, v := range ed.Vertices {
			if member[v] {
				inc[i] = append(inc[i], v)
			}
		}
	}
	return inc
}

// Adjacencies lists every adjacent pair among the elements of kind on lvl.
// The result is ordered by connector global id, then by the pair's ids, so
// independent callers obtain identical sequences.
func (mg *MultiGrid) Adjacencies(kind ElementKind, lvl int) []Adjacency {
	nodes := mg.LevelElements(kind, lvl)
	inc := incidence[kind](mg, kind, lvl, nodes)
	ck := ConnectorKind(kind)

	conns := make([]int, 0, len(inc))
	for c, members := range inc {
		if len(members) > 1 {
			conns = append(conns, c)
		}
	}
	cels := mg.elems[ck]
	sort.Slice(conns, func(a, b int) bool { return cels[conns[a]].ID < cels[conns[b]].ID })

	els := mg.elems[kind]
	var out []Adjacency
	for _, c := range conns {
		members := inc[c]
		sort.Slice(members, func(a, b int) bool { return els[members[a]].ID < els[members[b]].ID })
		for i := 0; i < len(members); i++ {
			for j := i + 1; j < len(members); j++ {
				out = append(out, Adjacency{A: members[i], B: members[j], Via: c})
			}
		}
	}
	return out
}

// ChildCounts returns, for every element of kind, the number of its
// descendants through the finest level. Elements on the finest level
// have count 0. A received element reports its recorded Descendants, which
// also counts children held by other processes.
func (mg *MultiGrid) ChildCounts(kind ElementKind) []int {
	els := mg.elems[kind]
	counts := make([]int, len(els))
	byLevel := mg.byLevel(kind)
	for lvl := len(byLevel) - 1; lvl >= 0; lvl-- {
		for _, i := range byLevel[lvl] {
			if els[i].Descendants > 0 {
				counts[i] = els[i].Descendants
				continue
			}
			n := 0
			for _, c := range els[i].Children {
				n += 1 + counts[c]
			}
			counts[i] = n
		}
	}
	return counts
}

// AggregateWeights folds the per-element cost of every descendant into its
// ancestors: agg(e) = cost(e) + sum(agg(c)) over the children c of e. Levels
// are walked from the finest down so children are final before their parent.
func (mg *MultiGrid) AggregateWeights(kind ElementKind, cost func(i int) float64) []float64 {
	els := mg.elems[kind]
	agg := make([]float64, len(els))
	byLevel := mg.byLevel(kind)
	for lvl := len(byLevel) - 1; lvl >= 0; lvl-- {
		for _, i := range byLevel[lvl] {
			sum := cost(i)
			for _, c := range els[i].Children {
				sum += agg[c]
			}
			agg[i] = sum
		}
	}
	return agg
}

func (mg *MultiGrid) byLevel(kind ElementKind) [][]int {
	els := mg.elems[kind]
	byLevel := make([][]int, mg.numLevels)
	for i := range els {
		byLevel[els[i].Level] = append(byLevel[els[i].Level], i)
	}
	return byLevel
}
