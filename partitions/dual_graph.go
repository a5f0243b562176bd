package partitions

import (
	"sort"

	"github.com/charmbracelet/log"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/notargets/DGDist/mesh"
)

// DualGraph is the adjacency graph of the elements of one kind on one grid
// level. Node i stands for element Nodes[i]; nodes are numbered in ascending
// global id. Edges join elements sharing a connector and carry the summed
// connection cost. The CSR arrays mirror the gonum graph with neighbours in
// ascending node order.
type DualGraph struct {
	Kind  mesh.ElementKind
	Level int
	Nodes []int     // element index per node
	Cost  []float64 // element cost per node

	Xadj   []int
	Adjncy []int
	Adjwgt []float64

	g     *simple.WeightedUndirectedGraph
	index map[int]int
}

// BuildDualGraph builds the dual graph of kind on level lvl. A nil provider
// weighs everything with 1.
func BuildDualGraph(mg *mesh.MultiGrid, kind mesh.ElementKind, lvl int, wp WeightProvider, logger *log.Logger) *DualGraph {
	if wp == nil {
		wp = UniformWeights{}
	}
	if logger == nil {
		logger = log.Default()
	}
	nodes := mg.LevelElements(kind, lvl)
	dg := &DualGraph{
		Kind:  kind,
		Level: lvl,
		Nodes: nodes,
		Cost:  make([]float64, len(nodes)),
		g:     simple.NewWeightedUndirectedGraph(0, 0),
		index: make(map[int]int, len(nodes)),
	}
	for i, e := range nodes {
		el := mg.Element(kind, e)
		dg.index[e] = i
		dg.g.AddNode(simple.Node(i))
		dg.Cost[i] = checkedWeight(wp.ElementCost(el), logger, "element cost", el.ID)
	}

	for _, adj := range mg.Adjacencies(kind, lvl) {
		a, b := dg.index[adj.A], dg.index[adj.B]
		ea, eb := mg.Element(kind, adj.A), mg.Element(kind, adj.B)
		w := checkedWeight(wp.ConnectionCost(ea, eb), logger, "connection cost", ea.ID)
		if cur, ok := dg.g.Weight(int64(a), int64(b)); ok {
			w += cur
		}
		dg.g.SetWeightedEdge(dg.g.NewWeightedEdge(simple.Node(a), simple.Node(b), w))
	}
	dg.buildCSR()
	return dg
}

func (dg *DualGraph) buildCSR() {
	n := len(dg.Nodes)
	dg.Xadj = make([]int, 1, n+1)
	for i := 0; i < n; i++ {
		nbrs := graph.NodesOf(dg.g.From(int64(i)))
		ids := make([]int, len(nbrs))
		for j, nb := range nbrs {
			ids[j] = int(nb.ID())
		}
		sort.Ints(ids)
		for _, j := range ids {
			w, _ := dg.g.Weight(int64(i), int64(j))
			dg.Adjncy = append(dg.Adjncy, j)
			dg.Adjwgt = append(dg.Adjwgt, w)
		}
		dg.Xadj = append(dg.Xadj, len(dg.Adjncy))
	}
}

// Graph exposes the underlying gonum graph.
func (dg *DualGraph) Graph() graph.WeightedUndirected { return dg.g }

func (dg *DualGraph) NumNodes() int { return len(dg.Nodes) }

func (dg *DualGraph) NumEdges() int { return len(dg.Adjncy) / 2 }

// Index returns the node standing for element index e.
func (dg *DualGraph) Index(e int) (int, bool) {
	i, ok := dg.index[e]
	return i, ok
}

// Components returns the connected components as ascending node lists,
// ordered by their smallest node.
func (dg *DualGraph) Components() [][]int {
	cc := topo.ConnectedComponents(dg.g)
	out := make([][]int, len(cc))
	for i, c := range cc {
		ids := make([]int, len(c))
		for j, n := range c {
			ids[j] = int(n.ID())
		}
		sort.Ints(ids)
		out[i] = ids
	}
	sort.Slice(out, func(a, b int) bool { return out[a][0] < out[b][0] })
	return out
}

// EdgeCut sums the weight of edges whose ends lie in different parts.
func (dg *DualGraph) EdgeCut(part []int) float64 {
	var cut float64
	for i := 0; i < len(dg.Nodes); i++ {
		for j := dg.Xadj[i]; j < dg.Xadj[i+1]; j++ {
			if u := dg.Adjncy[j]; u > i && part[u] != part[i] {
				cut += dg.Adjwgt[j]
			}
		}
	}
	return cut
}

// CSR returns the whole graph in partitioner form with the given node
// weights, or the element costs when vwgt is nil.
func (dg *DualGraph) CSR(vwgt []float64) *Graph {
	if vwgt == nil {
		vwgt = dg.Cost
	}
	return &Graph{
		Vwgt:   append([]float64(nil), vwgt...),
		Xadj:   append([]int(nil), dg.Xadj...),
		Adjncy: append([]int(nil), dg.Adjncy...),
		Adjwgt: append([]float64(nil), dg.Adjwgt...),
	}
}
