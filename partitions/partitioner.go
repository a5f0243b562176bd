package partitions

import (
	"context"

	"github.com/pkg/errors"
)

// Graph is a partitioner input in compressed sparse row form. With Vtxdist
// nil it is a whole graph. Otherwise it is one member's piece of a
// distributed graph: member i owns global nodes [Vtxdist[i], Vtxdist[i+1])
// and Adjncy holds global node numbers.
type Graph struct {
	Vwgt    []float64
	Xadj    []int
	Adjncy  []int
	Adjwgt  []float64
	Vtxdist []int
}

// NumNodes returns the number of locally held nodes.
func (g *Graph) NumNodes() int { return len(g.Vwgt) }

// GlobalNodes returns the node count of the whole graph.
func (g *Graph) GlobalNodes() int {
	if g.Vtxdist == nil {
		return len(g.Vwgt)
	}
	return g.Vtxdist[len(g.Vtxdist)-1]
}

// Validate checks the CSR arrays for consistency.
func (g *Graph) Validate() error {
	n := len(g.Vwgt)
	if len(g.Xadj) != n+1 || g.Xadj[0] != 0 {
		return errors.Wrapf(ErrBadGraph, "xadj has %d entries for %d nodes", len(g.Xadj), n)
	}
	for i := 0; i < n; i++ {
		if g.Xadj[i+1] < g.Xadj[i] {
			return errors.Wrapf(ErrBadGraph, "xadj decreases at node %d", i)
		}
	}
	if g.Xadj[n] != len(g.Adjncy) || len(g.Adjncy) != len(g.Adjwgt) {
		return errors.Wrapf(ErrBadGraph, "adjacency sizes %d/%d/%d", g.Xadj[n], len(g.Adjncy), len(g.Adjwgt))
	}
	for i := 1; i < len(g.Vtxdist); i++ {
		if g.Vtxdist[i] < g.Vtxdist[i-1] {
			return errors.Wrap(ErrBadGraph, "vtxdist decreases")
		}
	}
	total := g.GlobalNodes()
	for _, u := range g.Adjncy {
		if u < 0 || u >= total {
			return errors.Wrapf(ErrBadGraph, "neighbour %d outside [0,%d)", u, total)
		}
	}
	return nil
}

// Partitioner splits a graph into k parts of balanced node weight with a
// small edge cut. The result holds a part in [0,k) for every local node.
type Partitioner interface {
	// Available reports whether the partitioner can run.
	Available() error
	Partition(ctx context.Context, g *Graph, k int) ([]int, error)
}

func checkParts(k int) error {
	if k < 1 {
		return errors.Errorf("partition into %d parts", k)
	}
	return nil
}

// BlockPartitioner assigns consecutive runs of nodes of equal weight.
type BlockPartitioner struct{}

func (BlockPartitioner) Available() error { return nil }

func (BlockPartitioner) Partition(_ context.Context, g *Graph, k int) ([]int, error) {
	if err := checkParts(k); err != nil {
		return nil, err
	}
	n := g.NumNodes()
	var total float64
	for _, w := range g.Vwgt {
		total += w
	}
	part := make([]int, n)
	var prefix float64
	for i := 0; i < n; i++ {
		var p int
		if total > 0 {
			p = int((prefix + g.Vwgt[i]/2) * float64(k) / total)
		} else {
			p = i * k / n
		}
		if p >= k {
			p = k - 1
		}
		part[i] = p
		prefix += g.Vwgt[i]
	}
	return part, nil
}

// RoundRobinPartitioner distributes nodes cyclically.
type RoundRobinPartitioner struct{}

func (RoundRobinPartitioner) Available() error { return nil }

func (RoundRobinPartitioner) Partition(_ context.Context, g *Graph, k int) ([]int, error) {
	if err := checkParts(k); err != nil {
		return nil, err
	}
	part := make([]int, g.NumNodes())
	for i := range part {
		part[i] = i % k
	}
	return part, nil
}
