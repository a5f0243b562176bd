package partitions

import (
	"context"

	"github.com/pkg/errors"

	"github.com/notargets/DGDist/comm"
)

// Collective partitions a graph distributed over a process group. Every
// member calls Partition with its own piece; no member returns before all
// have entered. The pieces are gathered on every member and partitioned by
// the deterministic inner partitioner, so each member obtains the part of
// its own nodes from the same global decomposition.
//
// Every member holds the whole graph while the inner partitioner runs, so a
// collective pass needs more memory per member than a serial one. It stands
// in for a distributed partitioner: choosing it through SerialThreshold
// spreads no memory and only exercises the collective call pattern.
type Collective struct {
	Group *comm.Group
	Inner Partitioner
}

func NewCollective(g *comm.Group, inner Partitioner) *Collective {
	return &Collective{Group: g, Inner: inner}
}

func (c *Collective) Available() error {
	if c.Group == nil || c.Inner == nil {
		return errors.Wrap(ErrPartitionerUnavailable, "collective partitioner without group or inner partitioner")
	}
	return c.Inner.Available()
}

func (c *Collective) Partition(ctx context.Context, g *Graph, k int) ([]int, error) {
	if err := c.Available(); err != nil {
		return nil, err
	}
	if err := checkParts(k); err != nil {
		return nil, err
	}
	if len(g.Vtxdist) != c.Group.Size()+1 {
		return nil, errors.Wrapf(ErrBadGraph, "vtxdist has %d entries for %d members", len(g.Vtxdist), c.Group.Size())
	}
	idx := c.Group.Index()
	lo, hi := g.Vtxdist[idx], g.Vtxdist[idx+1]
	if g.NumNodes() != hi-lo {
		return nil, errors.Wrapf(ErrBadGraph, "member %d holds %d nodes, vtxdist says %d", idx, g.NumNodes(), hi-lo)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}

	pieces, err := c.Group.AllGather(ctx, encodeGraph(nil, g))
	if err != nil {
		return nil, err
	}
	whole, err := assemble(pieces, g.Vtxdist)
	if err != nil {
		return nil, err
	}
	part, err := c.Inner.Partition(ctx, whole, k)
	if err != nil {
		return nil, err
	}
	return part[lo:hi], nil
}

// assemble concatenates the members' pieces in group order into the whole
// graph.
func assemble(pieces [][]byte, vtxdist []int) (*Graph, error) {
	whole := &Graph{Xadj: []int{0}}
	for i, buf := range pieces {
		r := &reader{buf: buf}
		piece := decodeGraph(r)
		if err := r.done(); err != nil {
			return nil, errors.Wrapf(err, "piece of member %d", i)
		}
		if piece.NumNodes() != vtxdist[i+1]-vtxdist[i] {
			return nil, errors.Wrapf(ErrBadGraph, "member %d sent %d nodes, vtxdist says %d",
				i, piece.NumNodes(), vtxdist[i+1]-vtxdist[i])
		}
		base := len(whole.Adjncy)
		whole.Vwgt = append(whole.Vwgt, piece.Vwgt...)
		whole.Adjncy = append(whole.Adjncy, piece.Adjncy...)
		whole.Adjwgt = append(whole.Adjwgt, piece.Adjwgt...)
		for _, x := range piece.Xadj[1:] {
			whole.Xadj = append(whole.Xadj, base+x)
		}
	}
	return whole, whole.Validate()
}
