package partitions

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

func appendFloat(buf []byte, f float64) []byte {
	return binary.LittleEndian.AppendUint64(buf, math.Float64bits(f))
}

func appendInts(buf []byte, xs []int) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(xs)))
	for _, x := range xs {
		buf = binary.AppendVarint(buf, int64(x))
	}
	return buf
}

// reader consumes a buffer and latches the first decoding error.
type reader struct {
	buf []byte
	err error
}

func (r *reader) fail(what string) {
	if r.err == nil {
		r.err = errors.Wrapf(ErrBadGraph, "truncated %s", what)
	}
}

func (r *reader) uvarint(what string) int {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.buf)
	if n <= 0 || v > math.MaxInt32 {
		r.fail(what)
		return 0
	}
	r.buf = r.buf[n:]
	return int(v)
}

func (r *reader) varint(what string) int {
	if r.err != nil {
		return 0
	}
	v, n := binary.Varint(r.buf)
	if n <= 0 {
		r.fail(what)
		return 0
	}
	r.buf = r.buf[n:]
	return int(v)
}

func (r *reader) float(what string) float64 {
	if r.err != nil {
		return 0
	}
	if len(r.buf) < 8 {
		r.fail(what)
		return 0
	}
	v := math.Float64frombits(binary.LittleEndian.Uint64(r.buf))
	r.buf = r.buf[8:]
	return v
}

func (r *reader) ints(what string) []int {
	n := r.uvarint(what)
	if r.err != nil || n > len(r.buf) {
		r.fail(what)
		return nil
	}
	xs := make([]int, n)
	for i := range xs {
		xs[i] = r.varint(what)
	}
	return xs
}

func (r *reader) done() error {
	if r.err == nil && len(r.buf) != 0 {
		r.err = errors.Wrapf(ErrBadGraph, "%d trailing bytes", len(r.buf))
	}
	return r.err
}

// encodeGraph writes the local CSR arrays; Vtxdist travels separately.
func encodeGraph(buf []byte, g *Graph) []byte {
	buf = binary.AppendUvarint(buf, uint64(g.NumNodes()))
	for i := 0; i < g.NumNodes(); i++ {
		buf = appendFloat(buf, g.Vwgt[i])
		buf = binary.AppendUvarint(buf, uint64(g.Xadj[i+1]-g.Xadj[i]))
		for j := g.Xadj[i]; j < g.Xadj[i+1]; j++ {
			buf = binary.AppendUvarint(buf, uint64(g.Adjncy[j]))
			buf = appendFloat(buf, g.Adjwgt[j])
		}
	}
	return buf
}

func decodeGraph(r *reader) *Graph {
	n := r.uvarint("node count")
	if r.err != nil || n > len(r.buf) {
		r.fail("graph")
		return nil
	}
	g := &Graph{Vwgt: make([]float64, n), Xadj: make([]int, 1, n+1)}
	for i := 0; i < n && r.err == nil; i++ {
		g.Vwgt[i] = r.float("node weight")
		deg := r.uvarint("degree")
		for j := 0; j < deg && r.err == nil; j++ {
			g.Adjncy = append(g.Adjncy, r.uvarint("neighbour"))
			g.Adjwgt = append(g.Adjwgt, r.float("edge weight"))
		}
		g.Xadj = append(g.Xadj, len(g.Adjncy))
	}
	if r.err != nil {
		return nil
	}
	return g
}

// plan tells a hierarchy member how a level is partitioned. Serial plans
// carry nothing else.
type plan struct {
	mode  Mode
	k     int
	graph *Graph
}

func encodePlan(p plan) []byte {
	buf := []byte{byte(p.mode)}
	if p.mode == ModeSerial {
		return buf
	}
	buf = binary.AppendUvarint(buf, uint64(p.k))
	buf = appendInts(buf, p.graph.Vtxdist)
	return encodeGraph(buf, p.graph)
}

func decodePlan(buf []byte) (plan, error) {
	if len(buf) == 0 {
		return plan{}, errors.Wrap(ErrBadGraph, "empty plan")
	}
	p := plan{mode: Mode(buf[0])}
	if p.mode == ModeSerial {
		if len(buf) != 1 {
			return p, errors.Wrap(ErrBadGraph, "serial plan with payload")
		}
		return p, nil
	}
	if p.mode != ModeParallel {
		return p, errors.Wrapf(ErrBadGraph, "unknown plan mode %d", buf[0])
	}
	r := &reader{buf: buf[1:]}
	p.k = r.uvarint("part count")
	vtxdist := r.ints("vtxdist")
	p.graph = decodeGraph(r)
	if err := r.done(); err != nil {
		return p, err
	}
	p.graph.Vtxdist = vtxdist
	return p, p.graph.Validate()
}
