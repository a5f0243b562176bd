package partitions

import (
	"context"
	"math"

	"github.com/emirpasic/gods/trees/binaryheap"
	"github.com/pkg/errors"
)

// fmStall bounds the run of non-improving moves in one refinement pass.
const fmStall = 64

// RecursiveBisection is a deterministic serial k-way partitioner. Each
// bisection grows a region greedily from a pseudo-peripheral seed until it
// reaches its share of the weight, then improves the cut with
// Fiduccia-Mattheyses passes. States are ranked by balance violation, then
// cut, then distance from the target weight.
type RecursiveBisection struct {
	Ufactor float64 // allowed load factor per bisection, e.g. 1.03
	Passes  int     // refinement passes per bisection
	Trials  int     // seeds tried per bisection
}

func NewRecursiveBisection(ufactor float64, passes, trials int) *RecursiveBisection {
	return &RecursiveBisection{Ufactor: ufactor, Passes: passes, Trials: trials}
}

func (rb *RecursiveBisection) Available() error {
	if rb.Ufactor < 1 || rb.Trials < 1 || rb.Passes < 0 {
		return errors.Wrapf(ErrPartitionerUnavailable, "recursive bisection: ufactor=%g passes=%d trials=%d",
			rb.Ufactor, rb.Passes, rb.Trials)
	}
	return nil
}

func (rb *RecursiveBisection) Partition(ctx context.Context, g *Graph, k int) ([]int, error) {
	if g.Vtxdist != nil {
		return nil, errors.Wrap(ErrBadGraph, "recursive bisection needs the whole graph")
	}
	if err := checkParts(k); err != nil {
		return nil, err
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	n := g.NumNodes()
	part := make([]int, n)
	nodes := make([]int, n)
	for i := range nodes {
		nodes[i] = i
	}
	if err := rb.split(ctx, g, nodes, k, 0, part); err != nil {
		return nil, err
	}
	return part, nil
}

func (rb *RecursiveBisection) split(ctx context.Context, g *Graph, nodes []int, k, offset int, part []int) error {
	if k <= 1 || len(nodes) <= 1 {
		for _, v := range nodes {
			part[v] = offset
		}
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	k1 := k / 2
	b := newBisector(induce(g, nodes), float64(k1)/float64(k), rb.Ufactor)
	side := b.run(rb.Trials, rb.Passes)

	var left, right []int
	for i, v := range nodes {
		if side[i] == 0 {
			left = append(left, v)
		} else {
			right = append(right, v)
		}
	}
	if err := rb.split(ctx, g, left, k1, offset, part); err != nil {
		return err
	}
	return rb.split(ctx, g, right, k-k1, offset+k1, part)
}

// subgraph is the graph induced by a node subset in local numbering. Local
// order follows the parent order, so lower index means lower global id.
type subgraph struct {
	vw    []float64
	deg   []float64
	xadj  []int
	adj   []int
	adjw  []float64
	total float64
	maxVw float64
}

func induce(g *Graph, nodes []int) *subgraph {
	local := make(map[int]int, len(nodes))
	for i, v := range nodes {
		local[v] = i
	}
	s := &subgraph{
		vw:   make([]float64, len(nodes)),
		deg:  make([]float64, len(nodes)),
		xadj: make([]int, 1, len(nodes)+1),
	}
	for i, v := range nodes {
		s.vw[i] = g.Vwgt[v]
		s.total += g.Vwgt[v]
		s.maxVw = math.Max(s.maxVw, g.Vwgt[v])
		for j := g.Xadj[v]; j < g.Xadj[v+1]; j++ {
			if u, ok := local[g.Adjncy[j]]; ok {
				s.adj = append(s.adj, u)
				s.adjw = append(s.adjw, g.Adjwgt[j])
				s.deg[i] += g.Adjwgt[j]
			}
		}
		s.xadj = append(s.xadj, len(s.adj))
	}
	return s
}

type score struct {
	violation, cut, dev float64
}

func (a score) less(b score) bool {
	if a.violation != b.violation {
		return a.violation < b.violation
	}
	if a.cut != b.cut {
		return a.cut < b.cut
	}
	return a.dev < b.dev
}

type gainEntry struct {
	node int
	gain float64
	ver  int
}

// byGain orders entries by descending gain, then ascending node.
func byGain(a, b interface{}) int {
	x, y := a.(gainEntry), b.(gainEntry)
	switch {
	case x.gain > y.gain:
		return -1
	case x.gain < y.gain:
		return 1
	case x.node < y.node:
		return -1
	case x.node > y.node:
		return 1
	case x.ver > y.ver:
		return -1
	case x.ver < y.ver:
		return 1
	}
	return 0
}

type bisector struct {
	s      *subgraph
	target float64 // weight wanted on side 0
	tol    float64
}

func newBisector(s *subgraph, frac, ufactor float64) *bisector {
	target := frac * s.total
	return &bisector{
		s:      s,
		target: target,
		tol:    math.Max((ufactor-1)*target, s.maxVw/2),
	}
}

func (b *bisector) scoreOf(w0, cut float64) score {
	dev := math.Abs(w0 - b.target)
	return score{violation: math.Max(0, dev-b.tol), cut: cut, dev: dev}
}

func (b *bisector) cut(side []int8) float64 {
	var c float64
	for v := range b.s.vw {
		for j := b.s.xadj[v]; j < b.s.xadj[v+1]; j++ {
			if u := b.s.adj[j]; u > v && side[u] != side[v] {
				c += b.s.adjw[j]
			}
		}
	}
	return c
}

func (b *bisector) weight0(side []int8) float64 {
	var w float64
	for v, x := range b.s.vw {
		if side[v] == 0 {
			w += x
		}
	}
	return w
}

// run returns the best side vector over all seeds; side 0 carries the
// target share.
func (b *bisector) run(trials, passes int) []int8 {
	var (
		best      []int8
		bestScore score
	)
	for _, seed := range b.seeds(trials) {
		side := b.grow(seed)
		b.refine(side, passes)
		sc := b.scoreOf(b.weight0(side), b.cut(side))
		if best == nil || sc.less(bestScore) {
			best, bestScore = side, sc
		}
	}
	return best
}

func (b *bisector) seeds(trials int) []int {
	n := len(b.s.vw)
	seen := make(map[int]bool)
	out := []int{b.peripheral(0)}
	seen[out[0]] = true
	for t := 1; t < trials; t++ {
		v := t * n / trials
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// peripheral walks to a pseudo-peripheral node by repeated breadth-first
// searches, each restarted from the lowest farthest node.
func (b *bisector) peripheral(start int) int {
	cur, ecc := start, -1
	for {
		far, d := b.farthest(cur)
		if d <= ecc {
			return cur
		}
		cur, ecc = far, d
	}
}

func (b *bisector) farthest(from int) (int, int) {
	dist := make([]int, len(b.s.vw))
	for i := range dist {
		dist[i] = -1
	}
	dist[from] = 0
	queue := []int{from}
	far, fd := from, 0
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		if dist[v] > fd || (dist[v] == fd && v < far) {
			far, fd = v, dist[v]
		}
		for j := b.s.xadj[v]; j < b.s.xadj[v+1]; j++ {
			if u := b.s.adj[j]; dist[u] < 0 {
				dist[u] = dist[v] + 1
				queue = append(queue, u)
			}
		}
	}
	return far, fd
}

// grow builds side 0 from seed, always taking the frontier node with the
// highest gain, until the target weight is reached. Disconnected remainders
// are entered at their lowest node.
func (b *bisector) grow(seed int) []int8 {
	s := b.s
	n := len(s.vw)
	side := make([]int8, n)
	for i := range side {
		side[i] = 1
	}
	into := make([]float64, n)
	ver := make([]int, n)
	h := binaryheap.NewWith(byGain)
	push := func(v int) {
		ver[v]++
		h.Push(gainEntry{node: v, gain: 2*into[v] - s.deg[v], ver: ver[v]})
	}
	push(seed)

	var w0 float64
	next := 0
	for w0 < b.target {
		v := -1
		for !h.Empty() {
			x, _ := h.Pop()
			e := x.(gainEntry)
			if side[e.node] == 1 && e.ver == ver[e.node] {
				v = e.node
				break
			}
		}
		if v < 0 {
			for next < n && side[next] == 0 {
				next++
			}
			if next == n {
				break
			}
			v = next
		}
		if w0 > 0 && w0+s.vw[v]-b.target > b.target-w0 {
			break
		}
		side[v] = 0
		w0 += s.vw[v]
		for j := s.xadj[v]; j < s.xadj[v+1]; j++ {
			if u := s.adj[j]; side[u] == 1 {
				into[u] += s.adjw[j]
				push(u)
			}
		}
	}
	return side
}

// refine runs Fiduccia-Mattheyses passes: every node moves at most once per
// pass, and the pass is rolled back to its best prefix.
func (b *bisector) refine(side []int8, passes int) {
	s := b.s
	n := len(s.vw)
	for p := 0; p < passes; p++ {
		var w [2]float64
		gain := make([]float64, n)
		for v := 0; v < n; v++ {
			w[side[v]] += s.vw[v]
			for j := s.xadj[v]; j < s.xadj[v+1]; j++ {
				if side[s.adj[j]] != side[v] {
					gain[v] += s.adjw[j]
				} else {
					gain[v] -= s.adjw[j]
				}
			}
		}
		cut := b.cut(side)

		ver := make([]int, n)
		locked := make([]bool, n)
		heaps := [2]*binaryheap.Heap{binaryheap.NewWith(byGain), binaryheap.NewWith(byGain)}
		push := func(v int) {
			ver[v]++
			heaps[side[v]].Push(gainEntry{node: v, gain: gain[v], ver: ver[v]})
		}
		for v := 0; v < n; v++ {
			for j := s.xadj[v]; j < s.xadj[v+1]; j++ {
				if side[s.adj[j]] != side[v] {
					push(v)
					break
				}
			}
		}

		best := b.scoreOf(w[0], cut)
		bestLen := 0
		var moves []int
		for stall := 0; stall < fmStall; {
			v := b.pickMove(heaps, ver, locked, side, w[0], cut)
			if v < 0 {
				break
			}
			heaps[side[v]].Pop()
			from := side[v]
			to := 1 - from
			cut -= gain[v]
			w[from] -= s.vw[v]
			w[to] += s.vw[v]
			side[v] = to
			locked[v] = true
			moves = append(moves, v)
			for j := s.xadj[v]; j < s.xadj[v+1]; j++ {
				u := s.adj[j]
				if locked[u] {
					continue
				}
				if side[u] == to {
					gain[u] -= 2 * s.adjw[j]
				} else {
					gain[u] += 2 * s.adjw[j]
				}
				push(u)
			}

			if sc := b.scoreOf(w[0], cut); sc.less(best) {
				best, bestLen, stall = sc, len(moves), 0
			} else {
				stall++
			}
		}
		for i := len(moves) - 1; i >= bestLen; i-- {
			side[moves[i]] = 1 - side[moves[i]]
		}
		if bestLen == 0 {
			return
		}
	}
}

// pickMove peeks the best live candidate of each side and returns the one
// whose move yields the better state, leaving it on top of its heap.
func (b *bisector) pickMove(heaps [2]*binaryheap.Heap, ver []int, locked []bool, side []int8, w0, cut float64) int {
	var (
		cand [2]gainEntry
		ok   [2]bool
	)
	for sd := 0; sd < 2; sd++ {
		for {
			x, found := heaps[sd].Peek()
			if !found {
				break
			}
			e := x.(gainEntry)
			if locked[e.node] || e.ver != ver[e.node] || int(side[e.node]) != sd {
				heaps[sd].Pop()
				continue
			}
			cand[sd], ok[sd] = e, true
			break
		}
	}
	switch {
	case !ok[0] && !ok[1]:
		return -1
	case !ok[1]:
		return cand[0].node
	case !ok[0]:
		return cand[1].node
	}
	s0 := b.scoreOf(w0-b.s.vw[cand[0].node], cut-cand[0].gain)
	s1 := b.scoreOf(w0+b.s.vw[cand[1].node], cut-cand[1].gain)
	if s1.less(s0) {
		return cand[1].node
	}
	return cand[0].node
}
