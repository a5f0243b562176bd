package partitions

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/notargets/DGDist/comm"
	"github.com/notargets/DGDist/config"
	"github.com/notargets/DGDist/mesh"
)

// PartitionStrategy defines how elements are grouped
type PartitionStrategy int

const (
	// Simple strategies
	BlockPartition PartitionStrategy = iota // Consecutive elements
	RoundRobin                              // Distribute cyclically

	// Graph-based strategies
	GraphPartition
)

// ParseStrategy maps a configured strategy name.
func ParseStrategy(name string) (PartitionStrategy, error) {
	switch name {
	case config.StrategyBlock:
		return BlockPartition, nil
	case config.StrategyRoundRobin:
		return RoundRobin, nil
	case config.StrategyGraph, "":
		return GraphPartition, nil
	}
	return 0, errors.Errorf("unknown partition strategy %q", name)
}

// Message tags of a partitioning pass.
const (
	TagPlan comm.Tag = 0x100 + iota
	TagCollective
	TagResult
)

// Engine assigns the elements of a multigrid to target ranks level by level
// following a ProcessHierarchy.
type Engine struct {
	cfg      config.Config
	strategy PartitionStrategy
	serial   Partitioner
	weights  WeightProvider
	logger   *log.Logger
}

type Option func(*Engine)

func WithLogger(l *log.Logger) Option { return func(e *Engine) { e.logger = l } }

func WithWeights(wp WeightProvider) Option { return func(e *Engine) { e.weights = wp } }

// WithPartitioner replaces the serial partitioner chosen by the strategy.
func WithPartitioner(p Partitioner) Option { return func(e *Engine) { e.serial = p } }

// NewEngine validates cfg and binds the partitioner. It fails with
// ErrPartitionerUnavailable when no usable partitioner is bound.
func NewEngine(cfg config.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	strategy, err := ParseStrategy(cfg.Strategy)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:      cfg,
		strategy: strategy,
		weights:  UniformWeights{},
		logger:   log.Default(),
	}
	switch strategy {
	case BlockPartition:
		e.serial = BlockPartitioner{}
	case RoundRobin:
		e.serial = RoundRobinPartitioner{}
	case GraphPartition:
		e.serial = NewRecursiveBisection(cfg.Ufactor, cfg.RefinePasses, cfg.Trials)
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.serial == nil {
		return nil, errors.Wrap(ErrPartitionerUnavailable, "no partitioner bound")
	}
	if err := e.serial.Available(); err != nil {
		if errors.Is(err, ErrPartitionerUnavailable) {
			return nil, err
		}
		return nil, errors.Wrapf(ErrPartitionerUnavailable, "%v", err)
	}
	if e.weights == nil {
		e.weights = UniformWeights{}
	}
	if e.logger == nil {
		e.logger = log.Default()
	}
	if cfg.Kind != "" {
		if _, err := mesh.ParseKind(cfg.Kind); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Config returns the engine's configuration.
func (e *Engine) Config() config.Config { return e.cfg }

// Kind returns the element kind the engine partitions on mg.
func (e *Engine) Kind(mg *mesh.MultiGrid) mesh.ElementKind {
	if e.cfg.Kind != "" {
		k, _ := mesh.ParseKind(e.cfg.Kind)
		return k
	}
	return mg.TopKind()
}

// Partition runs a partitioning pass over the ranks of c. Every rank of the
// hierarchy must call it. The source rank passes the grid and receives the
// assignment; the other ranks pass nil and receive nil.
func (e *Engine) Partition(ctx context.Context, c comm.Communicator, mg *mesh.MultiGrid, ph ProcessHierarchy) (*Assignment, error) {
	src := e.cfg.SourceRank
	if src >= c.Size() || ph.MaxRank() >= c.Size() {
		return nil, errors.Wrapf(ErrBadHierarchy, "source %d or hierarchy rank %d outside %d ranks",
			src, ph.MaxRank(), c.Size())
	}
	if c.Rank() != src {
		return nil, e.follow(ctx, c, ph)
	}
	if mg == nil {
		return nil, errors.New("source rank needs the grid")
	}
	return e.lead(ctx, c, mg, ph)
}

// PartitionLocal partitions every hierarchy level serially without a
// transport.
func (e *Engine) PartitionLocal(ctx context.Context, mg *mesh.MultiGrid, ph ProcessHierarchy) (*Assignment, error) {
	return e.lead(ctx, nil, mg, ph)
}

func (e *Engine) lead(ctx context.Context, c comm.Communicator, mg *mesh.MultiGrid, ph ProcessHierarchy) (*Assignment, error) {
	kind := e.Kind(mg)
	n := mg.NumElements(kind)
	a := &Assignment{Kind: kind, Ranks: make([]int, n)}
	for i := range a.Ranks {
		a.Ranks[i] = -1
	}
	agg := mg.AggregateWeights(kind, func(i int) float64 {
		el := mg.Element(kind, i)
		return checkedWeight(e.weights.ElementCost(el), e.logger, "element cost", el.ID)
	})

	for h := 0; h < ph.NumLevels(); h++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lvl := ph.Level(h).GridLevel
		members := ph.Ranks(h)
		e.inherit(mg, kind, a.Ranks, lvl-1)

		var dg *DualGraph
		if lvl < mg.NumLevels() {
			dg = BuildDualGraph(mg, kind, lvl, e.weights, e.logger)
		}
		if dg == nil || dg.NumNodes() == 0 {
			e.logger.Warn("hierarchy level has no elements", "level", lvl, "kind", kind)
			if err := e.sendPlans(ctx, c, members, plan{mode: ModeSerial}); err != nil {
				return nil, err
			}
			continue
		}
		if cc := dg.Components(); len(cc) > 1 {
			e.logger.Debug("dual graph is disconnected", "level", lvl, "components", len(cc))
		}

		k := e.numParts(dg.NumNodes(), len(members), lvl)
		vwgt := make([]float64, dg.NumNodes())
		for i, el := range dg.Nodes {
			vwgt[i] = agg[el]
		}

		var (
			part []int
			err  error
		)
		mode := e.mode(c, dg.NumNodes(), k)
		if mode == ModeParallel {
			part, err = e.leadParallel(ctx, c, mg, dg, vwgt, k, members, a.Ranks)
		} else {
			if err = e.sendPlans(ctx, c, members, plan{mode: ModeSerial}); err == nil {
				part, err = e.serial.Partition(ctx, dg.CSR(vwgt), k)
			}
		}
		if err != nil {
			return nil, errors.Wrapf(err, "partition level %d", lvl)
		}
		if len(part) != dg.NumNodes() {
			return nil, errors.Wrapf(ErrIncomplete, "level %d: %d parts for %d nodes", lvl, len(part), dg.NumNodes())
		}
		for i, el := range dg.Nodes {
			if part[i] < 0 || part[i] >= k {
				return nil, errors.Wrapf(ErrIncomplete, "level %d: part %d outside [0,%d)", lvl, part[i], k)
			}
			a.Ranks[el] = members[part[i]]
		}
		a.Stats = append(a.Stats, e.stats(dg, vwgt, part, k, lvl, mode))
	}
	e.inherit(mg, kind, a.Ranks, mg.NumLevels()-1)
	if err := a.Validate(mg); err != nil {
		return nil, err
	}
	return a, nil
}

// numParts reduces the process count so that every used part holds at
// least ElementThreshold elements, and never exceeds the element count.
func (e *Engine) numParts(n, procs, lvl int) int {
	k := procs
	if t := e.cfg.ElementThreshold; t > 0 && n/t < k {
		k = n / t
		if k < 1 {
			k = 1
		}
		e.logger.Info("element threshold reduces parts", "level", lvl, "parts", k, "procs", procs, "threshold", t)
	}
	if k > n {
		e.logger.Warn("more parts than elements, clamping", "level", lvl, "parts", k, "elements", n)
		k = n
	}
	return k
}

func (e *Engine) mode(c comm.Communicator, n, k int) Mode {
	if c == nil || e.strategy != GraphPartition || k < 2 {
		return ModeSerial
	}
	if t := e.cfg.SerialThreshold; t > 0 && n > t {
		return ModeParallel
	}
	return ModeSerial
}

// inherit gives every unassigned element on levels up to maxLevel its
// parent's rank, or the source rank for elements without an assigned parent.
func (e *Engine) inherit(mg *mesh.MultiGrid, kind mesh.ElementKind, ranks []int, maxLevel int) {
	for lvl := 0; lvl <= maxLevel && lvl < mg.NumLevels(); lvl++ {
		for _, el := range mg.LevelElements(kind, lvl) {
			if ranks[el] >= 0 {
				continue
			}
			ranks[el] = e.cfg.SourceRank
			if p := mg.Element(kind, el).Parent; p >= 0 && ranks[p] >= 0 {
				ranks[el] = ranks[p]
			}
		}
	}
}

func (e *Engine) sendPlans(ctx context.Context, c comm.Communicator, members []int, p plan) error {
	if c == nil {
		return nil
	}
	for _, r := range members {
		if r == e.cfg.SourceRank {
			continue
		}
		if err := c.Send(ctx, r, TagPlan, encodePlan(p)); err != nil {
			return err
		}
	}
	return nil
}

// leadParallel distributes the level graph over the members by current
// ownership, takes part in the collective when the source is a member, and
// gathers the members' results into node order.
func (e *Engine) leadParallel(ctx context.Context, c comm.Communicator, mg *mesh.MultiGrid, dg *DualGraph,
	vwgt []float64, k int, members []int, ranks []int) ([]int, error) {
	n := dg.NumNodes()
	np := len(members)
	pos := make(map[int]int, np)
	for i, r := range members {
		pos[r] = i
	}

	// current owner: the inherited rank when it is a member, else a block split
	owner := make([]int, n)
	count := make([]int, np)
	for i, el := range dg.Nodes {
		owner[i] = i * np / n
		if p := mg.Element(dg.Kind, el).Parent; p >= 0 {
			if m, ok := pos[ranks[p]]; ok {
				owner[i] = m
			}
		}
		count[owner[i]]++
	}
	vtxdist := make([]int, np+1)
	for m := 0; m < np; m++ {
		vtxdist[m+1] = vtxdist[m] + count[m]
	}
	next := append([]int(nil), vtxdist[:np]...)
	newOf := make([]int, n)
	order := make([]int, n)
	for i := 0; i < n; i++ {
		newOf[i] = next[owner[i]]
		order[newOf[i]] = i
		next[owner[i]]++
	}

	var mine *Graph
	for m, r := range members {
		piece := &Graph{Xadj: []int{0}, Vtxdist: vtxdist}
		for g := vtxdist[m]; g < vtxdist[m+1]; g++ {
			i := order[g]
			piece.Vwgt = append(piece.Vwgt, vwgt[i])
			for j := dg.Xadj[i]; j < dg.Xadj[i+1]; j++ {
				piece.Adjncy = append(piece.Adjncy, newOf[dg.Adjncy[j]])
				piece.Adjwgt = append(piece.Adjwgt, dg.Adjwgt[j])
			}
			piece.Xadj = append(piece.Xadj, len(piece.Adjncy))
		}
		if r == e.cfg.SourceRank {
			mine = piece
			continue
		}
		if err := c.Send(ctx, r, TagPlan, encodePlan(plan{mode: ModeParallel, k: k, graph: piece})); err != nil {
			return nil, err
		}
	}

	renum := make([]int, n)
	if mine != nil {
		local, err := e.collective(ctx, c, members, plan{mode: ModeParallel, k: k, graph: mine})
		if err != nil {
			return nil, err
		}
		m := pos[e.cfg.SourceRank]
		copy(renum[vtxdist[m]:vtxdist[m+1]], local)
	}
	for m, r := range members {
		if r == e.cfg.SourceRank {
			continue
		}
		buf, err := c.Recv(ctx, r, TagResult)
		if err != nil {
			return nil, err
		}
		rd := &reader{buf: buf}
		local := rd.ints("result")
		if err := rd.done(); err != nil {
			return nil, errors.Wrapf(err, "result of rank %d", r)
		}
		if len(local) != vtxdist[m+1]-vtxdist[m] {
			return nil, errors.Wrapf(ErrIncomplete, "rank %d returned %d parts for %d nodes", r, len(local), vtxdist[m+1]-vtxdist[m])
		}
		copy(renum[vtxdist[m]:vtxdist[m+1]], local)
	}

	part := make([]int, n)
	for i := range part {
		part[i] = renum[newOf[i]]
	}
	return part, nil
}

// follow is the non-source side of a pass: one plan per hierarchy entry the
// rank belongs to, and a collective call for every parallel level.
func (e *Engine) follow(ctx context.Context, c comm.Communicator, ph ProcessHierarchy) error {
	src := e.cfg.SourceRank
	for h := 0; h < ph.NumLevels(); h++ {
		members := ph.Ranks(h)
		if !contains(members, c.Rank()) {
			continue
		}
		buf, err := c.Recv(ctx, src, TagPlan)
		if err != nil {
			return err
		}
		p, err := decodePlan(buf)
		if err != nil {
			return err
		}
		if p.mode == ModeSerial {
			continue
		}
		part, err := e.collective(ctx, c, members, p)
		if err != nil {
			return errors.Wrapf(err, "collective partition of hierarchy entry %d", h)
		}
		if err := c.Send(ctx, src, TagResult, appendInts(nil, part)); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) collective(ctx context.Context, c comm.Communicator, members []int, p plan) ([]int, error) {
	grp, err := comm.NewGroup(c, members, TagCollective)
	if err != nil {
		return nil, err
	}
	return NewCollective(grp, e.serial).Partition(ctx, p.graph, p.k)
}

func (e *Engine) stats(dg *DualGraph, vwgt []float64, part []int, k, lvl int, mode Mode) PartitionStats {
	loads := make([]float64, k)
	for i, p := range part {
		loads[p] += vwgt[i]
	}
	st := ComputeStats(loads)
	st.GridLevel = lvl
	st.Mode = mode
	st.EdgeCut = dg.EdgeCut(part)
	if st.Imbalance > e.cfg.MaxImbalance {
		st.BalanceWarning = true
		e.logger.Warn("partition balance above bound", "level", lvl, "imbalance", st.Imbalance, "bound", e.cfg.MaxImbalance)
	}
	e.logger.Debug("level partitioned", "stats", st.String())
	return st
}
