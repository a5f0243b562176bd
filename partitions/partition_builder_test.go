package partitions

import (
	"bytes"
	"context"
	"io"
	"math"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/DGDist/comm"
	"github.com/notargets/DGDist/config"
	"github.com/notargets/DGDist/mesh"
)

func quietLogger() *log.Logger { return log.New(io.Discard) }

func newTestEngine(t *testing.T, cfg config.Config, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, append([]Option{WithLogger(quietLogger())}, opts...)...)
	require.NoError(t, err)
	return e
}

// 2x2 quads split into 8 triangles, partitioned in two.
func TestEngine_EightTriangles(t *testing.T) {
	mg, err := mesh.NewStructuredTri(2, 2, 1)
	require.NoError(t, err)

	e := newTestEngine(t, config.Default())
	a, err := e.PartitionLocal(context.Background(), mg, FlatHierarchy(2))
	require.NoError(t, err)
	require.NoError(t, a.Validate(mg))

	assert.Equal(t, mesh.Face, a.Kind)
	assert.Equal(t, []int{0, 0, 0, 0, 1, 1, 1, 1}, a.Ranks)
	assert.Len(t, a.Elements(0), 4)
	assert.Len(t, a.Elements(1), 4)

	require.Len(t, a.Stats, 1)
	st := a.Stats[0]
	assert.Equal(t, ModeSerial, st.Mode)
	assert.InDelta(t, 2.0, st.EdgeCut, 1e-12)
	assert.InDelta(t, 1.0, st.Imbalance, 1e-12)
	assert.False(t, st.BalanceWarning)
}

// 1024 uniform hexahedra into 4 parts.
func TestEngine_HexBalance(t *testing.T) {
	mg, err := mesh.NewStructuredHex(16, 8, 8, 1)
	require.NoError(t, err)
	require.Equal(t, 1024, mg.NumElements(mesh.Volume))

	e := newTestEngine(t, config.Default())
	a, err := e.PartitionLocal(context.Background(), mg, FlatHierarchy(4))
	require.NoError(t, err)
	require.NoError(t, a.Validate(mg))

	st := a.Stats[0]
	assert.Equal(t, 4, st.NumParts)
	assert.LessOrEqual(t, st.Imbalance, 1.1)
	assert.Greater(t, st.MinLoad, 0.0)
	// the block has 2752 interior faces; compact parts cut a small share
	assert.Less(t, st.EdgeCut, 600.0)
	assert.Equal(t, []int{0, 1, 2, 3}, a.Targets())
}

func TestEngine_Deterministic(t *testing.T) {
	mg, err := mesh.NewStructuredTri(6, 5, 1)
	require.NoError(t, err)
	e := newTestEngine(t, config.Default())

	first, err := e.PartitionLocal(context.Background(), mg, FlatHierarchy(3))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := e.PartitionLocal(context.Background(), mg, FlatHierarchy(3))
		require.NoError(t, err)
		assert.Equal(t, first.Ranks, again.Ranks)
	}
}

func TestEngine_ChildrenFollowParents(t *testing.T) {
	mg, err := mesh.NewStructuredTri(2, 2, 3)
	require.NoError(t, err)
	e := newTestEngine(t, config.Default())

	a, err := e.PartitionLocal(context.Background(), mg, FlatHierarchy(2))
	require.NoError(t, err)
	require.NoError(t, a.Validate(mg))

	for i, el := range mg.Elements(mesh.Face) {
		if el.Parent >= 0 {
			assert.Equal(t, a.Ranks[el.Parent], a.Ranks[i], "face %d", i)
		}
	}
	// aggregated weights: every coarse triangle carries 1+4+16
	assert.InDelta(t, 4*21.0, a.Stats[0].AvgLoad, 1e-9)
	assert.InDelta(t, 4*21.0, a.Stats[0].MaxLoad, 1e-9)
}

func TestEngine_HierarchyLevels(t *testing.T) {
	mg, err := mesh.NewStructuredTri(2, 2, 3)
	require.NoError(t, err)
	ph, err := NewProcessHierarchy([]config.HierarchyLevel{
		{GridLevel: 0, NumProcs: 1, ProcessMap: []int{6}},
		{GridLevel: 2, NumProcs: 4, ProcessMap: []int{6, 4, 2, 0}},
	})
	require.NoError(t, err)

	e := newTestEngine(t, config.Default())
	a, err := e.PartitionLocal(context.Background(), mg, ph)
	require.NoError(t, err)
	require.Len(t, a.Stats, 2)

	for i, el := range mg.Elements(mesh.Face) {
		if el.Level < 2 {
			assert.Equal(t, 6, a.Ranks[i], "coarse face %d stays with the first entry", i)
		} else {
			assert.Contains(t, []int{6, 4, 2, 0}, a.Ranks[i])
		}
	}
	assert.Equal(t, []int{0, 2, 4, 6}, a.Targets())
}

func TestEngine_ClampsParts(t *testing.T) {
	mg, err := mesh.NewStructuredTri(2, 2, 1)
	require.NoError(t, err)
	e := newTestEngine(t, config.Default())

	a, err := e.PartitionLocal(context.Background(), mg, FlatHierarchy(16))
	require.NoError(t, err)
	assert.Equal(t, 8, a.Stats[0].NumParts)
	assert.Len(t, a.Targets(), 8)
	for _, r := range a.Targets() {
		assert.Len(t, a.Elements(r), 1)
	}
}

func TestEngine_ElementThreshold(t *testing.T) {
	mg, err := mesh.NewStructuredTri(2, 2, 1)
	require.NoError(t, err)
	cfg := config.Default()
	cfg.ElementThreshold = 3

	e := newTestEngine(t, cfg)
	a, err := e.PartitionLocal(context.Background(), mg, FlatHierarchy(4))
	require.NoError(t, err)
	assert.Equal(t, 2, a.Stats[0].NumParts)
}

func TestEngine_Strategies(t *testing.T) {
	mg, err := mesh.NewStructuredTri(2, 2, 1)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Strategy = config.StrategyRoundRobin
	a, err := newTestEngine(t, cfg).PartitionLocal(context.Background(), mg, FlatHierarchy(2))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 0, 1, 0, 1, 0, 1}, a.Ranks)

	cfg.Strategy = config.StrategyBlock
	a, err = newTestEngine(t, cfg).PartitionLocal(context.Background(), mg, FlatHierarchy(2))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 0, 0, 1, 1, 1, 1}, a.Ranks)
}

func TestEngine_BadWeightsFallBackToOne(t *testing.T) {
	mg, err := mesh.NewStructuredTri(2, 2, 1)
	require.NoError(t, err)
	wp := WeightFuncs{
		Element:    func(*mesh.Element) float64 { return math.NaN() },
		Connection: func(_, _ *mesh.Element) float64 { return -3 },
	}
	e := newTestEngine(t, config.Default(), WithWeights(wp))
	a, err := e.PartitionLocal(context.Background(), mg, FlatHierarchy(2))
	require.NoError(t, err)
	assert.InDelta(t, 4.0, a.Stats[0].MaxLoad, 1e-12)
	assert.InDelta(t, 2.0, a.Stats[0].EdgeCut, 1e-12)
}

// One heavy triangle cannot be balanced against seven light ones.
func TestEngine_BalanceWarning(t *testing.T) {
	mg, err := mesh.NewStructuredTri(2, 2, 1)
	require.NoError(t, err)
	wp := WeightFuncs{Element: func(e *mesh.Element) float64 {
		if e.ID == 0 {
			return 100
		}
		return 1
	}}
	var logs bytes.Buffer
	cfg := config.Default()
	cfg.MaxImbalance = 1.05
	e, err := NewEngine(cfg, WithLogger(log.New(&logs)), WithWeights(wp))
	require.NoError(t, err)

	a, err := e.PartitionLocal(context.Background(), mg, FlatHierarchy(2))
	require.NoError(t, err)
	require.NoError(t, a.Validate(mg))
	require.Len(t, a.Stats, 1)
	st := a.Stats[0]
	assert.True(t, st.BalanceWarning)
	assert.Greater(t, st.Imbalance, cfg.MaxImbalance)
	assert.GreaterOrEqual(t, st.MaxLoad, 100.0)
	assert.Contains(t, logs.String(), "partition balance above bound")
}

func TestNewEngine_Unavailable(t *testing.T) {
	_, err := NewEngine(config.Default(), WithPartitioner(nil))
	assert.ErrorIs(t, err, ErrPartitionerUnavailable)

	_, err = NewEngine(config.Default(), WithPartitioner(NewRecursiveBisection(0.5, 1, 1)))
	assert.ErrorIs(t, err, ErrPartitionerUnavailable)

	cfg := config.Default()
	cfg.Kind = "polytope"
	_, err = NewEngine(cfg)
	assert.Error(t, err)
}

func TestNewProcessHierarchy_Rejects(t *testing.T) {
	bad := [][]config.HierarchyLevel{
		nil,
		{{GridLevel: 0, NumProcs: 0}},
		{{GridLevel: 1, NumProcs: 2}, {GridLevel: 0, NumProcs: 2}},
		{{GridLevel: 0, NumProcs: 2, ProcessMap: []int{1}}},
		{{GridLevel: 0, NumProcs: 2, ProcessMap: []int{1, 1}}},
	}
	for i, levels := range bad {
		_, err := NewProcessHierarchy(levels)
		assert.ErrorIs(t, err, ErrBadHierarchy, "case %d", i)
	}
}

// runCollective partitions mg over a world in which rank 0 is the source.
func runCollective(t *testing.T, cfg config.Config, mg *mesh.MultiGrid, ph ProcessHierarchy, size int) *Assignment {
	t.Helper()
	e := newTestEngine(t, cfg)
	w := comm.NewWorld(size, 8)
	var out *Assignment
	err := w.Run(context.Background(), func(ctx context.Context, c comm.Communicator) error {
		var grid *mesh.MultiGrid
		if c.Rank() == cfg.SourceRank {
			grid = mg
		}
		a, err := e.Partition(ctx, c, grid, ph)
		if c.Rank() == cfg.SourceRank {
			out = a
		}
		return err
	})
	require.NoError(t, err)
	require.NotNil(t, out)
	return out
}

func TestEngine_ParallelMatchesSerial(t *testing.T) {
	mg, err := mesh.NewStructuredHex(4, 4, 4, 1)
	require.NoError(t, err)
	cfg := config.Default()
	cfg.SerialThreshold = 10

	par := runCollective(t, cfg, mg, FlatHierarchy(4), 4)
	require.Len(t, par.Stats, 1)
	assert.Equal(t, ModeParallel, par.Stats[0].Mode)

	ser, err := newTestEngine(t, cfg).PartitionLocal(context.Background(), mg, FlatHierarchy(4))
	require.NoError(t, err)
	assert.Equal(t, ModeSerial, ser.Stats[0].Mode)
	assert.Equal(t, ser.Ranks, par.Ranks)
}

func TestEngine_ParallelInheritedOwnership(t *testing.T) {
	mg, err := mesh.NewStructuredTri(4, 4, 2)
	require.NoError(t, err)
	ph, err := NewProcessHierarchy([]config.HierarchyLevel{
		{GridLevel: 0, NumProcs: 2},
		{GridLevel: 1, NumProcs: 4, ProcessMap: []int{1, 2, 3, 4}},
	})
	require.NoError(t, err)
	cfg := config.Default()
	cfg.SerialThreshold = 40

	a := runCollective(t, cfg, mg, ph, 5)
	require.NoError(t, a.Validate(mg))
	require.Len(t, a.Stats, 2)
	assert.Equal(t, ModeSerial, a.Stats[0].Mode)
	assert.Equal(t, ModeParallel, a.Stats[1].Mode)
	assert.LessOrEqual(t, a.Stats[1].Imbalance, 1.1)

	for i, el := range mg.Elements(mesh.Face) {
		if el.Level == 1 {
			assert.Contains(t, []int{1, 2, 3, 4}, a.Ranks[i])
		}
	}
}

func TestEngine_SourceOutsideHierarchy(t *testing.T) {
	mg, err := mesh.NewStructuredTri(4, 2, 1)
	require.NoError(t, err)
	ph, err := NewProcessHierarchy([]config.HierarchyLevel{{GridLevel: 0, NumProcs: 2, ProcessMap: []int{1, 2}}})
	require.NoError(t, err)
	cfg := config.Default()
	cfg.SerialThreshold = 4

	a := runCollective(t, cfg, mg, ph, 3)
	assert.Equal(t, []int{1, 2}, a.Targets())
	assert.Equal(t, ModeParallel, a.Stats[0].Mode)
}

func TestEngine_HierarchyLargerThanWorld(t *testing.T) {
	e := newTestEngine(t, config.Default())
	w := comm.NewWorld(2, 1)
	_, err := e.Partition(context.Background(), w.Comm(0), nil, FlatHierarchy(3))
	assert.ErrorIs(t, err, ErrBadHierarchy)
}
