package redistribute

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/DGDist/comm"
	"github.com/notargets/DGDist/config"
	"github.com/notargets/DGDist/layout"
	"github.com/notargets/DGDist/mesh"
	"github.com/notargets/DGDist/partitions"
	"github.com/notargets/DGDist/serialize"
)

func quiet() Option { return WithLogger(log.New(io.Discard)) }

// runPass executes one pass on a world of size ranks and returns each rank's
// result.
func runPass(t *testing.T, cfg config.Config, mg *mesh.MultiGrid, ph partitions.ProcessHierarchy,
	size int, wrap func(comm.Communicator) comm.Communicator) ([]*Result, error) {
	t.Helper()
	rd, err := New(cfg, quiet())
	require.NoError(t, err)

	results := make([]*Result, size)
	w := comm.NewWorld(size, 0)
	err = w.Run(context.Background(), func(ctx context.Context, c comm.Communicator) error {
		if wrap != nil {
			c = wrap(c)
		}
		var grid *mesh.MultiGrid
		if c.Rank() == cfg.SourceRank {
			grid = mg
		}
		res, err := rd.Run(ctx, c, grid, ph)
		results[c.Rank()] = res
		return err
	})
	return results, err
}

func checkResults(t *testing.T, mg *mesh.MultiGrid, results []*Result) {
	t.Helper()
	top := mg.TopKind()
	total := 0
	for r, res := range results {
		require.NotNil(t, res, "rank %d", r)
		assert.Equal(t, results[0].RunID, res.RunID)
		if res.Fragment == nil {
			continue
		}
		f := res.Fragment
		total += f.Grid.NumElements(top)
		for _, q := range f.Neighbors() {
			other := results[q].Fragment
			require.NotNil(t, other)
			for k := mesh.Vertex; k <= top; k++ {
				for lvl := 0; lvl < f.NumLevels(); lvl++ {
					assert.Len(t, other.Interface(k, r, lvl), len(f.Interface(k, q, lvl)))
				}
			}
		}
	}
	assert.Equal(t, mg.NumElements(top), total)
}

func TestRun_Tri(t *testing.T) {
	mg, err := mesh.NewStructuredTri(4, 4, 2)
	require.NoError(t, err)

	results, err := runPass(t, config.Default(), mg, partitions.FlatHierarchy(3), 3, nil)
	require.NoError(t, err)
	checkResults(t, mg, results)
	assert.Equal(t, mesh.StateValid, mg.State())
	require.NotNil(t, results[0].Assignment)
	assert.Nil(t, results[1].Assignment)
	assert.Equal(t, []int{0, 1, 2}, results[0].Layouts.Ranks())
	assert.NoError(t, results[0].Layouts.Verify(mg))
}

func TestRun_Compressed(t *testing.T) {
	mg, err := mesh.NewStructuredHex(4, 4, 2, 1)
	require.NoError(t, err)
	cfg := config.Default()
	cfg.Compression = true

	results, err := runPass(t, cfg, mg, partitions.FlatHierarchy(2), 2, nil)
	require.NoError(t, err)
	checkResults(t, mg, results)
	assert.Positive(t, results[1].StreamBytes)
}

func TestRun_IdleRanks(t *testing.T) {
	mg, err := mesh.NewStructuredTri(2, 2, 1)
	require.NoError(t, err)

	results, err := runPass(t, config.Default(), mg, partitions.FlatHierarchy(2), 4, nil)
	require.NoError(t, err)
	checkResults(t, mg, results)
	assert.Nil(t, results[2].Fragment)
	assert.Nil(t, results[3].Fragment)
	assert.Zero(t, results[3].StreamBytes)
}

func TestRun_ParallelHierarchy(t *testing.T) {
	mg, err := mesh.NewStructuredTri(4, 4, 2)
	require.NoError(t, err)
	ph, err := partitions.NewProcessHierarchy([]config.HierarchyLevel{
		{GridLevel: 0, NumProcs: 2},
		{GridLevel: 1, NumProcs: 4},
	})
	require.NoError(t, err)
	cfg := config.Default()
	cfg.SerialThreshold = 20

	results, err := runPass(t, cfg, mg, ph, 4, nil)
	require.NoError(t, err)
	checkResults(t, mg, results)
	assert.Len(t, results[0].Assignment.Stats, 2)
}

type failingStream struct {
	comm.Communicator
	to int
}

var errLinkDown = errors.New("link down")

func (f failingStream) Send(ctx context.Context, to int, tag comm.Tag, payload []byte) error {
	if tag == TagStream && to == f.to {
		return errLinkDown
	}
	return f.Communicator.Send(ctx, to, tag, payload)
}

func TestRun_FailureAbortsPass(t *testing.T) {
	mg, err := mesh.NewStructuredTri(4, 4, 1)
	require.NoError(t, err)

	_, err = runPass(t, config.Default(), mg, partitions.FlatHierarchy(3), 3, func(c comm.Communicator) comm.Communicator {
		if c.Rank() == 0 {
			return failingStream{Communicator: c, to: 2}
		}
		return c
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errLinkDown)
	assert.Equal(t, mesh.StateInvalid, mg.State())

	_, err = runPass(t, config.Default(), mg, partitions.FlatHierarchy(3), 3, nil)
	assert.ErrorIs(t, err, mesh.ErrInvalidMesh)
}

func TestNew_Unavailable(t *testing.T) {
	cfg := config.Default()
	cfg.Trials = 0
	_, err := New(cfg, quiet())
	assert.Error(t, err)
}

// eightTriangleFragments returns the two fragments of the 2x2 triangle grid
// split by quad column.
func eightTriangleFragments(t *testing.T) []*serialize.Fragment {
	t.Helper()
	mg, err := mesh.NewStructuredTri(2, 2, 1)
	require.NoError(t, err)
	a := &partitions.Assignment{Kind: mesh.Face, Ranks: []int{0, 0, 0, 0, 1, 1, 1, 1}}
	ls, err := layout.Build(mg, a, 0)
	require.NoError(t, err)
	frags := make([]*serialize.Fragment, 2)
	for r := range frags {
		buf, err := serialize.NewEncoder(mg).Encode(ls[r])
		require.NoError(t, err)
		frags[r], err = serialize.Decode(buf)
		require.NoError(t, err)
	}
	return frags
}

func runHandshake(t *testing.T, frags []*serialize.Fragment) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	w := comm.NewWorld(len(frags), 0)
	err := w.Run(ctx, func(ctx context.Context, c comm.Communicator) error {
		return handshake(ctx, c, frags[c.Rank()])
	})
	require.NotErrorIs(t, err, context.DeadlineExceeded, "handshake must not wait on a silent peer")
	return err
}

func TestHandshake_OneSidedLink(t *testing.T) {
	frags := append(eightTriangleFragments(t), nil)
	require.NoError(t, runHandshake(t, frags))

	// rank 1 forgets every link to rank 0 while rank 0 still lists it
	frags = eightTriangleFragments(t)
	for k := range frags[1].Layouts {
		for _, m := range frags[1].Layouts[k].Maps {
			delete(m, 0)
		}
	}
	require.Empty(t, frags[1].Neighbors())
	assert.ErrorIs(t, runHandshake(t, frags), serialize.ErrInterfaceMismatch)

	// rank 1 received nothing at all
	frags = eightTriangleFragments(t)
	frags[1] = nil
	assert.ErrorIs(t, runHandshake(t, frags), serialize.ErrInterfaceMismatch)
}
