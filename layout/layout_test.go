package layout

import (
	"context"
	"io"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/DGDist/config"
	"github.com/notargets/DGDist/mesh"
	"github.com/notargets/DGDist/partitions"
)

func eightTriangles(t *testing.T) (*mesh.MultiGrid, *partitions.Assignment) {
	t.Helper()
	mg, err := mesh.NewStructuredTri(2, 2, 1)
	require.NoError(t, err)
	return mg, &partitions.Assignment{Kind: mesh.Face, Ranks: []int{0, 0, 0, 0, 1, 1, 1, 1}}
}

func partitioned(t *testing.T, mg *mesh.MultiGrid, procs int) *partitions.Assignment {
	t.Helper()
	e, err := partitions.NewEngine(config.Default(), partitions.WithLogger(log.New(io.Discard)))
	require.NoError(t, err)
	a, err := e.PartitionLocal(context.Background(), mg, partitions.FlatHierarchy(procs))
	require.NoError(t, err)
	return a
}

func TestInterfaceEntry_Pack(t *testing.T) {
	e := InterfaceEntry{LocalID: 5, Type: EntryMaster}
	assert.Equal(t, uint32(5<<4|1), e.Pack())
	assert.Equal(t, e, Unpack(e.Pack()))

	big := InterfaceEntry{LocalID: MaxLocalID, Type: EntryNeighbor}
	assert.Equal(t, big, Unpack(big.Pack()))
	assert.Equal(t, "neighbor", big.Type.String())
}

func TestBuild_EightTriangles(t *testing.T) {
	mg, a := eightTriangles(t)
	ls, err := Build(mg, a, 0)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1}, ls.Ranks())
	require.NoError(t, ls.Verify(mg))

	l0, l1 := ls[0], ls[1]
	assert.Equal(t, []int{0, 1, 2, 3}, l0.Kinds[mesh.Face].Nodes)
	assert.Equal(t, []int{4, 5, 6, 7}, l1.Kinds[mesh.Face].Nodes)
	assert.Len(t, l0.Kinds[mesh.Edge].Nodes, 9)
	assert.Len(t, l1.Kinds[mesh.Edge].Nodes, 9)
	assert.Len(t, l0.Kinds[mesh.Vertex].Nodes, 6)

	faces := l0.Kinds[mesh.Face].Interface(1, 0)
	require.Len(t, faces, 2)
	assert.Len(t, l1.Kinds[mesh.Face].Interface(0, 0), 2)
	for _, e := range faces {
		assert.Equal(t, EntryNeighbor, e.Type)
	}
	// the crossing triangles of the lower row are 1 and 3
	assert.ElementsMatch(t, []int{1, 3}, faces.LocalIDs())

	assert.Len(t, l0.Kinds[mesh.Edge].Interface(1, 0), 2)
	verts := l0.Kinds[mesh.Vertex].Interface(1, 0)
	require.Len(t, verts, 3)
	for i, e := range verts {
		assert.Equal(t, EntryMaster, e.Type)
		assert.Equal(t, EntrySlave, l1.Kinds[mesh.Vertex].Interface(0, 0)[i].Type)
	}
	assert.Equal(t, []int{1}, l0.Neighbors())
}

func TestBuild_CanonicalOrder(t *testing.T) {
	mg, a := eightTriangles(t)
	ls, err := Build(mg, a, 0)
	require.NoError(t, err)

	for _, kind := range []mesh.ElementKind{mesh.Vertex, mesh.Edge} {
		it := ls[0].Kinds[kind].Interface(1, 0)
		nodes := ls[0].Kinds[kind].Nodes
		for i := 1; i < len(it); i++ {
			prev := mg.Element(kind, nodes[it[i-1].LocalID]).ID
			cur := mg.Element(kind, nodes[it[i].LocalID]).ID
			assert.Less(t, prev, cur, "%s interface must ascend in global id", kind)
		}
	}
}

func TestBuild_HexSymmetry(t *testing.T) {
	mg, err := mesh.NewStructuredHex(4, 4, 2, 2)
	require.NoError(t, err)
	a := partitioned(t, mg, 3)

	ls, err := Build(mg, a, 0)
	require.NoError(t, err)
	require.NoError(t, ls.Verify(mg))

	for _, p := range ls.Ranks() {
		for k := mesh.ElementKind(0); k < mesh.NumKinds; k++ {
			for lvl := 0; lvl < mg.NumLevels(); lvl++ {
				for q, it := range ls[p].Kinds[k].InterfaceMap(lvl) {
					assert.Len(t, ls[q].Kinds[k].Interface(p, lvl), len(it), "%s level %d %d<->%d", k, lvl, p, q)
				}
			}
		}
	}
	for _, l := range ls {
		nodes := l.Kinds[mesh.Volume].Nodes
		for i := 1; i < len(nodes); i++ {
			assert.LessOrEqual(t, mg.Element(mesh.Volume, nodes[i-1]).Level, mg.Element(mesh.Volume, nodes[i]).Level)
		}
	}
}

func TestVerify_DetectsAsymmetry(t *testing.T) {
	mg, a := eightTriangles(t)
	ls, err := Build(mg, a, 0)
	require.NoError(t, err)

	m := ls[0].Kinds[mesh.Edge].Maps[0]
	m[1] = m[1][:1]
	assert.ErrorIs(t, ls.Verify(mg), ErrAsymmetric)

	ls, err = Build(mg, a, 0)
	require.NoError(t, err)
	vm := ls[1].Kinds[mesh.Vertex].Maps[0]
	vm[0][0], vm[0][1] = vm[0][1], vm[0][0]
	assert.ErrorIs(t, ls.Verify(mg), ErrAsymmetric)

	ls, err = Build(mg, a, 0)
	require.NoError(t, err)
	ls[0].Kinds[mesh.Face].Maps[0][1][0].LocalID = 99
	assert.ErrorIs(t, ls.Verify(mg), ErrBadEntry)
}

func TestBuild_RejectsIncompleteAssignment(t *testing.T) {
	mg, a := eightTriangles(t)
	a.Ranks[3] = -1
	_, err := Build(mg, a, 0)
	assert.ErrorIs(t, err, partitions.ErrIncomplete)
}

// exchanging global ids through the plans must deliver the matching entity
// for shared entries and a facet neighbour for halo entries.
func TestExchangePlan_PositionalMatch(t *testing.T) {
	mg, err := mesh.NewStructuredTri(4, 4, 1)
	require.NoError(t, err)
	ls, err := Build(mg, partitioned(t, mg, 3), 0)
	require.NoError(t, err)

	for k := mesh.Vertex; k <= mesh.Face; k++ {
		plans := make(map[int]*ExchangePlan)
		values := make(map[int][]float64)
		for _, r := range ls.Ranks() {
			nl := &ls[r].Kinds[k]
			ep, err := NewExchangePlan(r, len(nl.Nodes), nl.InterfaceMap(0))
			require.NoError(t, err)
			require.NoError(t, ep.Verify())
			plans[r] = ep
			values[r] = make([]float64, ep.NumLocal+ep.NumHalo)
			for i, e := range nl.Nodes {
				values[r][i] = float64(e)
			}
		}
		for _, p := range ls.Ranks() {
			for q := range plans[p].Pick {
				buf := plans[p].Gather(values[p], q)
				recv := append([]float64(nil), values[q]...)
				require.NoError(t, plans[q].Scatter(recv, buf, p))

				for i, slot := range plans[q].Place[p] {
					got := int(recv[slot])
					if slot < plans[q].NumLocal {
						assert.Equal(t, ls[q].Kinds[k].Nodes[slot], got, "%s shared entry %d", k, i)
					} else {
						mine := ls[q].Kinds[k].Nodes[plans[q].Pick[p][i]]
						assert.True(t, adjacent(mg, k, mine, got), "%s halo %d: %d next to %d", k, i, mine, got)
					}
				}
			}
		}
	}
}
