package partitions

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/notargets/DGDist/mesh"
)

// Mode tells how a level was partitioned.
type Mode uint8

const (
	ModeSerial Mode = iota + 1
	ModeParallel
)

func (m Mode) String() string {
	switch m {
	case ModeSerial:
		return "serial"
	case ModeParallel:
		return "parallel"
	}
	return fmt.Sprintf("Mode(%d)", uint8(m))
}

// Assignment maps every element of the partitioned kind to its target rank.
type Assignment struct {
	Kind  mesh.ElementKind
	Ranks []int // target rank per element index; ElemToRank in layout terms

	// Stats holds one entry per partitioned hierarchy level.
	Stats []PartitionStats
}

// Rank returns the target of element e, or -1 when e is out of range.
func (a *Assignment) Rank(e int) int {
	if e < 0 || e >= len(a.Ranks) {
		return -1
	}
	return a.Ranks[e]
}

// Elements returns the element indices assigned to rank, ascending.
func (a *Assignment) Elements(rank int) []int {
	var out []int
	for e, r := range a.Ranks {
		if r == rank {
			out = append(out, e)
		}
	}
	return out
}

// Targets returns the ranks receiving at least one element, ascending.
func (a *Assignment) Targets() []int {
	seen := make(map[int]bool)
	var out []int
	for _, r := range a.Ranks {
		if r >= 0 && !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	sort.Ints(out)
	return out
}

// Validate checks that every element of the kind has exactly one target.
func (a *Assignment) Validate(mg *mesh.MultiGrid) error {
	if n := mg.NumElements(a.Kind); len(a.Ranks) != n {
		return errors.Wrapf(ErrIncomplete, "%d assignments for %d %s elements", len(a.Ranks), n, a.Kind)
	}
	for e, r := range a.Ranks {
		if r < 0 {
			return errors.Wrapf(ErrIncomplete, "%s %d (id %d)", a.Kind, e, mg.Element(a.Kind, e).ID)
		}
	}
	return nil
}

// PartitionStats summarizes the load of one partitioned level over its k
// parts. Empty parts count toward the average.
type PartitionStats struct {
	GridLevel int
	NumParts  int
	Mode      Mode

	Loads     []float64
	MinLoad   float64
	MaxLoad   float64
	AvgLoad   float64
	Imbalance float64 // MaxLoad / AvgLoad
	EdgeCut   float64

	BalanceWarning bool
}

// ComputeStats fills the load figures of PartitionStats from per-part loads.
func ComputeStats(loads []float64) PartitionStats {
	st := PartitionStats{NumParts: len(loads), Loads: loads, Imbalance: 1}
	if len(loads) == 0 {
		return st
	}
	st.MinLoad = floats.Min(loads)
	st.MaxLoad = floats.Max(loads)
	st.AvgLoad = stat.Mean(loads, nil)
	if st.AvgLoad > 0 {
		st.Imbalance = st.MaxLoad / st.AvgLoad
	}
	return st
}

func (st PartitionStats) String() string {
	return fmt.Sprintf("level=%d parts=%d mode=%s min=%.1f max=%.1f avg=%.1f imbalance=%.3f cut=%.1f",
		st.GridLevel, st.NumParts, st.Mode, st.MinLoad, st.MaxLoad, st.AvgLoad, st.Imbalance, st.EdgeCut)
}
