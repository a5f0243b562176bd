package partitions

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/notargets/DGDist/config"
)

// ProcessHierarchy assigns process subsets to grid levels. Entry h covers
// grid levels from its GridLevel up to the next entry's; the elements on
// its GridLevel are partitioned over its processes and finer levels follow
// their parents. Levels below the first entry stay on the source process.
type ProcessHierarchy struct {
	levels []config.HierarchyLevel
}

// NewProcessHierarchy validates levels: grid levels must increase, every
// entry needs at least one process, and a process map must list NumProcs
// distinct non-negative ranks.
func NewProcessHierarchy(levels []config.HierarchyLevel) (ProcessHierarchy, error) {
	if len(levels) == 0 {
		return ProcessHierarchy{}, errors.Wrap(ErrBadHierarchy, "no levels")
	}
	for i, h := range levels {
		if h.GridLevel < 0 || (i > 0 && h.GridLevel <= levels[i-1].GridLevel) {
			return ProcessHierarchy{}, errors.Wrapf(ErrBadHierarchy, "entry %d: grid level %d out of order", i, h.GridLevel)
		}
		if h.NumProcs < 1 {
			return ProcessHierarchy{}, errors.Wrapf(ErrBadHierarchy, "entry %d: %d processes", i, h.NumProcs)
		}
		if h.ProcessMap == nil {
			continue
		}
		if len(h.ProcessMap) != h.NumProcs {
			return ProcessHierarchy{}, errors.Wrapf(ErrBadHierarchy, "entry %d: process map has %d ranks for %d processes",
				i, len(h.ProcessMap), h.NumProcs)
		}
		seen := make(map[int]bool, h.NumProcs)
		for _, r := range h.ProcessMap {
			if r < 0 || seen[r] {
				return ProcessHierarchy{}, errors.Wrapf(ErrBadHierarchy, "entry %d: bad or repeated rank %d", i, r)
			}
			seen[r] = true
		}
	}
	return ProcessHierarchy{levels: append([]config.HierarchyLevel(nil), levels...)}, nil
}

// FlatHierarchy partitions grid level 0 over ranks 0..numProcs-1.
func FlatHierarchy(numProcs int) ProcessHierarchy {
	return ProcessHierarchy{levels: []config.HierarchyLevel{{GridLevel: 0, NumProcs: numProcs}}}
}

func (ph ProcessHierarchy) NumLevels() int { return len(ph.levels) }

func (ph ProcessHierarchy) Level(h int) config.HierarchyLevel { return ph.levels[h] }

// Ranks returns the physical rank of every logical part of entry h.
func (ph ProcessHierarchy) Ranks(h int) []int {
	lv := ph.levels[h]
	if lv.ProcessMap != nil {
		return append([]int(nil), lv.ProcessMap...)
	}
	r := make([]int, lv.NumProcs)
	for i := range r {
		r[i] = i
	}
	return r
}

// Targets returns every rank named by the hierarchy, ascending.
func (ph ProcessHierarchy) Targets() []int {
	seen := make(map[int]bool)
	var out []int
	for h := range ph.levels {
		for _, r := range ph.Ranks(h) {
			if !seen[r] {
				seen[r] = true
				out = append(out, r)
			}
		}
	}
	sort.Ints(out)
	return out
}

func (ph ProcessHierarchy) MaxRank() int {
	t := ph.Targets()
	if len(t) == 0 {
		return -1
	}
	return t[len(t)-1]
}

func contains(xs []int, x int) bool {
	for _, y := range xs {
		if y == x {
			return true
		}
	}
	return false
}
