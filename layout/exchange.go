package layout

import (
	"fmt"
)

// ExchangePlan holds pick and place indices for one kind and level of a
// process, derived from its interfaces. Values at Pick[q] are sent to q in
// interface order; values received from q are written to Place[q]. Shared
// entities place onto their own local slot; facet neighbours place into
// halo slots numbered after the local nodes.
type ExchangePlan struct {
	Rank     int
	NumLocal int
	NumHalo  int

	Pick  map[int][]int // neighbour rank -> local ids to send
	Place map[int][]int // neighbour rank -> slots to fill
}

// NewExchangePlan builds the plan of rank for one level's interfaces.
func NewExchangePlan(rank, numLocal int, m InterfaceMap) (*ExchangePlan, error) {
	ep := &ExchangePlan{
		Rank:     rank,
		NumLocal: numLocal,
		Pick:     make(map[int][]int),
		Place:    make(map[int][]int),
	}
	for _, q := range m.Ranks() {
		if q == rank {
			return nil, fmt.Errorf("rank %d has an interface with itself", rank)
		}
		for _, e := range m[q] {
			id := int(e.LocalID)
			if id < 0 || id >= numLocal {
				return nil, fmt.Errorf("%w: local id %d of %d (rank %d -> %d)", ErrBadEntry, id, numLocal, rank, q)
			}
			ep.Pick[q] = append(ep.Pick[q], id)
			slot := id
			if e.Type == EntryNeighbor {
				slot = numLocal + ep.NumHalo
				ep.NumHalo++
			}
			ep.Place[q] = append(ep.Place[q], slot)
		}
	}
	return ep, nil
}

// Gather collects the values sent to rank q.
func (ep *ExchangePlan) Gather(values []float64, q int) []float64 {
	idx := ep.Pick[q]
	buf := make([]float64, len(idx))
	for i, id := range idx {
		buf[i] = values[id]
	}
	return buf
}

// Scatter writes the values received from q into dst, which must have
// NumLocal+NumHalo slots.
func (ep *ExchangePlan) Scatter(dst, buf []float64, q int) error {
	idx := ep.Place[q]
	if len(buf) != len(idx) {
		return fmt.Errorf("%w: %d values from rank %d, expected %d", ErrAsymmetric, len(buf), q, len(idx))
	}
	for i, slot := range idx {
		dst[slot] = buf[i]
	}
	return nil
}

// Verify checks index bounds and that every pick list has a place list of
// the same length.
func (ep *ExchangePlan) Verify() error {
	total := ep.NumLocal + ep.NumHalo
	for q, idx := range ep.Pick {
		if len(ep.Place[q]) != len(idx) {
			return fmt.Errorf("length mismatch: pick[%d]=%d, place[%d]=%d", q, len(idx), q, len(ep.Place[q]))
		}
		for _, id := range idx {
			if id < 0 || id >= ep.NumLocal {
				return fmt.Errorf("invalid pick index %d for rank %d (max %d)", id, ep.Rank, ep.NumLocal-1)
			}
		}
		for _, slot := range ep.Place[q] {
			if slot < 0 || slot >= total {
				return fmt.Errorf("invalid place index %d for rank %d (max %d)", slot, ep.Rank, total-1)
			}
		}
	}
	return nil
}
