package partitions

import (
	"math"

	"github.com/charmbracelet/log"

	"github.com/notargets/DGDist/mesh"
)

// WeightProvider supplies the computational cost of an element and the
// communication cost of a connection between two elements. Both must be
// finite and non-negative.
type WeightProvider interface {
	ElementCost(e *mesh.Element) float64
	ConnectionCost(a, b *mesh.Element) float64
}

// UniformWeights weighs every element and connection with 1.
type UniformWeights struct{}

func (UniformWeights) ElementCost(*mesh.Element) float64       { return 1 }
func (UniformWeights) ConnectionCost(_, _ *mesh.Element) float64 { return 1 }

// WeightFuncs adapts plain functions; a nil member weighs 1.
type WeightFuncs struct {
	Element    func(e *mesh.Element) float64
	Connection func(a, b *mesh.Element) float64
}

func (w WeightFuncs) ElementCost(e *mesh.Element) float64 {
	if w.Element == nil {
		return 1
	}
	return w.Element(e)
}

func (w WeightFuncs) ConnectionCost(a, b *mesh.Element) float64 {
	if w.Connection == nil {
		return 1
	}
	return w.Connection(a, b)
}

// checkedWeight replaces a negative or non-finite provider weight with 1.
func checkedWeight(w float64, logger *log.Logger, what string, id int64) float64 {
	if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
		logger.Warn("weight provider returned an invalid weight, using 1",
			"what", what, "id", id, "weight", w)
		return 1
	}
	return w
}
