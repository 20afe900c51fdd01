package stats

import (
	"gonum.org/v1/gonum/mat"
)

// zeroRange replaces a zero-width axis range in scaling denominators
const zeroRange = 1e-10

func denominators(low, high mat.Vector) *mat.VecDense {
	den := mat.NewVecDense(low.Len(), nil)
	den.SubVec(high, low)
	for i := 0; i < den.Len(); i++ {
		if den.AtVec(i) == 0 {
			den.SetVec(i, zeroRange)
		}
	}
	return den
}

// ReverseMaxAbsScaling maps values normalized to [-1, 1] back into [low, high]
// per axis: (v + 1) * (high - low) / 2 + low.
func ReverseMaxAbsScaling(v, low, high mat.Vector) *mat.VecDense {
	den := denominators(low, high)
	out := mat.NewVecDense(v.Len(), nil)
	for i := 0; i < v.Len(); i++ {
		out.SetVec(i, (v.AtVec(i)+1)*den.AtVec(i)/2+low.AtVec(i))
	}
	return out
}

// MaxAbsScaling normalizes values in [low, high] to [-1, 1]
func MaxAbsScaling(v, low, high mat.Vector) *mat.VecDense {
	den := denominators(low, high)
	out := mat.NewVecDense(v.Len(), nil)
	for i := 0; i < v.Len(); i++ {
		out.SetVec(i, 2*(v.AtVec(i)-low.AtVec(i))/den.AtVec(i)-1)
	}
	return out
}
