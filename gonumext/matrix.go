// Package gonumext collects small matrix utilities missing from gonum/mat.
package gonumext

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// AllFinite reports whether every entry of matrix is neither NaN nor Inf.
func AllFinite(matrix mat.Matrix) bool {
	m, n := matrix.Dims()
	for row := 0; row < m; row++ {
		for col := 0; col < n; col++ {
			v := matrix.At(row, col)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// AllFiniteVec reports whether every entry of v is neither NaN nor Inf.
func AllFiniteVec(v mat.Vector) bool {
	for i := 0; i < v.Len(); i++ {
		x := v.AtVec(i)
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// Symmetrize copies the square matrix a into a SymDense, averaging the
// off-diagonal pairs. Backward Riccati steps drift slightly off symmetry and
// must be folded back before a Cholesky factorization.
func Symmetrize(a mat.Matrix) *mat.SymDense {
	n, _ := a.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		s.SetSym(i, i, a.At(i, i))
		for j := i + 1; j < n; j++ {
			s.SetSym(i, j, 0.5*(a.At(i, j)+a.At(j, i)))
		}
	}
	return s
}

// Trace returns the trace of the square matrix a.
func Trace(a mat.Matrix) float64 {
	n, _ := a.Dims()
	var sum float64
	for i := 0; i < n; i++ {
		sum += a.At(i, i)
	}
	return sum
}
