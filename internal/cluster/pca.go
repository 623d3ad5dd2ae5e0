package cluster

import (
	"math"
	"math/rand/v2"
)

const powerIterations = 100

// reduce projects vectors onto their top dims principal components and
// L2-normalizes each projected row.
func reduce(vectors [][]float64, dims int, rng *rand.Rand) [][]float64 {
	n := len(vectors)
	d := len(vectors[0])
	dims = min(dims, d, max(n-2, 1))

	centered := center(vectors)
	components := make([][]float64, 0, dims)
	for c := 0; c < dims; c++ {
		v := principal(centered, components, rng)
		if v == nil {
			break
		}
		components = append(components, v)
	}
	if len(components) == 0 {
		// No variance left; fall back to the centered data.
		return normalizeRows(centered)
	}

	out := make([][]float64, n)
	for i, row := range centered {
		proj := make([]float64, len(components))
		for c, comp := range components {
			proj[c] = dot(row, comp)
		}
		out[i] = proj
	}
	return normalizeRows(out)
}

// principal finds the dominant eigenvector of XᵀX orthogonal to prev by
// power iteration. It returns nil when no variance remains.
func principal(x [][]float64, prev [][]float64, rng *rand.Rand) []float64 {
	d := len(x[0])
	v := make([]float64, d)
	for i := range v {
		v[i] = rng.Float64() - 0.5
	}
	orthogonalize(v, prev)
	if norm(v) == 0 {
		return nil
	}
	scale(v, 1/norm(v))

	xv := make([]float64, len(x))
	for iter := 0; iter < powerIterations; iter++ {
		for i, row := range x {
			xv[i] = dot(row, v)
		}
		next := make([]float64, d)
		for i, row := range x {
			for j, val := range row {
				next[j] += val * xv[i]
			}
		}
		orthogonalize(next, prev)
		nn := norm(next)
		if nn < 1e-12 {
			return nil
		}
		scale(next, 1/nn)
		delta := 0.0
		for j := range next {
			delta += math.Abs(next[j] - v[j])
		}
		v = next
		if delta < 1e-10 {
			break
		}
	}
	return v
}

func center(vectors [][]float64) [][]float64 {
	n := len(vectors)
	d := len(vectors[0])
	mean := make([]float64, d)
	for _, v := range vectors {
		for j, x := range v {
			mean[j] += x
		}
	}
	for j := range mean {
		mean[j] /= float64(n)
	}
	out := make([][]float64, n)
	for i, v := range vectors {
		row := make([]float64, d)
		for j, x := range v {
			row[j] = x - mean[j]
		}
		out[i] = row
	}
	return out
}

func orthogonalize(v []float64, basis [][]float64) {
	for _, b := range basis {
		p := dot(v, b)
		for j := range v {
			v[j] -= p * b[j]
		}
	}
}

func normalizeRows(rows [][]float64) [][]float64 {
	for _, r := range rows {
		if n := norm(r); n > 0 {
			scale(r, 1/n)
		}
	}
	return rows
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func norm(v []float64) float64 { return math.Sqrt(dot(v, v)) }

func scale(v []float64, f float64) {
	for i := range v {
		v[i] *= f
	}
}
