package cluster

import (
	"context"
	"math"
	"math/rand/v2"
)

const (
	emMaxIter   = 100
	emTolerance = 1e-6
	varFloor    = 1e-6
)

// mixture is a diagonal-covariance Gaussian mixture.
type mixture struct {
	weights   []float64
	means     [][]float64
	variances [][]float64
}

// gmmPartition reduces items, picks the component count with the lowest
// BIC and returns memberships as positions into items.
func gmmPartition(ctx context.Context, items []Item, opts Options) ([][]int, error) {
	vectors := make([][]float64, len(items))
	for i, it := range items {
		vectors[i] = toFloat64(it.Vector)
	}

	x := reduce(vectors, opts.ReductionDim, rand.New(rand.NewPCG(opts.Seed, 0)))
	n := len(x)
	maxK := min(opts.MaxClusters, n-1)

	var best *mixture
	bestBIC := math.Inf(1)
	for k := 1; k <= maxK; k++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m, ll := fit(x, k, rand.New(rand.NewPCG(opts.Seed, uint64(k))))
		bic := -2*ll + float64(m.params())*math.Log(float64(n))
		if bic < bestBIC {
			best, bestBIC = m, bic
		}
	}
	return assign(best.posteriors(x), opts), nil
}

func (m *mixture) params() int {
	k := len(m.weights)
	d := len(m.means[0])
	return 2*k*d + k - 1
}

// fit runs EM from a k-means++ start and returns the model with its final
// log-likelihood.
func fit(x [][]float64, k int, rng *rand.Rand) (*mixture, float64) {
	n, d := len(x), len(x[0])
	global := columnVariance(x)

	m := &mixture{
		weights:   make([]float64, k),
		means:     seedMeans(x, k, rng),
		variances: make([][]float64, k),
	}
	for c := 0; c < k; c++ {
		m.weights[c] = 1 / float64(k)
		m.variances[c] = append([]float64(nil), global...)
	}

	resp := make([][]float64, n)
	for i := range resp {
		resp[i] = make([]float64, k)
	}
	prev := math.Inf(-1)
	ll := prev
	for iter := 0; iter < emMaxIter; iter++ {
		ll = m.expect(x, resp)
		if math.Abs(ll-prev) < emTolerance*math.Max(1, math.Abs(ll)) {
			break
		}
		prev = ll

		for c := 0; c < k; c++ {
			nk := 0.0
			for i := 0; i < n; i++ {
				nk += resp[i][c]
			}
			if nk < 1e-10 {
				// Collapsed component: keep its last parameters with a
				// negligible weight.
				m.weights[c] = 1e-10
				continue
			}
			m.weights[c] = nk / float64(n)
			mean := make([]float64, d)
			for i := 0; i < n; i++ {
				for j := 0; j < d; j++ {
					mean[j] += resp[i][c] * x[i][j]
				}
			}
			for j := range mean {
				mean[j] /= nk
			}
			vars := make([]float64, d)
			for i := 0; i < n; i++ {
				for j := 0; j < d; j++ {
					diff := x[i][j] - mean[j]
					vars[j] += resp[i][c] * diff * diff
				}
			}
			for j := range vars {
				vars[j] = vars[j]/nk + varFloor
			}
			m.means[c], m.variances[c] = mean, vars
		}
	}
	return m, ll
}

// expect fills resp with posteriors and returns the log-likelihood.
func (m *mixture) expect(x [][]float64, resp [][]float64) float64 {
	total := 0.0
	for i, row := range x {
		lse := m.logJoint(row, resp[i])
		for c := range resp[i] {
			resp[i][c] = math.Exp(resp[i][c] - lse)
		}
		total += lse
	}
	return total
}

// logJoint writes log(w_c * N(row | c)) into out and returns their
// log-sum-exp.
func (m *mixture) logJoint(row []float64, out []float64) float64 {
	maxv := math.Inf(-1)
	for c := range m.weights {
		lp := math.Log(m.weights[c])
		for j, v := range row {
			variance := m.variances[c][j]
			diff := v - m.means[c][j]
			lp -= 0.5 * (math.Log(2*math.Pi*variance) + diff*diff/variance)
		}
		out[c] = lp
		if lp > maxv {
			maxv = lp
		}
	}
	sum := 0.0
	for _, lp := range out {
		sum += math.Exp(lp - maxv)
	}
	return maxv + math.Log(sum)
}

func (m *mixture) posteriors(x [][]float64) [][]float64 {
	out := make([][]float64, len(x))
	for i := range out {
		out[i] = make([]float64, len(m.weights))
	}
	m.expect(x, out)
	return out
}

// seedMeans picks k initial means with k-means++.
func seedMeans(x [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(x)
	means := make([][]float64, 0, k)
	means = append(means, append([]float64(nil), x[rng.IntN(n)]...))
	dist := make([]float64, n)
	for len(means) < k {
		sum := 0.0
		for i, row := range x {
			best := math.Inf(1)
			for _, mu := range means {
				best = math.Min(best, sqDist(row, mu))
			}
			dist[i] = best
			sum += best
		}
		pick := 0
		if sum > 0 {
			r := rng.Float64() * sum
			for i, dv := range dist {
				r -= dv
				if r <= 0 {
					pick = i
					break
				}
			}
		} else {
			pick = rng.IntN(n)
		}
		means = append(means, append([]float64(nil), x[pick]...))
	}
	return means
}

func columnVariance(x [][]float64) []float64 {
	n, d := len(x), len(x[0])
	mean := make([]float64, d)
	for _, row := range x {
		for j, v := range row {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= float64(n)
	}
	vars := make([]float64, d)
	for _, row := range x {
		for j, v := range row {
			diff := v - mean[j]
			vars[j] += diff * diff
		}
	}
	for j := range vars {
		vars[j] = vars[j]/float64(n) + varFloor
	}
	return vars
}

func sqDist(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		diff := a[i] - b[i]
		s += diff * diff
	}
	return s
}
