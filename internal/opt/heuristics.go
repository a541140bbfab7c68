package opt

// improve2Opt applies 2-opt moves to tour using the distance matrix. The
// first element is always fixed; the last is fixed when fixedTail is set.
func improve2Opt(dist [][]float64, tour []int, fixedTail bool, iterations int) []int {
	if iterations <= 0 {
		iterations = 1
	}
	best := append([]int(nil), tour...)
	bestDist := tourDistance(dist, best)
	n := len(tour)
	last := n - 1
	if fixedTail {
		last = n - 2
	}
	for it := 0; it < iterations; it++ {
		improved := false
		for i := 1; i < last; i++ {
			for k := i + 1; k <= last; k++ {
				candidate := twoOptSwap(best, i, k)
				d := tourDistance(dist, candidate)
				if d+1e-9 < bestDist {
					best = candidate
					bestDist = d
					improved = true
				}
			}
		}
		if !improved {
			break
		}
	}
	return best
}

func twoOptSwap(ord []int, i, k int) []int {
	out := make([]int, len(ord))
	copy(out, ord[:i])
	// reverse i..k
	pos := i
	for j := k; j >= i; j-- {
		out[pos] = ord[j]
		pos++
	}
	copy(out[pos:], ord[k+1:])
	return out
}

func tourDistance(dist [][]float64, tour []int) float64 {
	total := 0.0
	for i := 0; i < len(tour)-1; i++ {
		total += dist[tour[i]][tour[i+1]]
	}
	return total
}
