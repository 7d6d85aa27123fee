package refiner

import "math"

// SizeDelta returns the percentage by which refined is smaller than
// unrefined, rounded half away from zero. An empty unrefined document gives 0.
func SizeDelta(unrefined, refined int) int {
	if unrefined == 0 {
		return 0
	}
	u, r := float64(unrefined), float64(refined)
	return int(math.Round((u - r) / u * 100))
}
