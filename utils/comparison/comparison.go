package comparison

import "golang.org/x/exp/constraints"

// Min returns the smaller of a and b.
func Min[V constraints.Ordered](a, b V) V {
	if a < b {
		return a
	} else {
		return b
	}
}

// Max returns the larger of a and b.
func Max[V constraints.Ordered](a, b V) V {
	if a > b {
		return a
	} else {
		return b
	}
}

// Compare returns -1, 0 or 1 depending on the order of a and b.
func Compare[V constraints.Ordered](a, b V) int {
	if a < b {
		return -1
	} else if b < a {
		return 1
	}
	return 0
}
