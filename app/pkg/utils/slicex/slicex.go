package slicex

import "golang.org/x/exp/constraints"

type Number interface {
	constraints.Integer | constraints.Float
}

func Sum[T Number](arr []T) T {
	var sum T
	for _, value := range arr {
		sum += value
	}
	return sum
}

// Min and Max return the zero value on an empty slice.
func Min[T constraints.Ordered](arr []T) T {
	var res T
	for idx, value := range arr {
		if idx == 0 || value < res {
			res = value
		}
	}
	return res
}

func Max[T constraints.Ordered](arr []T) T {
	var res T
	for idx, value := range arr {
		if idx == 0 || value > res {
			res = value
		}
	}
	return res
}
