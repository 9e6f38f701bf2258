package slicex

import (
	"cmp"
	"sort"
)

// UpperBound returns the number of leading elements of the ascending s that are not greater than e,
// which is also the index of the first element greater than e.
func UpperBound[T cmp.Ordered](s []T, e T) int {
	return sort.Search(len(s), func(i int) bool { return s[i] > e })
}
