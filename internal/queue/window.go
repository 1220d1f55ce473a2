package queue

// AppendBounded appends item and drops the oldest entries so that at most
// limit items remain. A limit <= 0 disables the bound.
// The returned slice never aliases the input.
func AppendBounded[T any](items []T, limit int, item T) []T {
	n := len(items) + 1
	start := 0
	if limit > 0 && n > limit {
		start = n - limit
	}
	out := make([]T, 0, n-start)
	if start < len(items) {
		out = append(out, items[start:]...)
	}
	return append(out, item)
}

// RemoveFirst returns a copy of items without the first element matching fn.
// The second result is false, and items is returned unchanged, when nothing matched.
func RemoveFirst[T any](items []T, fn func(T) bool) ([]T, bool) {
	for i, it := range items {
		if !fn(it) {
			continue
		}
		out := make([]T, 0, len(items)-1)
		out = append(out, items[:i]...)
		return append(out, items[i+1:]...), true
	}
	return items, false
}
