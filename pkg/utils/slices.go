package utils

// LimitPageSlice returns the page-th window of limit items and the total.
func LimitPageSlice[T any](s []T, page, limit int) ([]T, int) {
	return LimitPageSliceFunc(s, page, limit, nil)
}

// LimitPageSliceFunc pages over the items accepted by filter, a nil filter
// accepts everything. Page and limit below 1 are treated as 1.
func LimitPageSliceFunc[T any](s []T, page, limit int, filter func(T) bool) ([]T, int) {
	page = max(page, 1)
	limit = max(limit, 1)

	total := len(s)
	if filter != nil {
		total = 0
		for _, item := range s {
			if filter(item) {
				total++
			}
		}
	}

	data := make([]T, 0, min(limit, total))
	skip := (page - 1) * limit
	if total == 0 || skip >= total {
		return data, total
	}

	pos := 0
	for _, item := range s {
		if filter != nil && !filter(item) {
			continue
		}
		if pos >= skip {
			data = append(data, item)
			if len(data) == limit {
				break
			}
		}
		pos++
	}
	return data, total
}
