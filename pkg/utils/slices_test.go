package utils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLimitPageSliceFunc(t *testing.T) {
	odd := func(i int) bool { return i%2 == 1 }

	testCases := []struct {
		data   []int
		page   int
		limit  int
		filter func(int) bool
		result []int
		total  int
	}{
		{data: []int{1, 2, 3}, result: []int{1}, total: 3},
		{data: []int{1, 2, 3}, page: 1, limit: 10, result: []int{1, 2, 3}, total: 3},
		{data: []int{1, 2, 3}, page: 1, limit: 2, result: []int{1, 2}, total: 3},
		{data: []int{1, 2, 3}, page: 2, limit: 2, result: []int{3}, total: 3},
		{data: []int{1, 2, 3}, page: 3, limit: 2, result: []int{}, total: 3},
		{data: []int{1, 2, 3, 4, 5}, page: 1, limit: 2, filter: odd, result: []int{1, 3}, total: 3},
		{data: []int{1, 2, 3, 4, 5}, page: 2, limit: 2, filter: odd, result: []int{5}, total: 3},
		{data: []int{2, 4}, page: 1, limit: 2, filter: odd, result: []int{}, total: 0},
	}

	for _, tc := range testCases {
		t.Run(fmt.Sprintf("%d_%d_%d_%d", len(tc.data), tc.page, tc.limit, len(tc.result)), func(t *testing.T) {
			data, total := LimitPageSliceFunc(tc.data, tc.page, tc.limit, tc.filter)
			assert.Equal(t, tc.result, data)
			assert.Equal(t, tc.total, total)
		})
	}
}

func TestLimitPageSlice(t *testing.T) {
	ids := []string{"3766c105686749", "cbee9338673946", "0123456789abcd"}
	data, total := LimitPageSlice(ids, 2, 2)
	assert.Equal(t, []string{"0123456789abcd"}, data)
	assert.Equal(t, 3, total)
}
