package athandler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRing_Wrap(t *testing.T) {
	tests := []struct {
		size, i, next, prev int
	}{
		{size: 1, i: 0, next: 0, prev: 0},
		{size: 4, i: 0, next: 1, prev: 3},
		{size: 4, i: 2, next: 3, prev: 1},
		{size: 4, i: 3, next: 0, prev: 2},
		{size: 80, i: 79, next: 0, prev: 78},
	}
	for _, tt := range tests {
		r := ring{size: tt.size}
		require.Equal(t, tt.next, r.next(tt.i), "next(%d) size %d", tt.i, tt.size)
		require.Equal(t, tt.prev, r.prev(tt.i), "prev(%d) size %d", tt.i, tt.size)
	}
}

func TestRing_StaysInRange(t *testing.T) {
	r := ring{size: 5}
	i, j := 0, 0
	for k := 0; k < 3*r.size; k++ {
		i, j = r.next(i), r.prev(j)
		require.GreaterOrEqual(t, i, 0)
		require.Less(t, i, r.size)
		require.GreaterOrEqual(t, j, 0)
		require.Less(t, j, r.size)
	}
	require.Equal(t, 0, i)
	require.Equal(t, 0, j)
}
