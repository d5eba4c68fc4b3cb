package gen

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeleteFromSliceUnordered(t *testing.T) {
	a := []int{1, 2, 3, 4}
	a = DeleteFromSliceUnordered(a, 1)
	require.ElementsMatch(t, []int{1, 3, 4}, a)
	a = DeleteFromSliceUnordered(a, len(a)-1)
	require.Len(t, a, 2)
}

func TestDrainChannelIntoSlice(t *testing.T) {
	ch := make(chan int, 8)
	ch <- 1
	ch <- 2
	ch <- 3
	require.Equal(t, []int{1, 2, 3}, DrainChannelIntoSlice(ch))
	require.Empty(t, DrainChannelIntoSlice(ch))
}
