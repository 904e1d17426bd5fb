package probe

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRational_ValidFraction(t *testing.T) {
	v := parseRational("30000/1001")
	require.NotNil(t, v)
	require.InDelta(t, 29.97, *v, 0.01)
}

func TestParseRational_BareInteger(t *testing.T) {
	v := parseRational("25")
	require.NotNil(t, v)
	require.Equal(t, 25.0, *v)
}

func TestParseRational_ZeroOverZeroIsNil(t *testing.T) {
	require.Nil(t, parseRational("0/0"))
}

func TestParseRational_GarbageIsNil(t *testing.T) {
	require.Nil(t, parseRational("not-a-rate"))
	require.Nil(t, parseRational(""))
}

func TestUniqueAscending_DedupesAndSorts(t *testing.T) {
	got := uniqueAscending([]int{3, 1, 3, 2, 1})
	require.Equal(t, []int{1, 2, 3}, got)
}

func TestUniqueAscending_Empty(t *testing.T) {
	require.Empty(t, uniqueAscending(nil))
}
