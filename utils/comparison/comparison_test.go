package comparison

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComparison(t *testing.T) {
	assert.Equal(t, 1, Min(1, 2))
	assert.Equal(t, int64(5), Max(int64(5), int64(-3)))
	assert.Equal(t, -1, Compare("a", "b"))
	assert.Equal(t, 0, Compare(3, 3))
	assert.Equal(t, 1, Compare(uint64(9), uint64(2)))
}
