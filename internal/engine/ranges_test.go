package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRangeSetAdd(t *testing.T) {
	t.Run("disjoint spans stay separate", func(t *testing.T) {
		var rs rangeSet
		rs.add(0, 5)
		rs.add(10, 15)
		assert.Equal(t, []span{{0, 5}, {10, 15}}, rs.spans)
	})

	t.Run("overlapping spans coalesce", func(t *testing.T) {
		var rs rangeSet
		rs.add(0, 10)
		rs.add(5, 20)
		rs.add(30, 40)
		assert.Equal(t, []span{{0, 20}, {30, 40}}, rs.spans)
	})

	t.Run("adjacent spans coalesce", func(t *testing.T) {
		var rs rangeSet
		rs.add(0, 10)
		rs.add(10, 20)
		assert.Equal(t, []span{{0, 20}}, rs.spans)
	})

	t.Run("bridging span merges neighbors", func(t *testing.T) {
		var rs rangeSet
		rs.add(0, 5)
		rs.add(10, 15)
		rs.add(3, 12)
		assert.Equal(t, []span{{0, 15}}, rs.spans)
	})

	t.Run("empty span is a no-op", func(t *testing.T) {
		var rs rangeSet
		rs.add(5, 5)
		rs.add(7, 3)
		assert.Empty(t, rs.spans)
	})
}

func TestRangeSetRemove(t *testing.T) {
	t.Run("removing the middle splits", func(t *testing.T) {
		var rs rangeSet
		rs.add(0, 20)
		rs.remove(5, 10)
		assert.Equal(t, []span{{0, 5}, {10, 20}}, rs.spans)
	})

	t.Run("removing an edge trims", func(t *testing.T) {
		var rs rangeSet
		rs.add(0, 20)
		rs.remove(0, 5)
		assert.Equal(t, []span{{5, 20}}, rs.spans)
	})

	t.Run("removing everything empties", func(t *testing.T) {
		var rs rangeSet
		rs.add(3, 9)
		rs.remove(0, 100)
		assert.Empty(t, rs.spans)
	})
}

func TestRangeSetGaps(t *testing.T) {
	t.Run("full coverage has no gaps", func(t *testing.T) {
		var rs rangeSet
		rs.add(0, 50)
		assert.Empty(t, rs.gaps(10, 40))
		assert.True(t, rs.covers(10, 40))
	})

	t.Run("uncovered query is one gap", func(t *testing.T) {
		var rs rangeSet
		assert.Equal(t, []span{{5, 15}}, rs.gaps(5, 15))
	})

	t.Run("partial coverage yields the holes", func(t *testing.T) {
		var rs rangeSet
		rs.add(0, 10)
		rs.add(20, 30)
		assert.Equal(t, []span{{10, 20}, {30, 35}}, rs.gaps(5, 35))
		assert.False(t, rs.covers(5, 35))
	})
}

func TestUnion(t *testing.T) {
	var loaded, loading rangeSet
	loaded.add(0, 20)
	loading.add(25, 30)

	// Only [20,25) and [30,40) remain uncovered by either set.
	assert.Equal(t, []span{{20, 25}, {30, 40}}, union(&loaded, &loading, 0, 40))
}
