package ring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ringkv/internal/address"
)

func members(n int) []address.Address {
	out := make([]address.Address, n)
	for i := range out {
		out[i] = address.New(int32(i+1), 0)
	}
	return out
}

func TestBuild_SortedByHash(t *testing.T) {
	r := Build(members(10), DefaultSpace)
	require.Equal(t, 10, r.Len())

	for i := 1; i < r.Len(); i++ {
		prev, cur := r.Hash(i-1), r.Hash(i)
		assert.LessOrEqual(t, prev, cur)
		if prev == cur {
			assert.True(t, r.Nodes()[i-1].Less(r.Nodes()[i]), "ties ordered by address")
		}
		assert.Less(t, cur, uint32(DefaultSpace))
	}
}

func TestBuild_CollapsesDuplicates(t *testing.T) {
	m := members(3)
	r := Build(append(m, m[0], m[2]), DefaultSpace)
	assert.Equal(t, 3, r.Len())
}

func TestBuild_ZeroSpace(t *testing.T) {
	r := Build(members(3), 0)
	assert.Equal(t, uint32(DefaultSpace), r.Space())
}

func TestFindReplicas_TooFewNodes(t *testing.T) {
	for n := 0; n < ReplicationFactor; n++ {
		r := Build(members(n), DefaultSpace)
		assert.Nil(t, r.FindReplicas("a"), "n=%d", n)
	}
	var nilRing *Ring
	assert.Nil(t, nilRing.FindReplicas("a"))
}

// expectedPrimary recomputes the placement rule independently.
func expectedPrimary(r *Ring, key string) int {
	pos := r.KeyPosition(key)
	last := r.Len() - 1
	if pos <= r.Hash(0) || pos > r.Hash(last) {
		return 0
	}
	for i := 1; i <= last; i++ {
		if pos <= r.Hash(i) {
			return i
		}
	}
	return 0
}

func TestFindReplicas_Placement(t *testing.T) {
	r := Build(members(5), DefaultSpace)
	nodes := r.Nodes()

	for i := 0; i < 500; i++ {
		key := fmt.Sprintf("key-%d", i)
		got := r.FindReplicas(key)
		require.Len(t, got, 3)

		p := expectedPrimary(r, key)
		assert.Equal(t, nodes[p], got[0], "primary for %s", key)
		assert.Equal(t, nodes[(p+1)%5], got[1], "secondary for %s", key)
		assert.Equal(t, nodes[(p+2)%5], got[2], "tertiary for %s", key)
		assert.NotEqual(t, got[0], got[1])
		assert.NotEqual(t, got[1], got[2])
		assert.NotEqual(t, got[0], got[2])
	}
}

func TestFindReplicas_WrapAround(t *testing.T) {
	r := Build(members(4), DefaultSpace)
	nodes := r.Nodes()

	// Search for keys landing on each side of the ring edges.
	var low, high, exact bool
	for i := 0; i < 20000 && !(low && high && exact); i++ {
		key := fmt.Sprintf("wrap-%d", i)
		pos := r.KeyPosition(key)
		switch {
		case pos < r.Hash(0):
			low = true
		case pos > r.Hash(3):
			high = true
		case pos == r.Hash(0):
			exact = true
		default:
			continue
		}
		assert.Equal(t, []address.Address{nodes[0], nodes[1], nodes[2]}, r.FindReplicas(key), key)
	}
	assert.True(t, low || high, "found at least one wrapping key")
}

func TestSuccessorsPredecessors(t *testing.T) {
	r := Build(members(5), DefaultSpace)
	nodes := r.Nodes()

	assert.Equal(t, []address.Address{nodes[1], nodes[2]}, r.Successors(nodes[0], 2))
	assert.Equal(t, []address.Address{nodes[4], nodes[3]}, r.Predecessors(nodes[0], 2))
	assert.Equal(t, []address.Address{nodes[0], nodes[1]}, r.Successors(nodes[4], 2))
	assert.Nil(t, r.Successors(address.New(99, 0), 2))

	small := Build(members(2), DefaultSpace)
	assert.Len(t, small.Successors(small.Nodes()[0], 2), 1, "bounded by ring size")
}

func TestChanged(t *testing.T) {
	m := members(4)
	base := Build(m, DefaultSpace)

	tests := []struct {
		name string
		next *Ring
		want bool
	}{
		{"same members", Build(m, DefaultSpace), false},
		{"same members other order", Build([]address.Address{m[3], m[1], m[0], m[2]}, DefaultSpace), false},
		{"member removed", Build(m[:3], DefaultSpace), true},
		{"member added", Build(append(append([]address.Address(nil), m...), address.New(9, 0)), DefaultSpace), true},
		{"member replaced", Build([]address.Address{m[0], m[1], m[2], address.New(9, 0)}, DefaultSpace), true},
		{"empty", Build(nil, DefaultSpace), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Changed(base, tt.next))
		})
	}
}

func TestContains(t *testing.T) {
	r := Build(members(3), DefaultSpace)
	assert.True(t, r.Contains(address.New(2, 0)))
	assert.False(t, r.Contains(address.New(2, 1)))
}

func TestHashKey(t *testing.T) {
	assert.Equal(t, HashKey("a", DefaultSpace), HashKey("a", 0))
	assert.Equal(t, Build(members(3), 0).KeyPosition("a"), HashKey("a", DefaultSpace))
}
