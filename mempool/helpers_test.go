package mempool

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, size int, opts ...Option) *Pool {
	t.Helper()
	p, err := New(make([]byte, size), opts...)
	require.NoError(t, err)
	return p
}

// requireInvariants checks that blocks tile the buffer, accounting matches
// the tiling, and no two free blocks touch.
func requireInvariants(t *testing.T, p *Pool) {
	t.Helper()
	if len(p.buf) < HeaderSize {
		require.Empty(t, p.FreeBlocks())
		return
	}

	used := 0
	off := 0
	for off < len(p.buf) {
		require.LessOrEqual(t, off+HeaderSize, len(p.buf), "header at %d overruns buffer", off)
		sz := int(p.size(uint32(off)))
		if p.state(uint32(off)) == stateInUse {
			used += HeaderSize + sz
		}
		off += HeaderSize + sz
	}
	require.Equal(t, len(p.buf), off, "blocks must tile the buffer")
	require.Equal(t, used, p.Used(), "used bytes")

	blocks := p.FreeBlocks()
	seen := make(map[int]bool, len(blocks))
	for _, b := range blocks {
		require.False(t, seen[b.Offset], "free block %d listed twice", b.Offset)
		seen[b.Offset] = true
		require.Equal(t, uint32(stateFree), p.state(uint32(b.Offset)))
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Offset < blocks[j].Offset })
	for i := 1; i < len(blocks); i++ {
		prevEnd := blocks[i-1].Offset + HeaderSize + blocks[i-1].Size
		require.Less(t, prevEnd, blocks[i].Offset, "free blocks at %d and %d are adjacent", blocks[i-1].Offset, blocks[i].Offset)
	}

	total := used
	for _, b := range blocks {
		total += HeaderSize + b.Size
	}
	require.Equal(t, len(p.buf), total, "used plus free must cover the buffer")
}
