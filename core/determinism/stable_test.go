package determinism

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTxHashIsStablePerNamespace(t *testing.T) {
	a := NewIDGenerator("sandbox")
	b := NewIDGenerator("other")

	h := a.TxHash("approve", "0xconsumer", "500", "0")
	assert.Equal(t, h, a.TxHash("approve", "0xconsumer", "500", "0"))
	assert.Len(t, h, 66)
	assert.Equal(t, "0x", h[:2])
	assert.NotEqual(t, h, a.TxHash("approve", "0xconsumer", "500", "1"))
	assert.NotEqual(t, h, b.TxHash("approve", "0xconsumer", "500", "0"))
}

func TestComputeHashPartsSeparatesParts(t *testing.T) {
	assert.Equal(t, ComputeHashParts("ab", "c"), ComputeHashParts("ab", "c"))
	assert.NotEqual(t, ComputeHashParts("ab", "c"), ComputeHashParts("a", "bc"))

	h := ComputeHashParts("x")
	assert.Len(t, h.Hex(), 64)
	assert.Equal(t, h.Hex()[:16]+"...", h.String())
}

func TestSortedCopyKeepsEqualElementsInOrder(t *testing.T) {
	type item struct {
		key int
		tag string
	}
	in := []item{{2, "a"}, {1, "b"}, {2, "c"}, {1, "d"}}
	out := SortedCopy(in, func(x, y item) bool { return x.key < y.key })

	assert.Equal(t, []item{{1, "b"}, {1, "d"}, {2, "a"}, {2, "c"}}, out)
	assert.Equal(t, item{2, "a"}, in[0], "input is untouched")
}
