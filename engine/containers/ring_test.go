package containers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingQueueFIFO(t *testing.T) {
	rq := NewRingQueue[int](2)
	require.NoError(t, rq.Enqueue(1))
	require.NoError(t, rq.Enqueue(2))
	assert.ErrorIs(t, rq.Enqueue(3), ErrQueueFull)

	v, err := rq.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	require.NoError(t, rq.Enqueue(3))

	p, _ := rq.Peek()
	assert.Equal(t, 2, p)
	assert.Equal(t, 2, rq.Len())

	rq.Dequeue()
	rq.Dequeue()
	_, err = rq.Dequeue()
	assert.ErrorIs(t, err, ErrQueueEmpty)
}

func TestFrameRingCycles(t *testing.T) {
	r := NewFrameRing(3, func(i int) *int { v := i * 10; return &v })
	s, idx := r.Current()
	assert.Equal(t, 0, idx)
	assert.Equal(t, 0, *s)

	seen := []int{}
	for i := 0; i < 4; i++ {
		_, idx = r.Advance()
		seen = append(seen, idx)
	}
	assert.Equal(t, []int{1, 2, 0, 1}, seen)
}

func TestFrameRingAtWrapsFrameNumbers(t *testing.T) {
	r := NewFrameRing(2, func(i int) int { return i })
	assert.Equal(t, 0, r.At(0))
	assert.Equal(t, 1, r.At(1))
	assert.Equal(t, 0, r.At(4))
	assert.Equal(t, 1, r.At(7))
}
