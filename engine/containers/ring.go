package containers

import "errors"

var (
	ErrQueueFull  = errors.New("queue is full")
	ErrQueueEmpty = errors.New("queue is empty")
)

// RingQueue is a fixed size FIFO.
type RingQueue[T any] struct {
	data       []T
	size       int
	readIndex  int
	writeIndex int
	count      int
}

// Create a new RingQueue
func NewRingQueue[T any](size int) *RingQueue[T] {
	return &RingQueue[T]{
		data: make([]T, size),
		size: size,
	}
}

// Enqueue adds an element to the queue
func (rq *RingQueue[T]) Enqueue(value T) error {
	if rq.IsFull() {
		return ErrQueueFull
	}
	rq.data[rq.writeIndex] = value
	rq.writeIndex = (rq.writeIndex + 1) % rq.size
	rq.count++
	return nil
}

// Dequeue removes and returns the front element in the queue
func (rq *RingQueue[T]) Dequeue() (T, error) {
	var zero T
	if rq.IsEmpty() {
		return zero, ErrQueueEmpty
	}
	value := rq.data[rq.readIndex]
	rq.data[rq.readIndex] = zero
	rq.readIndex = (rq.readIndex + 1) % rq.size
	rq.count--
	return value, nil
}

// Peek returns the front element without removing it
func (rq *RingQueue[T]) Peek() (T, error) {
	if rq.IsEmpty() {
		var zero T
		return zero, ErrQueueEmpty
	}
	return rq.data[rq.readIndex], nil
}

func (rq *RingQueue[T]) Len() int {
	return rq.count
}

// IsEmpty checks if the queue is empty
func (rq *RingQueue[T]) IsEmpty() bool {
	return rq.count == 0
}

// IsFull checks if the queue is full
func (rq *RingQueue[T]) IsFull() bool {
	return rq.count == rq.size
}

// FrameRing hands out one slot per frame in flight, cycling through them.
// Slot i is only reused after the caller has waited on the work that used it
// during the previous cycle.
type FrameRing[T any] struct {
	slots   []T
	current int
}

func NewFrameRing[T any](count int, create func(index int) T) *FrameRing[T] {
	r := &FrameRing[T]{slots: make([]T, count)}
	for i := range r.slots {
		r.slots[i] = create(i)
	}
	return r
}

// Current returns the slot of the frame being recorded and its index.
func (r *FrameRing[T]) Current() (T, int) {
	return r.slots[r.current], r.current
}

// Advance moves to the next frame slot and returns it.
func (r *FrameRing[T]) Advance() (T, int) {
	r.current = (r.current + 1) % len(r.slots)
	return r.slots[r.current], r.current
}

// At returns the slot used by the given frame number.
func (r *FrameRing[T]) At(frame int) T {
	return r.slots[frame%len(r.slots)]
}

func (r *FrameRing[T]) Len() int {
	return len(r.slots)
}

// Each visits every slot, in index order.
func (r *FrameRing[T]) Each(fn func(index int, slot T)) {
	for i, s := range r.slots {
		fn(i, s)
	}
}
