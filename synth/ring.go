package synth

import "sync/atomic"

// ringSize is the command ring capacity; a power of two.
const ringSize = 256

type commandKind uint8

const (
	cmdFrequency commandKind = iota
	cmdStiffness
	cmdPluckPosition
	cmdPickupPosition
	cmdDecay
	cmdDecayHighFreq
	cmdPluck
	cmdNoteOn
	cmdOutputGain
	cmdBodyMix
)

type command struct {
	kind commandKind
	a, b float32
}

// commandRing is a single-producer single-consumer queue. The producer
// owns head, the consumer owns tail; each publishes its index with an
// atomic store after touching the slot.
type commandRing struct {
	buf     [ringSize]command
	head    atomic.Uint32 // next write position
	tail    atomic.Uint32 // next read position
	dropped atomic.Uint64
}

// push enqueues c, or counts it as dropped when the ring is full.
func (r *commandRing) push(c command) bool {
	h := r.head.Load()
	if h-r.tail.Load() == ringSize {
		r.dropped.Add(1)
		return false
	}
	r.buf[h&(ringSize-1)] = c
	r.head.Store(h + 1)
	return true
}

func (r *commandRing) pop() (command, bool) {
	t := r.tail.Load()
	if t == r.head.Load() {
		return command{}, false
	}
	c := r.buf[t&(ringSize-1)]
	r.tail.Store(t + 1)
	return c, true
}

func (r *commandRing) len() int {
	return int(r.head.Load() - r.tail.Load())
}
