// Package osc provides the per-mode oscillators of the string engine: a
// wavetable phase-accumulator sine and the Smith/Cook two-state waveguide
// resonator, plain and damped.
package osc

import "math"

// SineTableSize is the number of entries in the shared sine table.
const SineTableSize = 2048

const (
	tableBits = 11
	tableMask = SineTableSize - 1
	fracBits  = 32 - tableBits
	fracMask  = 1<<fracBits - 1
	fracScale = 1.0 / (1 << fracBits)
)

var sineTable [SineTableSize]float32

func init() {
	for i := range sineTable {
		sineTable[i] = float32(math.Sin(2.0 * math.Pi * float64(i) / SineTableSize))
	}
}

// SineTable returns a copy of one sine period as stored in the table.
func SineTable() []float32 {
	out := make([]float32, SineTableSize)
	copy(out, sineTable[:])
	return out
}

// Mode is a single resonant component of the string engine.
type Mode interface {
	SetSampleRate(sampleRate float32)
	SetFrequency(freqHz float32)
	Tick() float32
}
