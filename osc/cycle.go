package osc

import "math"

const twoTo32 = 4294967296.0

// Cycle is a 32-bit phase accumulator reading the sine table with linear
// interpolation. The phase wraps by unsigned overflow.
type Cycle struct {
	phase      uint32
	inc        int32
	freq       float32
	sampleRate float32
	scale      float64 // 2^32 / sampleRate
}

// NewCycle creates a sine oscillator at 0 Hz and phase 0.
func NewCycle(sampleRate float32) *Cycle {
	c := &Cycle{}
	c.SetSampleRate(sampleRate)
	return c
}

// SetSampleRate updates the sample rate and keeps the current frequency.
// Non-positive rates are ignored.
func (c *Cycle) SetSampleRate(sampleRate float32) {
	if sampleRate <= 0 {
		return
	}
	c.sampleRate = sampleRate
	c.scale = twoTo32 / float64(sampleRate)
	c.SetFrequency(c.freq)
}

// SetFrequency sets the oscillator frequency. Negative values run the
// phase backwards; values at or past Nyquist alias.
func (c *Cycle) SetFrequency(freqHz float32) {
	c.freq = freqHz
	v := float64(freqHz) * c.scale
	if math.IsNaN(v) {
		v = 0
	}
	// Form the increment in 64 bits and keep the low 32 so that
	// out-of-range frequencies wrap deterministically.
	v = math.Max(-math.MaxInt64/2, math.Min(math.MaxInt64/2, v))
	c.inc = int32(uint32(int64(v)))
}

// SetPhase sets the phase as a fraction of a cycle. The integer part is
// discarded with floor semantics, so -0.25 and 0.75 are the same phase.
func (c *Cycle) SetPhase(phase float32) {
	p := float64(phase)
	p -= math.Floor(p)
	c.phase = uint32(uint64(p * twoTo32))
}

// Frequency returns the last frequency set.
func (c *Cycle) Frequency() float32 { return c.freq }

// Phase returns the current phase as a fraction of a cycle in [0, 1).
func (c *Cycle) Phase() float32 { return float32(float64(c.phase) / twoTo32) }

// Tick advances the phase and returns the interpolated sine value.
func (c *Cycle) Tick() float32 {
	c.phase += uint32(c.inc)
	idx := c.phase >> fracBits
	frac := float32(c.phase&fracMask) * fracScale
	a := sineTable[idx]
	b := sineTable[(idx+1)&tableMask]
	return a + (b-a)*frac
}
