// Package body colours the string output with an instrument body: a
// streaming partitioned convolver and a procedural body impulse response.
package body

import (
	"fmt"

	dspconv "github.com/cwbudde/algo-dsp/dsp/conv"

	"github.com/cwbudde/algo-stiffstring/internal/fitcommon"
)

// PartSize is the convolution partition length and the convolver latency
// in samples.
const PartSize = 128

// Convolver convolves a mono signal with a mono body IR. Input is gathered
// into PartSize blocks, so output lags input by PartSize samples; the dry
// path is delayed by the same amount before mixing.
type Convolver struct {
	sampleRate int
	irLen      int
	mix        float32

	ola *dspconv.StreamingOverlapAddT[float32, complex64]

	// Pre-allocated buffers for zero-allocation processing
	in   []float32
	wet  []float32
	out  []float32
	fill int
}

// NewConvolver creates a convolver with an identity IR and a fully wet mix.
func NewConvolver(sampleRate int) *Convolver {
	c := &Convolver{
		sampleRate: sampleRate,
		mix:        1,
		in:         make([]float32, PartSize),
		wet:        make([]float32, PartSize),
		out:        make([]float32, PartSize),
	}
	_ = c.SetIR(nil)
	return c
}

// SetIR installs a new impulse response and clears history. An empty IR is
// the identity.
func (c *Convolver) SetIR(ir []float32) error {
	if len(ir) == 0 {
		ir = []float32{1.0}
	}
	ola, err := dspconv.NewStreamingOverlapAdd32(ir, PartSize)
	if err != nil {
		return fmt.Errorf("body: build convolver: %w", err)
	}
	c.ola = ola
	c.irLen = len(ir)
	c.Reset()
	return nil
}

// LoadIR reads a WAV impulse response, downmixes it and resamples it to the
// convolver rate.
func (c *Convolver) LoadIR(path string) error {
	ir, err := fitcommon.LoadMono(path, c.sampleRate)
	if err != nil {
		return fmt.Errorf("body: load IR: %w", err)
	}
	return c.SetIR(ir)
}

// SetMix sets the wet share of the output, clamped to [0, 1].
func (c *Convolver) SetMix(mix float32) {
	c.mix = min(max(mix, 0), 1)
}

func (c *Convolver) Mix() float32 { return c.mix }
func (c *Convolver) IRLen() int { return c.irLen }
func (c *Convolver) Latency() int { return PartSize }

// Process convolves in into out. The slices may alias and must have equal
// length.
func (c *Convolver) Process(in, out []float32) {
	for i, x := range in {
		y := c.out[c.fill]
		c.in[c.fill] = x
		c.fill++
		if c.fill == PartSize {
			c.flush()
		}
		out[i] = y
	}
}

func (c *Convolver) flush() {
	c.fill = 0
	if err := c.ola.ProcessBlockTo(c.wet, c.in); err != nil {
		// Fallback: pass through for this block
		copy(c.out, c.in)
		return
	}
	dry := 1 - c.mix
	for i := range c.out {
		c.out[i] = c.mix*c.wet[i] + dry*c.in[i]
	}
}

// Reset clears convolver history and the pending block.
func (c *Convolver) Reset() {
	if c.ola != nil {
		c.ola.Reset()
	}
	clear(c.in)
	clear(c.out)
	c.fill = 0
}
