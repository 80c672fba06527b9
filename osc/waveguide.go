package osc

import "math"

// Waveguide is the second-order digital waveguide oscillator of Smith and
// Cook (1992). Its output amplitude stays at 1 across frequency changes.
//
// State is kept in float64; float32 state drifts at low frequencies where
// the loop gain is close to 1.
type Waveguide struct {
	freq       float32
	sampleRate float32
	twoPiBySR  float64
	loopGain   float64
	turnsRatio float64
	x, y       float64
}

// NewWaveguide creates a waveguide oscillator. It is silent until the first
// SetFrequency.
func NewWaveguide(sampleRate float32) *Waveguide {
	w := &Waveguide{}
	w.SetSampleRate(sampleRate)
	return w
}

// SetSampleRate updates the sample rate and re-applies the current frequency.
func (w *Waveguide) SetSampleRate(sampleRate float32) {
	if sampleRate <= 0 {
		return
	}
	w.sampleRate = sampleRate
	w.twoPiBySR = 2.0 * math.Pi / float64(sampleRate)
	if w.freq != 0 {
		w.SetFrequency(w.freq)
	}
}

// SetFrequency retunes the oscillator. The first call (or the first after a
// 0 Hz setting) starts from the reset phase; later calls rescale the hidden
// state so the output continues without a jump.
func (w *Waveguide) SetFrequency(freqHz float32) {
	w.freq = freqHz
	g, t := waveguideCoeffs(freqHz, w.sampleRate, w.twoPiBySR)
	w.loopGain = g
	if w.turnsRatio == 0 || t == 0 {
		w.turnsRatio = t
		w.Reset()
		return
	}
	w.x *= t / w.turnsRatio
	w.turnsRatio = t
}

// Reset returns the oscillator to its initial phase at unit amplitude.
func (w *Waveguide) Reset() {
	w.x = w.turnsRatio
	w.y = 0
}

// Frequency returns the last frequency set.
func (w *Waveguide) Frequency() float32 { return w.freq }

// State returns the two state variables.
func (w *Waveguide) State() (x, y float64) { return w.x, w.y }

// Tick advances one sample and returns the output.
func (w *Waveguide) Tick() float32 {
	in := w.x
	z := w.loopGain * (w.y + in)
	w.x = z - w.y
	w.y = z + in
	return float32(w.y)
}

// DampedWaveguide is a Waveguide with an exponential decay applied inside
// the loop.
type DampedWaveguide struct {
	Waveguide
	decayHz float32
	decay   float64
}

// NewDampedWaveguide creates a damped waveguide with no damping.
func NewDampedWaveguide(sampleRate float32) *DampedWaveguide {
	d := &DampedWaveguide{}
	d.SetSampleRate(sampleRate)
	return d
}

// SetSampleRate updates the sample rate and recomputes the decay factor.
func (d *DampedWaveguide) SetSampleRate(sampleRate float32) {
	d.Waveguide.SetSampleRate(sampleRate)
	d.SetDecay(d.decayHz)
}

// SetDecay sets the decay rate in Hz. The amplitude envelope falls as
// exp(-2*pi*decayHz*t); 0 disables damping.
func (d *DampedWaveguide) SetDecay(decayHz float32) {
	d.decayHz = decayHz
	if decayHz <= 0 || d.twoPiBySR == 0 {
		d.decay = 1
		return
	}
	r := math.Exp(-float64(decayHz) * d.twoPiBySR)
	d.decay = r * r
}

// Decay returns the per-sample loop decay factor.
func (d *DampedWaveguide) Decay() float64 { return d.decay }

// Tick advances one sample and returns the output.
func (d *DampedWaveguide) Tick() float32 {
	in := d.decay * d.x
	z := d.loopGain * (d.y + in)
	d.x = z - d.y
	d.y = z + in
	return float32(d.y)
}

func waveguideCoeffs(freqHz, sampleRate float32, twoPiBySR float64) (loopGain, turnsRatio float64) {
	f := math.Abs(float64(freqHz))
	if math.IsNaN(f) || twoPiBySR == 0 {
		return 1, 0
	}
	if limit := 0.5 * float64(sampleRate) * (1 - 1e-6); f > limit {
		f = limit
	}
	g := math.Cos(f * twoPiBySR)
	return g, math.Sqrt((1 - g) / (1 + g))
}
