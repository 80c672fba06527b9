package modal

import "math"

// ModeRatio returns the damped frequency of mode n (1-based) relative to the
// fundamental of a stiff, lossy string:
//
//	w0   = n * sqrt(1 + stiffness^2 * n^2)
//	zeta = (decay + decayHighFreq * n^2) / w0
//	w    = w0 * sqrt(1 - zeta^2)
//
// Overdamped modes (|zeta| >= 1) return 0.
func ModeRatio(n int, stiffness, decay, decayHighFreq float32) float64 {
	nf := float64(n)
	n2 := nf * nf
	k := float64(stiffness)
	w0 := nf * math.Sqrt(1+k*k*n2)
	if w0 == 0 {
		return 0
	}
	zeta := (float64(decay) + float64(decayHighFreq)*n2) / w0
	if zeta*zeta >= 1 {
		return 0
	}
	return w0 * math.Sqrt(1-zeta*zeta)
}

// PluckSpectrum returns the initial amplitude of mode n for a string plucked
// at position p. Positions are measured from the end of the string in units
// of half its length, so p = 1 is the centre.
func PluckSpectrum(n int, p float32) float32 {
	x0 := float64(p) * 0.5 * math.Pi
	nf := float64(n)
	denom := nf * nf * x0 * (math.Pi - x0)
	if denom == 0 {
		return 0
	}
	return float32(2 * math.Sin(x0*nf) / denom)
}

// PickupWeight returns the output weight of mode n for a pickup at position
// p, in the same units as PluckSpectrum.
func PickupWeight(n int, p float32) float32 {
	return float32(math.Sin(float64(n) * float64(p) * 0.5 * math.Pi))
}

// modeDecayRate returns the decay rate of mode n in Hz: the clipped loss
// coefficient scaled by the fundamental.
func modeDecayRate(n int, freqHz, decay, decayHighFreq float32) float64 {
	nf := float64(n)
	sig := float64(decay) + float64(decayHighFreq)*nf*nf
	sig = math.Min(math.Max(sig, 0), 1)
	return sig * math.Abs(float64(freqHz))
}

// modeDecay returns the per-sample amplitude factor of mode n.
func modeDecay(n int, freqHz, sampleRate, decay, decayHighFreq float32) float32 {
	f := 1 - modeDecayRate(n, freqHz, decay, decayHighFreq)*2*math.Pi/float64(sampleRate)
	return float32(math.Min(math.Max(f, 0), 1))
}
