package modal

import (
	"math"
	"testing"

	"github.com/cwbudde/algo-stiffstring/osc"
)

func newTestString(t *testing.T, sampleRate float32, numModes int) *CycleString {
	t.Helper()
	s, err := New[osc.Cycle](sampleRate, numModes)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func renderString(s interface{ Tick() float32 }, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = s.Tick()
	}
	return out
}

func windowRMS(samples []float32) float64 {
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func dftBinMagnitude(samples []float32, bin int) float64 {
	n := len(samples)
	var re float64
	var im float64
	for i := 0; i < n; i++ {
		phase := -2.0 * math.Pi * float64(bin) * float64(i) / float64(n)
		x := float64(samples[i])
		re += x * math.Cos(phase)
		im += x * math.Sin(phase)
	}
	return math.Hypot(re, im)
}

// findPeakNear returns the strongest DFT bin frequency within spanHz of centerHz.
func findPeakNear(samples []float32, sampleRate int, centerHz float64, spanHz float64) float64 {
	n := len(samples)
	minBin := int((centerHz - spanHz) * float64(n) / float64(sampleRate))
	maxBin := int((centerHz + spanHz) * float64(n) / float64(sampleRate))
	if minBin < 1 {
		minBin = 1
	}
	if maxBin > n/2-1 {
		maxBin = n/2 - 1
	}
	bestBin := minBin
	bestMag := 0.0
	for k := minBin; k <= maxBin; k++ {
		mag := dftBinMagnitude(samples, k)
		if mag > bestMag {
			bestMag = mag
			bestBin = k
		}
	}
	return float64(bestBin) * float64(sampleRate) / float64(n)
}

func peakIndex(samples []float32) (int, float64) {
	idx, peak := 0, 0.0
	for i, s := range samples {
		if a := math.Abs(float64(s)); a > peak {
			idx, peak = i, a
		}
	}
	return idx, peak
}
