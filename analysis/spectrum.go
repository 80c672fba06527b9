package analysis

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	algofft "github.com/cwbudde/algo-fft"

	"github.com/cwbudde/algo-stiffstring/modal"
)

// ErrFFTSize indicates an FFT size that is not a power of two >= 16.
var ErrFFTSize = errors.New("analysis: fft size must be a power of two >= 16")

// Magnitudes is a one-sided magnitude spectrum.
type Magnitudes struct {
	Bins  []float64
	BinHz float64
}

// Partial is one measured partial of a string tone.
type Partial struct {
	Index       int     `json:"index"`
	PredictedHz float64 `json:"predicted_hz"`
	MeasuredHz  float64 `json:"measured_hz"`
	MagnitudeDB float64 `json:"magnitude_db"`
	// DeviationCents compares the measurement to the stiff-string prediction.
	DeviationCents float64 `json:"deviation_cents"`
	// InharmonicCents compares the measurement to Index * f0.
	InharmonicCents float64 `json:"inharmonic_cents"`
}

// Spectrum returns the Hann-windowed magnitude spectrum of the first
// fftSize samples, zero-padded when samples is shorter.
func Spectrum(samples []float64, sampleRate int, fftSize int) (Magnitudes, error) {
	if sampleRate <= 0 {
		return Magnitudes{}, fmt.Errorf("analysis: sample rate must be > 0")
	}
	if fftSize < 16 || fftSize&(fftSize-1) != 0 {
		return Magnitudes{}, fmt.Errorf("%w: got %d", ErrFFTSize, fftSize)
	}
	plan, err := algofft.NewPlanReal64(fftSize)
	if err != nil {
		return Magnitudes{}, fmt.Errorf("analysis: fft plan: %w", err)
	}

	buf := make([]float64, fftSize)
	n := min(len(samples), fftSize)
	for i := 0; i < n; i++ {
		buf[i] = samples[i] * hann(i, n)
	}
	spec := make([]complex128, fftSize/2+1)
	plan.Forward(spec, buf)

	mags := make([]float64, len(spec))
	for k, c := range spec {
		mags[k] = cmplx.Abs(c)
	}
	return Magnitudes{Bins: mags, BinHz: float64(sampleRate) / float64(fftSize)}, nil
}

// FindPeak returns the frequency and magnitude of the strongest bin in
// [loHz, hiHz], refined by a parabola through the neighbouring bins in dB.
// It returns zeros when the range holds no interior bin.
func FindPeak(spec Magnitudes, loHz, hiHz float64) (freqHz, mag float64) {
	if spec.BinHz <= 0 || len(spec.Bins) < 3 {
		return 0, 0
	}
	lo := max(1, int(math.Ceil(loHz/spec.BinHz)))
	hi := min(len(spec.Bins)-2, int(math.Floor(hiHz/spec.BinHz)))
	if lo > hi {
		return 0, 0
	}
	best := lo
	for k := lo + 1; k <= hi; k++ {
		if spec.Bins[k] > spec.Bins[best] {
			best = k
		}
	}
	a := linToDB(spec.Bins[best-1])
	b := linToDB(spec.Bins[best])
	c := linToDB(spec.Bins[best+1])
	p := 0.0
	if den := a - 2*b + c; den < 0 {
		p = 0.5 * (a - c) / den
	}
	peakDB := b - 0.25*(a-c)*p
	return (float64(best) + p) * spec.BinHz, math.Pow(10, peakDB/20)
}

// Partials measures up to count partials of a tone with fundamental f0,
// searching a third of f0 either side of the stiff-string prediction for
// the given stiffness. Partials above 0.98 * Nyquist are skipped.
func Partials(samples []float64, sampleRate int, f0 float64, stiffness float64, count int) ([]Partial, error) {
	if f0 <= 0 || count < 1 {
		return nil, fmt.Errorf("analysis: need f0 > 0 and count >= 1")
	}
	spec, err := Spectrum(samples, sampleRate, partialFFTSize(len(samples)))
	if err != nil {
		return nil, err
	}
	limit := 0.49 * float64(sampleRate)
	span := f0 / 3

	out := make([]Partial, 0, count)
	for n := 1; n <= count; n++ {
		predicted := f0 * modal.ModeRatio(n, float32(stiffness), 0, 0)
		if predicted+span > limit {
			break
		}
		hz, mag := FindPeak(spec, predicted-span, predicted+span)
		if hz <= 0 {
			continue
		}
		out = append(out, Partial{
			Index:           n,
			PredictedHz:     predicted,
			MeasuredHz:      hz,
			MagnitudeDB:     linToDB(mag),
			DeviationCents:  cents(hz, predicted),
			InharmonicCents: cents(hz, float64(n)*f0),
		})
	}
	return out, nil
}

// partialDistanceCents matches harmonic-window partials of a and b and
// returns their RMS difference in cents. Partials more than 60 dB below
// the strongest one in either signal are ignored.
func partialDistanceCents(a, b []float64, sampleRate int, f0 float64, count int) (float64, int) {
	pa, err := Partials(a, sampleRate, f0, 0, count)
	if err != nil {
		return 0, 0
	}
	pb, err := Partials(b, sampleRate, f0, 0, count)
	if err != nil {
		return 0, 0
	}
	floorA := strongest(pa) - 60
	floorB := strongest(pb) - 60

	byIndex := make(map[int]Partial, len(pb))
	for _, p := range pb {
		byIndex[p.Index] = p
	}
	var sum float64
	matched := 0
	for _, p := range pa {
		q, ok := byIndex[p.Index]
		if !ok || p.MagnitudeDB < floorA || q.MagnitudeDB < floorB {
			continue
		}
		d := cents(q.MeasuredHz, p.MeasuredHz)
		sum += d * d
		matched++
	}
	if matched == 0 {
		return 0, 0
	}
	return math.Sqrt(sum / float64(matched)), matched
}

func strongest(ps []Partial) float64 {
	best := math.Inf(-1)
	for _, p := range ps {
		best = math.Max(best, p.MagnitudeDB)
	}
	return best
}

func partialFFTSize(n int) int {
	size := 4096
	for size < n && size < 1<<17 {
		size *= 2
	}
	return size
}

func cents(f, ref float64) float64 {
	if f <= 0 || ref <= 0 {
		return 0
	}
	return 1200 * math.Log2(f/ref)
}
