// Package analysis measures rendered strings: spectra, partial frequencies,
// decay envelopes and distances between two recordings.
package analysis

import (
	"math"
	"math/cmplx"

	algofft "github.com/cwbudde/algo-fft"
)

// Metrics contains distance and similarity measurements between two audio signals.
type Metrics struct {
	SampleRate int `json:"sample_rate"`

	ReferenceFrames int `json:"reference_frames"`
	CandidateFrames int `json:"candidate_frames"`
	AlignedFrames   int `json:"aligned_frames"`
	LagSamples      int `json:"lag_samples"`

	TimeRMSE        float64 `json:"time_rmse"`
	EnvelopeRMSEDB  float64 `json:"envelope_rmse_db"`
	SpectralRMSEDB  float64 `json:"spectral_rmse_db"`
	RefDecayDBPerS  float64 `json:"ref_decay_db_per_s"`
	CandDecayDBPerS float64 `json:"cand_decay_db_per_s"`
	DecayDiffDBPerS float64 `json:"decay_diff_db_per_s"`

	// PartialRMSCents is the RMS pitch difference of matched partials; only
	// set when CompareOptions.F0 is given.
	PartialRMSCents float64 `json:"partial_rms_cents,omitempty"`
	PartialsMatched int     `json:"partials_matched,omitempty"`

	Score      float64 `json:"score"`
	Similarity float64 `json:"similarity"`
}

// CompareOptions tunes Compare.
type CompareOptions struct {
	// F0 enables partial matching around multiples of this fundamental.
	F0 float64
	// Partials is the number of partials to match; 0 means 16.
	Partials int
	// MaxSeconds caps the aligned length; 0 means 12 s.
	MaxSeconds float64
}

const (
	envFrame = 256
	envHop   = 128
)

// Compare returns objective distance metrics and a combined score in [0,1].
func Compare(reference []float64, candidate []float64, sampleRate int) Metrics {
	return CompareWith(reference, candidate, sampleRate, CompareOptions{})
}

// CompareWith is Compare with options. Lower scores are closer.
func CompareWith(reference []float64, candidate []float64, sampleRate int, opts CompareOptions) Metrics {
	m := Metrics{
		SampleRate:      sampleRate,
		ReferenceFrames: len(reference),
		CandidateFrames: len(candidate),
		Score:           1.0,
	}
	if sampleRate <= 0 {
		return m
	}

	ref := trimLeadingSilence(reference, 1e-6)
	cand := trimLeadingSilence(candidate, 1e-6)
	if len(ref) == 0 || len(cand) == 0 {
		return m
	}
	ref = normalizeRMS(ref, 0.1)
	cand = normalizeRMS(cand, 0.1)

	maxLag := max(1, min(sampleRate/2, len(ref)-1, len(cand)-1))
	m.LagSamples = estimateLag(ref, cand, maxLag)

	refA, candA := alignByLag(ref, cand, m.LagSamples)
	n := min(len(refA), len(candA))
	if n < 2*envFrame {
		return m
	}
	maxSeconds := opts.MaxSeconds
	if maxSeconds <= 0 {
		maxSeconds = 12
	}
	n = min(n, int(maxSeconds*float64(sampleRate)))
	refA = refA[:n]
	candA = candA[:n]
	m.AlignedFrames = n

	m.TimeRMSE = rmse(refA, candA)

	refEnv := RMSEnvelope(refA, envFrame, envHop)
	candEnv := RMSEnvelope(candA, envFrame, envHop)
	if envN := min(len(refEnv), len(candEnv)); envN > 0 {
		envDiff := make([]float64, envN)
		for i := range envDiff {
			envDiff[i] = linToDB(refEnv[i]) - linToDB(candEnv[i])
		}
		m.EnvelopeRMSEDB = rms1(envDiff)
	}

	m.SpectralRMSEDB = spectralRMSEDB(refA, candA)

	hopSec := float64(envHop) / float64(sampleRate)
	m.RefDecayDBPerS = DecaySlopeDBPerS(refEnv, hopSec)
	m.CandDecayDBPerS = DecaySlopeDBPerS(candEnv, hopSec)
	if isFinite(m.RefDecayDBPerS) && isFinite(m.CandDecayDBPerS) {
		m.DecayDiffDBPerS = math.Abs(m.RefDecayDBPerS - m.CandDecayDBPerS)
	}

	timeNorm := clamp01(m.TimeRMSE / 0.25)
	envNorm := clamp01(m.EnvelopeRMSEDB / 30.0)
	specNorm := clamp01(m.SpectralRMSEDB / 30.0)
	decNorm := clamp01(m.DecayDiffDBPerS / 40.0)

	if opts.F0 > 0 {
		count := opts.Partials
		if count <= 0 {
			count = 16
		}
		m.PartialRMSCents, m.PartialsMatched = partialDistanceCents(refA, candA, sampleRate, opts.F0, count)
	}
	if m.PartialsMatched > 0 {
		partNorm := clamp01(m.PartialRMSCents / 50.0)
		m.Score = clamp01(0.25*timeNorm + 0.20*envNorm + 0.25*specNorm + 0.10*decNorm + 0.20*partNorm)
	} else {
		m.Score = clamp01(0.30*timeNorm + 0.25*envNorm + 0.30*specNorm + 0.15*decNorm)
	}
	m.Similarity = clamp01(math.Exp(-4.0 * m.Score))
	return m
}

func trimLeadingSilence(x []float64, threshold float64) []float64 {
	for i := 0; i < len(x); i++ {
		if math.Abs(x[i]) > threshold {
			return x[i:]
		}
	}
	return nil
}

func normalizeRMS(x []float64, target float64) []float64 {
	if len(x) == 0 {
		return x
	}
	r := rms1(x)
	if r <= 1e-12 {
		return append([]float64(nil), x...)
	}
	g := target / r
	out := make([]float64, len(x))
	for i := range x {
		out[i] = x[i] * g
	}
	return out
}

// estimateLag returns the shift of cand against ref that maximizes their
// cross-correlation, searched in [-maxLag, maxLag]. Short inputs use the
// direct sum; longer ones an FFT correlation.
func estimateLag(ref []float64, cand []float64, maxLag int) int {
	if len(ref) == 0 || len(cand) == 0 {
		return 0
	}
	if len(ref)+len(cand) < 4096 {
		return estimateLagExhaustive(ref, cand, maxLag)
	}

	// corr[lag + len(cand) - 1] = sum_i ref[i+lag] * cand[i]
	a := make([]float32, len(ref))
	for i, v := range ref {
		a[i] = float32(v)
	}
	b := make([]float32, len(cand))
	for i, v := range cand {
		b[len(cand)-1-i] = float32(v)
	}
	corr := make([]float32, len(a)+len(b)-1)
	if err := algofft.ConvolveReal(corr, a, b); err != nil {
		return estimateLagExhaustive(ref, cand, maxLag)
	}

	zero := len(cand) - 1
	bestLag := 0
	best := math.Inf(-1)
	for lag := -maxLag; lag <= maxLag; lag++ {
		idx := zero + lag
		if idx < 0 || idx >= len(corr) {
			continue
		}
		if s := float64(corr[idx]); s > best {
			best = s
			bestLag = lag
		}
	}
	return bestLag
}

func estimateLagExhaustive(ref []float64, cand []float64, maxLag int) int {
	bestLag := 0
	best := math.Inf(-1)
	for lag := -maxLag; lag <= maxLag; lag++ {
		s := dotAtLag(ref, cand, lag, 1)
		if s > best {
			best = s
			bestLag = lag
		}
	}
	return bestLag
}

func dotAtLag(a []float64, b []float64, lag int, step int) float64 {
	var ai, bi int
	if lag >= 0 {
		ai = lag
		bi = 0
	} else {
		ai = 0
		bi = -lag
	}
	n := len(a) - ai
	if len(b)-bi < n {
		n = len(b) - bi
	}
	if n <= 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i += step {
		sum += a[ai+i] * b[bi+i]
	}
	return sum
}

func alignByLag(ref []float64, cand []float64, lag int) ([]float64, []float64) {
	if lag >= 0 {
		if lag >= len(ref) {
			return nil, nil
		}
		return ref[lag:], cand
	}
	o := -lag
	if o >= len(cand) {
		return nil, nil
	}
	return ref, cand[o:]
}

func rmse(a []float64, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum / float64(n))
}

func rms1(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(x)))
}

// RMSEnvelope returns frame RMS values every hop samples.
func RMSEnvelope(x []float64, frame int, hop int) []float64 {
	if frame <= 0 || hop <= 0 || len(x) < frame {
		return nil
	}
	n := 1 + (len(x)-frame)/hop
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		start := i * hop
		out[i] = rms1(x[start : start+frame])
	}
	return out
}

// spectralRMSEDB is the RMS difference in dB of the Hann-windowed
// magnitude spectra of the leading block of a and b.
func spectralRMSEDB(a []float64, b []float64) float64 {
	aw, bw, bins := spectralWindowedInputs(a, b)
	if bins < 2 {
		return 0
	}
	n := len(aw)
	plan, err := algofft.NewPlanReal64(n)
	if err != nil {
		return spectralRMSEDBNaiveWindowed(aw, bw, bins)
	}
	sa := make([]complex128, n/2+1)
	sb := make([]complex128, n/2+1)
	plan.Forward(sa, aw)
	plan.Forward(sb, bw)

	var sum float64
	for k := 1; k < bins; k++ {
		d := linToDB(cmplx.Abs(sa[k])) - linToDB(cmplx.Abs(sb[k]))
		sum += d * d
	}
	return math.Sqrt(sum / float64(bins-1))
}

// spectralWindowedInputs returns the Hann-windowed leading power-of-two
// block (512..4096 samples) of a and b and the number of bins to compare.
func spectralWindowedInputs(a []float64, b []float64) ([]float64, []float64, int) {
	n := min(len(a), len(b))
	if n < 512 {
		return nil, nil, 0
	}
	size := 512
	for size*2 <= n && size < 4096 {
		size *= 2
	}
	aw := make([]float64, size)
	bw := make([]float64, size)
	for i := 0; i < size; i++ {
		w := hann(i, size)
		aw[i] = a[i] * w
		bw[i] = b[i] * w
	}
	return aw, bw, size / 2
}

func spectralRMSEDBNaiveWindowed(aw []float64, bw []float64, bins int) float64 {
	if bins < 2 {
		return 0
	}
	var sum float64
	for k := 1; k < bins; k++ {
		d := linToDB(dftBinMag(aw, k)) - linToDB(dftBinMag(bw, k))
		sum += d * d
	}
	return math.Sqrt(sum / float64(bins-1))
}

func dftBinMag(x []float64, bin int) float64 {
	n := len(x)
	var re, im float64
	for i := 0; i < n; i++ {
		phi := -2.0 * math.Pi * float64(bin*i) / float64(n)
		re += x[i] * math.Cos(phi)
		im += x[i] * math.Sin(phi)
	}
	return math.Hypot(re, im)
}

func hann(i, n int) float64 {
	return 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n-1))
}

func linToDB(x float64) float64 {
	if x < 1e-12 {
		x = 1e-12
	}
	return 20.0 * math.Log10(x)
}

// DecaySlopeDBPerS fits a line to the envelope in dB from its peak down to
// 60 dB below it. It returns NaN when the envelope is too short.
func DecaySlopeDBPerS(env []float64, hopSec float64) float64 {
	if len(env) < 8 || hopSec <= 0 {
		return math.NaN()
	}
	peak := -math.MaxFloat64
	peakIdx := 0
	for i, v := range env {
		db := linToDB(v)
		if db > peak {
			peak = db
			peakIdx = i
		}
	}
	start := peakIdx + 1
	if start >= len(env)-4 {
		return math.NaN()
	}

	threshold := peak - 60.0
	end := len(env)
	for i := start; i < len(env); i++ {
		if linToDB(env[i]) < threshold {
			end = i
			break
		}
	}
	if end-start < 6 {
		return math.NaN()
	}

	var sx, sy, sxx, sxy float64
	n := float64(end - start)
	for i := start; i < end; i++ {
		x := float64(i-start) * hopSec
		y := linToDB(env[i])
		sx += x
		sy += y
		sxx += x * x
		sxy += x * y
	}
	den := n*sxx - sx*sx
	if math.Abs(den) < 1e-12 {
		return math.NaN()
	}
	return (n*sxy - sx*sy) / den
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
