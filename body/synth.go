package body

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	pdefd "github.com/cwbudde/algo-pde/fd"
	pdepoisson "github.com/cwbudde/algo-pde/poisson"

	"github.com/cwbudde/algo-stiffstring/osc"
)

// gridPoints is the per-axis resolution of the discrete plate Laplacian.
const gridPoints = 128

// Config controls procedural body IR generation.
//
// The body is modelled as a rectangular plate with fixed edges. Mode
// frequencies come from the Dirichlet Laplacian spectrum of each axis:
//
//	f_ij = f11 * (mu_i + R^2 * mu_j) / (1 + R^2)
//
// where mu are the axis eigenvalues normalized to mu_1 = 1 and R is the
// aspect ratio Lx/Ly. Modes below CrossoverHz decay with LowDecayS, modes
// above it with HighDecayS, blended on a log-frequency sigmoid.
type Config struct {
	SampleRate    int
	DurationS     float64
	Modes         int
	Seed          int64
	FundamentalHz float64 // f11
	PlateRatio    float64
	Brightness    float64
	DirectLevel   float64
	LowDecayS     float64
	HighDecayS    float64
	CrossoverHz   float64
	FadeOutS      float64 // cosine fade at the end; 0 = no fade

	NormalizePeak float64
}

// DefaultConfig returns a short guitar-like body IR at 48 kHz.
func DefaultConfig() Config {
	return Config{
		SampleRate:    48000,
		DurationS:     0.08,
		Modes:         48,
		Seed:          1,
		FundamentalHz: 95,
		PlateRatio:    1.3,
		Brightness:    1.0,
		DirectLevel:   0.5,
		LowDecayS:     0.06,
		HighDecayS:    0.012,
		CrossoverHz:   700,
		FadeOutS:      0.004,
		NormalizePeak: 0.9,
	}
}

func (c *Config) Validate() error {
	if c.SampleRate < 8000 {
		return fmt.Errorf("sample rate too low: %d", c.SampleRate)
	}
	if c.DurationS <= 0 {
		return fmt.Errorf("duration must be > 0")
	}
	if c.Modes < 1 {
		return fmt.Errorf("modes must be >= 1")
	}
	if c.FundamentalHz <= 0 || c.FundamentalHz >= 0.47*float64(c.SampleRate) {
		return fmt.Errorf("fundamental must be in (0, %.0f) Hz", 0.47*float64(c.SampleRate))
	}
	if c.PlateRatio <= 0 {
		return fmt.Errorf("plate ratio must be > 0")
	}
	if c.Brightness <= 0 {
		return fmt.Errorf("brightness must be > 0")
	}
	if c.DirectLevel < 0 {
		return fmt.Errorf("direct level must be >= 0")
	}
	if c.LowDecayS <= 0 || c.HighDecayS <= 0 {
		return fmt.Errorf("decay seconds must be > 0")
	}
	if c.CrossoverHz <= 0 {
		return fmt.Errorf("crossover Hz must be > 0")
	}
	if c.FadeOutS < 0 {
		return fmt.Errorf("fade out must be >= 0")
	}
	if c.NormalizePeak <= 0 {
		return fmt.Errorf("normalize peak must be > 0")
	}
	return nil
}

// Synthesize renders a mono body IR according to cfg.
func Synthesize(cfg Config) ([]float32, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	n := int(math.Round(cfg.DurationS * float64(cfg.SampleRate)))
	if n < 1 {
		n = 1
	}
	buf := make([]float64, n)
	buf[0] += cfg.DirectLevel

	rng := rand.New(rand.NewSource(cfg.Seed))
	sr := float64(cfg.SampleRate)
	freqs := plateFrequencies(cfg.FundamentalHz, 0.47*sr, cfg.Modes, cfg.PlateRatio)

	logCrossover := math.Log(cfg.CrossoverHz)
	brightnessExp := 0.7 + 0.9*cfg.Brightness
	mode := osc.NewDampedWaveguide(float32(cfg.SampleRate))
	for _, f := range freqs {
		amp := 0.9 / math.Pow(1.0+f/120.0, brightnessExp)
		amp *= 0.7 + 0.6*rng.Float64()
		if rng.Intn(2) == 0 {
			amp = -amp
		}

		blend := 1.0 / (1.0 + math.Exp(-3.0*(math.Log(f)-logCrossover)))
		tau := cfg.LowDecayS*(1.0-blend) + cfg.HighDecayS*blend

		mode.SetFrequency(0)
		mode.SetFrequency(float32(f))
		mode.SetDecay(float32(1 / (2 * math.Pi * tau)))
		for i := range buf {
			buf[i] += amp * float64(mode.Tick())
		}
	}

	highpassDC(buf, 0.995)
	applyFadeOut(buf, cfg.FadeOutS, cfg.SampleRate)

	peak := maxAbs(buf)
	if peak < 1e-12 {
		peak = 1e-12
	}
	s := cfg.NormalizePeak / peak
	out := make([]float32, n)
	for i := range buf {
		out[i] = float32(buf[i] * s)
	}
	return out, nil
}

// plateFrequencies returns up to maxModes plate mode frequencies in
// [f11, maxF], ascending.
func plateFrequencies(f11, maxF float64, maxModes int, ratio float64) []float64 {
	eig := pdefd.Eigenvalues(gridPoints, math.Pi/float64(gridPoints+1), pdepoisson.Dirichlet)
	mu := make([]float64, len(eig))
	for i, v := range eig {
		mu[i] = v / eig[0]
	}
	r2 := ratio * ratio
	norm := 1 + r2

	freqs := make([]float64, 0, maxModes)
	for i := range mu {
		if f11*(mu[i]+r2)/norm > maxF {
			break
		}
		for j := range mu {
			f := f11 * (mu[i] + r2*mu[j]) / norm
			if f > maxF {
				break // mu is ascending
			}
			freqs = append(freqs, f)
		}
	}

	sort.Float64s(freqs)
	if len(freqs) > maxModes {
		freqs = freqs[:maxModes]
	}
	return freqs
}

func highpassDC(x []float64, r float64) {
	prevIn := 0.0
	prevOut := 0.0
	for i := range x {
		y := x[i] - prevIn + r*prevOut
		prevIn = x[i]
		prevOut = y
		x[i] = y
	}
}

// applyFadeOut applies a cosine fade-out to the last fadeS seconds of buf.
func applyFadeOut(buf []float64, fadeS float64, sampleRate int) {
	if fadeS <= 0 || len(buf) == 0 {
		return
	}
	fadeSamples := int(math.Round(fadeS * float64(sampleRate)))
	if fadeSamples > len(buf) {
		fadeSamples = len(buf)
	}
	start := len(buf) - fadeSamples
	for i := 0; i < fadeSamples; i++ {
		t := float64(i) / float64(fadeSamples)
		buf[start+i] *= 0.5 * (1.0 + math.Cos(t*math.Pi))
	}
}

func maxAbs(x []float64) float64 {
	m := 0.0
	for _, v := range x {
		if a := math.Abs(v); a > m {
			m = a
		}
	}
	return m
}
