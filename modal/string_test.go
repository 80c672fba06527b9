package modal

import (
	"errors"
	"fmt"
	"math"
	"testing"

	pdefd "github.com/cwbudde/algo-pde/fd"
	pdepoisson "github.com/cwbudde/algo-pde/poisson"

	"github.com/cwbudde/algo-stiffstring/mempool"
	"github.com/cwbudde/algo-stiffstring/osc"
)

func TestInitRejectsBadArguments(t *testing.T) {
	if _, err := New[osc.Cycle](48000, 0); !errors.Is(err, ErrNoModes) {
		t.Fatalf("0 modes: got %v, want ErrNoModes", err)
	}
	if _, err := New[osc.Cycle](48000, -3); !errors.Is(err, ErrNoModes) {
		t.Fatalf("-3 modes: got %v, want ErrNoModes", err)
	}
	if _, err := New[osc.Cycle](48000, MaxModes+1); !errors.Is(err, ErrTooManyModes) {
		t.Fatalf("%d modes: got %v, want ErrTooManyModes", MaxModes+1, err)
	}
	for _, sr := range []float32{0, -44100, float32(math.NaN())} {
		if _, err := New[osc.Cycle](sr, 10); !errors.Is(err, ErrSampleRate) {
			t.Fatalf("sample rate %v: got %v, want ErrSampleRate", sr, err)
		}
	}

	s := newTestString(t, 48000, 10)
	if err := s.Init(48000, 11); !errors.Is(err, ErrCapacity) {
		t.Fatalf("growing past capacity: got %v, want ErrCapacity", err)
	}
	if err := s.Init(44100, 5); err != nil {
		t.Fatalf("shrinking: %v", err)
	}
	if s.NumModes() != 5 || s.Capacity() != 10 {
		t.Fatalf("modes=%d capacity=%d, want 5 and 10", s.NumModes(), s.Capacity())
	}
	if s.SampleRate() != 44100 {
		t.Fatalf("sample rate=%v, want 44100", s.SampleRate())
	}
}

func TestMaxModesAccepted(t *testing.T) {
	s := newTestString(t, 48000, MaxModes)
	if s.NumModes() != MaxModes {
		t.Fatalf("modes=%d, want %d", s.NumModes(), MaxModes)
	}
}

func TestInitClearsAmplitudes(t *testing.T) {
	s := newTestString(t, 48000, 20)
	s.SetFrequency(220)
	s.SetInitialAmplitudes()
	if s.Energy() == 0 {
		t.Fatal("pluck produced no energy")
	}
	if err := s.Init(48000, 20); err != nil {
		t.Fatal(err)
	}
	if s.Energy() != 0 {
		t.Fatalf("energy after Init=%v, want 0", s.Energy())
	}
	if s.Frequency() != 220 || s.ModeFrequency(0) == 0 {
		t.Fatalf("Init lost the fundamental: f=%v mode0=%v", s.Frequency(), s.ModeFrequency(0))
	}
}

func TestDefaults(t *testing.T) {
	s := newTestString(t, 48000, 4)
	if s.Stiffness() != DefaultStiffness || s.PluckPosition() != DefaultPluckPosition ||
		s.PickupPosition() != DefaultPickupPosition || s.Decay() != DefaultDecay ||
		s.DecayHighFreq() != DefaultDecayHighFreq {
		t.Fatalf("unexpected defaults: %v %v %v %v %v",
			s.Stiffness(), s.PluckPosition(), s.PickupPosition(), s.Decay(), s.DecayHighFreq())
	}
}

func TestOutputWeightsFollowPickup(t *testing.T) {
	s := newTestString(t, 48000, 12)
	for i := 0; i < 12; i++ {
		want := float32(math.Sin(float64(i+1) * 0.3 * math.Pi / 2))
		if got := s.OutputWeight(i); math.Abs(float64(got-want)) > 1e-6 {
			t.Fatalf("weight[%d]=%v, want %v", i, got, want)
		}
	}

	s.SetPickupPosition(1)
	for i := 1; i < 12; i += 2 {
		if got := s.OutputWeight(i); math.Abs(float64(got)) > 1e-6 {
			t.Fatalf("even mode %d weight=%v at centre pickup, want 0", i+1, got)
		}
	}
	if s.OutputWeight(-1) != 0 || s.OutputWeight(12) != 0 {
		t.Fatal("out-of-range weight should be 0")
	}
}

func TestHarmonicModesWithoutStiffness(t *testing.T) {
	s := newTestString(t, 48000, 30)
	s.SetStiffness(0)
	s.SetDecay(0)
	s.SetDecayHighFreq(0)
	s.SetFrequency(100)
	for i := 0; i < 30; i++ {
		want := float64(100 * (i + 1))
		if got := float64(s.ModeFrequency(i)); math.Abs(got-want) > 1e-3 {
			t.Fatalf("mode %d freq=%v, want %v", i+1, got, want)
		}
	}
}

func TestModeRatioMatchesDiscreteBeamEigenvalues(t *testing.T) {
	// Second-difference eigenvalues of a Dirichlet string, normalized so the
	// first is 1, approach n^2. The stiff-string dispersion curve built on
	// them must agree with ModeRatio for low modes.
	const points = 2048
	h := math.Pi / float64(points+1)
	eig := pdefd.Eigenvalues(points, h, pdepoisson.Dirichlet)
	if len(eig) != points {
		t.Fatalf("eigenvalue count=%d, want %d", len(eig), points)
	}
	base := eig[0]

	for _, kappa := range []float32{0, 0.001, 0.01, 0.05} {
		t.Run(fmt.Sprintf("Stiffness%g", kappa), func(t *testing.T) {
			k := float64(kappa)
			for n := 1; n <= 20; n++ {
				mu := eig[n-1] / base
				want := math.Sqrt(mu + k*k*mu*mu)
				got := ModeRatio(n, kappa, 0, 0)
				if rel := math.Abs(got-want) / want; rel > 1e-3 {
					t.Fatalf("mode %d: ratio=%v, discrete=%v (rel err %.2e)", n, got, want, rel)
				}
			}
		})
	}
}

func TestModeRatioStretchesWithStiffness(t *testing.T) {
	prev := 0.0
	for n := 1; n <= 50; n++ {
		r := ModeRatio(n, 0.01, 0, 0)
		if r <= float64(n) && n > 1 {
			t.Fatalf("mode %d ratio=%v not above harmonic", n, r)
		}
		if r-prev <= 0 {
			t.Fatalf("mode %d ratio=%v not increasing (prev %v)", n, r, prev)
		}
		prev = r
	}
}

func TestOverdampedModesReturnZero(t *testing.T) {
	if r := ModeRatio(10, 0, 0, 0.1); r != 0 {
		t.Fatalf("overdamped ratio=%v, want 0", r)
	}
	if r := ModeRatio(1, 0, 0.5, 0); r <= 0 || r >= 1 {
		t.Fatalf("underdamped ratio=%v, want in (0,1)", r)
	}
	if r := ModeRatio(0, 0.001, 0, 0); r != 0 {
		t.Fatalf("mode 0 ratio=%v, want 0", r)
	}
}

func TestPluckSpectrum(t *testing.T) {
	x0 := 0.2 * math.Pi / 2
	for n := 1; n <= 8; n++ {
		nf := float64(n)
		want := 2 * math.Sin(x0*nf) / (nf * nf * x0 * (math.Pi - x0))
		if got := PluckSpectrum(n, 0.2); math.Abs(float64(got)-want) > 1e-6 {
			t.Fatalf("mode %d amp=%v, want %v", n, got, want)
		}
	}
	if got := PluckSpectrum(1, 0); got != 0 {
		t.Fatalf("pluck at end amp=%v, want 0", got)
	}
	if got := PluckSpectrum(1, 2); got != 0 {
		t.Fatalf("pluck at far end amp=%v, want 0", got)
	}
}

func TestCentrePluckNullsEvenModes(t *testing.T) {
	s := newTestString(t, 48000, 40)
	s.SetPluckPosition(1)
	s.SetInitialAmplitudes()
	for i := 0; i < 40; i++ {
		a := math.Abs(float64(s.Amplitude(i)))
		if (i+1)%2 == 0 && a > 1e-6 {
			t.Fatalf("even mode %d amp=%v at centre pluck", i+1, a)
		}
		if (i+1)%2 == 1 && a < 1e-6 {
			t.Fatalf("odd mode %d amp=%v at centre pluck", i+1, a)
		}
	}

	s.SetPluckPosition(0.5)
	s.SetInitialAmplitudes()
	for i := 3; i < 40; i += 4 {
		if a := math.Abs(float64(s.Amplitude(i))); a > 1e-6 {
			t.Fatalf("mode %d amp=%v at quarter pluck", i+1, a)
		}
	}
}

func TestAmplitudesNeverGrow(t *testing.T) {
	for _, freq := range []float32{220, -220, 0, 30000} {
		t.Run(fmt.Sprintf("Freq%g", freq), func(t *testing.T) {
			s := newTestString(t, 48000, 60)
			s.SetDecay(0.002)
			s.SetFrequency(freq)
			s.SetInitialAmplitudes()
			prev := make([]float32, 60)
			for i := range prev {
				prev[i] = s.Amplitude(i)
			}
			lastEnergy := s.Energy()
			for n := 0; n < 5000; n++ {
				s.Tick()
				for i := range prev {
					a := s.Amplitude(i)
					if math.Abs(float64(a)) > math.Abs(float64(prev[i])) {
						t.Fatalf("tick %d mode %d: |%v| > |%v|", n, i+1, a, prev[i])
					}
					if a != 0 && math.Signbit(float64(a)) != math.Signbit(float64(prev[i])) {
						t.Fatalf("tick %d mode %d flipped sign", n, i+1)
					}
					prev[i] = a
				}
				e := s.Energy()
				if e > lastEnergy {
					t.Fatalf("tick %d: energy rose %v -> %v", n, lastEnergy, e)
				}
				lastEnergy = e
			}
		})
	}
}

func TestHugeDecayClampsToSilence(t *testing.T) {
	s := newTestString(t, 48000, 8)
	s.SetDecay(1000)
	s.SetFrequency(20000)
	s.SetInitialAmplitudes()
	s.Tick()
	for i := 0; i < 8; i++ {
		if a := s.Amplitude(i); a != 0 {
			t.Fatalf("mode %d amp=%v after clamped decay, want 0", i+1, a)
		}
	}
	if got := s.State(); got != Idle {
		t.Fatalf("state=%v, want idle", got)
	}
}

func TestDecayAppliesImmediately(t *testing.T) {
	s := newTestString(t, 48000, 4)
	s.SetFrequency(440)
	s.SetInitialAmplitudes()
	before := s.ModeFrequency(0)
	s.SetDecay(0.01)
	if s.ModeFrequency(0) != before {
		t.Fatal("decay change moved mode before Retune")
	}
	a0 := s.Amplitude(0)
	s.Tick()
	want := a0 * modeDecay(1, 440, 48000, 0.01, DefaultDecayHighFreq)
	if got := s.Amplitude(0); math.Abs(float64(got-want)) > 1e-7 {
		t.Fatalf("amp after tick=%v, want %v", got, want)
	}
	s.Retune()
	if s.ModeFrequency(0) == before {
		t.Fatal("Retune did not apply decay to mode placement")
	}
}

func TestStiffnessWaitsForRetune(t *testing.T) {
	s := newTestString(t, 48000, 10)
	s.SetFrequency(200)
	before := s.ModeFrequency(9)
	s.SetStiffness(0.05)
	if s.ModeFrequency(9) != before {
		t.Fatalf("stiffness moved mode 10 before Retune: %v -> %v", before, s.ModeFrequency(9))
	}
	s.Retune()
	if s.ModeFrequency(9) <= before {
		t.Fatalf("mode 10 after Retune=%v, want above %v", s.ModeFrequency(9), before)
	}
}

func TestModesAboveNyquistAreSilent(t *testing.T) {
	s := newTestString(t, 8000, 10)
	s.SetFrequency(1000)
	s.SetInitialAmplitudes()
	if got := s.ActiveModes(); got != 3 {
		t.Fatalf("active modes=%d, want 3", got)
	}
	out := renderString(s, 4000)
	for i, v := range out {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Fatalf("sample %d not finite: %v", i, v)
		}
	}
	// Only the three audible modes contribute.
	for _, hz := range []float64{1000, 2000, 3000} {
		peak := findPeakNear(out, 8000, hz, 20)
		if math.Abs(peak-hz) > 4 {
			t.Fatalf("partial near %v Hz found at %v", hz, peak)
		}
	}
}

func TestOverdampedModesInactive(t *testing.T) {
	s := newTestString(t, 48000, 20)
	s.SetDecayHighFreq(0.2)
	s.SetFrequency(100)
	if got := s.ActiveModes(); got >= 20 || got == 0 {
		t.Fatalf("active modes=%d, want some but not all", got)
	}
	for i := 0; i < 20; i++ {
		if ModeRatio(i+1, s.Stiffness(), s.Decay(), s.DecayHighFreq()) == 0 && s.ModeFrequency(i) != 0 {
			t.Fatalf("overdamped mode %d placed at %v", i+1, s.ModeFrequency(i))
		}
	}
}

func TestZeroFrequencyIsSilent(t *testing.T) {
	s := newTestString(t, 48000, 16)
	s.SetFrequency(0)
	s.SetInitialAmplitudes()
	for i, v := range renderString(s, 256) {
		if v != 0 {
			t.Fatalf("sample %d=%v at 0 Hz, want 0", i, v)
		}
	}
}

func TestStateTransitions(t *testing.T) {
	var zero CycleString
	if zero.State() != Uninitialized {
		t.Fatalf("zero value state=%v", zero.State())
	}

	s := newTestString(t, 48000, 30)
	if s.State() != Idle {
		t.Fatalf("fresh state=%v, want idle", s.State())
	}
	s.SetFrequency(220)
	s.SetInitialAmplitudes()
	if s.State() != Ringing {
		t.Fatalf("plucked state=%v, want ringing", s.State())
	}
	s.SetDecay(0.5)
	renderString(s, 10000)
	if s.State() != Idle {
		t.Fatalf("decayed state=%v, want idle", s.State())
	}
	if Ringing.String() != "ringing" || State(9).String() != "unknown" {
		t.Fatal("unexpected State strings")
	}
}

func TestPluckedStringScenario(t *testing.T) {
	const sr = 48000
	s := newTestString(t, sr, 60)
	s.SetPluckPosition(0.2)
	s.SetPickupPosition(0.3)
	s.SetFrequency(220)
	s.SetInitialAmplitudes()

	out := renderString(s, sr)

	idx, peak := peakIndex(out)
	if idx > 700 {
		t.Fatalf("peak at sample %d, want within the first few hundred", idx)
	}
	var bound float64
	for i := 0; i < 60; i++ {
		bound += math.Abs(float64(s.OutputWeight(i)) * float64(PluckSpectrum(i+1, 0.2)))
	}
	if peak < 0.05 || peak > bound+1e-3 {
		t.Fatalf("peak=%v, want in [0.05, %v]", peak, bound)
	}

	f0 := findPeakNear(out, sr, 220, 20)
	if math.Abs(f0-220) > 1 {
		t.Fatalf("fundamental=%v Hz, want 220", f0)
	}

	const window = sr / 10
	prev := math.Inf(1)
	for w := 0; w+window <= len(out); w += window {
		rms := windowRMS(out[w : w+window])
		if rms > prev*1.02 {
			t.Fatalf("window %d rms=%v rose above %v", w/window, rms, prev)
		}
		prev = rms
	}
	if first, last := windowRMS(out[:window]), windowRMS(out[len(out)-window:]); last >= first*0.9 {
		t.Fatalf("no decay: first=%v last=%v", first, last)
	}
}

func TestStiffnessRaisesUpperPartial(t *testing.T) {
	const sr = 48000
	s := newTestString(t, sr, 20)
	s.SetStiffness(0.01)
	s.SetPickupPosition(0.5)
	s.SetFrequency(200)
	s.SetInitialAmplitudes()
	out := renderString(s, sr)

	want := 200 * ModeRatio(7, 0.01, DefaultDecay, DefaultDecayHighFreq)
	got := findPeakNear(out, sr, 1405, 15)
	if math.Abs(got-want) > 1.5 {
		t.Fatalf("7th partial at %v Hz, want %v", got, want)
	}
	if got < 1402 {
		t.Fatalf("7th partial %v Hz not stretched above harmonic 1400", got)
	}
}

func TestOscillatorKindsAgree(t *testing.T) {
	setup := func(s interface {
		SetDecay(float32)
		SetDecayHighFreq(float32)
		SetFrequency(float32)
		SetInitialAmplitudes()
	}) {
		s.SetDecay(0)
		s.SetDecayHighFreq(0)
		s.SetFrequency(220)
		s.SetInitialAmplitudes()
	}

	cyc, err := New[osc.Cycle](48000, 40)
	if err != nil {
		t.Fatal(err)
	}
	wg, err := New[osc.Waveguide](48000, 40)
	if err != nil {
		t.Fatal(err)
	}
	dw, err := New[osc.DampedWaveguide](48000, 40)
	if err != nil {
		t.Fatal(err)
	}
	setup(cyc)
	setup(wg)
	setup(dw)

	// Lossless strings: the damped resonators run undamped.
	for i := 0; i < 2000; i++ {
		a, b, c := cyc.Tick(), wg.Tick(), dw.Tick()
		if math.Abs(float64(a-b)) > 1e-3 {
			t.Fatalf("sample %d: cycle=%v waveguide=%v", i, a, b)
		}
		if b != c {
			t.Fatalf("sample %d: waveguide=%v damped=%v", i, b, c)
		}
	}
}

func TestDampedModesDecayInLoop(t *testing.T) {
	const (
		sr    = 48000
		decay = 0.005
		f0    = 220
	)
	dw, err := New[osc.DampedWaveguide](sr, 20)
	if err != nil {
		t.Fatal(err)
	}
	dw.SetDecay(decay)
	dw.SetDecayHighFreq(0)
	dw.SetFrequency(f0)
	for i := 0; i < 20; i++ {
		if d := dw.modes[i].Decay(); d >= 1 {
			t.Fatalf("mode %d loop decay=%v, want < 1", i+1, d)
		}
	}

	wg, err := New[osc.Waveguide](sr, 20)
	if err != nil {
		t.Fatal(err)
	}
	wg.SetDecay(decay)
	wg.SetDecayHighFreq(0)
	wg.SetFrequency(f0)

	dw.SetInitialAmplitudes()
	wg.SetInitialAmplitudes()
	const window = 2400
	const skip = 19200
	damped0, plain0 := windowRMS(renderString(dw, window)), windowRMS(renderString(wg, window))
	renderString(dw, skip)
	renderString(wg, skip)
	damped1, plain1 := windowRMS(renderString(dw, window)), windowRMS(renderString(wg, window))

	// Both envelopes fall as exp(-2*pi*decay*f0*t).
	want := math.Exp(-2 * math.Pi * decay * f0 * float64(window+skip) / sr)
	if r := damped1 / damped0; math.Abs(r-want)/want > 0.05 {
		t.Fatalf("damped envelope ratio=%v, want %v", r, want)
	}
	if r := damped1 / plain1; math.Abs(r-1) > 0.02 {
		t.Fatalf("damped/plain late RMS=%v, want ~1", r)
	}
	if r := damped0 / plain0; math.Abs(r-1) > 0.01 {
		t.Fatalf("damped/plain early RMS=%v, want ~1", r)
	}

	// The tracked envelope follows the loop and reaches silence.
	renderString(dw, 3*sr)
	if got := dw.State(); got != Idle {
		t.Fatalf("state=%v after 3s, want idle", got)
	}
	if _, p := peakIndex(renderString(dw, window)); p > 1e-4 {
		t.Fatalf("output peak %v after envelope went idle", p)
	}
}

func TestDampedReplucksAfterDecay(t *testing.T) {
	dw, err := New[osc.DampedWaveguide](48000, 10)
	if err != nil {
		t.Fatal(err)
	}
	dw.SetDecay(0.05)
	dw.SetFrequency(220)
	dw.SetInitialAmplitudes()
	first := windowRMS(renderString(dw, 2400))
	renderString(dw, 48000)
	dw.SetInitialAmplitudes()
	again := windowRMS(renderString(dw, 2400))
	if math.Abs(again-first)/first > 0.01 {
		t.Fatalf("repluck RMS=%v, first pluck %v", again, first)
	}
}

func TestPoolBackedMatchesHeap(t *testing.T) {
	pool, err := mempool.New(make([]byte, 64<<10))
	if err != nil {
		t.Fatal(err)
	}
	pooled, err := NewFromPool[osc.Waveguide](pool, 48000, 50)
	if err != nil {
		t.Fatalf("NewFromPool: %v", err)
	}
	if pool.Used() == 0 {
		t.Fatal("pool-backed string used no pool memory")
	}
	heap, err := New[osc.Waveguide](48000, 50)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range []*WaveguideString{pooled, heap} {
		s.SetFrequency(330)
		s.SetInitialAmplitudes()
	}
	for i := 0; i < 2000; i++ {
		if a, b := pooled.Tick(), heap.Tick(); a != b {
			t.Fatalf("sample %d: pooled=%v heap=%v", i, a, b)
		}
	}

	if err := pooled.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if pool.Used() != 0 {
		t.Fatalf("pool used=%d after Release, want 0", pool.Used())
	}
	if err := heap.Release(); err != nil {
		t.Fatalf("heap Release: %v", err)
	}
}

func TestPoolTooSmall(t *testing.T) {
	pool, err := mempool.New(make([]byte, 512))
	if err != nil {
		t.Fatal(err)
	}
	_, err = NewFromPool[osc.Cycle](pool, 48000, 100)
	if !errors.Is(err, mempool.ErrOverrun) {
		t.Fatalf("got %v, want ErrOverrun", err)
	}
	if pool.Used() != 0 {
		t.Fatalf("pool used=%d after failed construction, want 0", pool.Used())
	}

	_, err = NewFromPool[osc.Cycle](pool, 0, 4)
	if !errors.Is(err, ErrSampleRate) {
		t.Fatalf("got %v, want ErrSampleRate", err)
	}
	if pool.Used() != 0 {
		t.Fatalf("pool used=%d after bad sample rate, want 0", pool.Used())
	}
}

func BenchmarkCycleStringTick(b *testing.B) {
	s, err := New[osc.Cycle](48000, 200)
	if err != nil {
		b.Fatal(err)
	}
	s.SetDecay(0)
	s.SetDecayHighFreq(0)
	s.SetFrequency(110)
	s.SetInitialAmplitudes()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Tick()
	}
}

func BenchmarkWaveguideStringTick(b *testing.B) {
	s, err := New[osc.Waveguide](48000, 200)
	if err != nil {
		b.Fatal(err)
	}
	s.SetDecay(0)
	s.SetDecayHighFreq(0)
	s.SetFrequency(110)
	s.SetInitialAmplitudes()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Tick()
	}
}
