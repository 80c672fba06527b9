package osc

import (
	"fmt"
	"math"
	"testing"
)

func peakAbs(samples []float32) float64 {
	m := 0.0
	for _, s := range samples {
		if a := math.Abs(float64(s)); a > m {
			m = a
		}
	}
	return m
}

func render(m Mode, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = m.Tick()
	}
	return out
}

func upwardCrossings(samples []float32) int {
	n := 0
	for i := 1; i < len(samples); i++ {
		if samples[i-1] < 0 && samples[i] >= 0 {
			n++
		}
	}
	return n
}

func TestWaveguideUnitAmplitudeOverLongRun(t *testing.T) {
	w := NewWaveguide(48000)
	w.SetFrequency(440)

	peak := 0.0
	lastPeriod := 0.0
	const total = 1_000_000
	for i := 0; i < total; i++ {
		v := math.Abs(float64(w.Tick()))
		if v > peak {
			peak = v
		}
		if i >= total-110 && v > lastPeriod {
			lastPeriod = v
		}
	}
	if peak > 1.001 {
		t.Fatalf("peak amplitude = %f, want <= 1", peak)
	}
	if lastPeriod < 0.99 {
		t.Fatalf("amplitude after %d ticks = %f, want ~1", total, lastPeriod)
	}
}

func TestWaveguideFrequencyAccuracy(t *testing.T) {
	const sampleRate = 48000
	for _, f := range []float32{55, 220, 440, 1760} {
		t.Run(fmt.Sprintf("%gHz", f), func(t *testing.T) {
			w := NewWaveguide(sampleRate)
			w.SetFrequency(f)
			got := upwardCrossings(render(w, sampleRate))
			if d := math.Abs(float64(got) - float64(f)); d > 1 {
				t.Fatalf("crossings per second = %d, want %g", got, f)
			}
		})
	}
}

func TestWaveguideRetuneIsContinuous(t *testing.T) {
	const sampleRate = 48000
	w := NewWaveguide(sampleRate)
	w.SetFrequency(440)
	render(w, 1013)
	_, before := w.State()

	w.SetFrequency(660)
	after := float64(w.Tick())
	maxStep := 1.05 * 2 * math.Sin(math.Pi*660/sampleRate)
	if d := math.Abs(after - before); d > maxStep {
		t.Fatalf("output jumped by %f across retune (max %f)", d, maxStep)
	}

	if p := peakAbs(render(w, sampleRate/10)); math.Abs(p-1) > 0.01 {
		t.Fatalf("amplitude after retune = %f, want ~1", p)
	}
}

func TestWaveguideToggledFrequencyStaysBounded(t *testing.T) {
	const sampleRate = 1000
	w := NewWaveguide(sampleRate)
	freq := float32(100)
	w.SetFrequency(freq)
	for sec := 0; sec < 10; sec++ {
		if p := peakAbs(render(w, sampleRate)); p > 1.001 {
			t.Fatalf("second %d at %g Hz: peak %f", sec, freq, p)
		}
		x, y := w.State()
		amp := math.Sqrt(x*x/(w.turnsRatio*w.turnsRatio) + y*y)
		if math.Abs(amp-1) > 1e-3 {
			t.Fatalf("second %d at %g Hz: amplitude %f, want 1", sec, freq, amp)
		}
		if freq == 100 {
			freq = 200
		} else {
			freq = 100
		}
		w.SetFrequency(freq)
	}
}

func TestWaveguideZeroFrequencyThenTone(t *testing.T) {
	w := NewWaveguide(48000)
	w.SetFrequency(0)
	if p := peakAbs(render(w, 64)); p != 0 {
		t.Fatalf("0 Hz output peak = %f, want silence", p)
	}
	w.SetFrequency(220)
	out := render(w, 4800)
	for i, v := range out {
		if math.IsNaN(float64(v)) {
			t.Fatalf("NaN at sample %d", i)
		}
	}
	if p := peakAbs(out); math.Abs(p-1) > 0.01 {
		t.Fatalf("peak after restart = %f, want ~1", p)
	}
}

func TestWaveguideNearNyquistStaysFinite(t *testing.T) {
	w := NewWaveguide(48000)
	w.SetFrequency(30000)
	for i, v := range render(w, 1024) {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Fatalf("sample %d not finite: %f", i, v)
		}
	}
}

func TestDampedWaveguideWithoutDecayMatchesUndamped(t *testing.T) {
	plain := NewWaveguide(48000)
	damped := NewDampedWaveguide(48000)
	plain.SetFrequency(523.25)
	damped.SetFrequency(523.25)
	for i := 0; i < 10000; i++ {
		a, b := plain.Tick(), damped.Tick()
		if a != b {
			t.Fatalf("sample %d: undamped %f damped %f", i, a, b)
		}
	}
}

func TestDampedWaveguideDecayIndependentOfFrequency(t *testing.T) {
	const sampleRate = 48000
	const decayHz = 0.5
	want := math.Exp(-2 * math.Pi * decayHz)

	for _, f := range []float32{500, 1000, 2000} {
		t.Run(fmt.Sprintf("%gHz", f), func(t *testing.T) {
			d := NewDampedWaveguide(sampleRate)
			d.SetFrequency(f)
			d.SetDecay(decayHz)
			period := int(sampleRate/f) + 1
			first := peakAbs(render(d, period))
			render(d, sampleRate-2*period)
			last := peakAbs(render(d, period))
			ratio := last / first
			if math.Abs(ratio-want)/want > 0.1 {
				t.Fatalf("envelope ratio after 1s = %f, want %f", ratio, want)
			}
		})
	}
}

func TestDampedWaveguideDecayFactor(t *testing.T) {
	d := NewDampedWaveguide(48000)
	if d.Decay() != 1 {
		t.Fatalf("default decay = %f, want 1", d.Decay())
	}
	d.SetDecay(10)
	r := math.Exp(-10 * 2 * math.Pi / 48000)
	if math.Abs(d.Decay()-r*r) > 1e-12 {
		t.Fatalf("decay = %.12f, want %.12f", d.Decay(), r*r)
	}
	d.SetSampleRate(96000)
	r = math.Exp(-10 * 2 * math.Pi / 96000)
	if math.Abs(d.Decay()-r*r) > 1e-12 {
		t.Fatalf("decay after rate change = %.12f, want %.12f", d.Decay(), r*r)
	}
}

func TestModeImplementations(t *testing.T) {
	for name, m := range map[string]Mode{
		"cycle":  NewCycle(48000),
		"plain":  NewWaveguide(48000),
		"damped": NewDampedWaveguide(48000),
	} {
		m.SetFrequency(1000)
		if p := peakAbs(render(m, 480)); math.Abs(p-1) > 0.01 {
			t.Fatalf("%s: peak %f, want ~1", name, p)
		}
	}
}

func BenchmarkWaveguideTick(b *testing.B) {
	w := NewWaveguide(48000)
	w.SetFrequency(440)
	var sink float32
	for i := 0; i < b.N; i++ {
		sink += w.Tick()
	}
	_ = sink
}
