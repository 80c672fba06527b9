// Package modal implements a stiff plucked string as a bank of independent
// sinusoidal modes. Mode frequencies follow the stiff-string dispersion
// relation, initial amplitudes follow the spectrum of a point pluck, and
// each mode is weighted by the string shape at the pickup.
//
// A String is not safe for concurrent use. Parameter changes from a control
// thread should go through synth.Voice.
package modal

import (
	"errors"
	"fmt"
	"math"

	dspcore "github.com/cwbudde/algo-dsp/dsp/core"

	"github.com/cwbudde/algo-stiffstring/mempool"
	"github.com/cwbudde/algo-stiffstring/osc"
)

// MaxModes is the largest supported mode count.
const MaxModes = 400

// Default parameter values.
const (
	DefaultStiffness      = 0.001
	DefaultPluckPosition  = 0.2
	DefaultPickupPosition = 0.3
	DefaultDecay          = 0.0001
	DefaultDecayHighFreq  = 0.0003
)

// silenceThreshold separates Ringing from Idle.
const silenceThreshold = 1e-5

var (
	// ErrTooManyModes indicates a mode count above MaxModes.
	ErrTooManyModes = fmt.Errorf("modal: mode count exceeds %d", MaxModes)
	// ErrNoModes indicates a mode count below 1.
	ErrNoModes = errors.New("modal: mode count must be >= 1")
	// ErrCapacity indicates a mode count above the storage fixed at construction.
	ErrCapacity = errors.New("modal: mode count exceeds storage capacity")
	// ErrSampleRate indicates a non-positive sample rate.
	ErrSampleRate = errors.New("modal: sample rate must be > 0")
)

// State is the coarse lifecycle state of a String.
type State int

const (
	Uninitialized State = iota
	Idle
	Ringing
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Idle:
		return "idle"
	case Ringing:
		return "ringing"
	default:
		return "unknown"
	}
}

// ModePtr is satisfied by pointers to oscillator types usable as modes.
type ModePtr[M any] interface {
	*M
	osc.Mode
}

// resonator is a mode that decays inside its own loop. Strings built on
// one hand the per-mode decay rate to the oscillator and restart it on
// each pluck.
type resonator interface {
	SetDecay(decayHz float32)
	Reset()
}

// String is the modal string engine, generic over the oscillator type.
//
// For resonator modes amp tracks the envelope the oscillator produces and
// level holds the plucked amplitude; for plain modes amp drives the output.
type String[M any, PM ModePtr[M]] struct {
	sampleRate float32
	numModes   int
	ready      bool
	resonant   bool

	freq      float32
	stiffness float32
	pluck     float32
	pickup    float32
	decay     float32
	decayHF   float32

	amp      []float32 // current amplitude per mode
	weight   []float32 // pickup shape per mode
	gain     []float32 // weight, or 0 for modes that cannot sound
	damp     []float32 // per-sample amplitude factor
	level    []float32 // plucked amplitude of resonator modes
	modeFreq []float32
	modes    []M

	pool    *mempool.Pool
	handles [7]mempool.Handle
}

// CycleString uses wavetable sine oscillators for its modes.
type CycleString = String[osc.Cycle, *osc.Cycle]

// WaveguideString uses waveguide resonators for its modes.
type WaveguideString = String[osc.Waveguide, *osc.Waveguide]

// DampedString uses damped waveguide resonators for its modes.
type DampedString = String[osc.DampedWaveguide, *osc.DampedWaveguide]

// New creates a string with heap storage for numModes modes and initializes
// it at sampleRate.
func New[M any, PM ModePtr[M]](sampleRate float32, numModes int) (*String[M, PM], error) {
	if err := checkModeCount(numModes); err != nil {
		return nil, err
	}
	s := newString[M, PM]()
	s.amp = make([]float32, numModes)
	s.weight = make([]float32, numModes)
	s.gain = make([]float32, numModes)
	s.damp = make([]float32, numModes)
	s.level = make([]float32, numModes)
	s.modeFreq = make([]float32, numModes)
	s.modes = make([]M, numModes)
	if err := s.Init(sampleRate, numModes); err != nil {
		return nil, err
	}
	return s, nil
}

// NewFromPool creates a string whose mode storage lives in pool. Call
// Release to return it.
func NewFromPool[M any, PM ModePtr[M]](pool *mempool.Pool, sampleRate float32, numModes int) (*String[M, PM], error) {
	if err := checkModeCount(numModes); err != nil {
		return nil, err
	}
	s := newString[M, PM]()
	s.pool = pool

	var err error
	arrays := []*[]float32{&s.amp, &s.weight, &s.gain, &s.damp, &s.level, &s.modeFreq}
	for i, dst := range arrays {
		*dst, s.handles[i], err = mempool.AllocSlice[float32](pool, numModes)
		if err != nil {
			_ = s.Release()
			return nil, fmt.Errorf("modal: allocate mode storage: %w", err)
		}
	}
	s.modes, s.handles[len(arrays)], err = mempool.AllocSlice[M](pool, numModes)
	if err != nil {
		_ = s.Release()
		return nil, fmt.Errorf("modal: allocate oscillators: %w", err)
	}

	if err := s.Init(sampleRate, numModes); err != nil {
		_ = s.Release()
		return nil, err
	}
	return s, nil
}

func newString[M any, PM ModePtr[M]]() *String[M, PM] {
	_, resonant := any(PM(new(M))).(resonator)
	return &String[M, PM]{
		resonant:  resonant,
		stiffness: DefaultStiffness,
		pluck:     DefaultPluckPosition,
		pickup:    DefaultPickupPosition,
		decay:     DefaultDecay,
		decayHF:   DefaultDecayHighFreq,
	}
}

// Release returns pool-backed storage to its pool. The string is unusable
// afterwards. It is a no-op for heap-backed strings.
func (s *String[M, PM]) Release() error {
	if s.pool == nil {
		return nil
	}
	var errs []error
	for i, h := range s.handles {
		if h != 0 {
			errs = append(errs, s.pool.Free(h))
			s.handles[i] = 0
		}
	}
	s.amp, s.weight, s.gain, s.damp, s.level, s.modeFreq, s.modes = nil, nil, nil, nil, nil, nil, nil
	s.numModes = 0
	s.ready = false
	s.pool = nil
	return errors.Join(errs...)
}

func checkModeCount(n int) error {
	switch {
	case n < 1:
		return fmt.Errorf("%w: got %d", ErrNoModes, n)
	case n > MaxModes:
		return fmt.Errorf("%w: got %d", ErrTooManyModes, n)
	}
	return nil
}

// Init sets the sample rate and mode count, propagates the rate to every
// mode and recomputes output weights. All amplitudes are cleared.
func (s *String[M, PM]) Init(sampleRate float32, numModes int) error {
	if !(sampleRate > 0) {
		return fmt.Errorf("%w: got %g", ErrSampleRate, sampleRate)
	}
	if err := checkModeCount(numModes); err != nil {
		return err
	}
	if numModes > len(s.modes) {
		return fmt.Errorf("%w: %d modes, capacity %d", ErrCapacity, numModes, len(s.modes))
	}

	s.sampleRate = sampleRate
	s.numModes = numModes
	for i := range s.modes {
		PM(&s.modes[i]).SetSampleRate(sampleRate)
	}
	clear(s.amp)
	clear(s.level)
	s.updateOutputWeights()
	s.ready = true
	s.SetFrequency(s.freq)
	return nil
}

// SetFrequency sets the fundamental and places every mode on the
// dispersion curve for the current stiffness and decay settings.
func (s *String[M, PM]) SetFrequency(freqHz float32) {
	s.freq = freqHz
	nyquist := 0.5 * float64(s.sampleRate)
	for i := 0; i < s.numModes; i++ {
		w := ModeRatio(i+1, s.stiffness, s.decay, s.decayHF)
		f := float64(freqHz) * w
		s.modeFreq[i] = float32(f)
		PM(&s.modes[i]).SetFrequency(float32(f))
	}
	s.updateGains(nyquist)
	s.updateDamping()
}

// Retune re-applies the current fundamental, picking up stiffness and decay
// changes.
func (s *String[M, PM]) Retune() { s.SetFrequency(s.freq) }

// SetStiffness stores the stiffness. Mode placement changes on the next
// SetFrequency or Retune.
func (s *String[M, PM]) SetStiffness(v float32) { s.stiffness = v }

// SetDecay stores the base decay rate. Amplitude decay follows immediately;
// mode placement changes on the next SetFrequency or Retune.
func (s *String[M, PM]) SetDecay(v float32) {
	s.decay = v
	s.updateDamping()
}

// SetDecayHighFreq stores the n^2 decay coefficient, with the same timing as
// SetDecay.
func (s *String[M, PM]) SetDecayHighFreq(v float32) {
	s.decayHF = v
	s.updateDamping()
}

// SetPickupPosition moves the pickup and recomputes the output weights.
func (s *String[M, PM]) SetPickupPosition(p float32) {
	s.pickup = p
	s.updateOutputWeights()
}

// SetPluckPosition stores the pluck position for the next
// SetInitialAmplitudes.
func (s *String[M, PM]) SetPluckPosition(p float32) { s.pluck = p }

// SetInitialAmplitudes plucks the string at the stored pluck position.
// Resonator modes restart from unit amplitude.
func (s *String[M, PM]) SetInitialAmplitudes() {
	for i := 0; i < s.numModes; i++ {
		a := PluckSpectrum(i+1, s.pluck)
		s.amp[i] = a
		if s.resonant {
			s.level[i] = a
			any(PM(&s.modes[i])).(resonator).Reset()
		}
	}
}

// Tick renders one sample and applies one step of amplitude decay.
func (s *String[M, PM]) Tick() float32 {
	if s.resonant {
		return s.tickResonant()
	}
	n := s.numModes
	amp := s.amp[:n]
	gain := s.gain[:n]
	damp := s.damp[:n]
	modes := s.modes[:n]

	var sum float32
	for i := range modes {
		sum += PM(&modes[i]).Tick() * amp[i] * gain[i]
		amp[i] = float32(dspcore.FlushDenormals(float64(amp[i] * damp[i])))
	}
	return sum
}

// tickResonant leaves the decay to the oscillators and advances amp as the
// matching envelope.
func (s *String[M, PM]) tickResonant() float32 {
	n := s.numModes
	amp := s.amp[:n]
	level := s.level[:n]
	gain := s.gain[:n]
	damp := s.damp[:n]
	modes := s.modes[:n]

	var sum float32
	for i := range modes {
		sum += PM(&modes[i]).Tick() * level[i] * gain[i]
		amp[i] = float32(dspcore.FlushDenormals(float64(amp[i] * damp[i])))
	}
	return sum
}

// Process fills out with consecutive samples.
func (s *String[M, PM]) Process(out []float32) {
	for i := range out {
		out[i] = s.Tick()
	}
}

func (s *String[M, PM]) updateOutputWeights() {
	for i := 0; i < s.numModes; i++ {
		s.weight[i] = PickupWeight(i+1, s.pickup)
	}
	s.updateGains(0.5 * float64(s.sampleRate))
}

func (s *String[M, PM]) updateGains(nyquist float64) {
	for i := 0; i < s.numModes; i++ {
		f := math.Abs(float64(s.modeFreq[i]))
		if f > 0 && f < nyquist {
			s.gain[i] = s.weight[i]
		} else {
			s.gain[i] = 0
		}
	}
}

func (s *String[M, PM]) updateDamping() {
	if s.sampleRate <= 0 {
		return
	}
	for i := 0; i < s.numModes; i++ {
		s.damp[i] = modeDecay(i+1, s.freq, s.sampleRate, s.decay, s.decayHF)
		if s.resonant {
			any(PM(&s.modes[i])).(resonator).SetDecay(float32(modeDecayRate(i+1, s.freq, s.decay, s.decayHF)))
		}
	}
}

// State reports whether the string is initialized and still sounding.
func (s *String[M, PM]) State() State {
	if !s.ready {
		return Uninitialized
	}
	for i := 0; i < s.numModes; i++ {
		if math.Abs(float64(s.amp[i]*s.gain[i])) > silenceThreshold {
			return Ringing
		}
	}
	return Idle
}

// Energy returns the sum of squared mode amplitudes.
func (s *String[M, PM]) Energy() float64 {
	var e float64
	for _, a := range s.amp[:s.numModes] {
		e += float64(a) * float64(a)
	}
	return e
}

// ActiveModes returns the number of modes below Nyquist and not overdamped.
func (s *String[M, PM]) ActiveModes() int {
	n := 0
	nyquist := 0.5 * float64(s.sampleRate)
	for i := 0; i < s.numModes; i++ {
		if f := math.Abs(float64(s.modeFreq[i])); f > 0 && f < nyquist {
			n++
		}
	}
	return n
}

// Amplitude returns the current amplitude of mode i (0-based).
func (s *String[M, PM]) Amplitude(i int) float32 {
	if i < 0 || i >= s.numModes {
		return 0
	}
	return s.amp[i]
}

// OutputWeight returns the pickup weight of mode i (0-based).
func (s *String[M, PM]) OutputWeight(i int) float32 {
	if i < 0 || i >= s.numModes {
		return 0
	}
	return s.weight[i]
}

// ModeFrequency returns the frequency of mode i (0-based) in Hz.
func (s *String[M, PM]) ModeFrequency(i int) float32 {
	if i < 0 || i >= s.numModes {
		return 0
	}
	return s.modeFreq[i]
}

// NumModes returns the active mode count.
func (s *String[M, PM]) NumModes() int { return s.numModes }

// Capacity returns the mode storage fixed at construction.
func (s *String[M, PM]) Capacity() int { return len(s.modes) }

// SampleRate returns the sample rate in Hz.
func (s *String[M, PM]) SampleRate() float32 { return s.sampleRate }

// Frequency returns the fundamental last passed to SetFrequency.
func (s *String[M, PM]) Frequency() float32 { return s.freq }

// Stiffness returns the stored stiffness.
func (s *String[M, PM]) Stiffness() float32 { return s.stiffness }

// PluckPosition returns the stored pluck position.
func (s *String[M, PM]) PluckPosition() float32 { return s.pluck }

// PickupPosition returns the pickup position.
func (s *String[M, PM]) PickupPosition() float32 { return s.pickup }

// Decay returns the base decay rate.
func (s *String[M, PM]) Decay() float32 { return s.decay }

// DecayHighFreq returns the n^2 decay coefficient.
func (s *String[M, PM]) DecayHighFreq() float32 { return s.decayHF }
