package synth

import (
	"errors"
	"fmt"

	"github.com/cwbudde/algo-stiffstring/modal"
)

// OscillatorKind selects the mode oscillator of a voice.
type OscillatorKind string

const (
	OscillatorCycle     OscillatorKind = "cycle"
	OscillatorWaveguide OscillatorKind = "waveguide"
	OscillatorDamped    OscillatorKind = "damped"
)

// ErrUnknownOscillator indicates an OscillatorKind outside the known set.
var ErrUnknownOscillator = errors.New("synth: unknown oscillator")

// Params holds all voice parameters.
type Params struct {
	SampleRate int
	Modes      int
	Oscillator OscillatorKind

	Frequency      float32
	Stiffness      float32
	PluckPosition  float32 // units of half the string length
	PickupPosition float32
	Decay          float32
	DecayHighFreq  float32

	OutputGain float32

	BodyIRPath string
	BodyMix    float32 // wet share of the body convolver output
}

// NewDefaultParams returns the parameters of the reference hardware patch:
// 48 kHz, 60 cycle oscillator modes tuned to 220 Hz.
func NewDefaultParams() *Params {
	return &Params{
		SampleRate:     48000,
		Modes:          60,
		Oscillator:     OscillatorCycle,
		Frequency:      220,
		Stiffness:      modal.DefaultStiffness,
		PluckPosition:  modal.DefaultPluckPosition,
		PickupPosition: modal.DefaultPickupPosition,
		Decay:          modal.DefaultDecay,
		DecayHighFreq:  modal.DefaultDecayHighFreq,
		OutputGain:     1.0,
		BodyMix:        1.0,
	}
}

// Validate checks settings that would fail engine construction.
func (p *Params) Validate() error {
	if p.SampleRate <= 0 {
		return fmt.Errorf("%w: got %d", modal.ErrSampleRate, p.SampleRate)
	}
	if p.Modes < 1 {
		return fmt.Errorf("%w: got %d", modal.ErrNoModes, p.Modes)
	}
	if p.Modes > modal.MaxModes {
		return fmt.Errorf("%w: got %d", modal.ErrTooManyModes, p.Modes)
	}
	switch p.Oscillator {
	case OscillatorCycle, OscillatorWaveguide, OscillatorDamped:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOscillator, p.Oscillator)
	}
	if p.OutputGain < 0 {
		return fmt.Errorf("output gain must be >= 0")
	}
	if p.BodyMix < 0 || p.BodyMix > 1 {
		return fmt.Errorf("body mix must be in [0,1]")
	}
	return nil
}
