package synth

import (
	"fmt"

	"github.com/cwbudde/algo-stiffstring/mempool"
	"github.com/cwbudde/algo-stiffstring/modal"
	"github.com/cwbudde/algo-stiffstring/osc"
)

// stringEngine is the part of modal.String a voice drives, independent of
// the oscillator type.
type stringEngine interface {
	SetFrequency(freqHz float32)
	Retune()
	SetStiffness(v float32)
	SetDecay(v float32)
	SetDecayHighFreq(v float32)
	SetPluckPosition(p float32)
	SetPickupPosition(p float32)
	SetInitialAmplitudes()
	Tick() float32
	Process(out []float32)
	State() modal.State
	ActiveModes() int
	Frequency() float32
	Stiffness() float32
	Release() error
}

func newEngine(kind OscillatorKind, pool *mempool.Pool, sampleRate float32, modes int) (stringEngine, error) {
	switch kind {
	case OscillatorCycle:
		return build[osc.Cycle](pool, sampleRate, modes)
	case OscillatorWaveguide:
		return build[osc.Waveguide](pool, sampleRate, modes)
	case OscillatorDamped:
		return build[osc.DampedWaveguide](pool, sampleRate, modes)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOscillator, kind)
	}
}

func build[M any, PM modal.ModePtr[M]](pool *mempool.Pool, sampleRate float32, modes int) (stringEngine, error) {
	var (
		s   *modal.String[M, PM]
		err error
	)
	if pool != nil {
		s, err = modal.NewFromPool[M, PM](pool, sampleRate, modes)
	} else {
		s, err = modal.New[M, PM](sampleRate, modes)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}
