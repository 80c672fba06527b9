// Package synth wraps a modal string in a voice that can be driven from a
// control goroutine while another goroutine renders audio.
package synth

import (
	"fmt"

	"github.com/cwbudde/algo-stiffstring/body"
	"github.com/cwbudde/algo-stiffstring/mempool"
	"github.com/cwbudde/algo-stiffstring/modal"
)

// CCStiffness is the MIDI controller mapped to stiffness.
const CCStiffness = 1

// maxCCStiffness is the stiffness at controller value 127.
const maxCCStiffness = 0.2

// Option configures NewVoice.
type Option func(*voiceOptions)

type voiceOptions struct {
	pool   *mempool.Pool
	bodyIR []float32
}

// WithPool places the string storage in pool instead of the heap.
func WithPool(pool *mempool.Pool) Option {
	return func(o *voiceOptions) { o.pool = pool }
}

// WithBodyIR installs ir as the body response. It takes precedence over
// Params.BodyIRPath.
func WithBodyIR(ir []float32) Option {
	return func(o *voiceOptions) { o.bodyIR = ir }
}

// Voice is one string with an optional body stage.
//
// Setters, Pluck, NoteOn and ControlChange may be called from one control
// goroutine. Process, Tick, Apply and the state accessors belong to the
// audio goroutine. Commands take effect when the audio side drains them at
// the start of Process or Tick.
type Voice struct {
	sampleRate int
	engine     stringEngine
	body       *body.Convolver

	outputGain float32
	velocity   float32

	one  [1]float32
	ring commandRing
}

// NewVoice builds a voice from params.
func NewVoice(params *Params, opts ...Option) (*Voice, error) {
	if params == nil {
		params = NewDefaultParams()
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	var o voiceOptions
	for _, opt := range opts {
		opt(&o)
	}

	engine, err := newEngine(params.Oscillator, o.pool, float32(params.SampleRate), params.Modes)
	if err != nil {
		return nil, fmt.Errorf("synth: build string: %w", err)
	}
	v := &Voice{
		sampleRate: params.SampleRate,
		engine:     engine,
		outputGain: params.OutputGain,
		velocity:   1,
	}
	engine.SetStiffness(params.Stiffness)
	engine.SetDecay(params.Decay)
	engine.SetDecayHighFreq(params.DecayHighFreq)
	engine.SetPluckPosition(params.PluckPosition)
	engine.SetPickupPosition(params.PickupPosition)
	engine.SetFrequency(params.Frequency)

	switch {
	case o.bodyIR != nil:
		v.body = body.NewConvolver(params.SampleRate)
		err = v.body.SetIR(o.bodyIR)
	case params.BodyIRPath != "":
		v.body = body.NewConvolver(params.SampleRate)
		err = v.body.LoadIR(params.BodyIRPath)
	}
	if err != nil {
		_ = engine.Release()
		return nil, fmt.Errorf("synth: body: %w", err)
	}
	if v.body != nil {
		v.body.SetMix(params.BodyMix)
	}
	return v, nil
}

// Close releases pool-backed string storage.
func (v *Voice) Close() error {
	return v.engine.Release()
}

// SetFrequency retunes the fundamental without plucking.
func (v *Voice) SetFrequency(freqHz float32) { v.ring.push(command{kind: cmdFrequency, a: freqHz}) }

// SetStiffness changes stiffness and retunes the modes.
func (v *Voice) SetStiffness(s float32) { v.ring.push(command{kind: cmdStiffness, a: s}) }

// SetPluckPosition moves the excitation point used by the next pluck.
func (v *Voice) SetPluckPosition(p float32) { v.ring.push(command{kind: cmdPluckPosition, a: p}) }

// SetPickupPosition moves the pickup and reweights the modes.
func (v *Voice) SetPickupPosition(p float32) { v.ring.push(command{kind: cmdPickupPosition, a: p}) }

// SetDecay changes the base decay and retunes the modes.
func (v *Voice) SetDecay(d float32) { v.ring.push(command{kind: cmdDecay, a: d}) }

// SetDecayHighFreq changes the n^2 decay term and retunes the modes.
func (v *Voice) SetDecayHighFreq(d float32) { v.ring.push(command{kind: cmdDecayHighFreq, a: d}) }

// SetOutputGain sets the linear output gain, applied ahead of the body stage.
func (v *Voice) SetOutputGain(g float32) { v.ring.push(command{kind: cmdOutputGain, a: g}) }

// SetBodyMix sets the wet share of the body convolver.
func (v *Voice) SetBodyMix(m float32) { v.ring.push(command{kind: cmdBodyMix, a: m}) }

// Pluck re-excites the string at the current pluck position.
func (v *Voice) Pluck() { v.ring.push(command{kind: cmdPluck}) }

// NoteOn tunes to a MIDI note and plucks with a gain of velocity/127.
// Velocity 0 is a note-off and is ignored, as is an out-of-range note.
func (v *Voice) NoteOn(note, velocity int) bool {
	if velocity <= 0 || note < 0 || note > 127 {
		return false
	}
	velocity = min(velocity, 127)
	return v.ring.push(command{kind: cmdNoteOn, a: NoteToFrequency(note), b: float32(velocity) / 127})
}

// ControlChange maps CCStiffness onto stiffness 0..0.2. Other controllers
// are ignored.
func (v *Voice) ControlChange(cc, value int) bool {
	if cc != CCStiffness {
		return false
	}
	value = min(max(value, 0), 127)
	return v.ring.push(command{kind: cmdStiffness, a: maxCCStiffness * float32(value) / 127})
}

// Dropped returns the number of commands lost to a full ring.
func (v *Voice) Dropped() uint64 { return v.ring.dropped.Load() }

// Pending returns the number of queued commands.
func (v *Voice) Pending() int { return v.ring.len() }

// Apply drains pending commands into the string.
func (v *Voice) Apply() {
	for {
		c, ok := v.ring.pop()
		if !ok {
			return
		}
		v.apply(c)
	}
}

func (v *Voice) apply(c command) {
	e := v.engine
	switch c.kind {
	case cmdFrequency:
		e.SetFrequency(c.a)
	case cmdStiffness:
		e.SetStiffness(c.a)
		e.Retune()
	case cmdPluckPosition:
		e.SetPluckPosition(c.a)
	case cmdPickupPosition:
		e.SetPickupPosition(c.a)
	case cmdDecay:
		e.SetDecay(c.a)
		e.Retune()
	case cmdDecayHighFreq:
		e.SetDecayHighFreq(c.a)
		e.Retune()
	case cmdPluck:
		e.SetInitialAmplitudes()
	case cmdNoteOn:
		e.SetFrequency(c.a)
		v.velocity = c.b
		e.SetInitialAmplitudes()
	case cmdOutputGain:
		v.outputGain = max(c.a, 0)
	case cmdBodyMix:
		if v.body != nil {
			v.body.SetMix(c.a)
		}
	}
}

// Process drains pending commands and renders len(out) samples.
func (v *Voice) Process(out []float32) {
	v.Apply()
	v.engine.Process(out)
	g := v.outputGain * v.velocity
	for i := range out {
		out[i] *= g
	}
	if v.body != nil {
		v.body.Process(out, out)
	}
}

// Tick drains pending commands and renders one sample.
func (v *Voice) Tick() float32 {
	v.Process(v.one[:])
	return v.one[0]
}

// Latency returns the output delay in samples added by the body stage.
func (v *Voice) Latency() int {
	if v.body == nil {
		return 0
	}
	return v.body.Latency()
}

// SampleRate returns the voice sample rate in Hz.
func (v *Voice) SampleRate() int { return v.sampleRate }

// Ringing reports whether the string is still sounding.
func (v *Voice) Ringing() bool { return v.engine.State() == modal.Ringing }

// ActiveModes returns the number of modes that can sound.
func (v *Voice) ActiveModes() int { return v.engine.ActiveModes() }

// Frequency returns the fundamental the string is tuned to.
func (v *Voice) Frequency() float32 { return v.engine.Frequency() }

// Stiffness returns the stiffness the string is tuned with.
func (v *Voice) Stiffness() float32 { return v.engine.Stiffness() }
