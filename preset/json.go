// Package preset reads and writes string voice presets as JSON.
package preset

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/cwbudde/algo-stiffstring/modal"
	"github.com/cwbudde/algo-stiffstring/synth"
)

// File is the JSON schema for string presets. Absent fields keep the
// defaults of synth.NewDefaultParams.
type File struct {
	SampleRate     *int     `json:"sample_rate,omitempty"`
	Modes          *int     `json:"modes,omitempty"`
	Oscillator     *string  `json:"oscillator,omitempty"`
	Frequency      *float32 `json:"frequency,omitempty"`
	Note           *int     `json:"note,omitempty"`
	Stiffness      *float32 `json:"stiffness,omitempty"`
	PluckPosition  *float32 `json:"pluck_position,omitempty"`
	PickupPosition *float32 `json:"pickup_position,omitempty"`
	Decay          *float32 `json:"decay,omitempty"`
	DecayHighFreq  *float32 `json:"decay_high_freq,omitempty"`
	OutputGain     *float32 `json:"output_gain,omitempty"`
	BodyIRPath     string   `json:"body_ir_path,omitempty"`
	BodyMix        *float32 `json:"body_mix,omitempty"`
}

// LoadJSON loads a preset JSON file and applies it on top of default params.
// A relative body_ir_path is resolved against the preset directory.
func LoadJSON(path string) (*synth.Params, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f File
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	p := synth.NewDefaultParams()
	if err := ApplyFile(p, &f); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if p.BodyIRPath != "" && !filepath.IsAbs(p.BodyIRPath) {
		base := filepath.Dir(path)
		p.BodyIRPath = filepath.Clean(filepath.Join(base, p.BodyIRPath))
	}
	return p, nil
}

// ApplyFile applies a parsed preset file onto an existing params object.
func ApplyFile(dst *synth.Params, f *File) error {
	if dst == nil {
		return fmt.Errorf("nil destination params")
	}
	if f == nil {
		return nil
	}

	if f.SampleRate != nil {
		if *f.SampleRate < 8000 {
			return fmt.Errorf("sample_rate must be >= 8000")
		}
		dst.SampleRate = *f.SampleRate
	}
	if f.Modes != nil {
		if *f.Modes < 1 || *f.Modes > modal.MaxModes {
			return fmt.Errorf("modes must be in [1,%d]", modal.MaxModes)
		}
		dst.Modes = *f.Modes
	}
	if f.Oscillator != nil {
		kind := synth.OscillatorKind(strings.ToLower(strings.TrimSpace(*f.Oscillator)))
		switch kind {
		case synth.OscillatorCycle, synth.OscillatorWaveguide, synth.OscillatorDamped:
			dst.Oscillator = kind
		default:
			return fmt.Errorf("oscillator %q: %w", *f.Oscillator, synth.ErrUnknownOscillator)
		}
	}
	if f.Frequency != nil && f.Note != nil {
		return fmt.Errorf("frequency and note are mutually exclusive")
	}
	if f.Frequency != nil {
		if !isFinite(*f.Frequency) || *f.Frequency < 0 {
			return fmt.Errorf("frequency must be >= 0")
		}
		dst.Frequency = *f.Frequency
	}
	if f.Note != nil {
		if *f.Note < 0 || *f.Note > 127 {
			return fmt.Errorf("note must be in [0,127]")
		}
		dst.Frequency = synth.NoteToFrequency(*f.Note)
	}
	if f.Stiffness != nil {
		if *f.Stiffness < 0 || *f.Stiffness > 1 {
			return fmt.Errorf("stiffness must be in [0,1]")
		}
		dst.Stiffness = *f.Stiffness
	}
	if f.PluckPosition != nil {
		if *f.PluckPosition <= 0 || *f.PluckPosition >= 2 {
			return fmt.Errorf("pluck_position must be in (0,2)")
		}
		dst.PluckPosition = *f.PluckPosition
	}
	if f.PickupPosition != nil {
		if *f.PickupPosition < 0 || *f.PickupPosition > 2 {
			return fmt.Errorf("pickup_position must be in [0,2]")
		}
		dst.PickupPosition = *f.PickupPosition
	}
	if f.Decay != nil {
		if *f.Decay < 0 {
			return fmt.Errorf("decay must be >= 0")
		}
		dst.Decay = *f.Decay
	}
	if f.DecayHighFreq != nil {
		if *f.DecayHighFreq < 0 {
			return fmt.Errorf("decay_high_freq must be >= 0")
		}
		dst.DecayHighFreq = *f.DecayHighFreq
	}
	if f.OutputGain != nil {
		if *f.OutputGain <= 0 {
			return fmt.Errorf("output_gain must be > 0")
		}
		dst.OutputGain = *f.OutputGain
	}
	if f.BodyIRPath != "" {
		dst.BodyIRPath = strings.TrimSpace(f.BodyIRPath)
	}
	if f.BodyMix != nil {
		if *f.BodyMix < 0 || *f.BodyMix > 1 {
			return fmt.Errorf("body_mix must be in [0,1]")
		}
		dst.BodyMix = *f.BodyMix
	}
	return nil
}

// FromParams returns a complete preset file for p.
func FromParams(p *synth.Params) *File {
	osc := string(p.Oscillator)
	return &File{
		SampleRate:     &p.SampleRate,
		Modes:          &p.Modes,
		Oscillator:     &osc,
		Frequency:      &p.Frequency,
		Stiffness:      &p.Stiffness,
		PluckPosition:  &p.PluckPosition,
		PickupPosition: &p.PickupPosition,
		Decay:          &p.Decay,
		DecayHighFreq:  &p.DecayHighFreq,
		OutputGain:     &p.OutputGain,
		BodyIRPath:     p.BodyIRPath,
		BodyMix:        &p.BodyMix,
	}
}

// SaveJSON writes every field of p to path.
func SaveJSON(path string, p *synth.Params) error {
	if p == nil {
		return fmt.Errorf("nil params")
	}
	b, err := json.MarshalIndent(FromParams(p), "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}

func isFinite(x float32) bool {
	return !math.IsNaN(float64(x)) && !math.IsInf(float64(x), 0)
}
