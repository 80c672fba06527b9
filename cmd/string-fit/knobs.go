package main

import (
	"fmt"
	"math"
	"strings"

	"github.com/cwbudde/algo-stiffstring/body"
	fitcommon "github.com/cwbudde/algo-stiffstring/internal/fitcommon"
	"github.com/cwbudde/algo-stiffstring/synth"
)

type knobDef struct {
	Name  string
	Min   float64
	Max   float64
	IsInt bool
}

type candidate struct {
	Vals []float64
}

var validGroups = []string{"string", "tuning", "body", "mix"}

// parseOptimizeGroups parses a comma-separated string of group names.
func parseOptimizeGroups(raw string) (map[string]bool, error) {
	groups := make(map[string]bool)
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		ok := false
		for _, g := range validGroups {
			ok = ok || g == s
		}
		if !ok {
			return nil, fmt.Errorf("unknown optimize group %q (valid: %s)", s, strings.Join(validGroups, ", "))
		}
		groups[s] = true
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("no optimize groups specified")
	}
	return groups, nil
}

func initCandidate(base *synth.Params, bodyCfg body.Config, groups map[string]bool) ([]knobDef, candidate) {
	defs := make([]knobDef, 0, 16)
	vals := make([]float64, 0, 16)
	addKnob := func(def knobDef, val float64) {
		for _, d := range defs {
			if d.Name == def.Name {
				return
			}
		}
		defs = append(defs, def)
		vals = append(vals, val)
	}

	if groups["string"] {
		addKnob(knobDef{Name: "stiffness", Min: 0, Max: 0.05}, float64(base.Stiffness))
		addKnob(knobDef{Name: "decay", Min: 0, Max: 0.005}, float64(base.Decay))
		addKnob(knobDef{Name: "decay_high_freq", Min: 0, Max: 0.002}, float64(base.DecayHighFreq))
		addKnob(knobDef{Name: "pluck_position", Min: 0.05, Max: 1.0}, float64(base.PluckPosition))
		addKnob(knobDef{Name: "pickup_position", Min: 0.02, Max: 1.0}, float64(base.PickupPosition))
		addKnob(knobDef{Name: "output_gain", Min: 0.2, Max: 2.5}, float64(base.OutputGain))
	}
	if groups["tuning"] {
		addKnob(knobDef{Name: "fine_tune_cents", Min: -50, Max: 50}, 0)
	}
	if groups["body"] {
		addKnob(knobDef{Name: "body_modes", Min: 8, Max: 96, IsInt: true}, float64(bodyCfg.Modes))
		addKnob(knobDef{Name: "body_fundamental", Min: 60, Max: 300}, bodyCfg.FundamentalHz)
		addKnob(knobDef{Name: "body_plate_ratio", Min: 1.0, Max: 2.0}, bodyCfg.PlateRatio)
		addKnob(knobDef{Name: "body_brightness", Min: 0.5, Max: 2.5}, bodyCfg.Brightness)
		addKnob(knobDef{Name: "body_direct", Min: 0.1, Max: 1.2}, bodyCfg.DirectLevel)
		addKnob(knobDef{Name: "body_low_decay", Min: 0.01, Max: 0.3}, bodyCfg.LowDecayS)
		addKnob(knobDef{Name: "body_high_decay", Min: 0.002, Max: 0.06}, bodyCfg.HighDecayS)
	}
	if groups["mix"] {
		addKnob(knobDef{Name: "body_mix", Min: 0, Max: 1}, float64(base.BodyMix))
	}

	for i := range vals {
		vals[i] = fitcommon.Clamp(vals[i], defs[i].Min, defs[i].Max)
		if defs[i].IsInt {
			vals[i] = math.Round(vals[i])
		}
	}
	return defs, candidate{Vals: vals}
}

// applyCandidate returns a copy of base and bodyCfg with the knob values
// of c applied.
func applyCandidate(base *synth.Params, bodyCfg body.Config, defs []knobDef, c candidate) (*synth.Params, body.Config) {
	p := *base
	cents := 0.0
	for i, def := range defs {
		v := c.Vals[i]
		switch def.Name {
		case "stiffness":
			p.Stiffness = float32(v)
		case "decay":
			p.Decay = float32(v)
		case "decay_high_freq":
			p.DecayHighFreq = float32(v)
		case "pluck_position":
			p.PluckPosition = float32(v)
		case "pickup_position":
			p.PickupPosition = float32(v)
		case "output_gain":
			p.OutputGain = float32(v)
		case "fine_tune_cents":
			cents = v
		case "body_modes":
			bodyCfg.Modes = max(1, int(math.Round(v)))
		case "body_fundamental":
			bodyCfg.FundamentalHz = v
		case "body_plate_ratio":
			bodyCfg.PlateRatio = v
		case "body_brightness":
			bodyCfg.Brightness = v
		case "body_direct":
			bodyCfg.DirectLevel = v
		case "body_low_decay":
			bodyCfg.LowDecayS = v
		case "body_high_decay":
			bodyCfg.HighDecayS = v
		case "body_mix":
			p.BodyMix = float32(v)
		}
	}
	if cents != 0 {
		p.Frequency = float32(float64(p.Frequency) * math.Pow(2, cents/1200))
	}
	bodyCfg.SampleRate = p.SampleRate
	return &p, bodyCfg
}

func fromNormalized(pos []float64, defs []knobDef) candidate {
	vals := make([]float64, len(defs))
	for i := range defs {
		x := 0.0
		if i < len(pos) {
			x = fitcommon.Clamp(pos[i], 0, 1)
		}
		v := defs[i].Min + x*(defs[i].Max-defs[i].Min)
		if defs[i].IsInt {
			v = math.Round(v)
		}
		vals[i] = v
	}
	return candidate{Vals: vals}
}

func knobMap(defs []knobDef, c candidate) map[string]float64 {
	m := make(map[string]float64, len(defs))
	for i, d := range defs {
		m[d.Name] = c.Vals[i]
	}
	return m
}
