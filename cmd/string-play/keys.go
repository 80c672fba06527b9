package main

import "fmt"

// keyboardRow maps the home row to semitones above the base note, with the
// row above as the black keys.
var keyboardRow = map[byte]int{
	'a': 0, 'w': 1, 's': 2, 'e': 3, 'd': 4, 'f': 5, 't': 6,
	'g': 7, 'y': 8, 'h': 9, 'u': 10, 'j': 11, 'k': 12, 'o': 13, 'l': 14,
}

const (
	stiffnessStep = 0.005
	maxStiffness  = 0.2
	positionStep  = 0.05
	keyVelocity   = 110
)

// voiceControl is the control-side surface of synth.Voice.
type voiceControl interface {
	NoteOn(note, velocity int) bool
	Pluck()
	SetStiffness(s float32)
	SetPickupPosition(p float32)
	SetPluckPosition(p float32)
}

// controls tracks the values the keyboard edits so each key press can push
// an absolute setting.
type controls struct {
	baseNote  int
	stiffness float32
	pickup    float32
	pluck     float32
}

// handle applies key to v. It returns quit for q or Ctrl-C and a status
// line for keys that changed something.
func (c *controls) handle(key byte, v voiceControl) (quit bool, status string) {
	if semi, ok := keyboardRow[key]; ok {
		note := c.baseNote + semi
		if !v.NoteOn(note, keyVelocity) {
			return false, ""
		}
		return false, fmt.Sprintf("note %d", note)
	}

	switch key {
	case 'q', 3:
		return true, ""
	case ' ':
		v.Pluck()
		return false, "pluck"
	case 'z':
		c.baseNote = max(c.baseNote-12, 0)
		return false, fmt.Sprintf("base note %d", c.baseNote)
	case 'x':
		c.baseNote = min(c.baseNote+12, 108)
		return false, fmt.Sprintf("base note %d", c.baseNote)
	case '+', '=':
		c.stiffness = clamp(c.stiffness+stiffnessStep, 0, maxStiffness)
		v.SetStiffness(c.stiffness)
		return false, fmt.Sprintf("stiffness %.3f", c.stiffness)
	case '-', '_':
		c.stiffness = clamp(c.stiffness-stiffnessStep, 0, maxStiffness)
		v.SetStiffness(c.stiffness)
		return false, fmt.Sprintf("stiffness %.3f", c.stiffness)
	case '[':
		c.pickup = clamp(c.pickup-positionStep, 0, 2)
		v.SetPickupPosition(c.pickup)
		return false, fmt.Sprintf("pickup %.2f", c.pickup)
	case ']':
		c.pickup = clamp(c.pickup+positionStep, 0, 2)
		v.SetPickupPosition(c.pickup)
		return false, fmt.Sprintf("pickup %.2f", c.pickup)
	case ',':
		c.pluck = clamp(c.pluck-positionStep, positionStep, 2-positionStep)
		v.SetPluckPosition(c.pluck)
		return false, fmt.Sprintf("pluck position %.2f", c.pluck)
	case '.':
		c.pluck = clamp(c.pluck+positionStep, positionStep, 2-positionStep)
		v.SetPluckPosition(c.pluck)
		return false, fmt.Sprintf("pluck position %.2f", c.pluck)
	}
	return false, ""
}

func clamp(x, lo, hi float32) float32 {
	return min(max(x, lo), hi)
}
