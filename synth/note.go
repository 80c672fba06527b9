package synth

import "github.com/cwbudde/algo-approx"

// NoteToFrequency converts a MIDI note number to Hz (A4 = note 69 = 440 Hz).
func NoteToFrequency(note int) float32 {
	const a4Freq = 440.0
	const a4Note = 69
	exponent := float32(note-a4Note) / 12.0
	return a4Freq * pow2Approx(exponent)
}

func pow2Approx(x float32) float32 {
	const ln2 = 0.69314718055994530942
	return approx.FastExp(x * ln2)
}
