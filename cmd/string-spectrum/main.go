package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/cwbudde/algo-stiffstring/analysis"
	fitcommon "github.com/cwbudde/algo-stiffstring/internal/fitcommon"
	"github.com/cwbudde/algo-stiffstring/preset"
	"github.com/cwbudde/algo-stiffstring/synth"
)

func main() {
	inputPath := flag.String("input", "", "WAV to analyse; renders the preset when empty")
	referencePath := flag.String("reference", "", "Optional reference WAV to compare against")
	presetPath := flag.String("preset", "", "Preset JSON file path (defaults when empty)")
	frequency := flag.Float64("frequency", 0, "Fundamental in Hz; overrides -note and the preset when > 0")
	note := flag.Int("note", -1, "MIDI note; overrides the preset frequency when >= 0")
	stiffness := flag.Float64("stiffness", -1, "Stiffness for the prediction; overrides the preset when >= 0")
	duration := flag.Float64("duration", 1.0, "Render duration in seconds")
	skip := flag.Float64("skip", 0.02, "Seconds skipped before analysis")
	count := flag.Int("partials", 20, "Number of partials to measure")
	asJSON := flag.Bool("json", false, "Print the partial table as JSON")
	flag.Parse()

	params := synth.NewDefaultParams()
	if *presetPath != "" {
		p, err := preset.LoadJSON(*presetPath)
		if err != nil {
			die("preset: %v", err)
		}
		params = p
	}
	switch {
	case *frequency > 0:
		params.Frequency = float32(*frequency)
	case *note >= 0 && *note <= 127:
		params.Frequency = synth.NoteToFrequency(*note)
	}
	if *stiffness >= 0 {
		params.Stiffness = float32(*stiffness)
	}

	var samples []float64
	if *inputPath != "" {
		in, err := fitcommon.LoadMono(*inputPath, params.SampleRate)
		if err != nil {
			die("input: %v", err)
		}
		samples = fitcommon.ToFloat64(in)
	} else {
		var err error
		if samples, err = render(params, *duration); err != nil {
			die("render: %v", err)
		}
	}
	if off := int(*skip * float64(params.SampleRate)); off > 0 && off < len(samples) {
		samples = samples[off:]
	}

	partials, err := analysis.Partials(samples, params.SampleRate, float64(params.Frequency), float64(params.Stiffness), *count)
	if err != nil {
		die("analysis: %v", err)
	}
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(partials); err != nil {
			die("json: %v", err)
		}
	} else {
		fmt.Printf("f0=%.2f Hz stiffness=%.4f sample_rate=%d frames=%d\n\n", params.Frequency, params.Stiffness, params.SampleRate, len(samples))
		printPartials(os.Stdout, partials)
	}

	if *referencePath != "" {
		ref, err := fitcommon.LoadMono(*referencePath, params.SampleRate)
		if err != nil {
			die("reference: %v", err)
		}
		m := analysis.CompareWith(fitcommon.ToFloat64(ref), samples, params.SampleRate,
			analysis.CompareOptions{F0: float64(params.Frequency), Partials: *count})
		fmt.Printf("\nscore=%.4f similarity=%.2f%% spectral=%.2f dB envelope=%.2f dB partial_cents=%.2f (%d matched)\n",
			m.Score, m.Similarity*100, m.SpectralRMSEDB, m.EnvelopeRMSEDB, m.PartialRMSCents, m.PartialsMatched)
	}
}

func render(params *synth.Params, seconds float64) ([]float64, error) {
	v, err := synth.NewVoice(params)
	if err != nil {
		return nil, err
	}
	defer v.Close()
	v.Pluck()

	out := make([]float32, max(1, int(seconds*float64(params.SampleRate))))
	for i := 0; i < len(out); i += 128 {
		v.Process(out[i:min(i+128, len(out))])
	}
	return fitcommon.ToFloat64(out), nil
}

func printPartials(w io.Writer, partials []analysis.Partial) {
	fmt.Fprintf(w, "%4s %12s %12s %9s %10s %12s\n", "n", "predicted", "measured", "dB", "dev", "inharm")
	for _, p := range partials {
		fmt.Fprintf(w, "%4d %9.2f Hz %9.2f Hz %9.1f %+7.2f ct %+9.2f ct\n",
			p.Index, p.PredictedHz, p.MeasuredHz, p.MagnitudeDB, p.DeviationCents, p.InharmonicCents)
	}
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
