package main

import (
	"flag"
	"fmt"
	"math"
	"os"

	"github.com/cwbudde/algo-stiffstring/internal/fitcommon"
	"github.com/cwbudde/algo-stiffstring/mempool"
	"github.com/cwbudde/algo-stiffstring/preset"
	"github.com/cwbudde/algo-stiffstring/synth"
)

const blockSize = 128

func main() {
	presetPath := flag.String("preset", "", "Preset JSON file path (defaults when empty)")
	note := flag.Int("note", -1, "MIDI note number; overrides the preset frequency when >= 0")
	frequency := flag.Float64("frequency", 0, "Fundamental in Hz; overrides -note and the preset when > 0")
	velocity := flag.Int("velocity", 127, "MIDI velocity (1-127)")
	oscillator := flag.String("oscillator", "", "Mode oscillator override: cycle, waveguide or damped")
	irPath := flag.String("ir", "", "Body IR WAV path override")
	duration := flag.Float64("duration", 2.0, "Duration in seconds")
	decayDBFS := flag.Float64("decay-dbfs", math.Inf(1), "Auto-stop when block RMS falls below this dBFS (e.g. -90). Disabled by default")
	decayHoldBlocks := flag.Int("decay-hold-blocks", 6, "Consecutive below-threshold blocks required to stop in auto-decay mode")
	minDuration := flag.Float64("min-duration", 0.5, "Minimum render duration in seconds when using -decay-dbfs")
	maxDuration := flag.Float64("max-duration", 20.0, "Maximum render duration in seconds when using -decay-dbfs")
	poolBytes := flag.Int("pool-bytes", 0, "Place the string in a memory pool of this many bytes (0 = heap)")
	output := flag.String("output", "output.wav", "Output WAV file path")
	flag.Parse()

	params := synth.NewDefaultParams()
	if *presetPath != "" {
		p, err := preset.LoadJSON(*presetPath)
		if err != nil {
			die("Error loading preset %q: %v", *presetPath, err)
		}
		params = p
	}
	if *oscillator != "" {
		params.Oscillator = synth.OscillatorKind(*oscillator)
	}
	if *irPath != "" {
		params.BodyIRPath = *irPath
	}

	var opts []synth.Option
	var pool *mempool.Pool
	if *poolBytes > 0 {
		var err error
		pool, err = mempool.New(make([]byte, *poolBytes), mempool.WithLogger(fitcommon.PoolLogger()))
		if err != nil {
			die("Error creating pool: %v", err)
		}
		opts = append(opts, synth.WithPool(pool))
	}

	voice, err := synth.NewVoice(params, opts...)
	if err != nil {
		die("Error creating voice: %v", err)
	}
	defer voice.Close()

	switch {
	case *frequency > 0:
		voice.SetFrequency(float32(*frequency))
		voice.Pluck()
	case *note >= 0:
		if !voice.NoteOn(*note, *velocity) {
			die("Invalid note %d / velocity %d", *note, *velocity)
		}
	default:
		voice.Pluck()
	}

	autoStop := !math.IsInf(*decayDBFS, 1)
	maxFrames := max(1, int(float64(params.SampleRate)*(*duration)))
	minFrames := 0
	if autoStop {
		minFrames = int(float64(params.SampleRate) * (*minDuration))
		maxFrames = max(minFrames, int(float64(params.SampleRate)*(*maxDuration)), blockSize)
	}
	threshold := math.Pow(10, *decayDBFS/20)
	hold := max(1, *decayHoldBlocks)

	samples := make([]float32, 0, maxFrames)
	block := make([]float32, blockSize)
	below := 0
	for len(samples) < maxFrames {
		n := min(blockSize, maxFrames-len(samples))
		voice.Process(block[:n])
		samples = append(samples, block[:n]...)

		if autoStop && len(samples) >= minFrames {
			if blockRMS(block[:n]) < threshold {
				below++
				if below >= hold {
					break
				}
			} else {
				below = 0
			}
		}
	}
	if autoStop {
		fmt.Printf("Auto-stop at %d frames (%.3fs), threshold %.1f dBFS\n",
			len(samples), float64(len(samples))/float64(params.SampleRate), *decayDBFS)
	}

	if err := fitcommon.WriteMonoWAV(*output, samples, params.SampleRate); err != nil {
		die("Error writing WAV file: %v", err)
	}
	fmt.Printf("Rendered %.1f Hz, stiffness %.4f, %d active modes (%s) -> %s (%d frames)\n",
		voice.Frequency(), voice.Stiffness(), voice.ActiveModes(), params.Oscillator, *output, len(samples))
	if pool != nil {
		st := pool.Stats()
		fmt.Printf("Pool: %d/%d bytes used, %d allocs\n", st.Used, st.Size, st.AllocCount)
	}
}

func blockRMS(x []float32) float64 {
	if len(x) == 0 {
		return 0
	}
	var sum float64
	for _, s := range x {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(x)))
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
