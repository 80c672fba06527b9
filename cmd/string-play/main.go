package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/cwbudde/algo-stiffstring/preset"
	"github.com/cwbudde/algo-stiffstring/synth"
)

const usage = "keys a..l play, z/x octave, space pluck, +/- stiffness, [ ] pickup, , . pluck position, q quit"

func main() {
	presetPath := flag.String("preset", "", "Preset JSON file path (defaults when empty)")
	baseNote := flag.Int("base-note", 48, "MIDI note on the 'a' key")
	bufferFrames := flag.Int("buffer-frames", 512, "Audio buffer size in frames")
	flag.Parse()

	params := synth.NewDefaultParams()
	if *presetPath != "" {
		p, err := preset.LoadJSON(*presetPath)
		if err != nil {
			die("Error loading preset %q: %v", *presetPath, err)
		}
		params = p
	}

	voice, err := synth.NewVoice(params)
	if err != nil {
		die("Error creating voice: %v", err)
	}
	defer voice.Close()

	player, err := newOtoPlayer(voice, *bufferFrames)
	if err != nil {
		die("Error opening audio output: %v", err)
	}
	defer player.Close()
	player.Start()

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		die("stdin is not a terminal")
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		die("Error setting raw mode: %v", err)
	}
	defer func() { _ = term.Restore(fd, oldState) }()

	fmt.Printf("%d Hz, %d modes, %s oscillators\r\n%s\r\n", params.SampleRate, params.Modes, params.Oscillator, usage)

	c := &controls{
		baseNote:  *baseNote,
		stiffness: params.Stiffness,
		pickup:    params.PickupPosition,
		pluck:     params.PluckPosition,
	}
	buf := make([]byte, 1)
	var dropped uint64
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			break
		}
		if n == 0 {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		quit, status := c.handle(buf[0], voice)
		if quit {
			break
		}
		if status != "" {
			fmt.Printf("%s\r\n", status)
		}
		if d := voice.Dropped(); d != dropped {
			fmt.Printf("%d commands dropped\r\n", d-dropped)
			dropped = d
		}
	}
}

func frameDuration(frames, sampleRate int) time.Duration {
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
