package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/cwbudde/algo-stiffstring/body"
	fitcommon "github.com/cwbudde/algo-stiffstring/internal/fitcommon"
	"github.com/cwbudde/algo-stiffstring/preset"
	"github.com/cwbudde/algo-stiffstring/synth"
)

func main() {
	referencePath := flag.String("reference", "reference/a3.wav", "Reference WAV path")
	presetPath := flag.String("preset", "", "Base preset JSON path (defaults when empty)")
	frequency := flag.Float64("frequency", 0, "Reference fundamental in Hz; overrides -note and the preset when > 0")
	note := flag.Int("note", -1, "Reference MIDI note; overrides the preset frequency when >= 0")
	outputPreset := flag.String("output-preset", "out/fitted.json", "Path to write best fitted preset JSON")
	outputIR := flag.String("output-ir", "", "Path to write the best synthesized body IR WAV (required with the body group)")
	reportPath := flag.String("report", "", "Optional report JSON path (default: <output-preset>.report.json)")
	optimize := flag.String("optimize", "string,tuning", "Comma-separated knob groups to optimize: string, tuning, body, mix")
	seed := flag.Int64("seed", 1, "Random seed")
	timeBudget := flag.Float64("time-budget", 120.0, "Optimization time budget in seconds")
	maxEvals := flag.Int("max-evals", 5000, "Maximum objective evaluations")
	reportEvery := flag.Int("report-every", 20, "Print progress every N evaluations")
	checkpointEvery := flag.Int("checkpoint-every", 1, "Write checkpoint every N best-score improvements")
	decayDBFS := flag.Float64("decay-dbfs", -90.0, "Auto-stop threshold in dBFS")
	decayHoldBlocks := flag.Int("decay-hold-blocks", 6, "Consecutive below-threshold blocks for stop")
	minDuration := flag.Float64("min-duration", 1.0, "Minimum render duration in seconds")
	maxDuration := flag.Float64("max-duration", 8.0, "Maximum render duration in seconds")
	renderBlockSize := flag.Int("render-block-size", 128, "Audio render block size for candidate evaluation")
	topK := flag.Int("top-k", 5, "How many top candidates to keep in report")
	resume := flag.Bool("resume", true, "Resume from previous best_knobs report when available")
	resumeReport := flag.String("resume-report", "", "Optional report JSON path to resume from (default: current report path)")
	workers := flag.String("workers", "1", "Parallel optimization workers running independent Mayfly rounds (number or 'auto')")
	mayflyVariant := flag.String("mayfly-variant", "desma", "Mayfly variant: ma|desma|olce|eobbma|gsasma|mpma|aoblmoa")
	mayflyPop := flag.Int("mayfly-pop", 10, "Male and female population size per Mayfly run")
	mayflyRoundEvals := flag.Int("mayfly-round-evals", 240, "Target eval budget per Mayfly round")
	flag.Parse()

	groups, err := parseOptimizeGroups(*optimize)
	if err != nil {
		die("invalid --optimize: %v", err)
	}
	if groups["body"] && *outputIR == "" {
		die("--output-ir is required when the body group is active")
	}
	if *outputPreset == "" {
		die("output-preset must not be empty")
	}
	if *maxEvals < 1 {
		die("max-evals must be >= 1")
	}
	if *timeBudget <= 0 {
		die("time-budget must be > 0")
	}
	*mayflyPop = max(*mayflyPop, 2)
	*mayflyRoundEvals = max(*mayflyRoundEvals, *mayflyPop*2)
	*topK = max(*topK, 1)
	parsedWorkers, err := fitcommon.ParseWorkers(*workers)
	if err != nil {
		die("invalid workers value: %v", err)
	}

	baseParams := synth.NewDefaultParams()
	if *presetPath != "" {
		if baseParams, err = preset.LoadJSON(*presetPath); err != nil {
			die("failed to load preset: %v", err)
		}
	}
	switch {
	case *frequency > 0:
		baseParams.Frequency = float32(*frequency)
	case *note >= 0:
		if *note > 127 {
			die("note must be in [0,127]")
		}
		baseParams.Frequency = synth.NoteToFrequency(*note)
	}

	reference, err := fitcommon.LoadMono(*referencePath, baseParams.SampleRate)
	if err != nil {
		die("failed to read reference: %v", err)
	}

	var presetIR []float32
	if baseParams.BodyIRPath != "" && !groups["body"] {
		if presetIR, err = fitcommon.LoadMono(baseParams.BodyIRPath, baseParams.SampleRate); err != nil {
			die("failed to read body IR: %v", err)
		}
	}

	baseBody := body.DefaultConfig()
	baseBody.SampleRate = baseParams.SampleRate

	paths := outputPaths{preset: *outputPreset, report: *reportPath, ir: *outputIR}
	defs, initCand := initCandidate(baseParams, baseBody, groups)
	if *resume {
		resumePath := *resumeReport
		if resumePath == "" {
			resumePath = paths.reportPath()
		}
		if resumed, ok, err := loadCandidateFromReport(resumePath, defs, initCand); err != nil {
			fmt.Fprintf(os.Stderr, "resume skipped (%s): %v\n", resumePath, err)
		} else if ok {
			initCand = resumed
			fmt.Printf("Resumed candidate from %s\n", resumePath)
		}
	}

	variant := strings.ToLower(*mayflyVariant)
	baseReport := runReport{
		ReferencePath: *referencePath,
		PresetPath:    *presetPath,
		SampleRate:    baseParams.SampleRate,
		FundamentalHz: float64(baseParams.Frequency),
		MayflyVariant: variant,
	}

	cfg := &optimizationConfig{
		reference:     fitcommon.ToFloat64(reference),
		baseParams:    baseParams,
		baseBody:      baseBody,
		bodyIR:        presetIR,
		defs:          defs,
		initCandidate: initCand,
		groups:        groups,
		f0:            float64(baseParams.Frequency),
		seed:          *seed,
		timeBudget:    *timeBudget,
		maxEvals:      *maxEvals,
		reportEvery:   max(*reportEvery, 1),
		render: renderSettings{
			decayDBFS:       *decayDBFS,
			decayHoldBlocks: *decayHoldBlocks,
			minDuration:     *minDuration,
			maxDuration:     max(*maxDuration, *minDuration),
			blockSize:       *renderBlockSize,
		},
		checkpointEvery:  *checkpointEvery,
		mayflyVariant:    variant,
		mayflyPop:        *mayflyPop,
		mayflyRoundEvals: *mayflyRoundEvals,
		workers:          parsedWorkers,
		topK:             *topK,
	}
	cfg.checkpoint = func(best candidate, eval optimizationEval, evals int, top []topCandidate) error {
		rep := baseReport
		rep.Evaluations = evals
		return writeOutputs(paths, rep, defs, best, eval, top)
	}

	result, err := runOptimization(cfg)
	if err != nil {
		die("optimization failed: %v", err)
	}

	rep := baseReport
	rep.DurationSec = result.elapsed
	rep.Evaluations = result.evals
	rep.CheckpointCount = result.checkpoints
	if err := writeOutputs(paths, rep, defs, result.best, result.bestEval, result.top); err != nil {
		die("failed to write outputs: %v", err)
	}

	m := result.bestEval.metrics
	fmt.Printf("Done evals=%d elapsed=%.1fs best_score=%.4f best_similarity=%.2f%% variant=%s\n", result.evals, result.elapsed, m.Score, m.Similarity*100.0, variant)
	if m.PartialsMatched > 0 {
		fmt.Printf("Partials matched=%d rms_cents=%.2f\n", m.PartialsMatched, m.PartialRMSCents)
	}
}

func loadCandidateFromReport(path string, defs []knobDef, fallback candidate) (candidate, bool, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fallback, false, nil
		}
		return fallback, false, err
	}

	var rep struct {
		BestKnobs map[string]float64 `json:"best_knobs"`
	}
	if err := json.Unmarshal(b, &rep); err != nil {
		return fallback, false, err
	}
	if len(rep.BestKnobs) == 0 {
		return fallback, false, nil
	}

	vals := append([]float64(nil), fallback.Vals...)
	updated := false
	for i, d := range defs {
		if v, ok := rep.BestKnobs[d.Name]; ok {
			vals[i] = fitcommon.Clamp(v, d.Min, d.Max)
			if d.IsInt {
				vals[i] = math.Round(vals[i])
			}
			updated = true
		}
	}
	if !updated {
		return fallback, false, nil
	}
	return candidate{Vals: vals}, true, nil
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
