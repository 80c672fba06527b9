package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/cwbudde/algo-stiffstring/analysis"
	fitcommon "github.com/cwbudde/algo-stiffstring/internal/fitcommon"
	"github.com/cwbudde/algo-stiffstring/preset"
)

type runReport struct {
	ReferencePath   string             `json:"reference_path"`
	PresetPath      string             `json:"preset_path,omitempty"`
	OutputPreset    string             `json:"output_preset"`
	OutputIR        string             `json:"output_ir,omitempty"`
	SampleRate      int                `json:"sample_rate"`
	FundamentalHz   float64            `json:"fundamental_hz"`
	DurationSec     float64            `json:"elapsed_seconds"`
	Evaluations     int                `json:"evaluations"`
	MayflyVariant   string             `json:"mayfly_variant"`
	BestScore       float64            `json:"best_score"`
	BestSimilarity  float64            `json:"best_similarity"`
	BestMetrics     analysis.Metrics   `json:"best_metrics"`
	BestKnobs       map[string]float64 `json:"best_knobs"`
	CheckpointCount int                `json:"checkpoint_count"`
	TopCandidates   []topCandidate     `json:"top_candidates,omitempty"`
}

type outputPaths struct {
	preset string
	report string // defaults to <preset>.report.json
	ir     string // written only when a body IR was synthesized
}

func (o outputPaths) reportPath() string {
	if o.report != "" {
		return o.report
	}
	return o.preset + ".report.json"
}

// writeOutputs saves the best preset, its synthesized body IR when there
// is one, and the run report.
func writeOutputs(paths outputPaths, rep runReport, defs []knobDef, best candidate, eval optimizationEval, top []topCandidate) error {
	p := *eval.params
	if paths.ir != "" && len(eval.bodyIR) > 0 {
		if err := fitcommon.WriteMonoWAV(paths.ir, eval.bodyIR, p.SampleRate); err != nil {
			return err
		}
		p.BodyIRPath = paths.ir
		rep.OutputIR = paths.ir
	}
	p.BodyIRPath = presetIRPath(paths.preset, p.BodyIRPath)
	if err := preset.SaveJSON(paths.preset, &p); err != nil {
		return err
	}

	rep.OutputPreset = paths.preset
	rep.BestScore = eval.metrics.Score
	rep.BestSimilarity = eval.metrics.Similarity
	rep.BestMetrics = eval.metrics
	rep.BestKnobs = knobMap(defs, best)
	rep.TopCandidates = top
	return writeJSON(paths.reportPath(), rep)
}

// presetIRPath rewrites irPath relative to the directory of presetPath so
// the preset stays valid when the tree moves.
func presetIRPath(presetPath string, irPath string) string {
	irPath = strings.TrimSpace(irPath)
	if irPath == "" {
		return ""
	}

	presetDirAbs, err := filepath.Abs(filepath.Dir(presetPath))
	if err != nil {
		return irPath
	}
	irAbs, err := filepath.Abs(irPath)
	if err != nil {
		return irPath
	}
	rel, err := filepath.Rel(presetDirAbs, irAbs)
	if err != nil {
		return irPath
	}
	return filepath.ToSlash(rel)
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return os.WriteFile(path, b, 0o644)
}
