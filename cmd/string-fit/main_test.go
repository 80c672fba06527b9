package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cwbudde/algo-stiffstring/analysis"
	"github.com/cwbudde/algo-stiffstring/preset"
	"github.com/cwbudde/algo-stiffstring/synth"
)

func TestPresetIRPathRelativizesFromPresetDir(t *testing.T) {
	presetPath := filepath.Join("out", "presets", "fitted.json")
	irPath := filepath.Join("out", "ir", "body.wav")

	got := presetIRPath(presetPath, irPath)
	want := filepath.ToSlash(filepath.Join("..", "ir", "body.wav"))
	if got != want {
		t.Fatalf("presetIRPath() = %q, want %q", got, want)
	}
	if got := presetIRPath(presetPath, "  "); got != "" {
		t.Fatalf("presetIRPath() = %q, want empty", got)
	}
}

func TestLoadCandidateFromReportBestKnobs(t *testing.T) {
	tmp := t.TempDir()
	reportPath := filepath.Join(tmp, "rep.json")
	data := `{"best_knobs":{"stiffness":0.2,"body_modes":40.4,"unknown":1}}`
	if err := os.WriteFile(reportPath, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	defs := []knobDef{
		{Name: "stiffness", Min: 0, Max: 0.05},
		{Name: "decay", Min: 0, Max: 0.005},
		{Name: "body_modes", Min: 8, Max: 96, IsInt: true},
	}
	fallback := candidate{Vals: []float64{0.001, 0.0001, 48}}

	got, ok, err := loadCandidateFromReport(reportPath, defs, fallback)
	if err != nil || !ok {
		t.Fatalf("loadCandidateFromReport: ok=%v err=%v", ok, err)
	}
	want := []float64{0.05, 0.0001, 40}
	for i := range want {
		if got.Vals[i] != want[i] {
			t.Fatalf("vals=%v, want %v", got.Vals, want)
		}
	}
	if fallback.Vals[0] != 0.001 {
		t.Fatal("fallback was mutated")
	}
}

func TestLoadCandidateFromReportMissingOrEmpty(t *testing.T) {
	tmp := t.TempDir()
	defs := []knobDef{{Name: "stiffness", Min: 0, Max: 0.05}}
	fallback := candidate{Vals: []float64{0.001}}

	if _, ok, err := loadCandidateFromReport(filepath.Join(tmp, "missing.json"), defs, fallback); ok || err != nil {
		t.Fatalf("missing report: ok=%v err=%v", ok, err)
	}

	empty := filepath.Join(tmp, "empty.json")
	if err := os.WriteFile(empty, []byte(`{"best_knobs":{"other":1}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := loadCandidateFromReport(empty, defs, fallback); ok || err != nil {
		t.Fatalf("unrelated knobs: ok=%v err=%v", ok, err)
	}

	bad := filepath.Join(tmp, "bad.json")
	if err := os.WriteFile(bad, []byte(`{`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := loadCandidateFromReport(bad, defs, fallback); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestWriteOutputsRoundTripsPreset(t *testing.T) {
	tmp := t.TempDir()
	paths := outputPaths{
		preset: filepath.Join(tmp, "presets", "fit.json"),
		ir:     filepath.Join(tmp, "ir", "body.wav"),
	}
	p := synth.NewDefaultParams()
	p.Stiffness = 0.0123
	p.BodyMix = 0.4
	eval := optimizationEval{
		metrics: analysis.Metrics{Score: 0.25, Similarity: 0.37},
		params:  p,
		bodyIR:  []float32{0.5, 0.25, -0.125, 0},
	}
	defs := []knobDef{{Name: "stiffness", Min: 0, Max: 0.05}}
	best := candidate{Vals: []float64{0.0123}}

	if err := writeOutputs(paths, runReport{ReferencePath: "ref.wav"}, defs, best, eval, nil); err != nil {
		t.Fatalf("writeOutputs: %v", err)
	}
	if p.BodyIRPath != "" {
		t.Fatal("writeOutputs mutated the evaluated params")
	}

	loaded, err := preset.LoadJSON(paths.preset)
	if err != nil {
		t.Fatalf("LoadJSON: %v", err)
	}
	if loaded.Stiffness != p.Stiffness || loaded.BodyMix != p.BodyMix {
		t.Fatalf("loaded %+v", loaded)
	}
	if filepath.Clean(loaded.BodyIRPath) != filepath.Clean(paths.ir) {
		t.Fatalf("body IR path=%q, want %q", loaded.BodyIRPath, paths.ir)
	}
	if _, err := os.Stat(paths.reportPath()); err != nil {
		t.Fatalf("report not written: %v", err)
	}

	resumed, ok, err := loadCandidateFromReport(paths.reportPath(), defs, candidate{Vals: []float64{0}})
	if err != nil || !ok || resumed.Vals[0] != 0.0123 {
		t.Fatalf("resume from written report: %v %v %v", resumed.Vals, ok, err)
	}
}
