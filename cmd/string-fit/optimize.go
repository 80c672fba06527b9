package main

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cwbudde/mayfly"

	"github.com/cwbudde/algo-stiffstring/analysis"
	"github.com/cwbudde/algo-stiffstring/body"
	fitcommon "github.com/cwbudde/algo-stiffstring/internal/fitcommon"
	"github.com/cwbudde/algo-stiffstring/synth"
)

type topCandidate struct {
	Eval       int                `json:"eval"`
	Score      float64            `json:"score"`
	Similarity float64            `json:"similarity"`
	Knobs      map[string]float64 `json:"knobs"`
}

type renderSettings struct {
	decayDBFS       float64
	decayHoldBlocks int
	minDuration     float64
	maxDuration     float64
	blockSize       int
}

type optimizationConfig struct {
	reference        []float64
	baseParams       *synth.Params
	baseBody         body.Config
	bodyIR           []float32 // preloaded IR for presets with body_ir_path
	defs             []knobDef
	initCandidate    candidate
	groups           map[string]bool
	f0               float64
	seed             int64
	timeBudget       float64
	maxEvals         int
	reportEvery      int
	checkpointEvery  int
	render           renderSettings
	mayflyVariant    string
	mayflyPop        int
	mayflyRoundEvals int
	workers          int
	topK             int

	// checkpoint persists an improved best; it runs serialized.
	checkpoint func(best candidate, eval optimizationEval, evals int, top []topCandidate) error
}

type optimizationEval struct {
	metrics analysis.Metrics
	params  *synth.Params
	bodyIR  []float32 // synthesized body IR when the body group is active
}

type optimizationResult struct {
	best        candidate
	bestEval    optimizationEval
	top         []topCandidate
	evals       int
	elapsed     float64
	checkpoints int
}

type optimizationState struct {
	mu          sync.Mutex
	best        candidate
	bestEval    optimizationEval
	top         []topCandidate
	checkpoints int
}

func runOptimization(cfg *optimizationConfig) (*optimizationResult, error) {
	start := time.Now()
	deadline := start.Add(time.Duration(cfg.timeBudget * float64(time.Second)))
	variant := strings.ToLower(cfg.mayflyVariant)

	best := cloneCandidate(cfg.initCandidate)
	initialEval, err := evaluateCandidate(cfg, best)
	if err != nil {
		return nil, fmt.Errorf("initial evaluation failed: %w", err)
	}
	fmt.Printf("Start score=%.4f similarity=%.2f%%\n", initialEval.metrics.Score, initialEval.metrics.Similarity*100.0)

	state := &optimizationState{
		best:     best,
		bestEval: initialEval,
		top:      updateTopCandidates(nil, cfg.topK, 1, initialEval.metrics, cfg.defs, best),
	}

	var evals int64 = 1
	var rounds int64
	var improves int64
	var outputMu sync.Mutex

	workers := max(cfg.workers, 1)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if time.Now().After(deadline) {
					return
				}
				remaining := cfg.maxEvals - int(atomic.LoadInt64(&evals))
				if remaining <= 0 {
					return
				}
				round := int(atomic.AddInt64(&rounds, 1))
				budget := min(cfg.mayflyRoundEvals, remaining)
				iters := max(1, budget/(2*cfg.mayflyPop))

				mayflyConfig, err := newMayflyConfig(variant, cfg.mayflyPop, len(cfg.defs), iters)
				if err != nil {
					fmt.Fprintf(os.Stderr, "mayfly round %d setup failed: %v\n", round, err)
					return
				}
				mayflyConfig.Rand = rand.New(rand.NewSource(cfg.seed + int64(round)*7919))
				mayflyConfig.ObjectiveFunc = func(pos []float64) float64 {
					if time.Now().After(deadline) {
						return currentBestScore(state) + 1.0
					}
					evalNum, ok := reserveEval(&evals, cfg.maxEvals)
					if !ok {
						return currentBestScore(state) + 1.0
					}

					cand := fromNormalized(pos, cfg.defs)
					res, err := evaluateCandidate(cfg, cand)
					if err != nil {
						return currentBestScore(state) + 0.8
					}

					state.mu.Lock()
					state.top = updateTopCandidates(state.top, cfg.topK, int(evalNum), res.metrics, cfg.defs, cand)
					improved := res.metrics.Score < state.bestEval.metrics.Score
					var improveNum int64
					var topSnapshot []topCandidate
					if improved {
						state.best = cloneCandidate(cand)
						state.bestEval = res
						improveNum = atomic.AddInt64(&improves, 1)
						topSnapshot = cloneTopCandidates(state.top)
					}
					bestScore := state.bestEval.metrics.Score
					state.mu.Unlock()

					if improved {
						fmt.Printf("Improved #%d eval=%d score=%.4f sim=%.2f%%\n", improveNum, evalNum, res.metrics.Score, res.metrics.Similarity*100.0)
						if cfg.checkpoint != nil && improveNum%int64(max(cfg.checkpointEvery, 1)) == 0 {
							outputMu.Lock()
							if err := cfg.checkpoint(cand, res, int(atomic.LoadInt64(&evals)), topSnapshot); err != nil {
								fmt.Fprintf(os.Stderr, "checkpoint write failed: %v\n", err)
							} else {
								state.mu.Lock()
								state.checkpoints++
								state.mu.Unlock()
							}
							outputMu.Unlock()
						}
					}
					if cfg.reportEvery > 0 && evalNum%int64(cfg.reportEvery) == 0 {
						fmt.Printf("Progress eval=%d/%d elapsed=%.1fs best=%.4f\n", evalNum, cfg.maxEvals, time.Since(start).Seconds(), bestScore)
					}
					return res.metrics.Score
				}

				if _, err := runMayfly(mayflyConfig); err != nil {
					fmt.Fprintf(os.Stderr, "mayfly round %d failed: %v\n", round, err)
				}
			}
		}()
	}
	wg.Wait()

	state.mu.Lock()
	defer state.mu.Unlock()
	return &optimizationResult{
		best:        cloneCandidate(state.best),
		bestEval:    state.bestEval,
		top:         cloneTopCandidates(state.top),
		evals:       int(atomic.LoadInt64(&evals)),
		elapsed:     time.Since(start).Seconds(),
		checkpoints: state.checkpoints,
	}, nil
}

func evaluateCandidate(cfg *optimizationConfig, cand candidate) (optimizationEval, error) {
	params, bodyCfg := applyCandidate(cfg.baseParams, cfg.baseBody, cfg.defs, cand)

	var opts []synth.Option
	var ir []float32
	switch {
	case cfg.groups["body"]:
		synthesized, err := body.Synthesize(bodyCfg)
		if err != nil {
			return optimizationEval{}, fmt.Errorf("body IR: %w", err)
		}
		ir = synthesized
		opts = append(opts, synth.WithBodyIR(ir))
	case len(cfg.bodyIR) > 0:
		opts = append(opts, synth.WithBodyIR(cfg.bodyIR))
	}

	mono, err := renderVoice(params, cfg.render, opts...)
	if err != nil {
		return optimizationEval{}, err
	}
	metrics := analysis.CompareWith(cfg.reference, mono, params.SampleRate, analysis.CompareOptions{F0: cfg.f0})
	return optimizationEval{metrics: metrics, params: params, bodyIR: ir}, nil
}

// renderVoice plucks a fresh voice and renders until the output stays
// below the decay threshold or the maximum duration is reached.
func renderVoice(params *synth.Params, rs renderSettings, opts ...synth.Option) ([]float64, error) {
	if params == nil {
		return nil, errors.New("nil params")
	}
	v, err := synth.NewVoice(params, opts...)
	if err != nil {
		return nil, err
	}
	defer v.Close()
	v.Pluck()

	hold := max(rs.decayHoldBlocks, 1)
	blockSize := max(rs.blockSize, 16)
	minFrames := int(float64(params.SampleRate) * max(rs.minDuration, 0))
	maxFrames := max(minFrames, int(float64(params.SampleRate)*rs.maxDuration))
	if maxFrames < 1 {
		return nil, errors.New("max duration too small")
	}
	threshold := math.Pow(10.0, rs.decayDBFS/20.0)

	out := make([]float32, 0, maxFrames)
	block := make([]float32, blockSize)
	below := 0
	for len(out) < maxFrames {
		n := min(blockSize, maxFrames-len(out))
		v.Process(block[:n])
		out = append(out, block[:n]...)
		if len(out) < minFrames {
			continue
		}
		if blockRMS(block[:n]) < threshold {
			below++
			if below >= hold {
				break
			}
		} else {
			below = 0
		}
	}
	return fitcommon.ToFloat64(out), nil
}

func blockRMS(x []float32) float64 {
	if len(x) == 0 {
		return 0
	}
	var sum float64
	for _, s := range x {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(x)))
}

func cloneCandidate(c candidate) candidate {
	return candidate{Vals: append([]float64(nil), c.Vals...)}
}

func cloneTopCandidates(in []topCandidate) []topCandidate {
	out := make([]topCandidate, len(in))
	for i := range in {
		out[i] = in[i]
		out[i].Knobs = make(map[string]float64, len(in[i].Knobs))
		for k, v := range in[i].Knobs {
			out[i].Knobs[k] = v
		}
	}
	return out
}

func newMayflyConfig(variant string, pop int, dims int, iters int) (*mayfly.Config, error) {
	var cfg *mayfly.Config
	switch variant {
	case "ma":
		cfg = mayfly.NewDefaultConfig()
	case "desma":
		cfg = mayfly.NewDESMAConfig()
	case "olce":
		cfg = mayfly.NewOLCEConfig()
	case "eobbma":
		cfg = mayfly.NewEOBBMAConfig()
	case "gsasma":
		cfg = mayfly.NewGSASMAConfig()
	case "mpma":
		cfg = mayfly.NewMPMAConfig()
	case "aoblmoa":
		cfg = mayfly.NewAOBLMOAConfig()
	default:
		return nil, fmt.Errorf("unsupported variant %q", variant)
	}
	cfg.ProblemSize = dims
	cfg.LowerBound = 0.0
	cfg.UpperBound = 1.0
	cfg.MaxIterations = iters
	cfg.NPop = pop
	cfg.NPopF = pop
	cfg.NC = 2 * pop
	cfg.NM = max(1, int(math.Round(0.05*float64(pop))))
	return cfg, nil
}

func runMayfly(cfg *mayfly.Config) (_ *mayfly.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mayfly panic: %v", r)
		}
	}()
	return mayfly.Optimize(cfg)
}

func reserveEval(evals *int64, maxEvals int) (int64, bool) {
	for {
		cur := atomic.LoadInt64(evals)
		if cur >= int64(maxEvals) {
			return 0, false
		}
		if atomic.CompareAndSwapInt64(evals, cur, cur+1) {
			return cur + 1, true
		}
	}
}

func currentBestScore(state *optimizationState) float64 {
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.bestEval.metrics.Score
}

func updateTopCandidates(top []topCandidate, topK int, eval int, metrics analysis.Metrics, defs []knobDef, cand candidate) []topCandidate {
	top = append(top, topCandidate{
		Eval:       eval,
		Score:      metrics.Score,
		Similarity: metrics.Similarity,
		Knobs:      knobMap(defs, cand),
	})
	sort.Slice(top, func(i, j int) bool {
		if top[i].Score == top[j].Score {
			return top[i].Eval < top[j].Eval
		}
		return top[i].Score < top[j].Score
	})
	if len(top) > topK {
		top = top[:topK]
	}
	return top
}
