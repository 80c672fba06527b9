package main

import (
	"sync"
	"unsafe"

	"github.com/ebitengine/oto/v3"

	"github.com/cwbudde/algo-stiffstring/synth"
)

// otoPlayer pulls mono float32 blocks from a voice. Read runs on the oto
// goroutine and is the only caller of voice.Process.
type otoPlayer struct {
	ctx       *oto.Context
	player    *oto.Player
	voice     *synth.Voice
	sampleBuf []float32
	mu        sync.Mutex // setup and shutdown only
}

func newOtoPlayer(voice *synth.Voice, bufferFrames int) (*otoPlayer, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   voice.SampleRate(),
		ChannelCount: 1,
		Format:       oto.FormatFloat32LE,
		BufferSize:   frameDuration(bufferFrames, voice.SampleRate()),
	})
	if err != nil {
		return nil, err
	}
	<-ready

	op := &otoPlayer{
		ctx:       ctx,
		voice:     voice,
		sampleBuf: make([]float32, max(bufferFrames, 1024)),
	}
	op.player = ctx.NewPlayer(op)
	return op, nil
}

func (op *otoPlayer) Read(p []byte) (int, error) {
	n := len(p) / 4
	if n == 0 {
		return 0, nil
	}
	if len(op.sampleBuf) < n {
		op.sampleBuf = make([]float32, n)
	}
	samples := op.sampleBuf[:n]
	op.voice.Process(samples)
	copy(p, unsafe.Slice((*byte)(unsafe.Pointer(&samples[0])), n*4))
	return n * 4, nil
}

func (op *otoPlayer) Start() {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.player != nil {
		op.player.Play()
	}
}

func (op *otoPlayer) Close() error {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.player == nil {
		return nil
	}
	err := op.player.Close()
	op.player = nil
	return err
}
