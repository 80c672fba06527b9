//go:build js && wasm

package main

import (
	"encoding/binary"
	"math"
	"syscall/js"
	"unsafe"

	"github.com/cwbudde/algo-stiffstring/synth"
)

const maxBlock = 128

var (
	globalParams *synth.Params
	globalVoice  *synth.Voice
	outputBuffer []float32
)

func main() {
	c := make(chan struct{})

	js.Global().Set("wasmInit", js.FuncOf(wasmInit))
	js.Global().Set("wasmNoteOn", js.FuncOf(wasmNoteOn))
	js.Global().Set("wasmPluck", js.FuncOf(wasmPluck))
	js.Global().Set("wasmControlChange", js.FuncOf(wasmControlChange))
	js.Global().Set("wasmSetFrequency", setter((*synth.Voice).SetFrequency))
	js.Global().Set("wasmSetStiffness", setter((*synth.Voice).SetStiffness))
	js.Global().Set("wasmSetPluckPosition", setter((*synth.Voice).SetPluckPosition))
	js.Global().Set("wasmSetPickupPosition", setter((*synth.Voice).SetPickupPosition))
	js.Global().Set("wasmSetDecay", setter((*synth.Voice).SetDecay))
	js.Global().Set("wasmSetDecayHighFreq", setter((*synth.Voice).SetDecayHighFreq))
	js.Global().Set("wasmSetOutputGain", setter((*synth.Voice).SetOutputGain))
	js.Global().Set("wasmSetBodyMix", setter((*synth.Voice).SetBodyMix))
	js.Global().Set("wasmLoadIR", js.FuncOf(wasmLoadIR))
	js.Global().Set("wasmProcessBlock", js.FuncOf(wasmProcessBlock))
	js.Global().Set("wasmGetMemoryBuffer", js.FuncOf(wasmGetMemoryBuffer))

	println("WASM string module loaded")
	<-c
}

// wasmInit(sampleRate, [modes]) builds a fresh voice with default params.
func wasmInit(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return nil
	}
	params := synth.NewDefaultParams()
	params.SampleRate = args[0].Int()
	if len(args) > 1 {
		params.Modes = args[1].Int()
	}
	v, err := synth.NewVoice(params)
	if err != nil {
		println("init failed:", err.Error())
		return nil
	}
	globalParams = params
	globalVoice = v
	outputBuffer = make([]float32, maxBlock)

	println("String initialized at", params.SampleRate, "Hz with", params.Modes, "modes")
	return nil
}

func wasmNoteOn(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 || globalVoice == nil {
		return false
	}
	return globalVoice.NoteOn(args[0].Int(), args[1].Int())
}

func wasmPluck(this js.Value, args []js.Value) interface{} {
	if globalVoice != nil {
		globalVoice.Pluck()
	}
	return nil
}

func wasmControlChange(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 || globalVoice == nil {
		return false
	}
	return globalVoice.ControlChange(args[0].Int(), args[1].Int())
}

func setter(fn func(v *synth.Voice, x float32)) js.Func {
	return js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if len(args) < 1 || globalVoice == nil {
			return nil
		}
		fn(globalVoice, float32(args[0].Float()))
		return nil
	})
}

// wasmLoadIR takes a Float32Array of body IR samples at the init rate and
// rebuilds the voice around it. An empty array restores the dry voice.
func wasmLoadIR(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 || globalVoice == nil {
		return nil
	}
	arr := args[0]
	n := arr.Get("length").Int()
	raw := make([]byte, n*4)
	bytes := js.Global().Get("Uint8Array").New(arr.Get("buffer"), arr.Get("byteOffset"), n*4)
	js.CopyBytesToGo(raw, bytes)

	ir := make([]float32, n)
	for i := range ir {
		ir[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}

	params := *globalParams
	params.BodyIRPath = ""
	var opts []synth.Option
	if n > 0 {
		opts = append(opts, synth.WithBodyIR(ir))
	}
	v, err := synth.NewVoice(&params, opts...)
	if err != nil {
		println("Failed to load IR:", err.Error())
		return nil
	}
	_ = globalVoice.Close()
	globalVoice = v
	println("IR loaded:", n, "samples")
	return nil
}

func wasmProcessBlock(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 || globalVoice == nil {
		return 0
	}
	numFrames := min(max(args[0].Int(), 1), maxBlock)
	globalVoice.Process(outputBuffer[:numFrames])

	ptr := &outputBuffer[0]
	return js.ValueOf(uintptr(unsafe.Pointer(ptr)))
}

func wasmGetMemoryBuffer(this js.Value, args []js.Value) interface{} {
	return js.Global().Get("Go").Get("_inst").Get("exports").Get("mem").Get("buffer")
}
