//go:build js && wasm

package main

import (
	"errors"
	"fmt"
	"syscall/js"

	"github.com/himanishpuri/freezam/internal/fingerprint"
)

// Error codes returned to JavaScript
const (
	ErrorNone = iota
	ErrorInvalidArgs
	ErrorTooShort
	ErrorSpectrogramFailed
	ErrorFingerprint
)

// computeFingerprints turns interleaved samples into both fingerprint kinds.
// JS: computeFingerprints(samples, sampleRate, channels) -> {error, data}
// where data is {v1: number[], v2: number[][]} on success, ready to POST to
// /api/identify/fingerprints.
func computeFingerprints(this js.Value, args []js.Value) any {
	if len(args) < 3 {
		return makeErrorResponse(ErrorInvalidArgs, "Expected 3 arguments: audioArray, sampleRate, channels")
	}

	audioDataJS, sampleRateJS, channelsJS := args[0], args[1], args[2]
	if audioDataJS.Type() != js.TypeObject {
		return makeErrorResponse(ErrorInvalidArgs, "audioArray must be an Array or Float64Array")
	}
	if sampleRateJS.Type() != js.TypeNumber || channelsJS.Type() != js.TypeNumber {
		return makeErrorResponse(ErrorInvalidArgs, "sampleRate and channels must be numbers")
	}

	sampleRate := sampleRateJS.Int()
	channels := channelsJS.Int()
	if sampleRate <= 0 {
		return makeErrorResponse(ErrorInvalidArgs, fmt.Sprintf("Invalid sample rate: %d", sampleRate))
	}
	if channels < 1 {
		return makeErrorResponse(ErrorInvalidArgs, fmt.Sprintf("Invalid channel count: %d", channels))
	}

	length := audioDataJS.Length()
	if length == 0 {
		return makeErrorResponse(ErrorInvalidArgs, "audioArray is empty")
	}

	interleaved := make([]float64, length)
	for i := range interleaved {
		val := audioDataJS.Index(i)
		if val.Type() != js.TypeNumber {
			return makeErrorResponse(ErrorInvalidArgs, fmt.Sprintf("audioArray element %d is not a number", i))
		}
		interleaved[i] = val.Float()
	}

	spect, err := fingerprint.BuildSpectrogram(toMono(interleaved, channels), sampleRate)
	switch {
	case errors.Is(err, fingerprint.ErrInsufficientDuration):
		return makeErrorResponse(ErrorTooShort, fmt.Sprintf("Need at least %d seconds of audio", fingerprint.WindowSeconds))
	case err != nil:
		return makeErrorResponse(ErrorSpectrogramFailed, fmt.Sprintf("Failed to generate spectrogram: %v", err))
	}

	fp2, err := fingerprint.OctavePeaks(spect)
	if err != nil {
		return makeErrorResponse(ErrorFingerprint, err.Error())
	}

	data := js.Global().Get("Object").New()
	data.Set("v1", floatArray(fingerprint.PeakFrequencies(spect)))
	v2 := js.Global().Get("Array").New(len(fp2))
	for i, vec := range fp2 {
		v2.SetIndex(i, floatArray(vec))
	}
	data.Set("v2", v2)

	result := js.Global().Get("Object").New()
	result.Set("error", ErrorNone)
	result.Set("data", data)
	return result
}

// toMono averages interleaved frames; a trailing partial frame is dropped.
func toMono(interleaved []float64, channels int) []float64 {
	if channels == 1 {
		return interleaved
	}
	mono := make([]float64, len(interleaved)/channels)
	for i := range mono {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += interleaved[i*channels+c]
		}
		mono[i] = sum / float64(channels)
	}
	return mono
}

func floatArray(xs []float64) js.Value {
	arr := js.Global().Get("Array").New(len(xs))
	for i, x := range xs {
		arr.SetIndex(i, x)
	}
	return arr
}

func makeErrorResponse(errorCode int, message string) js.Value {
	result := js.Global().Get("Object").New()
	result.Set("error", errorCode)
	result.Set("data", message)
	return result
}

func main() {
	console := js.Global().Get("console")
	logf := func(method, format string, args ...any) {
		if !console.IsUndefined() {
			console.Call(method, fmt.Sprintf(format, args...))
		}
	}

	js.Global().Set("computeFingerprints", js.FuncOf(computeFingerprints))
	logf("log", "freezam: computeFingerprints registered")

	window := js.Global().Get("window")
	if window.IsUndefined() {
		logf("error", "freezam: window is undefined, wasmReady not dispatched")
	} else {
		event := js.Global().Get("CustomEvent").New("wasmReady", js.Global().Get("Object").New())
		window.Call("dispatchEvent", event)
	}

	select {}
}
