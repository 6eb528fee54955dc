// Package engine adapts the inference collaborator contract — a single
// 512-sample-window probability model with RNN-style carried state — to a
// small Go interface the cascade's worker goroutine calls once per frame.
package engine

import "errors"

// ExpectedSampleRate is the only sample rate the inference collaborator
// accepts. The contract is 16kHz, 512-sample windows; anything else is a
// caller bug, not a recoverable input error.
const ExpectedSampleRate = 16000

// ErrWrongSampleRate is returned when a caller passes a sample rate other
// than ExpectedSampleRate.
var ErrWrongSampleRate = errors.New("engine: sample rate must be 16000")

// Inferencer is the inference collaborator contract: Infer takes exactly
// one 512-sample frame and returns a speech probability in [0, 1].
// ResetStates must be called at stream open and after every finalize, per
// the contract's reset_states() requirement, so carried RNN state never
// leaks across sessions.
type Inferencer interface {
	Infer(frame [512]float32, sampleRate uint32) (float32, error)
	ResetStates() error
	Close() error
}

// NativeAvailable reports whether the silero backend was compiled in
// (build tag "silero"). When false, NewNativeEngine always fails and
// callers should fall back to NewStubEngine.
func NativeAvailable() bool { return nativeAvailable() }

// NewNativeEngine constructs the silero ONNX inference backend. Returns
// ErrNativeUnavailable when built without the silero tag.
func NewNativeEngine(threshold float64) (Inferencer, error) {
	return newNativeEngine(threshold)
}
