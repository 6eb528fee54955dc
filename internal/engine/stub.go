package engine

// StubToggleInterval is the number of frames after which the stub engine
// toggles between speech and silence. At 32ms per frame, ~31 frames is
// roughly one second.
const StubToggleInterval = 31

// StubHighConfidence and StubLowConfidence are the fixed probabilities the
// stub engine alternates between. Built without the silero tag, this is the
// only Inferencer available, so it stays deterministic and dependency-free.
const (
	StubHighConfidence float32 = 0.9
	StubLowConfidence  float32 = 0.05
)

// StubEngine returns deterministic speech probabilities by alternating
// between a high and low value every StubToggleInterval frames. It does not
// process audio content at all; it exists so the cascade can be exercised
// end to end without the ONNX Runtime shared library present.
type StubEngine struct {
	counter  int
	speaking bool
}

// NewStubEngine creates a StubEngine starting in silence state.
func NewStubEngine() *StubEngine {
	return &StubEngine{}
}

// Infer ignores frame content and returns a deterministic probability based
// on an internal counter that toggles speech/silence every
// StubToggleInterval frames.
func (e *StubEngine) Infer(_ [512]float32, sampleRate uint32) (float32, error) {
	if sampleRate != ExpectedSampleRate {
		return 0, ErrWrongSampleRate
	}

	e.counter++
	if e.counter >= StubToggleInterval {
		e.counter = 0
		e.speaking = !e.speaking
	}
	if e.speaking {
		return StubHighConfidence, nil
	}
	return StubLowConfidence, nil
}

// ResetStates returns the engine to its initial state (silence, counter zero).
func (e *StubEngine) ResetStates() error {
	e.counter = 0
	e.speaking = false
	return nil
}

// Close is a no-op for the stub engine.
func (e *StubEngine) Close() error {
	return nil
}
