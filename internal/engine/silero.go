//go:build silero

package engine

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	// sileroWindowSize is the number of float32 samples per inference call.
	// Silero VAD v5 at 16 kHz requires exactly 512 samples (32 ms).
	sileroWindowSize = 512

	// sileroStateSize is the hidden state dimension per layer.
	// Silero VAD v5 uses a combined state tensor of shape [2, 1, 128].
	sileroStateSize = 128
)

// ortInitOnce ensures ONNX Runtime environment is initialized exactly once.
// ortInitErr is stored at package scope so subsequent NewSileroEngine calls
// surface the failure instead of proceeding with an uninitialized environment.
var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// SileroEngine runs Silero VAD v5 inference via ONNX Runtime, implementing
// Inferencer directly against single 512-sample frames.
type SileroEngine struct {
	session *ort.AdvancedSession

	// Input tensors (reused between calls).
	inputTensor *ort.Tensor[float32] // [1, 512]
	stateTensor *ort.Tensor[float32] // [2, 1, 128]
	srTensor    *ort.Tensor[int64]   // scalar

	// Output tensors (reused between calls).
	outputTensor *ort.Tensor[float32] // [1, 1]
	stateNTensor *ort.Tensor[float32] // [2, 1, 128]

	threshold float64
}

// NewSileroEngine creates a SileroEngine by initializing ONNX Runtime,
// loading the embedded model, and allocating input/output tensors.
func NewSileroEngine(threshold float64) (*SileroEngine, error) {
	if len(sileroModelData) == 0 {
		return nil, fmt.Errorf("silero: model data is empty (build without silero tag?)")
	}

	ortInitOnce.Do(func() {
		libPath, err := resolveORTLibPath()
		if err != nil {
			ortInitErr = fmt.Errorf("resolve ORT lib: %w", err)
			return
		}
		ort.SetSharedLibraryPath(libPath)
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("silero: %w", ortInitErr)
	}

	// Allocate input tensors.
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, sileroWindowSize))
	if err != nil {
		return nil, fmt.Errorf("silero: create input tensor: %w", err)
	}
	stateTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, sileroStateSize))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("silero: create state tensor: %w", err)
	}
	srTensor, err := ort.NewTensor(ort.NewShape(1), []int64{int64(ExpectedSampleRate)})
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		return nil, fmt.Errorf("silero: create sr tensor: %w", err)
	}

	// Allocate output tensors.
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		return nil, fmt.Errorf("silero: create output tensor: %w", err)
	}
	stateNTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, sileroStateSize))
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("silero: create stateN tensor: %w", err)
	}

	// Explicitly zero state tensors — onnxruntime_go may not guarantee zeroed memory.
	clearFloat32Slice(stateTensor.GetData())
	clearFloat32Slice(stateNTensor.GetData())

	// Create ONNX session from embedded model data.
	session, err := ort.NewAdvancedSessionWithONNXData(
		sileroModelData,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		[]ort.Value{inputTensor, stateTensor, srTensor},
		[]ort.Value{outputTensor, stateNTensor},
		nil, // default session options
	)
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		outputTensor.Destroy()
		stateNTensor.Destroy()
		return nil, fmt.Errorf("silero: create session: %w", err)
	}

	return &SileroEngine{
		session:      session,
		inputTensor:  inputTensor,
		stateTensor:  stateTensor,
		srTensor:     srTensor,
		outputTensor: outputTensor,
		stateNTensor: stateNTensor,
		threshold:    threshold,
	}, nil
}

// Infer runs a single Silero VAD inference on exactly one 512-sample frame,
// carrying the RNN hidden state forward to the next call.
func (e *SileroEngine) Infer(frame [sileroWindowSize]float32, sampleRate uint32) (float32, error) {
	if sampleRate != ExpectedSampleRate {
		return 0, ErrWrongSampleRate
	}

	copy(e.inputTensor.GetData(), frame[:])

	if err := e.session.Run(); err != nil {
		return 0, fmt.Errorf("silero: inference: %w", err)
	}

	prob := e.outputTensor.GetData()[0]

	// Carry forward hidden state: copy stateN -> state.
	copy(e.stateTensor.GetData(), e.stateNTensor.GetData())

	return prob, nil
}

// SetThreshold updates the speech probability threshold used by callers
// that consult Threshold() directly instead of the cascade's own VADConfig.
func (e *SileroEngine) SetThreshold(threshold float64) {
	e.threshold = threshold
}

// Threshold returns the engine's configured speech probability threshold.
func (e *SileroEngine) Threshold() float64 { return e.threshold }

// ResetStates clears the carried RNN hidden state. Must be called at
// stream open and after every finalize per the inference contract.
func (e *SileroEngine) ResetStates() error {
	clearFloat32Slice(e.stateTensor.GetData())
	return nil
}

// Close releases ONNX Runtime resources. Safe to call multiple times.
func (e *SileroEngine) Close() error {
	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}
	if e.inputTensor != nil {
		e.inputTensor.Destroy()
		e.inputTensor = nil
	}
	if e.stateTensor != nil {
		e.stateTensor.Destroy()
		e.stateTensor = nil
	}
	if e.srTensor != nil {
		e.srTensor.Destroy()
		e.srTensor = nil
	}
	if e.outputTensor != nil {
		e.outputTensor.Destroy()
		e.outputTensor = nil
	}
	if e.stateNTensor != nil {
		e.stateNTensor.Destroy()
		e.stateNTensor = nil
	}
	return nil
}

func clearFloat32Slice(s []float32) {
	for i := range s {
		s[i] = 0
	}
}
