// Package cascade implements the VAD state machine, segment collector, and
// interruption manager that turn per-frame speech probabilities into a
// time-aligned CascadeResult stream.
package cascade

import "github.com/flowvox/cascade-vad/internal/frame"

// SystemState is the dialogue layer's conversational phase, authoritative
// for every state except COLLECTING, which only the VAD cascade may enter
// or leave.
type SystemState int

const (
	StateIdle SystemState = iota
	StateCollecting
	StateProcessing
	StateResponding
)

// String implements fmt.Stringer for log-friendly output.
func (s SystemState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateCollecting:
		return "COLLECTING"
	case StateProcessing:
		return "PROCESSING"
	case StateResponding:
		return "RESPONDING"
	default:
		return "UNKNOWN"
	}
}

// VADConfig tunes the hysteresis and padding rules the cascade applies to
// raw per-frame speech probabilities.
type VADConfig struct {
	// Threshold is the probability above which a frame counts as speech.
	Threshold float64
	// SpeechPadMs is prepended before a start event and added after a
	// temp_end sample before an end event.
	SpeechPadMs int
	// MinSilenceDurationMs is how long probability must stay below
	// Threshold-0.15 before a triggered segment is allowed to end.
	MinSilenceDurationMs int
	// SampleRate must be 16000; kept explicit rather than assumed so the
	// sample<->ms conversions in this package stay self-documenting.
	SampleRate int
}

// InterruptionConfig tunes the interruption manager's onset policy.
type InterruptionConfig struct {
	// Enabled turns interruption handling on. When false, onsets are
	// always accepted unless the dialogue state is already COLLECTING.
	Enabled bool
	// MinIntervalMs throttles onsets: an onset less than MinIntervalMs
	// after the previous accepted onset is rejected outright.
	MinIntervalMs uint32
}

// SpeechSegment is contiguous speech audio delimited by a start and end
// event, including the padding frames prepended/appended per VADConfig.
type SpeechSegment struct {
	StartTimestampMs int64
	EndTimestampMs   int64
	Audio            []float32
}

// InterruptionEvent fires when a speech onset is detected while the
// dialogue layer claims to be PROCESSING or RESPONDING.
type InterruptionEvent struct {
	TimestampMs      int64
	InterruptedState SystemState
	Confidence       float32
}

// ResultKind tags which field of a CascadeResult is meaningful.
type ResultKind int

const (
	ResultFrame ResultKind = iota
	ResultSegment
	ResultInterruption
)

// CascadeResult is a tagged union: exactly one of Frame, Segment, or
// Interruption is populated, selected by Kind.
type CascadeResult struct {
	Kind             ResultKind
	Frame            frame.AudioFrame
	FrameTimestampMs int64
	Segment          SpeechSegment
	Interruption     InterruptionEvent
}

// msToSamples converts a millisecond duration to a sample count at the
// given sample rate, truncating per the spec's integer-arithmetic rule.
func msToSamples(ms, sampleRate int) int64 {
	if ms <= 0 {
		return 0
	}
	return int64(ms) * int64(sampleRate) / 1000
}
