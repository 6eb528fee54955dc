package cascade

import "github.com/flowvox/cascade-vad/internal/frame"

// hysteresisMargin is the Silero convention: a frame must drop at least
// this far below Threshold before silence starts accumulating toward
// MinSilenceDurationMs. Preserved for model-score compatibility.
const hysteresisMargin = 0.15

// Event is the VADIterator's per-frame classification.
type Event int

const (
	EventNone Event = iota
	EventStart
	EventEnd
)

// Iterator implements the VADIterator wrapper (component B): it turns a
// stream of (frame, probability) pairs into None/start/end events with
// speech_pad_ms and min_silence_duration_ms hysteresis.
type Iterator struct {
	cfg           VADConfig
	triggered     bool
	hasTempEnd    bool
	tempEnd       int64
	currentSample int64
}

// NewIterator returns an Iterator ready to process frame 0.
func NewIterator(cfg VADConfig) *Iterator {
	return &Iterator{cfg: cfg}
}

// Advance feeds one frame's speech probability and returns the resulting
// event. The returned timestamp is only meaningful for EventStart/EventEnd.
func (it *Iterator) Advance(probability float64) (Event, int64) {
	it.currentSample += frame.Samples

	if probability >= it.cfg.Threshold && !it.triggered {
		it.triggered = true
		it.hasTempEnd = false

		startSample := it.currentSample - frame.Samples - msToSamples(it.cfg.SpeechPadMs, it.cfg.SampleRate)
		if startSample < 0 {
			startSample = 0
		}
		return EventStart, startSample * 1000 / int64(it.cfg.SampleRate)
	}

	if probability < it.cfg.Threshold-hysteresisMargin && it.triggered {
		if !it.hasTempEnd {
			it.tempEnd = it.currentSample
			it.hasTempEnd = true
		}

		minSilenceSamples := msToSamples(it.cfg.MinSilenceDurationMs, it.cfg.SampleRate)
		if it.currentSample-it.tempEnd >= minSilenceSamples {
			it.triggered = false
			endSample := it.tempEnd + msToSamples(it.cfg.SpeechPadMs, it.cfg.SampleRate)
			it.hasTempEnd = false
			return EventEnd, endSample * 1000 / int64(it.cfg.SampleRate)
		}
		return EventNone, 0
	}

	return EventNone, 0
}

// RollbackTrigger clears the triggered flag without emitting an end event.
// Used by the state machine's entry guard: when InterruptionManager rejects
// an onset, B's internal state must behave as if the onset never happened.
func (it *Iterator) RollbackTrigger() {
	it.triggered = false
	it.hasTempEnd = false
}

// Reset returns the iterator to its initial state, for reuse across
// sessions (mirrors the inference collaborator's own reset_states()).
func (it *Iterator) Reset() {
	it.triggered = false
	it.hasTempEnd = false
	it.tempEnd = 0
	it.currentSample = 0
}
