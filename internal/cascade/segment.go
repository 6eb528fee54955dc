package cascade

import (
	"errors"

	"github.com/flowvox/cascade-vad/internal/frame"
)

// ErrSegmentStateViolation indicates the VADIterator produced an
// ill-formed event sequence: an end with no prior start, or a second start
// before the first segment closed. It is a fatal StateViolation per the
// system's error taxonomy.
var ErrSegmentStateViolation = errors.New("cascade: segment collector received an out-of-order start/end event")

type collectorState int

const (
	collectorIdle collectorState = iota
	collectorCollecting
)

// SegmentCollector implements component C: it concatenates frames between
// a start and end event, prepending whatever pre-roll audio the pad window
// retained, and returns the finished SpeechSegment.
type SegmentCollector struct {
	state   collectorState
	startTs int64
	samples []float32
	preRoll *float32Ring
}

// NewSegmentCollector returns a SegmentCollector whose pre-roll window
// holds cfg.SpeechPadMs worth of samples.
func NewSegmentCollector(cfg VADConfig) *SegmentCollector {
	padSamples := msToSamples(cfg.SpeechPadMs, cfg.SampleRate)
	return &SegmentCollector{preRoll: newFloat32Ring(int(padSamples))}
}

// IsCollecting reports whether a segment is currently open.
func (c *SegmentCollector) IsCollecting() bool {
	return c.state == collectorCollecting
}

// Observe feeds a frame that was NOT absorbed into an open segment,
// maintaining the pre-roll window used to prepend padding at the next
// OnStart. Calling Observe while collecting is a no-op.
func (c *SegmentCollector) Observe(f frame.AudioFrame) {
	if c.state == collectorCollecting {
		return
	}
	c.preRoll.Write(f.Samples[:])
}

// OnStart transitions idle->collecting, opens a new segment, and prepends
// whatever pre-roll audio is currently buffered.
func (c *SegmentCollector) OnStart(timestampMs int64) error {
	if c.state == collectorCollecting {
		return ErrSegmentStateViolation
	}
	c.state = collectorCollecting
	c.startTs = timestampMs
	c.samples = append(c.samples[:0], c.preRoll.ReadAll()...)
	c.preRoll.Reset()
	return nil
}

// OnFrame appends a frame's samples to the open segment.
func (c *SegmentCollector) OnFrame(f frame.AudioFrame) {
	if c.state != collectorCollecting {
		return
	}
	c.samples = append(c.samples, f.Samples[:]...)
}

// OnEnd finalizes and returns the open segment, transitioning
// collecting->idle. EndTimestampMs is taken verbatim from the caller
// (already pad-adjusted by the VADIterator).
func (c *SegmentCollector) OnEnd(timestampMs int64) (SpeechSegment, error) {
	if c.state != collectorCollecting {
		return SpeechSegment{}, ErrSegmentStateViolation
	}
	c.state = collectorIdle
	seg := SpeechSegment{
		StartTimestampMs: c.startTs,
		EndTimestampMs:   timestampMs,
		Audio:            c.samples,
	}
	c.samples = nil
	return seg, nil
}
