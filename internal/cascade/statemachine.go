package cascade

import (
	"errors"

	"github.com/flowvox/cascade-vad/internal/frame"
)

// ErrStateMachineClosed indicates ProcessFrame or Finalize was called
// after a fatal StateViolation already terminated the machine.
var ErrStateMachineClosed = errors.New("cascade: state machine already terminated by a fatal error")

// StateMachine implements component D: it orchestrates the VADIterator and
// SegmentCollector, consults the InterruptionManager's entry guard on
// every speech onset, and produces the CascadeResult stream.
type StateMachine struct {
	iterator   *Iterator
	collector  *SegmentCollector
	interrupts *InterruptionManager
	terminated bool
}

// NewStateMachine wires a fresh Iterator, SegmentCollector, and
// InterruptionManager for one stream.
func NewStateMachine(vadCfg VADConfig, interruptCfg InterruptionConfig) *StateMachine {
	return &StateMachine{
		iterator:   NewIterator(vadCfg),
		collector:  NewSegmentCollector(vadCfg),
		interrupts: NewInterruptionManager(interruptCfg),
	}
}

// ProcessFrame feeds one (frame, probability) pair through the cascade.
// It returns at most one CascadeResult; ok is false when the frame was
// absorbed into an in-progress segment with nothing to emit yet.
func (sm *StateMachine) ProcessFrame(f frame.AudioFrame, probability float64) (result CascadeResult, ok bool, err error) {
	if sm.terminated {
		return CascadeResult{}, false, ErrStateMachineClosed
	}

	event, ts := sm.iterator.Advance(probability)

	switch event {
	case EventStart:
		return sm.handleStart(f, ts, probability)
	case EventEnd:
		return sm.handleEnd(ts)
	default:
		return sm.handleNone(f)
	}
}

func (sm *StateMachine) handleStart(f frame.AudioFrame, ts int64, probability float64) (CascadeResult, bool, error) {
	decision := sm.interrupts.OnSpeechOnset(ts)

	switch decision.Kind {
	case DecisionReject:
		// Entry guard rejected the onset: roll back B's triggered flag so
		// the next frame is evaluated as if this onset never happened.
		sm.iterator.RollbackTrigger()
		sm.collector.Observe(f)
		return frameResult(f), true, nil

	case DecisionInterrupt:
		if err := sm.openSegment(ts, f); err != nil {
			return CascadeResult{}, false, err
		}
		return CascadeResult{
			Kind: ResultInterruption,
			Interruption: InterruptionEvent{
				TimestampMs:      ts,
				InterruptedState: decision.InterruptedState,
				Confidence:       float32(probability),
			},
		}, true, nil

	default: // DecisionAccept
		if err := sm.openSegment(ts, f); err != nil {
			return CascadeResult{}, false, err
		}
		// The frame is now part of the segment; nothing to emit yet.
		return CascadeResult{}, false, nil
	}
}

func (sm *StateMachine) openSegment(ts int64, f frame.AudioFrame) error {
	if err := sm.collector.OnStart(ts); err != nil {
		sm.terminated = true
		return err
	}
	sm.collector.OnFrame(f)
	return nil
}

func (sm *StateMachine) handleEnd(ts int64) (CascadeResult, bool, error) {
	seg, err := sm.collector.OnEnd(ts)
	if err != nil {
		sm.terminated = true
		return CascadeResult{}, false, err
	}
	sm.interrupts.OnSpeechOffset()
	return CascadeResult{Kind: ResultSegment, Segment: seg}, true, nil
}

func (sm *StateMachine) handleNone(f frame.AudioFrame) (CascadeResult, bool, error) {
	if sm.collector.IsCollecting() {
		sm.collector.OnFrame(f)
		return CascadeResult{}, false, nil
	}
	sm.collector.Observe(f)
	return frameResult(f), true, nil
}

func frameResult(f frame.AudioFrame) CascadeResult {
	return CascadeResult{Kind: ResultFrame, Frame: f, FrameTimestampMs: f.StartTimestampMs}
}

// Finalize flushes any in-progress segment as if an end event arrived at
// currentTimestampMs. Returns ok=false if no segment was open.
func (sm *StateMachine) Finalize(currentTimestampMs int64) (CascadeResult, bool, error) {
	if sm.terminated {
		return CascadeResult{}, false, ErrStateMachineClosed
	}
	if !sm.collector.IsCollecting() {
		return CascadeResult{}, false, nil
	}
	return sm.handleEnd(currentTimestampMs)
}

// SetSystemState delegates to the interruption manager's switch guard.
func (sm *StateMachine) SetSystemState(s SystemState) bool {
	return sm.interrupts.RequestState(s)
}

// SystemState returns the interruption manager's current dialogue state.
func (sm *StateMachine) SystemState() SystemState {
	return sm.interrupts.GetState()
}
