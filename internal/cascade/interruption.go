package cascade

import "sync"

// DecisionKind is InterruptionManager's verdict on a speech onset.
type DecisionKind int

const (
	DecisionAccept DecisionKind = iota
	DecisionReject
	DecisionInterrupt
)

// Decision is the result of InterruptionManager.OnSpeechOnset.
// InterruptedState is only meaningful when Kind is DecisionInterrupt.
type Decision struct {
	Kind             DecisionKind
	InterruptedState SystemState
}

// InterruptionManager implements component E: it holds the dialogue-layer
// SystemState and enforces the entry guard (on speech onsets) and the
// switch guard (on external state-change requests), keeping the two
// sides' notion of "who owns COLLECTING" mutually exclusive.
//
// current_state is logically shared between VAD-side and dialogue-side
// callers; both are expected to run on the processor's single main task
// per the concurrency model, but the mutex here costs nothing and guards
// against a caller that breaks that assumption.
type InterruptionManager struct {
	mu           sync.Mutex
	cfg          InterruptionConfig
	state        SystemState
	lastOnsetTs  int64
	hasLastOnset bool
}

// NewInterruptionManager returns an InterruptionManager starting in IDLE.
func NewInterruptionManager(cfg InterruptionConfig) *InterruptionManager {
	return &InterruptionManager{cfg: cfg, state: StateIdle}
}

// OnSpeechOnset is the entry guard: it decides whether a VAD-detected
// speech onset is admitted, rejected, or counts as an interruption of an
// ongoing PROCESSING/RESPONDING phase.
func (im *InterruptionManager) OnSpeechOnset(timestampMs int64) Decision {
	im.mu.Lock()
	defer im.mu.Unlock()

	if !im.cfg.Enabled {
		if im.state == StateCollecting {
			return Decision{Kind: DecisionReject}
		}
		im.state = StateCollecting
		return Decision{Kind: DecisionAccept}
	}

	if im.hasLastOnset && timestampMs-im.lastOnsetTs < int64(im.cfg.MinIntervalMs) {
		return Decision{Kind: DecisionReject}
	}
	im.lastOnsetTs = timestampMs
	im.hasLastOnset = true

	switch im.state {
	case StateProcessing, StateResponding:
		prior := im.state
		im.state = StateCollecting
		return Decision{Kind: DecisionInterrupt, InterruptedState: prior}
	case StateIdle:
		im.state = StateCollecting
		return Decision{Kind: DecisionAccept}
	default: // StateCollecting: defensive, should not occur.
		return Decision{Kind: DecisionReject}
	}
}

// OnSpeechOffset is called by the state machine when a segment ends,
// returning the dialogue state to IDLE.
func (im *InterruptionManager) OnSpeechOffset() {
	im.mu.Lock()
	defer im.mu.Unlock()
	im.state = StateIdle
}

// RequestState is the switch guard: external callers may request a
// dialogue-state transition, which is rejected outright while COLLECTING
// and otherwise validated against the allowed edge set.
func (im *InterruptionManager) RequestState(newState SystemState) bool {
	im.mu.Lock()
	defer im.mu.Unlock()

	if im.state == StateCollecting {
		return false
	}
	if !isValidExternalTransition(im.state, newState) {
		return false
	}
	im.state = newState
	return true
}

// isValidExternalTransition enumerates the edges external callers may
// request: IDLE->PROCESSING, PROCESSING->RESPONDING, {PROCESSING,
// RESPONDING}->IDLE. COLLECTING is never a valid external target.
func isValidExternalTransition(from, to SystemState) bool {
	switch {
	case from == StateIdle && to == StateProcessing:
		return true
	case from == StateProcessing && to == StateResponding:
		return true
	case to == StateIdle && (from == StateProcessing || from == StateResponding):
		return true
	default:
		return false
	}
}

// GetState returns a read-only snapshot of the current dialogue state.
func (im *InterruptionManager) GetState() SystemState {
	im.mu.Lock()
	defer im.mu.Unlock()
	return im.state
}
