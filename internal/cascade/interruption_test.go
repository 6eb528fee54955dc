package cascade

import "testing"

func TestInterruptionManagerAcceptsFirstOnsetFromIdle(t *testing.T) {
	im := NewInterruptionManager(InterruptionConfig{Enabled: true, MinIntervalMs: 500})
	d := im.OnSpeechOnset(0)
	if d.Kind != DecisionAccept {
		t.Fatalf("expected DecisionAccept, got %v", d.Kind)
	}
	if im.GetState() != StateCollecting {
		t.Fatalf("expected state COLLECTING after accept, got %v", im.GetState())
	}
}

func TestInterruptionManagerThrottlesRapidDoubleOnset(t *testing.T) {
	im := NewInterruptionManager(InterruptionConfig{Enabled: true, MinIntervalMs: 500})
	im.OnSpeechOnset(0)
	im.OnSpeechOffset() // back to idle
	d := im.OnSpeechOnset(100)
	if d.Kind != DecisionReject {
		t.Fatalf("expected DecisionReject for onset within MinIntervalMs, got %v", d.Kind)
	}
}

func TestInterruptionManagerInterruptsProcessing(t *testing.T) {
	im := NewInterruptionManager(InterruptionConfig{Enabled: true, MinIntervalMs: 0})
	im.OnSpeechOnset(0)
	im.OnSpeechOffset()
	if !im.RequestState(StateProcessing) {
		t.Fatalf("expected idle->processing to be a valid external transition")
	}

	d := im.OnSpeechOnset(1000)
	if d.Kind != DecisionInterrupt {
		t.Fatalf("expected DecisionInterrupt while PROCESSING, got %v", d.Kind)
	}
	if d.InterruptedState != StateProcessing {
		t.Fatalf("expected InterruptedState=PROCESSING, got %v", d.InterruptedState)
	}
}

func TestInterruptionManagerInterruptsResponding(t *testing.T) {
	im := NewInterruptionManager(InterruptionConfig{Enabled: true, MinIntervalMs: 0})
	im.RequestState(StateProcessing)
	im.RequestState(StateResponding)

	d := im.OnSpeechOnset(0)
	if d.Kind != DecisionInterrupt || d.InterruptedState != StateResponding {
		t.Fatalf("expected interrupt of RESPONDING, got %+v", d)
	}
}

func TestInterruptionManagerRejectsExternalStateTheftWhileCollecting(t *testing.T) {
	im := NewInterruptionManager(InterruptionConfig{Enabled: true, MinIntervalMs: 0})
	im.OnSpeechOnset(0) // -> COLLECTING
	if im.RequestState(StateProcessing) {
		t.Fatalf("expected RequestState to reject external transition while COLLECTING")
	}
	if im.GetState() != StateCollecting {
		t.Fatalf("expected state to remain COLLECTING, got %v", im.GetState())
	}
}

func TestInterruptionManagerDisabledStillRejectsDuringCollecting(t *testing.T) {
	im := NewInterruptionManager(InterruptionConfig{Enabled: false})
	d := im.OnSpeechOnset(0)
	if d.Kind != DecisionAccept {
		t.Fatalf("expected accept on first onset, got %v", d.Kind)
	}
	d = im.OnSpeechOnset(10)
	if d.Kind != DecisionReject {
		t.Fatalf("expected reject of second onset while still collecting, got %v", d.Kind)
	}
}

func TestInterruptionManagerInvalidExternalTransitionRejected(t *testing.T) {
	im := NewInterruptionManager(InterruptionConfig{Enabled: true})
	if im.RequestState(StateResponding) {
		t.Fatalf("expected idle->responding to be rejected (must pass through processing)")
	}
}
