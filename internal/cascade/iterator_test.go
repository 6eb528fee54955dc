package cascade

import "testing"

func testCfg() VADConfig {
	return VADConfig{
		Threshold:            0.5,
		SpeechPadMs:          30,
		MinSilenceDurationMs: 100,
		SampleRate:           16000,
	}
}

func TestIteratorSilentStreamNeverFires(t *testing.T) {
	it := NewIterator(testCfg())
	for i := 0; i < 100; i++ {
		event, _ := it.Advance(0.01)
		if event != EventNone {
			t.Fatalf("frame %d: expected EventNone on silence, got %v", i, event)
		}
	}
}

func TestIteratorStartAfterThreshold(t *testing.T) {
	it := NewIterator(testCfg())
	event, ts := it.Advance(0.9)
	if event != EventStart {
		t.Fatalf("expected EventStart, got %v", event)
	}
	if ts != 0 {
		t.Fatalf("expected start ts clamped to 0, got %d", ts)
	}
}

func TestIteratorStartAppliesSpeechPad(t *testing.T) {
	it := NewIterator(testCfg())
	it.Advance(0.01) // frame 0: silence
	it.Advance(0.01) // frame 1: silence
	event, ts := it.Advance(0.9) // frame 2: speech onset
	if event != EventStart {
		t.Fatalf("expected EventStart, got %v", event)
	}
	// onset frame starts at sample 2*512=1024, minus pad (30ms*16000/1000=480) = 544 samples = 34ms
	if ts != 34 {
		t.Fatalf("expected padded start ts 34ms, got %d", ts)
	}
}

func TestIteratorRequiresSustainedSilenceBeforeEnd(t *testing.T) {
	it := NewIterator(testCfg())
	it.Advance(0.9) // start
	// one low frame, but not below threshold-margin
	event, _ := it.Advance(0.4)
	if event != EventNone {
		t.Fatalf("expected no end on brief dip above margin, got %v", event)
	}
}

func TestIteratorEndAfterMinSilenceDuration(t *testing.T) {
	cfg := testCfg()
	it := NewIterator(cfg)
	it.Advance(0.9) // frame 0: start
	// min_silence_duration_ms=100ms is 1600 samples: temp_end is set on the first
	// low frame and the end fires on the fifth, 4*512=2048 samples later
	var lastEvent Event
	var lastTs int64
	for i := 0; i < 10; i++ {
		lastEvent, lastTs = it.Advance(0.05)
		if lastEvent == EventEnd {
			break
		}
	}
	if lastEvent != EventEnd {
		t.Fatalf("expected EventEnd eventually, got %v", lastEvent)
	}
	if lastTs <= 0 {
		t.Fatalf("expected positive end timestamp, got %d", lastTs)
	}
}

func TestIteratorRollbackTrigger(t *testing.T) {
	it := NewIterator(testCfg())
	event, _ := it.Advance(0.9)
	if event != EventStart {
		t.Fatalf("expected EventStart, got %v", event)
	}
	it.RollbackTrigger()

	// Because triggered was cleared, a second high-probability frame should
	// fire another EventStart rather than being swallowed as already-triggered.
	event, _ = it.Advance(0.9)
	if event != EventStart {
		t.Fatalf("expected EventStart again after rollback, got %v", event)
	}
}

func TestIteratorReset(t *testing.T) {
	it := NewIterator(testCfg())
	it.Advance(0.9)
	it.Reset()
	if it.triggered || it.hasTempEnd || it.tempEnd != 0 || it.currentSample != 0 {
		t.Fatalf("expected Reset to zero all internal state")
	}
}
