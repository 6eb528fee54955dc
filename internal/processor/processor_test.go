package processor

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/flowvox/cascade-vad/internal/cascade"
	"github.com/flowvox/cascade-vad/internal/engine"
	"github.com/flowvox/cascade-vad/internal/frame"
)

// scriptedInferencer returns probabilities from a fixed script, holding the
// last value once exhausted. It ignores frame content entirely, letting
// tests drive the cascade deterministically without needing a real model.
type scriptedInferencer struct {
	script     []float32
	calls      int
	resets     int
	closed     bool
	failOnCall int // 1-indexed; 0 disables
}

func (s *scriptedInferencer) Infer(_ [512]float32, sampleRate uint32) (float32, error) {
	s.calls++
	if sampleRate != engine.ExpectedSampleRate {
		return 0, engine.ErrWrongSampleRate
	}
	if s.failOnCall != 0 && s.calls == s.failOnCall {
		return 0, errors.New("scripted inference failure")
	}
	if len(s.script) == 0 {
		return 0, nil
	}
	idx := s.calls - 1
	if idx >= len(s.script) {
		idx = len(s.script) - 1
	}
	return s.script[idx], nil
}

func (s *scriptedInferencer) ResetStates() error {
	s.resets++
	return nil
}

func (s *scriptedInferencer) Close() error {
	s.closed = true
	return nil
}

func testVADConfig() cascade.VADConfig {
	return cascade.VADConfig{
		Threshold:            0.5,
		SpeechPadMs:          0,
		MinSilenceDurationMs: 64,
		SampleRate:           16000,
	}
}

func testInterruptionConfig() cascade.InterruptionConfig {
	return cascade.InterruptionConfig{Enabled: true, MinIntervalMs: 0}
}

// pcmChunk encodes n frames' worth (n*512 samples) of constant-value s16le
// PCM, enough to drive the frame buffer through n PopFrame calls.
func pcmChunk(nFrames int, value int16) []byte {
	buf := make([]byte, nFrames*frame.Samples*2)
	for i := 0; i < nFrames*frame.Samples; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(value))
	}
	return buf
}

func drain(t *testing.T, out <-chan cascade.CascadeResult, errOut <-chan error) ([]cascade.CascadeResult, []error) {
	t.Helper()
	var results []cascade.CascadeResult
	var errs []error
	timeout := time.After(5 * time.Second)
	outOpen, errOpen := true, true
	for outOpen || errOpen {
		select {
		case r, ok := <-out:
			if !ok {
				outOpen = false
				out = nil
				continue
			}
			results = append(results, r)
		case e, ok := <-errOut:
			if !ok {
				errOpen = false
				errOut = nil
				continue
			}
			errs = append(errs, e)
		case <-timeout:
			t.Fatal("timed out draining processor output")
		}
	}
	return results, errs
}

// S1: a fully silent stream yields one ResultFrame per input frame and no
// segments or errors.
func TestProcessStreamSilentYieldsFramesOnly(t *testing.T) {
	eng := &scriptedInferencer{script: []float32{0.01}}
	p, err := Open(eng, testVADConfig(), testInterruptionConfig(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	chunks := make(chan []byte, 1)
	chunks <- pcmChunk(5, 0)
	close(chunks)

	out, errOut := p.ProcessStream(context.Background(), chunks, frame.FormatS16LE)
	results, errs := drain(t, out, errOut)

	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(results) != 5 {
		t.Fatalf("expected 5 frame results, got %d", len(results))
	}
	for i, r := range results {
		if r.Kind != cascade.ResultFrame {
			t.Fatalf("result %d: expected ResultFrame, got %v", i, r.Kind)
		}
	}
}

// S2: sustained speech followed by enough silence to cross
// MinSilenceDurationMs yields exactly one segment.
func TestProcessStreamPureSpeechYieldsOneSegment(t *testing.T) {
	script := []float32{0.9, 0.9, 0.9, 0.01, 0.01, 0.01, 0.01, 0.01}
	eng := &scriptedInferencer{script: script}
	p, err := Open(eng, testVADConfig(), testInterruptionConfig(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	chunks := make(chan []byte, 1)
	chunks <- pcmChunk(len(script), 1000)
	close(chunks)

	out, errOut := p.ProcessStream(context.Background(), chunks, frame.FormatS16LE)
	results, errs := drain(t, out, errOut)

	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	segments := 0
	for _, r := range results {
		if r.Kind == cascade.ResultSegment {
			segments++
			if len(r.Segment.Audio) == 0 {
				t.Fatal("expected non-empty segment audio")
			}
		}
	}
	if segments != 1 {
		t.Fatalf("expected exactly 1 segment, got %d", segments)
	}
	stats := p.GetStats()
	if stats.SpeechSegments != 1 {
		t.Fatalf("expected stats.SpeechSegments=1, got %d", stats.SpeechSegments)
	}
}

// S4: an onset while the dialogue layer is RESPONDING produces an
// Interruption result and moves the state to COLLECTING; the end of input
// then finalizes the open segment, emitting it and returning to IDLE.
func TestProcessStreamInterruptionWhileResponding(t *testing.T) {
	eng := &scriptedInferencer{script: []float32{0.9}}
	p, err := Open(eng, testVADConfig(), testInterruptionConfig(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	p.SetSystemState(cascade.StateProcessing)
	p.SetSystemState(cascade.StateResponding)

	chunks := make(chan []byte)
	out, errOut := p.ProcessStream(context.Background(), chunks, frame.FormatS16LE)
	chunks <- pcmChunk(1, 1000)

	var first cascade.CascadeResult
	select {
	case first = <-out:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the interruption result")
	}
	if first.Kind != cascade.ResultInterruption {
		t.Fatalf("expected a ResultInterruption, got %+v", first)
	}
	if p.SystemState() != cascade.StateCollecting {
		t.Fatalf("expected dialogue state COLLECTING after interruption, got %v", p.SystemState())
	}

	close(chunks)
	results, errs := drain(t, out, errOut)

	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(results) != 1 || results[0].Kind != cascade.ResultSegment {
		t.Fatalf("expected a single trailing ResultSegment, got %+v", results)
	}
	if p.SystemState() != cascade.StateIdle {
		t.Fatalf("expected dialogue state IDLE after the segment ends, got %v", p.SystemState())
	}
}

// Universal property: result timestamps never decrease across a stream.
func TestProcessStreamTimestampsMonotonic(t *testing.T) {
	script := []float32{0.9, 0.01, 0.9, 0.01, 0.9, 0.01, 0.01, 0.01}
	eng := &scriptedInferencer{script: script}
	p, err := Open(eng, testVADConfig(), testInterruptionConfig(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	chunks := make(chan []byte, 1)
	chunks <- pcmChunk(len(script), 1000)
	close(chunks)

	out, errOut := p.ProcessStream(context.Background(), chunks, frame.FormatS16LE)
	results, errs := drain(t, out, errOut)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	var last int64 = -1
	for i, r := range results {
		var ts int64
		switch r.Kind {
		case cascade.ResultFrame:
			ts = r.FrameTimestampMs
		case cascade.ResultSegment:
			ts = r.Segment.EndTimestampMs
		case cascade.ResultInterruption:
			ts = r.Interruption.TimestampMs
		}
		if ts < last {
			t.Fatalf("result %d: timestamp %d precedes previous %d", i, ts, last)
		}
		last = ts
	}
}

// Universal property: every frame fed through the buffer produces exactly
// one cascade consultation, so chunksProcessed equals the number of frames
// the input decomposes into.
func TestProcessStreamChunksProcessedMatchesFrameCount(t *testing.T) {
	eng := &scriptedInferencer{script: []float32{0.01}}
	p, err := Open(eng, testVADConfig(), testInterruptionConfig(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	const nFrames = 7
	chunks := make(chan []byte, 1)
	chunks <- pcmChunk(nFrames, 0)
	close(chunks)

	out, errOut := p.ProcessStream(context.Background(), chunks, frame.FormatS16LE)
	drain(t, out, errOut)

	stats := p.GetStats()
	if stats.TotalChunksProcessed != nFrames {
		t.Fatalf("TotalChunksProcessed = %d, want %d", stats.TotalChunksProcessed, nFrames)
	}
}

// Universal property: an inference failure is recoverable — the frame is
// treated as silence, the error rate counter advances, and the stream
// continues rather than terminating.
func TestProcessStreamInferenceErrorIsRecoverable(t *testing.T) {
	eng := &scriptedInferencer{script: []float32{0.01, 0.01, 0.01}, failOnCall: 2}
	p, err := Open(eng, testVADConfig(), testInterruptionConfig(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	chunks := make(chan []byte, 1)
	chunks <- pcmChunk(3, 0)
	close(chunks)

	out, errOut := p.ProcessStream(context.Background(), chunks, frame.FormatS16LE)
	results, errs := drain(t, out, errOut)

	if len(errs) != 0 {
		t.Fatalf("expected no fatal errors from a recoverable inference failure, got %v", errs)
	}
	if len(results) != 3 {
		t.Fatalf("expected the stream to continue past the failed frame, got %d results", len(results))
	}
	stats := p.GetStats()
	if stats.ErrorRate <= 0 {
		t.Fatalf("expected a nonzero error rate after one failed inference, got %v", stats.ErrorRate)
	}
}

// Universal property: guard exclusivity — SetSystemState is refused while
// the VAD cascade owns COLLECTING.
func TestProcessStreamGuardExclusivity(t *testing.T) {
	eng := &scriptedInferencer{script: []float32{0.9}}
	p, err := Open(eng, testVADConfig(), testInterruptionConfig(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	chunks := make(chan []byte)
	out, errOut := p.ProcessStream(context.Background(), chunks, frame.FormatS16LE)
	// The unbuffered send of the second chunk completes only once the stream
	// goroutine has finished the first, so the onset has been admitted; the
	// input stays open so the segment is not finalized yet.
	chunks <- pcmChunk(1, 1000)
	chunks <- pcmChunk(1, 1000)

	if p.SystemState() != cascade.StateCollecting {
		t.Fatalf("expected COLLECTING after onset, got %v", p.SystemState())
	}
	if p.SetSystemState(cascade.StateProcessing) {
		t.Fatal("expected SetSystemState to be rejected while VAD owns COLLECTING")
	}

	close(chunks)
	drain(t, out, errOut)
}

// Universal property: idempotent close — a second Close is a no-op, and
// operations after Close are refused deterministically rather than
// blocking or panicking.
func TestProcessorCloseIdempotentAndRefusesAfter(t *testing.T) {
	eng := &scriptedInferencer{}
	p, err := Open(eng, testVADConfig(), testInterruptionConfig(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if !eng.closed {
		t.Fatal("expected underlying engine to be closed")
	}

	chunks := make(chan []byte)
	out, errOut := p.ProcessStream(context.Background(), chunks, frame.FormatS16LE)
	results, errs := drain(t, out, errOut)
	if len(results) != 0 {
		t.Fatalf("expected no results after close, got %v", results)
	}
	if len(errs) != 1 || !errors.Is(errs[0], ErrLifecycleMisuse) {
		t.Fatalf("expected ErrLifecycleMisuse after close, got %v", errs)
	}

	if p.SetSystemState(cascade.StateProcessing) {
		t.Fatal("expected SetSystemState to fail after close")
	}
}

// Close must not race an in-flight ProcessStream: it should wait for the
// stream goroutine to observe stopCh before tearing down the job channel.
func TestProcessorCloseWhileStreamInFlight(t *testing.T) {
	eng := &scriptedInferencer{script: []float32{0.01}}
	p, err := Open(eng, testVADConfig(), testInterruptionConfig(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	chunks := make(chan []byte)
	out, errOut := p.ProcessStream(context.Background(), chunks, frame.FormatS16LE)

	done := make(chan struct{})
	go func() {
		drain(t, out, errOut)
		close(done)
	}()

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for ProcessStream to unwind after Close")
	}
}

// ResetStates is called once at Open and once more when the stream's input
// ends, after its last frame has been inferred, per the inference contract.
func TestProcessorResetsEngineStatesOnOpenAndFinalize(t *testing.T) {
	eng := &scriptedInferencer{script: []float32{0.9, 0.9}}
	p, err := Open(eng, testVADConfig(), testInterruptionConfig(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	if eng.resets != 1 {
		t.Fatalf("expected 1 reset at Open, got %d", eng.resets)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "speech.pcm")
	if err := os.WriteFile(path, pcmChunk(2, 1000), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	out, errOut := p.ProcessFile(context.Background(), path, frame.FormatS16LE)
	_, errs := drain(t, out, errOut)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	if eng.resets != 2 {
		t.Fatalf("expected a second reset after finalize, got %d", eng.resets)
	}
}

// Open must fail when ResetStates errors, since the contract requires a
// clean state at stream start.
func TestOpenPropagatesResetStatesError(t *testing.T) {
	failing := &resetFailingInferencer{}
	_, err := Open(failing, testVADConfig(), testInterruptionConfig(), nil)
	if err == nil {
		t.Fatal("expected Open to fail when ResetStates errors")
	}
}

type resetFailingInferencer struct{}

func (resetFailingInferencer) Infer(_ [512]float32, _ uint32) (float32, error) { return 0, nil }
func (resetFailingInferencer) ResetStates() error                             { return errors.New("boom") }
func (resetFailingInferencer) Close() error                                   { return nil }
