// Package processor implements the StreamProcessor: the per-connection
// owner of a FrameAlignedBuffer, a cascade state machine, and one inference
// handle, wired together through a dedicated worker goroutine so model
// inference never blocks the I/O path.
package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowvox/cascade-vad/internal/cascade"
	"github.com/flowvox/cascade-vad/internal/engine"
	"github.com/flowvox/cascade-vad/internal/frame"
)

// channelCapacity bounds the inference job/result channels. Small on
// purpose so a slow inference backend surfaces as input backpressure
// rather than unbounded buffering.
const channelCapacity = 8

// fileReadChunkBytes is the read buffer size ProcessFile uses; arbitrary
// relative to the frame size, exercising the buffer's resampling-free
// reassembly logic.
const fileReadChunkBytes = 4096

// ErrLifecycleMisuse is delivered on the error channel of ProcessStream and
// ProcessFile when they are called after Close.
var ErrLifecycleMisuse = errors.New("processor: operation called after close")

type inferenceJob struct {
	frame frame.AudioFrame
}

type inferenceResult struct {
	frame frame.AudioFrame
	prob  float64
}

// StreamProcessor owns one FrameAlignedBuffer, one cascade.StateMachine, and
// one engine.Inferencer. Per-connection isolated: nothing here is shared
// across processor instances, and only the worker goroutine calls Infer on
// the inference handle (ResetStates and Close are called from Open, the
// stream goroutine and Close).
type StreamProcessor struct {
	buf   *frame.Buffer
	sm    *cascade.StateMachine
	eng   engine.Inferencer
	log   *slog.Logger
	stats *statsTracker

	jobs       chan inferenceJob
	results    chan inferenceResult
	workerDone chan struct{}

	// stopCh is closed by Close to unstick any goroutine blocked sending to
	// jobs or receiving from results, so Close never races a send on a
	// channel it is about to close. streamWG lets Close wait for that
	// goroutine to actually return before closing jobs.
	stopCh   chan struct{}
	streamWG sync.WaitGroup

	closed atomic.Bool
}

// Open constructs a StreamProcessor bound to eng and starts its dedicated
// inference worker. eng.ResetStates is called immediately so a reused
// Inferencer never carries state from a prior stream.
func Open(eng engine.Inferencer, vadCfg cascade.VADConfig, interruptCfg cascade.InterruptionConfig, logger *slog.Logger) (*StreamProcessor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := eng.ResetStates(); err != nil {
		return nil, fmt.Errorf("processor: reset_states at open: %w", err)
	}

	p := &StreamProcessor{
		buf:        frame.New(),
		sm:         cascade.NewStateMachine(vadCfg, interruptCfg),
		eng:        eng,
		log:        logger.With("component", "processor"),
		stats:      newStatsTracker(),
		jobs:       make(chan inferenceJob, channelCapacity),
		results:    make(chan inferenceResult, channelCapacity),
		workerDone: make(chan struct{}),
		stopCh:     make(chan struct{}),
	}
	go p.runWorker()
	return p, nil
}

// runWorker is the processor's one dedicated inference goroutine: it is the
// sole caller of eng.Infer, draining jobs serially and preserving FIFO order
// into results.
func (p *StreamProcessor) runWorker() {
	defer close(p.workerDone)
	for job := range p.jobs {
		start := time.Now()
		prob, err := p.eng.Infer(job.frame.Samples, engine.ExpectedSampleRate)
		p.stats.recordChunk(time.Since(start))
		if err != nil {
			p.stats.recordInferenceError()
			p.log.Warn("inference failed, treating frame as silence", "error", err)
			prob = 0
		}
		p.results <- inferenceResult{frame: job.frame, prob: float64(prob)}
	}
}

// ProcessStream consumes PCM chunks from chunks until the channel closes or
// ctx is canceled, emitting CascadeResults in ascending timestamp order on
// the returned channel. The returned channel closes when the source is
// exhausted (after a trailing Finalize) or ctx is canceled; a fatal
// StateViolation is delivered on the returned error channel before both
// channels close.
func (p *StreamProcessor) ProcessStream(ctx context.Context, chunks <-chan []byte, format frame.Format) (<-chan cascade.CascadeResult, <-chan error) {
	out := make(chan cascade.CascadeResult)
	errOut := make(chan error, 1)

	if p.closed.Load() {
		close(out)
		errOut <- ErrLifecycleMisuse
		close(errOut)
		return out, errOut
	}

	p.streamWG.Add(1)
	go func() {
		defer p.streamWG.Done()
		defer close(out)
		defer close(errOut)

		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case chunk, ok := <-chunks:
				if !ok {
					if err := p.drainFinal(ctx, out); err != nil {
						errOut <- err
					}
					return
				}
				if err := p.feedChunk(ctx, chunk, format, out); err != nil {
					errOut <- err
					return
				}
			}
		}
	}()

	return out, errOut
}

// ProcessFile is a convenience wrapper over ProcessStream that reads path as
// a raw headerless PCM file.
func (p *StreamProcessor) ProcessFile(ctx context.Context, path string, format frame.Format) (<-chan cascade.CascadeResult, <-chan error) {
	out := make(chan cascade.CascadeResult)
	errOut := make(chan error, 1)

	if p.closed.Load() {
		close(out)
		errOut <- ErrLifecycleMisuse
		close(errOut)
		return out, errOut
	}

	p.streamWG.Add(1)
	go func() {
		defer p.streamWG.Done()
		defer close(out)
		defer close(errOut)

		f, err := os.Open(path)
		if err != nil {
			errOut <- fmt.Errorf("processor: open %s: %w", path, err)
			return
		}
		defer f.Close()

		readBuf := make([]byte, fileReadChunkBytes)
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			default:
			}

			n, readErr := f.Read(readBuf)
			if n > 0 {
				if err := p.feedChunk(ctx, readBuf[:n], format, out); err != nil {
					errOut <- err
					return
				}
			}
			if readErr != nil {
				if readErr != io.EOF {
					errOut <- fmt.Errorf("processor: read %s: %w", path, readErr)
					return
				}
				if err := p.drainFinal(ctx, out); err != nil {
					errOut <- err
				}
				return
			}
		}
	}()

	return out, errOut
}

// feedChunk appends raw PCM to the buffer, dropping the chunk and logging a
// warning on malformed input (InvalidInput: recoverable, stream continues),
// then drains every complete frame through the cascade.
func (p *StreamProcessor) feedChunk(ctx context.Context, chunk []byte, format frame.Format, out chan<- cascade.CascadeResult) error {
	if err := p.buf.Append(chunk, format); err != nil {
		p.log.Warn("dropping malformed chunk", "error", err)
		return nil
	}

	for {
		f, ok := p.buf.PopFrame()
		if !ok {
			return nil
		}
		if err := p.runFrame(ctx, f, out); err != nil {
			return err
		}
	}
}

// runFrame submits one frame to the inference worker, waits for its
// probability, and feeds the pair through the cascade state machine.
func (p *StreamProcessor) runFrame(ctx context.Context, f frame.AudioFrame, out chan<- cascade.CascadeResult) error {
	select {
	case <-ctx.Done():
		return nil
	case <-p.stopCh:
		return nil
	case p.jobs <- inferenceJob{frame: f}:
	}

	select {
	case <-ctx.Done():
		return nil
	case <-p.stopCh:
		return nil
	case res := <-p.results:
		return p.handleInferenceResult(ctx, res, out)
	}
}

func (p *StreamProcessor) handleInferenceResult(ctx context.Context, res inferenceResult, out chan<- cascade.CascadeResult) error {
	result, ok, err := p.sm.ProcessFrame(res.frame, res.prob)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if result.Kind == cascade.ResultSegment {
		p.stats.recordSegment()
	}
	select {
	case <-ctx.Done():
	case out <- result:
	}
	return nil
}

// drainFinal flushes any residual buffered samples through one last frame,
// resets the engine's carried state (per the inference contract's
// reset_states-after-finalize requirement), and finalizes the state
// machine to emit a trailing segment if one was open.
func (p *StreamProcessor) drainFinal(ctx context.Context, out chan<- cascade.CascadeResult) error {
	if f, ok := p.buf.Flush(); ok {
		if err := p.runFrame(ctx, f, out); err != nil {
			return err
		}
	}

	if err := p.eng.ResetStates(); err != nil {
		p.log.Warn("reset_states after finalize failed", "error", err)
	}

	finalTs := int64(p.buf.TotalSamplesConsumed()) * 1000 / int64(engine.ExpectedSampleRate)
	result, ok, err := p.sm.Finalize(finalTs)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if result.Kind == cascade.ResultSegment {
		p.stats.recordSegment()
	}
	select {
	case <-ctx.Done():
	case out <- result:
	}
	return nil
}

// SetSystemState delegates to the cascade's InterruptionManager switch
// guard. Returns false (not an error) if called after Close, matching the
// deterministic-refusal contract for LifecycleMisuse.
func (p *StreamProcessor) SetSystemState(s cascade.SystemState) bool {
	if p.closed.Load() {
		return false
	}
	return p.sm.SetSystemState(s)
}

// SystemState returns the cascade's current dialogue state.
func (p *StreamProcessor) SystemState() cascade.SystemState {
	return p.sm.SystemState()
}

// GetStats returns a snapshot of the processor's performance counters.
func (p *StreamProcessor) GetStats() Stats {
	return p.stats.snapshot()
}

// Close releases the processor's resources: it unblocks any in-flight
// ProcessStream/ProcessFile goroutine, waits for it to return, stops
// accepting new inference jobs, waits for the worker to drain, and closes
// the inference handle. Idempotent: a second Close call is a no-op
// returning nil.
func (p *StreamProcessor) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(p.stopCh)
	p.streamWG.Wait()
	close(p.jobs)
	<-p.workerDone
	return p.eng.Close()
}
