package processor

import (
	"runtime"
	"sync/atomic"
	"time"
)

// Stats is the processor's performance counter snapshot. Monotonic counters
// reset only when a processor is opened; a stopped-and-reopened processor
// starts a fresh Stats.
type Stats struct {
	TotalChunksProcessed      uint64
	AverageProcessingTimeMs   float64
	ThroughputChunksPerSecond float64
	SpeechSegments            uint64
	ErrorRate                 float64
	MemoryUsageMB             float64
}

// statsTracker holds the atomic counters a StreamProcessor updates from its
// single-threaded main task and worker goroutine, and that GetStats may read
// from the control-plane goroutine per the spec's shared-resource policy
// (atomics are safe across all three).
type statsTracker struct {
	openedAt          time.Time
	chunksProcessed   atomic.Uint64
	inferenceErrors   atomic.Uint64
	speechSegments    atomic.Uint64
	totalProcessingNs atomic.Uint64
}

func newStatsTracker() *statsTracker {
	return &statsTracker{openedAt: time.Now()}
}

func (s *statsTracker) recordChunk(d time.Duration) {
	s.chunksProcessed.Add(1)
	s.totalProcessingNs.Add(uint64(d.Nanoseconds()))
}

func (s *statsTracker) recordInferenceError() {
	s.inferenceErrors.Add(1)
}

func (s *statsTracker) recordSegment() {
	s.speechSegments.Add(1)
}

// snapshot computes a Stats value from the current atomic counters.
func (s *statsTracker) snapshot() Stats {
	chunks := s.chunksProcessed.Load()
	errs := s.inferenceErrors.Load()
	totalNs := s.totalProcessingNs.Load()

	var avgMs, throughput, errRate float64
	if chunks > 0 {
		avgMs = float64(totalNs) / float64(chunks) / 1e6
		errRate = float64(errs) / float64(chunks)
	}
	if elapsed := time.Since(s.openedAt).Seconds(); elapsed > 0 {
		throughput = float64(chunks) / elapsed
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return Stats{
		TotalChunksProcessed:      chunks,
		AverageProcessingTimeMs:   avgMs,
		ThroughputChunksPerSecond: throughput,
		SpeechSegments:            s.speechSegments.Load(),
		ErrorRate:                 errRate,
		MemoryUsageMB:             float64(mem.Alloc) / (1024 * 1024),
	}
}
