// Command cascade-vad runs the streaming VAD engine against a single
// headerless PCM source (a file or stdin), logging each CascadeResult as it
// is produced and exposing the gRPC control plane on the configured listen
// address so a dialogue layer can drive system-state transitions against the
// same stream.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/flowvox/cascade-vad/internal/cascade"
	"github.com/flowvox/cascade-vad/internal/config"
	"github.com/flowvox/cascade-vad/internal/engine"
	"github.com/flowvox/cascade-vad/internal/frame"
	"github.com/flowvox/cascade-vad/internal/processor"
	"github.com/flowvox/cascade-vad/internal/server"
)

// version is set at build time via -ldflags.
var version = "dev"

// stdinChunkBytes is the read size used when streaming from stdin; arbitrary
// relative to the frame size, exercising the buffer's reassembly logic the
// same way a network caller's chunk boundaries would.
const stdinChunkBytes = 4096

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		inputPath  = flag.String("input", "", "path to a headerless PCM file; reads stdin if empty")
		formatFlag = flag.String("format", "s16le", "input sample format: s16le or f32le")
		engineFlag = flag.String("engine", "auto", "inference backend: auto, silero, or stub")
		controlAddr = flag.String("control-addr", "", "override the gRPC control plane listen address")
	)
	flag.Parse()

	cfg, err := config.Loader{}.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *controlAddr != "" {
		cfg.ListenAddr = *controlAddr
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("starting cascade-vad",
		"version", version,
		"threshold", cfg.Threshold,
		"speech_pad_ms", cfg.SpeechPadMs,
		"min_silence_duration_ms", cfg.MinSilenceDurationMs,
		"interruption_enabled", cfg.InterruptionEnabled,
	)

	format, err := parseFormat(*formatFlag)
	if err != nil {
		logger.Error("invalid format", "error", err)
		os.Exit(1)
	}

	eng, resolvedEngine, err := resolveEngine(*engineFlag, cfg.Threshold, logger)
	if err != nil {
		logger.Error("engine init failed", "error", err)
		os.Exit(1)
	}
	logger.Info("engine ready", "type", resolvedEngine)

	vadCfg := cascade.VADConfig{
		Threshold:            cfg.Threshold,
		SpeechPadMs:          cfg.SpeechPadMs,
		MinSilenceDurationMs: cfg.MinSilenceDurationMs,
		SampleRate:           frame.SampleRate,
	}
	interruptCfg := cascade.InterruptionConfig{
		Enabled:       cfg.InterruptionEnabled,
		MinIntervalMs: cfg.MinIntervalMs,
	}

	proc, err := processor.Open(eng, vadCfg, interruptCfg, logger)
	if err != nil {
		logger.Error("failed to open processor", "error", err)
		os.Exit(1)
	}
	defer proc.Close()

	cp, err := server.NewControlPlane(cfg.ListenAddr, logger)
	if err != nil {
		logger.Error("failed to bind control plane", "error", err)
		os.Exit(1)
	}
	cp.SetController(proc)
	go func() {
		if err := cp.Serve(ctx); err != nil {
			logger.Error("control plane terminated with error", "error", err)
		}
	}()
	logger.Info("control plane listening", "addr", cp.Addr())

	var results <-chan cascade.CascadeResult
	var errs <-chan error
	if *inputPath != "" {
		results, errs = proc.ProcessFile(ctx, *inputPath, format)
	} else {
		results, errs = processStdin(ctx, proc, format, logger)
	}

	drainResults(logger, results, errs)
	logger.Info("cascade-vad stopped")
}

// processStdin reads stdinChunkBytes at a time from os.Stdin and feeds them
// into ProcessStream, closing the chunk channel at EOF.
func processStdin(ctx context.Context, proc *processor.StreamProcessor, format frame.Format, logger *slog.Logger) (<-chan cascade.CascadeResult, <-chan error) {
	chunks := make(chan []byte)
	go func() {
		defer close(chunks)
		reader := bufio.NewReaderSize(os.Stdin, stdinChunkBytes)
		buf := make([]byte, stdinChunkBytes)
		for {
			n, err := reader.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case chunks <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					logger.Warn("stdin read failed", "error", err)
				}
				return
			}
		}
	}()
	return proc.ProcessStream(ctx, chunks, format)
}

// drainResults logs every CascadeResult in order and surfaces a terminal
// error, if any, before returning.
func drainResults(logger *slog.Logger, results <-chan cascade.CascadeResult, errs <-chan error) {
	for results != nil || errs != nil {
		select {
		case r, ok := <-results:
			if !ok {
				results = nil
				continue
			}
			logResult(logger, r)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				logger.Error("stream terminated with error", "error", err)
			}
		}
	}
}

func logResult(logger *slog.Logger, r cascade.CascadeResult) {
	switch r.Kind {
	case cascade.ResultFrame:
		logger.Debug("frame", "timestamp_ms", r.FrameTimestampMs)
	case cascade.ResultSegment:
		logger.Info("segment",
			"start_timestamp_ms", r.Segment.StartTimestampMs,
			"end_timestamp_ms", r.Segment.EndTimestampMs,
			"samples", len(r.Segment.Audio),
		)
	case cascade.ResultInterruption:
		logger.Warn("interruption",
			"timestamp_ms", r.Interruption.TimestampMs,
			"interrupted_state", r.Interruption.InterruptedState,
			"confidence", r.Interruption.Confidence,
		)
	}
}

// resolveEngine picks and constructs the inference backend named by
// requested, falling back from "auto" to whichever backend was compiled in.
func resolveEngine(requested string, threshold float64, logger *slog.Logger) (engine.Inferencer, string, error) {
	resolved := requested
	if resolved == "auto" {
		if engine.NativeAvailable() {
			resolved = "silero"
		} else {
			resolved = "stub"
			logger.Warn("auto-detected engine: stub (native silero not compiled in, build with -tags silero for production)")
		}
	}

	switch resolved {
	case "silero":
		if !engine.NativeAvailable() {
			return nil, "", fmt.Errorf("engine %q requested but native backend not compiled in (build with -tags silero)", resolved)
		}
		eng, err := engine.NewNativeEngine(threshold)
		if err != nil {
			return nil, "", fmt.Errorf("native engine init: %w", err)
		}
		return eng, resolved, nil
	case "stub":
		logger.Warn("using stub engine — VAD results are deterministic and NOT based on audio content")
		return engine.NewStubEngine(), resolved, nil
	default:
		return nil, "", fmt.Errorf("unknown engine %q (want auto, silero, or stub)", requested)
	}
}

func parseFormat(s string) (frame.Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "s16le":
		return frame.FormatS16LE, nil
	case "f32le":
		return frame.FormatF32LE, nil
	default:
		return 0, fmt.Errorf("unsupported format %q (want s16le or f32le)", s)
	}
}

func newLogger(level string) *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return slog.New(handler)
}

func parseLevel(value string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
