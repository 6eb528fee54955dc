// Package server implements the optional gRPC control plane: a standard
// health check plus two unary RPCs letting an external dialogue layer push
// system-state transitions and poll processor stats.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthgrpc "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/flowvox/cascade-vad/internal/cascade"
	"github.com/flowvox/cascade-vad/internal/processor"
)

// serviceName is the fully qualified name this control plane registers
// under, reported to the gRPC health service per-service as well as "".
const serviceName = "cascade.vad.v1.ControlService"

// GracefulStopTimeout bounds how long Serve waits for in-flight RPCs to
// drain before forcing the gRPC server down.
const GracefulStopTimeout = 5 * time.Second

var stateNames = map[string]cascade.SystemState{
	"IDLE":       cascade.StateIdle,
	"COLLECTING": cascade.StateCollecting,
	"PROCESSING": cascade.StateProcessing,
	"RESPONDING": cascade.StateResponding,
}

// Controller is the subset of *processor.StreamProcessor the control plane
// drives: external dialogue-state requests and stats polling. Defined as
// an interface so tests can supply a fake without a live processor.
type Controller interface {
	SetSystemState(state cascade.SystemState) bool
	SystemState() cascade.SystemState
	GetStats() processor.Stats
}

// ControlPlane is the gRPC surface over a Controller. It binds its listener
// immediately at construction — mirroring the teacher adapter's
// bind-before-ready ordering — and reports NOT_SERVING on the health
// service until SetController activates it.
type ControlPlane struct {
	lis          net.Listener
	grpcServer   *grpc.Server
	healthServer *health.Server
	log          *slog.Logger
	controller   atomic.Pointer[Controller]
}

// NewControlPlane binds addr and registers the health and control
// services. The control RPCs return Unavailable until SetController is
// called.
func NewControlPlane(addr string, logger *slog.Logger) (*ControlPlane, error) {
	if logger == nil {
		logger = slog.Default()
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("server: listen %s: %w", addr, err)
	}

	cp := &ControlPlane{
		lis:          lis,
		grpcServer:   grpc.NewServer(),
		healthServer: health.NewServer(),
		log:          logger.With("component", "control_plane"),
	}

	healthgrpc.RegisterHealthServer(cp.grpcServer, cp.healthServer)
	cp.healthServer.SetServingStatus("", healthgrpc.HealthCheckResponse_NOT_SERVING)
	cp.healthServer.SetServingStatus(serviceName, healthgrpc.HealthCheckResponse_NOT_SERVING)

	cp.grpcServer.RegisterService(&controlServiceDesc, cp)
	return cp, nil
}

// Addr returns the bound listener's address, useful when addr was given as
// "host:0" and the OS picked the port.
func (cp *ControlPlane) Addr() string { return cp.lis.Addr().String() }

// SetController activates the control plane against a live Controller and
// flips the health status to SERVING.
func (cp *ControlPlane) SetController(c Controller) {
	cp.controller.Store(&c)
	cp.healthServer.SetServingStatus("", healthgrpc.HealthCheckResponse_SERVING)
	cp.healthServer.SetServingStatus(serviceName, healthgrpc.HealthCheckResponse_SERVING)
}

// Serve blocks until ctx is canceled or the gRPC server fails, then
// attempts a graceful stop bounded by GracefulStopTimeout before forcing
// one.
func (cp *ControlPlane) Serve(ctx context.Context) error {
	serverErr := make(chan error, 1)
	go func() {
		if err := cp.grpcServer.Serve(cp.lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	cp.healthServer.SetServingStatus(serviceName, healthgrpc.HealthCheckResponse_NOT_SERVING)
	cp.healthServer.SetServingStatus("", healthgrpc.HealthCheckResponse_NOT_SERVING)

	stopped := make(chan struct{})
	go func() {
		cp.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(GracefulStopTimeout):
		cp.log.Warn("graceful stop timed out, forcing stop")
		cp.grpcServer.Stop()
	}
	return nil
}

func (cp *ControlPlane) controllerOrUnavailable() (Controller, error) {
	c := cp.controller.Load()
	if c == nil {
		return nil, status.Error(codes.Unavailable, "control plane is initializing, please retry in a moment")
	}
	return *c, nil
}

// SetSystemState requests a dialogue-state transition. req names one of
// IDLE/COLLECTING/PROCESSING/RESPONDING; the response reports whether the
// switch guard accepted it (false if the VAD cascade currently owns
// COLLECTING).
func (cp *ControlPlane) SetSystemState(_ context.Context, req *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	c, err := cp.controllerOrUnavailable()
	if err != nil {
		return nil, err
	}
	state, ok := stateNames[req.GetValue()]
	if !ok {
		return nil, status.Errorf(codes.InvalidArgument, "unknown system state %q", req.GetValue())
	}
	return wrapperspb.Bool(c.SetSystemState(state)), nil
}

// GetStats returns the processor's current performance counters as a
// protobuf Struct, one field per processor.Stats field.
func (cp *ControlPlane) GetStats(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	c, err := cp.controllerOrUnavailable()
	if err != nil {
		return nil, err
	}
	stats := c.GetStats()
	fields, err := structpb.NewStruct(map[string]any{
		"total_chunks_processed":      float64(stats.TotalChunksProcessed),
		"average_processing_time_ms": stats.AverageProcessingTimeMs,
		"throughput_chunks_per_sec":   stats.ThroughputChunksPerSecond,
		"speech_segments":             float64(stats.SpeechSegments),
		"error_rate":                  stats.ErrorRate,
		"memory_usage_mb":             stats.MemoryUsageMB,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode stats: %v", err)
	}
	return fields, nil
}
