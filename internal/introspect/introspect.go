// Package introspect exposes read-only scheduler state over gRPC: live
// process IDs and each process's thread IDs, and a server-streaming feed of
// outcome events.
// No protoc toolchain is available in this environment, so the service is
// hand-registered against a grpc.ServiceDesc using the protobuf module's
// well-known types (structpb, wrapperspb) instead of generated application
// messages, the way a handwritten gRPC service looked before codegen.
package introspect

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/oriys/wasmkernel/internal/eventbus"
)

// ProcessDescription is the read-only view of one live process this service
// reports.
type ProcessDescription struct {
	PID       uint64
	ThreadIDs []uint64
}

// Scheduler is the narrow view into a process.Collection the introspection
// server needs. process.Collection is generic over the caller's extrinsic,
// process-data, and thread-data types, so cmd/wasmkerneld adapts its
// concrete Collection instantiation to this interface rather than the
// server importing process directly.
type Scheduler interface {
	PIDs() []uint64
	Describe(pid uint64) (ProcessDescription, bool)
}

// Server implements IntrospectServer against a live Scheduler and, if bus is
// non-nil, relays its outcome events to StreamOutcomes subscribers.
type Server struct {
	scheduler Scheduler
	bus       *eventbus.Bus
}

// NewServer builds a Server. bus may be nil, in which case StreamOutcomes
// returns immediately with no events.
func NewServer(scheduler Scheduler, bus *eventbus.Bus) *Server {
	return &Server{scheduler: scheduler, bus: bus}
}

// Register adds the introspection service to s.
func Register(s *grpc.Server, srv *Server) {
	s.RegisterService(&ServiceDesc, srv)
}

// ListProcesses returns every live PID as a protobuf list value.
func (s *Server) ListProcesses(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	pids := s.scheduler.PIDs()
	values := make([]*structpb.Value, len(pids))
	for i, pid := range pids {
		values[i] = structpb.NewNumberValue(float64(pid))
	}
	return &structpb.ListValue{Values: values}, nil
}

// GetProcess returns one process's thread IDs as a protobuf struct, or a
// NotFound-flavored error if the PID is unknown.
func (s *Server) GetProcess(ctx context.Context, req *wrapperspb.UInt64Value) (*structpb.Struct, error) {
	desc, ok := s.scheduler.Describe(req.GetValue())
	if !ok {
		return nil, fmt.Errorf("introspect: no process with pid %d", req.GetValue())
	}

	threadIDs := make([]interface{}, len(desc.ThreadIDs))
	for i, tid := range desc.ThreadIDs {
		threadIDs[i] = float64(tid)
	}

	st, err := structpb.NewStruct(map[string]interface{}{
		"pid":        float64(desc.PID),
		"thread_ids": threadIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("introspect: build response struct: %w", err)
	}
	return st, nil
}

// StreamOutcomes streams outcome events to the caller until it disconnects
// or the server's event bus is unavailable, in which case it returns
// immediately.
func (s *Server) StreamOutcomes(_ *emptypb.Empty, stream IntrospectStreamOutcomesServer) error {
	if s.bus == nil {
		return nil
	}

	ctx := stream.Context()
	events := s.bus.Subscribe(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			st, err := structpb.NewStruct(map[string]interface{}{
				"kind":        ev.Kind,
				"pid":         float64(ev.PID),
				"thread_id":   float64(ev.ThreadID),
				"outcome":     ev.Outcome,
				"detail":      ev.Detail,
				"occurred_at": ev.OccurredAt.Format("2006-01-02T15:04:05.000Z07:00"),
			})
			if err != nil {
				continue
			}
			if err := stream.Send(st); err != nil {
				return err
			}
		}
	}
}
