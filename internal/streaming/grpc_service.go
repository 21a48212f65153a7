package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/KevinKickass/OpenLabCore/internal/storage"
)

// ExecutionReader looks up persisted executions.
type ExecutionReader interface {
	GetExecution(ctx context.Context, executionID uuid.UUID) (*storage.Execution, error)
}

// ExecutionServiceServer is olc.ExecutionService. Requests and replies are
// structpb.Struct values so no generated code is needed.
type ExecutionServiceServer interface {
	GetExecution(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	StreamExecutionEvents(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error
}

type ExecutionService struct {
	streamer   *EventStreamer
	executions ExecutionReader
}

func NewExecutionService(streamer *EventStreamer, executions ExecutionReader) *ExecutionService {
	return &ExecutionService{streamer: streamer, executions: executions}
}

func executionID(req *structpb.Struct) (uuid.UUID, error) {
	v, ok := req.GetFields()["execution_id"]
	if !ok {
		return uuid.Nil, status.Error(codes.InvalidArgument, "execution_id is required")
	}
	id, err := uuid.Parse(v.GetStringValue())
	if err != nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "invalid execution_id: %v", err)
	}
	return id, nil
}

// StreamExecutionEvents sends the events of one execution until it ends or
// the client goes away.
func (s *ExecutionService) StreamExecutionEvents(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	id, err := executionID(req)
	if err != nil {
		return err
	}

	eventCh := s.streamer.Subscribe(id)
	// no-op when Finish already closed the channel
	defer s.streamer.Unsubscribe(id, eventCh)

	for {
		select {
		case event, ok := <-eventCh:
			if !ok {
				return nil
			}
			msg, err := EventStruct(event)
			if err != nil {
				return status.Errorf(codes.Internal, "encode event: %v", err)
			}
			if err := stream.Send(msg); err != nil {
				return err
			}

		case <-stream.Context().Done():
			return stream.Context().Err()
		}
	}
}

func (s *ExecutionService) GetExecution(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := executionID(req)
	if err != nil {
		return nil, err
	}

	exec, err := s.executions.GetExecution(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, status.Error(codes.NotFound, err.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}

	devices := make([]any, len(exec.Devices))
	for i, d := range exec.Devices {
		devices[i] = d
	}
	fields := map[string]any{
		"execution_id": exec.ID.String(),
		"recipe_name":  exec.RecipeName,
		"status":       string(exec.Status),
		"error":        exec.Error,
		"devices":      devices,
		"started_at":   exec.StartedAt.Format(time.RFC3339Nano),
	}
	if exec.CompletedAt != nil {
		fields["completed_at"] = exec.CompletedAt.Format(time.RFC3339Nano)
	}
	return structpb.NewStruct(fields)
}

// EventStruct converts an event to its wire form.
func EventStruct(event *storage.ExecutionEvent) (*structpb.Struct, error) {
	fields := map[string]any{
		"execution_id": event.ExecutionID.String(),
		"event_type":   event.EventType,
		"timestamp":    event.Timestamp.Format(time.RFC3339Nano),
	}
	if len(event.Payload) > 0 {
		var payload any
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return nil, err
		}
		fields["payload"] = payload
	}
	return structpb.NewStruct(fields)
}

func getExecutionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ExecutionServiceServer).GetExecution(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/olc.ExecutionService/GetExecution",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ExecutionServiceServer).GetExecution(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func streamExecutionEventsHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ExecutionServiceServer).StreamExecutionEvents(in,
		&grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

var ExecutionServiceDesc = grpc.ServiceDesc{
	ServiceName: "olc.ExecutionService",
	HandlerType: (*ExecutionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetExecution", Handler: getExecutionHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamExecutionEvents", Handler: streamExecutionEventsHandler, ServerStreams: true},
	},
	Metadata: "olc/execution.proto",
}

func RegisterExecutionService(s grpc.ServiceRegistrar, srv ExecutionServiceServer) {
	s.RegisterService(&ExecutionServiceDesc, srv)
}
