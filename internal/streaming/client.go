package streaming

import (
	"context"
	"errors"
	"io"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls olc.ExecutionService.
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func request(executionID uuid.UUID) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"execution_id": executionID.String()})
}

func (c *Client) GetExecution(ctx context.Context, executionID uuid.UUID) (*structpb.Struct, error) {
	req, err := request(executionID)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/olc.ExecutionService/GetExecution", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// StreamEvents calls fn for every event until the execution ends.
func (c *Client) StreamEvents(ctx context.Context, executionID uuid.UUID, fn func(*structpb.Struct) error) error {
	req, err := request(executionID)
	if err != nil {
		return err
	}

	stream, err := c.conn.NewStream(ctx, &ExecutionServiceDesc.Streams[0], "/olc.ExecutionService/StreamExecutionEvents")
	if err != nil {
		return err
	}
	if err := stream.SendMsg(req); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}

	for {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := fn(msg); err != nil {
			return err
		}
	}
}
