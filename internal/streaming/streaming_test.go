package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/KevinKickass/OpenLabCore/internal/storage"
)

func event(id uuid.UUID, typ string) *storage.ExecutionEvent {
	return &storage.ExecutionEvent{
		ID: uuid.New(), ExecutionID: id, EventType: typ,
		Payload:   json.RawMessage(`{"name":"start recipe","position":2}`),
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestEventStreamer_FanOut(t *testing.T) {
	s := NewEventStreamer()
	id, other := uuid.New(), uuid.New()

	a := s.Subscribe(id)
	b := s.Subscribe(id)
	c := s.Subscribe(other)

	s.Broadcast(id, event(id, "execution.started"))
	assert.Equal(t, "execution.started", (<-a).EventType)
	assert.Equal(t, "execution.started", (<-b).EventType)
	assert.Empty(t, c)

	s.Unsubscribe(id, a)
	_, ok := <-a
	assert.False(t, ok)
	assert.Equal(t, 1, s.SubscriberCount(id))

	s.Finish(id)
	_, ok = <-b
	assert.False(t, ok)
	assert.Equal(t, 0, s.SubscriberCount(id))
	// after Finish unsubscribing is a no-op
	s.Unsubscribe(id, b)
}

func TestEventStreamer_DropsWhenFull(t *testing.T) {
	s := NewEventStreamer()
	id := uuid.New()
	ch := s.Subscribe(id)

	for i := 0; i < subscriberBuffer+5; i++ {
		s.Broadcast(id, event(id, fmt.Sprint(i)))
	}
	assert.Len(t, ch, subscriberBuffer)
	assert.Equal(t, "0", (<-ch).EventType)
}

func TestEventStruct(t *testing.T) {
	id := uuid.New()
	msg, err := EventStruct(event(id, "task.log"))
	require.NoError(t, err)

	m := msg.AsMap()
	assert.Equal(t, id.String(), m["execution_id"])
	assert.Equal(t, "task.log", m["event_type"])
	assert.Equal(t, "2026-03-01T12:00:00Z", m["timestamp"])
	assert.Equal(t, map[string]any{"name": "start recipe", "position": 2.0}, m["payload"])
}

type execStore map[uuid.UUID]*storage.Execution

func (s execStore) GetExecution(_ context.Context, id uuid.UUID) (*storage.Execution, error) {
	e, ok := s[id]
	if !ok {
		return nil, fmt.Errorf("execution %s: %w", id, storage.ErrNotFound)
	}
	return e, nil
}

func startServer(t *testing.T, svc *ExecutionService) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterExecutionService(srv, svc)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewClient(conn)
}

func TestExecutionService_Stream(t *testing.T) {
	streamer := NewEventStreamer()
	client := startServer(t, NewExecutionService(streamer, execStore{}))
	id := uuid.New()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan []string, 1)
	go func() {
		var types []string
		err := client.StreamEvents(ctx, id, func(m *structpb.Struct) error {
			types = append(types, m.GetFields()["event_type"].GetStringValue())
			return nil
		})
		assert.NoError(t, err)
		got <- types
	}()

	require.Eventually(t, func() bool { return streamer.SubscriberCount(id) == 1 }, 2*time.Second, 5*time.Millisecond)
	streamer.Broadcast(id, event(id, "execution.started"))
	streamer.Broadcast(id, event(id, "execution.completed"))
	streamer.Finish(id)

	assert.Equal(t, []string{"execution.started", "execution.completed"}, <-got)
}

func TestExecutionService_GetExecution(t *testing.T) {
	id := uuid.New()
	done := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)
	store := execStore{id: {
		ID: id, RecipeName: "sweep", Status: storage.StatusCompleted,
		Devices:   []string{"HP4294A"},
		StartedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), CompletedAt: &done,
	}}
	client := startServer(t, NewExecutionService(NewEventStreamer(), store))

	out, err := client.GetExecution(context.Background(), id)
	require.NoError(t, err)
	m := out.AsMap()
	assert.Equal(t, "completed", m["status"])
	assert.Equal(t, []any{"HP4294A"}, m["devices"])
	assert.Equal(t, "2026-03-01T12:05:00Z", m["completed_at"])

	_, err = client.GetExecution(context.Background(), uuid.New())
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestExecutionService_InvalidRequest(t *testing.T) {
	svc := NewExecutionService(NewEventStreamer(), execStore{})
	req, err := structpb.NewStruct(map[string]any{"execution_id": "nope"})
	require.NoError(t, err)

	_, err = svc.GetExecution(context.Background(), req)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = svc.GetExecution(context.Background(), &structpb.Struct{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}
