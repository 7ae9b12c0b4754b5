package api

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-pof/internal/config"
)

type engineStub struct{}

func (e *engineStub) echo(method string, in *structpb.Struct) (*structpb.Struct, error) {
	out := &structpb.Struct{Fields: map[string]*structpb.Value{"method": structpb.NewStringValue(method)}}
	for k, v := range in.GetFields() {
		out.Fields[k] = v
	}
	return out, nil
}

func (e *engineStub) Simulate(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return e.echo(MethodSimulate, in)
}

func (e *engineStub) Sensitivity(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return e.echo(MethodSensitivity, in)
}

func (e *engineStub) Progress(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return e.echo(MethodProgress, in)
}

func (e *engineStub) Cancel(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.NotFound, "run not found")
}

func (e *engineStub) Report(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return e.echo(MethodReport, in)
}

func (e *engineStub) Health(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return e.echo(MethodHealth, in)
}

func dialStub(t *testing.T, stub *engineStub) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewServerWithListener(config.ServerConfig{}, lis, stub)
	go func() { _ = srv.Start() }()
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestClientRoundTrip(t *testing.T) {
	stub := &engineStub{}
	client := NewPofEngineClient(dialStub(t, stub))

	var resp struct {
		Method string `json:"method"`
		Model  string `json:"model"`
	}
	if err := client.Do(context.Background(), MethodSimulate, map[string]string{"model": "pole"}, &resp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Method != MethodSimulate || resp.Model != "pole" {
		t.Fatalf("unexpected response %+v", resp)
	}

	_, err := client.Call(context.Background(), MethodCancel, nil)
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected the status code to pass through, got %v", err)
	}
}

func TestHealthServiceRegistered(t *testing.T) {
	conn := dialStub(t, &engineStub{})
	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("unexpected status %v", resp.GetStatus())
	}
}
