package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	serviceName    = "goalpath.oracle.v1.Oracle"
	generateMethod = "/" + serviceName + "/Generate"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// Remote forwards requests to an oracle service over gRPC. The request travels
// as a google.protobuf.Struct and the answer as a google.protobuf.StringValue,
// so no generated stubs are needed on either side.
type Remote struct {
	conn *grpc.ClientConn
	addr string
}

// DialRemote connects to the oracle service at cfg.Address and waits until
// the connection is ready or cfg.ConnectTimeout elapses.
func DialRemote(cfg Config, opts ...grpc.DialOption) (*Remote, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("grpc oracle: address is required")
	}
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}

	kacp := keepalive.ClientParameters{
		Time:                2 * time.Minute,
		Timeout:             10 * time.Second,
		PermitWithoutStream: false,
	}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, opts...)

	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create oracle client for %s: %w", cfg.Address, err)
	}

	// Fail fast on a bad endpoint instead of on the first planning request.
	connectCtx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			slog.Warn("Failed to close oracle connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("%w: oracle at %s not ready: %v", ErrUnavailable, cfg.Address, err)
	}

	slog.Info("Connected to oracle service", "address", cfg.Address)
	return &Remote{conn: conn, addr: cfg.Address}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the connection.
func (r *Remote) Close() error {
	return r.conn.Close()
}

// Generate implements Oracle.
func (r *Remote) Generate(ctx context.Context, req Request) (string, error) {
	in, err := requestToStruct(req)
	if err != nil {
		return "", err
	}

	out := new(wrapperspb.StringValue)
	if err := r.conn.Invoke(ctx, generateMethod, in, out); err != nil {
		switch status.Code(err) {
		case codes.DeadlineExceeded:
			return "", fmt.Errorf("%w: grpc %s: %v", ErrTimeout, r.addr, err)
		case codes.Canceled:
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
		}
		return "", fmt.Errorf("%w: grpc %s: %v", ErrUnavailable, r.addr, err)
	}
	if out.GetValue() == "" {
		return "", fmt.Errorf("%w: grpc %s", ErrEmptyResponse, r.addr)
	}
	return out.GetValue(), nil
}

func requestToStruct(req Request) (*structpb.Struct, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode oracle request: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("encode oracle request: %w", err)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("encode oracle request: %w", err)
	}
	return s, nil
}

func structToRequest(s *structpb.Struct) (Request, error) {
	var req Request
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return req, err
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, err
	}
	return req, nil
}

// RegisterServer exposes o on s under the oracle service name, so any
// provider can be run out of process and reached through Remote.
func RegisterServer(s grpc.ServiceRegistrar, o Oracle) {
	s.RegisterService(&serviceDesc, o)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Oracle)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Generate", Handler: generateHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func generateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		return serveGenerate(ctx, srv.(Oracle), req.(*structpb.Struct))
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: generateMethod}
	return interceptor(ctx, in, info, call)
}

func serveGenerate(ctx context.Context, o Oracle, in *structpb.Struct) (*wrapperspb.StringValue, error) {
	req, err := structToRequest(in)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}

	text, err := o.Generate(ctx, req)
	switch {
	case err == nil:
		return wrapperspb.String(text), nil
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return nil, status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return nil, status.Error(codes.Canceled, err.Error())
	case errors.Is(err, ErrUnavailable):
		return nil, status.Error(codes.Unavailable, err.Error())
	default:
		slog.Error("Oracle service call failed", "phase", req.Phase, "error", err)
		return nil, status.Error(codes.Internal, err.Error())
	}
}
