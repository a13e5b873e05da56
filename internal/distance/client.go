package distance

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region constants

const distanceMethod = "/flowtrace.distance.v1.DistanceService/Distance"

const maxRetries = 2 // max 2 retries = 3 total attempts

// retryBackoff is the wait before the first retry; it doubles per retry.
const retryBackoff = 50 * time.Millisecond

// #endregion constants

// #region service

// Service is the distance RPC surface. Requests carry two series under
// "a" and "b" (lists of numeric lists); responses carry "distance".
type Service interface {
	Distance(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type serviceClient struct {
	cc grpc.ClientConnInterface
}

func (c *serviceClient) Distance(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, distanceMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// #endregion service

// #region client

// Client computes distances on a remote DTW service.
type Client struct {
	conn    *grpc.ClientConn
	svc     Service
	backoff time.Duration
}

// NewClient connects to the distance service at addr.
func NewClient(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{
		conn:    conn,
		svc:     &serviceClient{cc: conn},
		backoff: retryBackoff,
	}, nil
}

// NewClientWithService creates a Client with an injected service implementation.
// Used for testing without a real gRPC connection.
func NewClientWithService(svc Service) *Client {
	return &Client{svc: svc, backoff: retryBackoff}
}

// WithBackoff sets the wait before the first retry and returns c.
func (c *Client) WithBackoff(d time.Duration) *Client {
	c.backoff = d
	return c
}

// Close shuts down the gRPC connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion client

// #region distance

// Distance sends both series to the service. Unavailable errors are
// retried with a doubling backoff; ctx bounds the wait.
func (c *Client) Distance(ctx context.Context, a, b [][]float64) (float64, error) {
	req, err := structpb.NewStruct(map[string]any{
		"a": seriesValue(a),
		"b": seriesValue(b),
	})
	if err != nil {
		return 0, fmt.Errorf("encode distance request: %w", err)
	}

	var resp *structpb.Struct
	for attempt := 0; ; attempt++ {
		resp, err = c.svc.Distance(ctx, req)
		if err == nil {
			break
		}
		if status.Code(err) != codes.Unavailable || attempt >= maxRetries {
			return 0, fmt.Errorf("distance rpc: %w", err)
		}
		if err := c.wait(ctx, attempt); err != nil {
			return 0, fmt.Errorf("distance rpc: %w", err)
		}
	}

	v, ok := resp.GetFields()["distance"]
	if !ok {
		return 0, fmt.Errorf("distance rpc: response has no distance field")
	}
	d, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("distance rpc: distance is not a number")
	}
	if d.NumberValue < 0 {
		return 0, fmt.Errorf("distance rpc: negative distance %v", d.NumberValue)
	}
	return d.NumberValue, nil
}

// Func binds the client to ctx as a distance Func.
func (c *Client) Func(ctx context.Context) Func {
	return func(a, b [][]float64) (float64, error) {
		return c.Distance(ctx, a, b)
	}
}

func seriesValue(series [][]float64) []any {
	out := make([]any, len(series))
	for i, row := range series {
		vals := make([]any, len(row))
		for j, v := range row {
			vals[j] = v
		}
		out[i] = vals
	}
	return out
}

// #endregion distance

// #region backoff

func (c *Client) wait(ctx context.Context, attempt int) error {
	if c.backoff <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(c.backoff << attempt)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// #endregion backoff
