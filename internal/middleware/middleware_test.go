package middleware

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/splitledger/internal/api"
	"github.com/mmynk/splitledger/internal/auth"
	"github.com/mmynk/splitledger/internal/metrics"
)

const whoAmIProcedure = "/splitledger.test.v1.EchoService/WhoAmI"

type whoAmIRequest struct {
	Fail  bool          `json:"fail,omitempty"`
	Sleep time.Duration `json:"sleep,omitempty"`
}

type whoAmIResponse struct {
	UserID      string `json:"user_id"`
	Admin       bool   `json:"admin"`
	RequestID   string `json:"request_id"`
	HasDeadline bool   `json:"has_deadline"`
}

func whoAmI(ctx context.Context, req *connect.Request[whoAmIRequest]) (*connect.Response[whoAmIResponse], error) {
	if req.Msg.Fail {
		return nil, connect.NewError(connect.CodeNotFound, errors.New("nothing here"))
	}
	if req.Msg.Sleep > 0 {
		select {
		case <-time.After(req.Msg.Sleep):
		case <-ctx.Done():
			return nil, connect.NewError(connect.CodeDeadlineExceeded, ctx.Err())
		}
	}
	_, hasDeadline := ctx.Deadline()
	return connect.NewResponse(&whoAmIResponse{
		UserID:      GetUserID(ctx),
		Admin:       IsAdmin(ctx),
		RequestID:   GetRequestID(ctx),
		HasDeadline: hasDeadline,
	}), nil
}

func newWhoAmIClient(t *testing.T, interceptors ...connect.Interceptor) *connect.Client[whoAmIRequest, whoAmIResponse] {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle(whoAmIProcedure, connect.NewUnaryHandler(whoAmIProcedure, whoAmI,
		connect.WithCodec(api.Codec{}),
		connect.WithInterceptors(interceptors...),
	))
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return connect.NewClient[whoAmIRequest, whoAmIResponse](http.DefaultClient, server.URL+whoAmIProcedure,
		connect.WithCodec(api.Codec{}))
}

// syncBuffer lets the server goroutine log while the test reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func captureLogs(t *testing.T) *syncBuffer {
	t.Helper()
	var buf syncBuffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestRequireAuth(t *testing.T) {
	jwtManager := auth.NewJWTManager("test-secret", time.Hour)
	client := newWhoAmIClient(t, RequireAuth(jwtManager))
	ctx := context.Background()

	t.Run("missing token", func(t *testing.T) {
		_, err := client.CallUnary(ctx, connect.NewRequest(&whoAmIRequest{}))
		require.Error(t, err)
		assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))
	})

	t.Run("not a bearer token", func(t *testing.T) {
		req := connect.NewRequest(&whoAmIRequest{})
		req.Header().Set("Authorization", "Basic YWxpY2U6cHc=")
		_, err := client.CallUnary(ctx, req)
		assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))
	})

	t.Run("token signed with another key", func(t *testing.T) {
		token, err := auth.NewJWTManager("other-secret", time.Hour).Generate("alice", "Alice", false)
		require.NoError(t, err)
		req := connect.NewRequest(&whoAmIRequest{})
		req.Header().Set("Authorization", "Bearer "+token)
		_, err = client.CallUnary(ctx, req)
		assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))
	})

	t.Run("valid token", func(t *testing.T) {
		token, err := jwtManager.Generate("alice", "Alice", true)
		require.NoError(t, err)
		req := connect.NewRequest(&whoAmIRequest{})
		req.Header().Set("Authorization", "Bearer "+token)
		resp, err := client.CallUnary(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, "alice", resp.Msg.UserID)
		assert.True(t, resp.Msg.Admin)
	})
}

func TestLoggingInterceptor(t *testing.T) {
	logs := captureLogs(t)
	client := newWhoAmIClient(t, LoggingInterceptor())
	ctx := context.Background()

	resp, err := client.CallUnary(ctx, connect.NewRequest(&whoAmIRequest{}))
	require.NoError(t, err)
	generated := resp.Header().Get(RequestIDHeader)
	assert.NotEmpty(t, generated)
	assert.Equal(t, generated, resp.Msg.RequestID)

	req := connect.NewRequest(&whoAmIRequest{})
	req.Header().Set(RequestIDHeader, "req-42")
	resp, err = client.CallUnary(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "req-42", resp.Header().Get(RequestIDHeader))
	assert.Equal(t, "req-42", resp.Msg.RequestID)

	_, err = client.CallUnary(ctx, connect.NewRequest(&whoAmIRequest{Fail: true}))
	var connectErr *connect.Error
	require.ErrorAs(t, err, &connectErr)
	assert.Equal(t, connect.CodeNotFound, connectErr.Code())
	assert.NotEmpty(t, connectErr.Meta().Get(RequestIDHeader))

	out := logs.String()
	assert.Equal(t, 2, strings.Count(out, `"msg":"RPC ok"`))
	assert.Equal(t, 1, strings.Count(out, `"msg":"RPC error"`))
	assert.Contains(t, out, `"request_id":"req-42"`)
	assert.Contains(t, out, `"procedure":"`+whoAmIProcedure+`"`)
}

func TestMetricsInterceptor(t *testing.T) {
	m := metrics.New()
	client := newWhoAmIClient(t, MetricsInterceptor(m))
	ctx := context.Background()

	_, err := client.CallUnary(ctx, connect.NewRequest(&whoAmIRequest{}))
	require.NoError(t, err)
	_, err = client.CallUnary(ctx, connect.NewRequest(&whoAmIRequest{}))
	require.NoError(t, err)
	_, err = client.CallUnary(ctx, connect.NewRequest(&whoAmIRequest{Fail: true}))
	require.Error(t, err)

	expected := `
# HELP splitledger_rpc_requests_total RPC requests by procedure and result code.
# TYPE splitledger_rpc_requests_total counter
splitledger_rpc_requests_total{code="not_found",procedure="` + whoAmIProcedure + `"} 1
splitledger_rpc_requests_total{code="ok",procedure="` + whoAmIProcedure + `"} 2
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "splitledger_rpc_requests_total"))
}

func TestTimeoutInterceptor(t *testing.T) {
	ctx := context.Background()

	client := newWhoAmIClient(t, TimeoutInterceptor(50*time.Millisecond))
	resp, err := client.CallUnary(ctx, connect.NewRequest(&whoAmIRequest{}))
	require.NoError(t, err)
	assert.True(t, resp.Msg.HasDeadline)

	_, err = client.CallUnary(ctx, connect.NewRequest(&whoAmIRequest{Sleep: time.Second}))
	assert.Equal(t, connect.CodeDeadlineExceeded, connect.CodeOf(err))

	unbounded := newWhoAmIClient(t, TimeoutInterceptor(0))
	resp, err = unbounded.CallUnary(ctx, connect.NewRequest(&whoAmIRequest{}))
	require.NoError(t, err)
	assert.False(t, resp.Msg.HasDeadline)
}

func TestTimeoutInterceptorExempt(t *testing.T) {
	ctx := context.Background()

	exempt := newWhoAmIClient(t, TimeoutInterceptor(50*time.Millisecond, whoAmIProcedure))
	resp, err := exempt.CallUnary(ctx, connect.NewRequest(&whoAmIRequest{Sleep: 150 * time.Millisecond}))
	require.NoError(t, err)
	assert.False(t, resp.Msg.HasDeadline)

	other := newWhoAmIClient(t, TimeoutInterceptor(50*time.Millisecond, "/splitledger.test.v1.EchoService/Other"))
	_, err = other.CallUnary(ctx, connect.NewRequest(&whoAmIRequest{Sleep: time.Second}))
	assert.Equal(t, connect.CodeDeadlineExceeded, connect.CodeOf(err))
}
