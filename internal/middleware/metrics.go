package middleware

import (
	"context"
	"slices"
	"time"

	"connectrpc.com/connect"

	"github.com/mmynk/splitledger/internal/metrics"
)

// MetricsInterceptor counts RPCs by procedure and result code and records their latency.
func MetricsInterceptor(m *metrics.Metrics) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()
			resp, err := next(ctx, req)

			code := "ok"
			if err != nil {
				code = connect.CodeOf(err).String()
			}
			m.ObserveRequest(req.Spec().Procedure, code, time.Since(start))
			return resp, err
		}
	}
}

// TimeoutInterceptor bounds every call to d. Calls to the exempt procedures are left
// unbounded; their handlers bound their own ledger work.
func TimeoutInterceptor(d time.Duration, exempt ...string) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			if d <= 0 || slices.Contains(exempt, req.Spec().Procedure) {
				return next(ctx, req)
			}
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}
