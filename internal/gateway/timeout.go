package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	xerrors "AutoAgent/internal/errors"
)

// WithTimeout 为每次网关调用设置超时。超时错误以 TIMEOUT 上报；
// 由调用方取消引起的错误原样返回。
func WithTimeout(inner Gateway, timeout time.Duration) Gateway {
	if timeout <= 0 || inner == nil {
		return inner
	}
	return &timeoutGateway{inner: inner, timeout: timeout}
}

type timeoutGateway struct {
	inner   Gateway
	timeout time.Duration
}

func call[T any](ctx context.Context, g *timeoutGateway, op string, fn func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	out, err := fn(callCtx)
	if err == nil {
		return out, nil
	}
	if ctx.Err() == nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded)) {
		var zero T
		return zero, xerrors.Wrap(xerrors.CodeTimeout, err, fmt.Sprintf("gateway %s 超过 %s 未返回", op, g.timeout),
			xerrors.WithMetadata("op", op))
	}
	return out, err
}

func (g *timeoutGateway) Start(ctx context.Context, req StartRequest) ([]string, error) {
	return call(ctx, g, "start", func(ctx context.Context) ([]string, error) { return g.inner.Start(ctx, req) })
}

func (g *timeoutGateway) Analyze(ctx context.Context, req AnalyzeRequest) (Analysis, error) {
	return call(ctx, g, "analyze", func(ctx context.Context) (Analysis, error) { return g.inner.Analyze(ctx, req) })
}

func (g *timeoutGateway) Execute(ctx context.Context, req ExecuteRequest) (string, error) {
	return call(ctx, g, "execute", func(ctx context.Context) (string, error) { return g.inner.Execute(ctx, req) })
}

func (g *timeoutGateway) Create(ctx context.Context, req CreateRequest) ([]string, error) {
	return call(ctx, g, "create", func(ctx context.Context) ([]string, error) { return g.inner.Create(ctx, req) })
}

func (g *timeoutGateway) Summarize(ctx context.Context, req SummarizeRequest) (string, error) {
	return call(ctx, g, "summarize", func(ctx context.Context) (string, error) { return g.inner.Summarize(ctx, req) })
}
