package message

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	xerrors "AutoAgent/internal/errors"
	"AutoAgent/pkg/logger"
)

// Fanout 将消息依次写入主 Sink 与若干镜像 Sink。
//
// 主 Sink 的失败会返回给调用方；镜像 Sink（Redis、RabbitMQ 等）只记录日志，
// 不影响运行循环。
type Fanout struct {
	primary Sink
	mirrors []Sink
}

// NewFanout 创建 Fanout，nil 镜像会被忽略。
func NewFanout(primary Sink, mirrors ...Sink) *Fanout {
	set := make([]Sink, 0, len(mirrors))
	for _, m := range mirrors {
		if m != nil {
			set = append(set, m)
		}
	}
	return &Fanout{primary: primary, mirrors: set}
}

// Send 实现 Sink 接口。
func (f *Fanout) Send(ctx context.Context, msg Message) error {
	if err := f.primary.Send(ctx, msg); err != nil {
		return err
	}
	f.mirror(ctx, "send", func(s Sink) error { return s.Send(ctx, msg) })
	return nil
}

// Update 实现 Sink 接口。
func (f *Fanout) Update(ctx context.Context, msg Message) error {
	if err := f.primary.Update(ctx, msg); err != nil {
		return err
	}
	f.mirror(ctx, "update", func(s Sink) error { return s.Update(ctx, msg) })
	return nil
}

// SendError 实现 Sink 接口。错误消息先在此构造，保证各 Sink 中的 ID 一致。
func (f *Fanout) SendError(ctx context.Context, reason string) error {
	return f.Send(ctx, Error(reason))
}

func (f *Fanout) mirror(ctx context.Context, op string, fn func(Sink) error) {
	var errs []error
	for i, sink := range f.mirrors {
		if err := fn(sink); err != nil {
			errs = append(errs, fmt.Errorf("mirror %d: %w", i, err))
		}
	}
	if len(errs) == 0 {
		return
	}
	err := xerrors.Wrap(xerrors.CodeSinkFailure, errors.Join(errs...), "镜像消息流写入失败")
	logger.L().WarnContext(ctx, "消息镜像失败", slog.String("op", op), slog.Any("error", err))
}

var _ Sink = (*Fanout)(nil)
