package agent

import (
	"context"
	"log/slog"

	xerrors "AutoAgent/internal/errors"
	"AutoAgent/internal/gateway"
	"AutoAgent/internal/message"
	"AutoAgent/internal/task"
)

// ExecuteTaskWork 按分析结果执行一个任务，并把结果写回任务与消息流。
//
// 执行期间消息流中恰好有一次发送（Loading… 占位）和一次更新（最终结果）。
type ExecuteTaskWork struct {
	agent    *AutonomousAgent
	task     *task.Task
	analysis gateway.Analysis
	msg      message.Message
	sent     bool
	result   string
}

// NewExecuteTaskWork 创建执行任务的工作单元。
func NewExecuteTaskWork(a *AutonomousAgent, t *task.Task, analysis gateway.Analysis) *ExecuteTaskWork {
	return &ExecuteTaskWork{agent: a, task: t, analysis: analysis}
}

func (w *ExecuteTaskWork) Kind() string { return KindExecuteTask }

func (w *ExecuteTaskWork) Run(ctx context.Context) error {
	a := w.agent

	// 校验分析结果，并在需要时把任务推进到 executing。
	if err := w.analysis.Validate(); err != nil {
		return err
	}
	current, err := a.store.Get(w.task.ID)
	if err != nil {
		return err
	}
	if current.Status == task.StatusPending {
		if current, err = a.store.UpdateTaskStatus(current.ID, task.StatusExecuting); err != nil {
			return err
		}
	}
	w.task = current

	// 发送占位消息。
	msg := message.ForTask(message.TypeAction, current.ID, current.Value).WithInfo(message.Loading)
	msg.Status = message.StatusCompleted
	if err := a.send(ctx, msg); err != nil {
		return err
	}
	w.msg = msg
	w.sent = true

	// 调用网关执行任务。
	out, err := a.gateway.Execute(ctx, gateway.ExecuteRequest{
		RunID:    a.runID,
		Goal:     a.store.Goal(),
		Task:     *current,
		Analysis: w.analysis,
		Settings: a.settings.toGateway(),
	})
	if err != nil {
		return gateway.Failure("execute", err)
	}

	// 回写结果：任务结果、消息定稿、任务完成。
	msg = msg.WithInfo(out).Finalize()
	if _, err := a.store.UpdateTaskResult(current.ID, out); err != nil {
		return err
	}
	if err := a.update(ctx, msg); err != nil {
		return err
	}
	w.msg = msg
	done, err := a.store.UpdateTaskStatus(current.ID, task.StatusCompleted)
	if err != nil {
		return err
	}
	w.task = done
	w.result = out
	return nil
}

func (w *ExecuteTaskWork) Conclude(ctx context.Context) error {
	return w.agent.save(ctx, []message.Message{w.msg})
}

func (w *ExecuteTaskWork) Next() AgentWork { return nil }

// OnError 发送一条错误消息并把任务标记为失败。
// 错误或状态回写属于存储一致性问题时返回 false。
func (w *ExecuteTaskWork) OnError(ctx context.Context, err error) bool {
	a := w.agent
	a.sendError(ctx, err)

	// 占位消息不再等待结果。
	if w.sent && !w.msg.Final {
		closed := w.msg.WithInfo(xerrors.MessageOf(err)).Finalize()
		if updateErr := a.sink.Update(ctx, closed); updateErr == nil {
			w.msg = closed
		} else {
			a.log.DebugContext(ctx, "关闭占位消息失败", slog.String("error", updateErr.Error()))
		}
	}

	statusErr := a.failTask(w.task)
	return !stepHalts(err, statusErr)
}

func (w *ExecuteTaskWork) Result() string { return w.result }

// Task 返回正在执行的任务。
func (w *ExecuteTaskWork) Task() *task.Task { return w.task }

// Analysis 返回执行使用的分析结果。
func (w *ExecuteTaskWork) Analysis() gateway.Analysis { return w.analysis }
