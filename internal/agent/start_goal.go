package agent

import (
	"context"
	"fmt"

	xerrors "AutoAgent/internal/errors"
	"AutoAgent/internal/gateway"
	"AutoAgent/internal/message"
	"AutoAgent/internal/task"
)

// StartGoalWork 发送目标并生成初始任务。失败时运行无法继续。
type StartGoalWork struct {
	agent    *AutonomousAgent
	tasks    []*task.Task
	messages []message.Message
	result   string
}

// NewStartGoalWork 创建开始目标的工作单元。
func NewStartGoalWork(a *AutonomousAgent) *StartGoalWork {
	return &StartGoalWork{agent: a}
}

func (w *StartGoalWork) Kind() string { return KindStartGoal }

func (w *StartGoalWork) Run(ctx context.Context) error {
	a := w.agent
	goal := a.store.Goal()
	if goal == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "目标不能为空")
	}

	goalMsg := message.New(message.TypeGoal, goal)
	if err := a.send(ctx, goalMsg); err != nil {
		return err
	}
	w.messages = append(w.messages[:0], goalMsg)

	values, err := a.gateway.Start(ctx, gateway.StartRequest{
		RunID:    a.runID,
		Goal:     goal,
		Settings: a.settings.toGateway(),
	})
	if err != nil {
		return gateway.Failure("start", err)
	}

	tasks, err := a.store.AddTasks("", values...)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return xerrors.New(xerrors.CodeGatewayFailure, "未能为目标生成任何任务")
	}

	for _, t := range tasks {
		msg := message.ForTask(message.TypeTask, t.ID, t.Value)
		msg.Status = message.StatusStarted
		if err := a.send(ctx, msg); err != nil {
			return err
		}
		w.messages = append(w.messages, msg)
	}
	w.tasks = tasks
	w.result = fmt.Sprintf("%d tasks", len(tasks))
	return nil
}

func (w *StartGoalWork) Conclude(ctx context.Context) error {
	return w.agent.save(ctx, w.messages)
}

func (w *StartGoalWork) Next() AgentWork { return nil }

// OnError 报告错误并停止运行：没有初始任务时运行无法推进。
func (w *StartGoalWork) OnError(ctx context.Context, err error) bool {
	w.agent.sendError(ctx, err)
	return false
}

func (w *StartGoalWork) Result() string { return w.result }

// Tasks 返回创建的初始任务。
func (w *StartGoalWork) Tasks() []*task.Task { return w.tasks }
