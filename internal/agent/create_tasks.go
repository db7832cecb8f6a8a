package agent

import (
	"context"
	"fmt"

	"AutoAgent/internal/gateway"
	"AutoAgent/internal/message"
	"AutoAgent/internal/task"
)

// CreateTasksWork 根据已完成任务的结果生成后续任务。
type CreateTasksWork struct {
	agent    *AutonomousAgent
	parent   *task.Task
	result   string
	created  []*task.Task
	messages []message.Message
}

// NewCreateTasksWork 创建生成后续任务的工作单元。
func NewCreateTasksWork(a *AutonomousAgent, parent *task.Task, result string) *CreateTasksWork {
	return &CreateTasksWork{agent: a, parent: parent, result: result}
}

func (w *CreateTasksWork) Kind() string { return KindCreateTasks }

func (w *CreateTasksWork) Run(ctx context.Context) error {
	a := w.agent
	pending := a.store.List(task.WithStatuses(task.StatusPending))
	remaining := make([]string, 0, len(pending))
	for _, t := range pending {
		remaining = append(remaining, t.Value)
	}

	values, err := a.gateway.Create(ctx, gateway.CreateRequest{
		RunID:     a.runID,
		Goal:      a.store.Goal(),
		Task:      *w.parent,
		Result:    w.result,
		Remaining: remaining,
		Settings:  a.settings.toGateway(),
	})
	if err != nil {
		return gateway.Failure("create", err)
	}

	created, err := a.store.AddTasks(w.parent.ID, values...)
	if err != nil {
		return err
	}
	w.messages = w.messages[:0]
	for _, t := range created {
		msg := message.ForTask(message.TypeTask, t.ID, t.Value)
		msg.Status = message.StatusStarted
		if err := a.send(ctx, msg); err != nil {
			return err
		}
		w.messages = append(w.messages, msg)
	}
	w.created = created
	return nil
}

func (w *CreateTasksWork) Conclude(ctx context.Context) error {
	return w.agent.save(ctx, w.messages)
}

func (w *CreateTasksWork) Next() AgentWork { return nil }

func (w *CreateTasksWork) OnError(ctx context.Context, err error) bool {
	w.agent.sendError(ctx, err)
	return !stepHalts(err, nil)
}

func (w *CreateTasksWork) Result() string { return fmt.Sprintf("%d tasks", len(w.created)) }

// Created 返回新生成的任务。
func (w *CreateTasksWork) Created() []*task.Task { return w.created }
