package agent

import (
	"context"

	"AutoAgent/internal/gateway"
	"AutoAgent/internal/message"
	"AutoAgent/internal/task"
)

// 收尾阶段发送给用户的系统消息。
const (
	NoticeMaxLoops = "Max loops reached. Remaining tasks were not executed."
	NoticeDone     = "All tasks completed."
)

// ConcludeWork 在没有可执行任务时收尾，每次运行只生效一次。
type ConcludeWork struct {
	agent    *AutonomousAgent
	messages []message.Message
	result   string
}

// NewConcludeWork 创建收尾工作单元。
func NewConcludeWork(a *AutonomousAgent) *ConcludeWork {
	return &ConcludeWork{agent: a}
}

func (w *ConcludeWork) Kind() string { return KindConclude }

func (w *ConcludeWork) Run(ctx context.Context) error {
	a := w.agent
	if a.store.Concluded() {
		return nil
	}
	// 先标记，避免失败后被重复调度。
	a.store.MarkConcluded()

	if stats := a.store.Stats(); stats.Pending > 0 && !a.budgetLeft() {
		notice := message.New(message.TypeSystem, NoticeMaxLoops).Finalize()
		if err := a.send(ctx, notice); err != nil {
			return err
		}
		w.messages = append(w.messages, notice)
	}

	if !a.summarize {
		done := message.New(message.TypeSystem, NoticeDone).Finalize()
		if err := a.send(ctx, done); err != nil {
			return err
		}
		w.messages = append(w.messages, done)
		w.result = NoticeDone
		return nil
	}

	completed := a.store.List(task.WithStatuses(task.StatusCompleted))
	results := make([]string, 0, len(completed))
	for _, t := range completed {
		results = append(results, t.Result)
	}
	summary, err := a.gateway.Summarize(ctx, gateway.SummarizeRequest{
		RunID:    a.runID,
		Goal:     a.store.Goal(),
		Results:  results,
		Settings: a.settings.toGateway(),
	})
	if err != nil {
		return gateway.Failure("summarize", err)
	}
	msg := message.New(message.TypeSummary, a.store.Goal()).WithInfo(summary).Finalize()
	if err := a.send(ctx, msg); err != nil {
		return err
	}
	w.messages = append(w.messages, msg)
	w.result = summary
	return nil
}

func (w *ConcludeWork) Conclude(ctx context.Context) error {
	return w.agent.save(ctx, w.messages)
}

func (w *ConcludeWork) Next() AgentWork { return nil }

func (w *ConcludeWork) OnError(ctx context.Context, err error) bool {
	w.agent.sendError(ctx, err)
	return !stepHalts(err, nil)
}

func (w *ConcludeWork) Result() string { return w.result }
