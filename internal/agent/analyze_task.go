package agent

import (
	"context"
	"fmt"
	"strings"

	"AutoAgent/internal/gateway"
	"AutoAgent/internal/message"
	"AutoAgent/internal/task"
)

// AnalyzeTaskWork 为任务选择执行动作，成功后交给 ExecuteTaskWork。
type AnalyzeTaskWork struct {
	agent    *AutonomousAgent
	task     *task.Task
	analysis gateway.Analysis
	analyzed bool
}

// NewAnalyzeTaskWork 创建分析任务的工作单元。
func NewAnalyzeTaskWork(a *AutonomousAgent, t *task.Task) *AnalyzeTaskWork {
	return &AnalyzeTaskWork{agent: a, task: t}
}

func (w *AnalyzeTaskWork) Kind() string { return KindAnalyzeTask }

func (w *AnalyzeTaskWork) Run(ctx context.Context) error {
	a := w.agent
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

	analysis, err := a.gateway.Analyze(ctx, gateway.AnalyzeRequest{
		RunID:    a.runID,
		Goal:     a.store.Goal(),
		Task:     *current,
		Settings: a.settings.toGateway(),
	})
	if err != nil {
		return gateway.Failure("analyze", err)
	}
	analysis.Action = strings.ToLower(strings.TrimSpace(analysis.Action))
	if err := analysis.Validate(); err != nil {
		return err
	}
	w.analysis = analysis
	w.analyzed = true
	return nil
}

// Conclude 发送并保存一条描述所选动作的思考消息。
func (w *AnalyzeTaskWork) Conclude(ctx context.Context) error {
	msg := message.ForTask(message.TypeThinking, w.task.ID, w.task.Value).
		WithInfo(describeAnalysis(w.analysis)).
		Finalize()
	if err := w.agent.send(ctx, msg); err != nil {
		return err
	}
	return w.agent.save(ctx, []message.Message{msg})
}

// Next 每次调用都返回一个新的、内容相同的执行单元。
func (w *AnalyzeTaskWork) Next() AgentWork {
	if !w.analyzed {
		return nil
	}
	return NewExecuteTaskWork(w.agent, w.task, w.analysis)
}

func (w *AnalyzeTaskWork) OnError(ctx context.Context, err error) bool {
	w.agent.sendError(ctx, err)
	statusErr := w.agent.failTask(w.task)
	return !stepHalts(err, statusErr)
}

func (w *AnalyzeTaskWork) Result() string { return w.analysis.Action }

// Task 返回正在分析的任务。
func (w *AnalyzeTaskWork) Task() *task.Task { return w.task }

// Analysis 返回分析结果。
func (w *AnalyzeTaskWork) Analysis() gateway.Analysis { return w.analysis }

func describeAnalysis(a gateway.Analysis) string {
	var b strings.Builder
	switch a.Action {
	case gateway.ActionSearch:
		b.WriteString(fmt.Sprintf("Searching the web for %q", a.Arg))
	case gateway.ActionCode:
		b.WriteString(fmt.Sprintf("Writing code for %q", a.Arg))
	case gateway.ActionImage:
		b.WriteString(fmt.Sprintf("Generating an image for %q", a.Arg))
	default:
		b.WriteString("Reasoning about the task")
	}
	if r := strings.TrimSpace(a.Reasoning); r != "" {
		b.WriteString(": ")
		b.WriteString(r)
	}
	return b.String()
}
