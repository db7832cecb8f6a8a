package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Echo 是确定性的网关实现，不依赖任何外部服务。
//
// Start 返回预设任务（未设置时由目标派生两条任务），Execute 返回
// "<action>: <task>" 形式的结果，Create 按任务内容查找预设的后续任务。
type Echo struct {
	mu        sync.Mutex
	initial   []string
	followUps map[string][]string
	analysis  map[string]Analysis
	executed  []string
}

// EchoOption 定义 Echo 的可选配置。
type EchoOption func(*Echo)

// WithInitialTasks 指定 Start 返回的任务列表。
func WithInitialTasks(values ...string) EchoOption {
	return func(e *Echo) {
		e.initial = append([]string(nil), values...)
	}
}

// WithFollowUps 指定某个任务完成后 Create 返回的任务。
func WithFollowUps(taskValue string, values ...string) EchoOption {
	return func(e *Echo) {
		e.followUps[taskValue] = append([]string(nil), values...)
	}
}

// WithAnalysis 指定某个任务的分析结果。
func WithAnalysis(taskValue string, analysis Analysis) EchoOption {
	return func(e *Echo) {
		e.analysis[taskValue] = analysis
	}
}

// NewEcho 创建确定性网关。
func NewEcho(opts ...EchoOption) *Echo {
	e := &Echo{
		followUps: make(map[string][]string),
		analysis:  make(map[string]Analysis),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

func (e *Echo) Start(ctx context.Context, req StartRequest) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.initial) > 0 {
		return append([]string(nil), e.initial...), nil
	}
	goal := strings.TrimSpace(req.Goal)
	return []string{
		fmt.Sprintf("Research %s", goal),
		fmt.Sprintf("Deliver %s", goal),
	}, nil
}

func (e *Echo) Analyze(ctx context.Context, req AnalyzeRequest) (Analysis, error) {
	if err := ctx.Err(); err != nil {
		return Analysis{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if analysis, ok := e.analysis[req.Task.Value]; ok {
		return analysis, nil
	}
	return Analysis{Action: ActionReason, Arg: req.Task.Value, Reasoning: "default reasoning"}, nil
}

func (e *Echo) Execute(ctx context.Context, req ExecuteRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	e.mu.Lock()
	e.executed = append(e.executed, req.Task.Value)
	e.mu.Unlock()
	return fmt.Sprintf("%s: %s", req.Analysis.Action, req.Task.Value), nil
}

func (e *Echo) Create(ctx context.Context, req CreateRequest) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.followUps[req.Task.Value]...), nil
}

func (e *Echo) Summarize(ctx context.Context, req SummarizeRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s: %d results", strings.TrimSpace(req.Goal), len(req.Results)), nil
}

// Executed 返回已执行任务的内容，按调用顺序排列。
func (e *Echo) Executed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.executed...)
}

var _ Gateway = (*Echo)(nil)
