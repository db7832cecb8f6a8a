package agent

import "context"

// AgentWork 是运行循环中的一个工作单元。
//
// 编排器依次调用 Run、Conclude，再通过 Next 询问后续工作；任一步失败时调用
// OnError。Next 不产生副作用，可重复调用。
type AgentWork interface {
	// Kind 返回工作单元类型，用于日志与指标。
	Kind() string
	// Run 执行主要动作并填充结果。
	Run(ctx context.Context) error
	// Conclude 仅在 Run 成功后调用，负责持久化等收尾工作。
	Conclude(ctx context.Context) error
	// Next 返回后续工作，nil 表示没有。
	Next() AgentWork
	// OnError 恰好发送一条错误消息，返回 false 时编排器停止运行。
	OnError(ctx context.Context, err error) bool
	// Result 返回 Run 记录的结果。
	Result() string
}

// 内置工作单元类型。
const (
	KindStartGoal   = "start_goal"
	KindAnalyzeTask = "analyze_task"
	KindExecuteTask = "execute_task"
	KindCreateTasks = "create_tasks"
	KindConclude    = "conclude"
)
