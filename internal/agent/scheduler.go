package agent

import "AutoAgent/internal/gateway"

// Scheduler 在工作单元的 Next 没有给出后续工作时选择下一个工作单元。
// succeeded 表示 prev 是否成功完成。返回 nil 时运行正常停止。
type Scheduler func(a *AutonomousAgent, prev AgentWork, succeeded bool) AgentWork

// DefaultScheduler 是默认调度策略，只依赖任务存储的状态与编排器配置：
//
//  1. 任务执行成功且允许生成后续任务、预算未用尽时，生成后续任务；
//  2. 预算未用尽且存在 pending 任务时，按选择策略取出任务进行分析
//     （关闭分析时直接以默认分析执行）；
//  3. 尚未收尾时收尾；
//  4. 否则结束。
func DefaultScheduler(a *AutonomousAgent, prev AgentWork, succeeded bool) AgentWork {
	budget := a.budgetLeft()

	if succeeded && a.followUps && budget {
		if exec, ok := prev.(*ExecuteTaskWork); ok {
			return NewCreateTasksWork(a, exec.Task(), exec.Result())
		}
	}

	if budget {
		if next := a.selector.Select(a.store); next != nil {
			if a.analyze {
				return NewAnalyzeTaskWork(a, next)
			}
			return NewExecuteTaskWork(a, next, gateway.DefaultAnalysis(next))
		}
	}

	if !a.store.Concluded() {
		return NewConcludeWork(a)
	}
	return nil
}
