package task

// Store 保存一次运行的目标与有序任务列表。
//
// 同一时刻只有当前活跃的工作单元会写入；读取方拿到的都是副本。
type Store interface {
	Goal() string
	AddTasks(parentID string, values ...string) ([]*Task, error)
	Get(id string) (*Task, error)
	List(opts ...ListOption) []*Task
	Stats() TaskStats
	UpdateTaskResult(id, result string) (*Task, error)
	UpdateTaskStatus(id string, status Status) (*Task, error)
	MarkConcluded()
	Concluded() bool
}
