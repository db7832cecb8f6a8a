package task

// TaskStats 聚合了任务状态的统计信息，调度器和接口详情都会用到。
type TaskStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Executing int `json:"executing"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Loops 返回已经走完生命周期的任务数量。
func (s TaskStats) Loops() int {
	return s.Completed + s.Failed
}
