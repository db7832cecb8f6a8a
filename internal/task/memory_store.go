package task

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	xerrors "AutoAgent/internal/errors"
)

// MemoryStore 以内存方式保存一次运行的目标与任务。
//
// 运行循环是唯一的写入方，但接口层会并发读取快照，所以仍然加锁。
type MemoryStore struct {
	mu        sync.RWMutex
	goal      string
	tasks     map[string]*Task
	seq       int
	concluded bool
	now       func() time.Time
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore(goal string) *MemoryStore {
	return &MemoryStore{
		goal:  strings.TrimSpace(goal),
		tasks: make(map[string]*Task),
		now:   time.Now,
	}
}

// Goal 返回当前运行的目标。
func (m *MemoryStore) Goal() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.goal
}

// AddTasks 以 pending 状态追加任务，空白描述会被忽略。
func (m *MemoryStore) AddTasks(parentID string, values ...string) ([]*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if parentID != "" {
		if _, ok := m.tasks[parentID]; !ok {
			return nil, ErrTaskNotFound
		}
	}

	now := m.now().Unix()
	created := make([]*Task, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		m.seq++
		task := &Task{
			ID:        uuid.NewString(),
			Value:     value,
			Status:    StatusPending,
			Seq:       m.seq,
			ParentID:  parentID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		m.tasks[task.ID] = task
		created = append(created, cloneTask(task))
	}
	return created, nil
}

// Get 返回任务副本。
func (m *MemoryStore) Get(id string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return cloneTask(task), nil
}

// List 返回符合过滤条件的任务副本，默认按创建顺序排列。
func (m *MemoryStore) List(opts ...ListOption) []*Task {
	options := buildListOptions(opts)

	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]*Task, 0, len(m.tasks))
	for _, task := range m.tasks {
		if options.matches(task) {
			results = append(results, cloneTask(task))
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if options.Order == SortBySeqDesc {
			return results[i].Seq > results[j].Seq
		}
		return results[i].Seq < results[j].Seq
	})
	if options.Limit > 0 && len(results) > options.Limit {
		results = results[:options.Limit]
	}
	return results
}

// Stats 统计各状态的任务数量。
func (m *MemoryStore) Stats() TaskStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := TaskStats{}
	for _, task := range m.tasks {
		stats.Total++
		switch task.Status {
		case StatusPending:
			stats.Pending++
		case StatusExecuting:
			stats.Executing++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		}
	}
	return stats
}

// UpdateTaskResult 记录任务结果，已结束的任务不能再改写结果。
func (m *MemoryStore) UpdateTaskResult(id, result string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	if task.Terminal() {
		return cloneTask(task), xerrors.Wrap(CodeTaskInvalidTransition, ErrInvalidTransition, "任务已结束，无法写入结果")
	}
	task.Result = result
	task.UpdatedAt = m.now().Unix()
	return cloneTask(task), nil
}

// UpdateTaskStatus 推进任务状态，任何回退都会被拒绝。
func (m *MemoryStore) UpdateTaskStatus(id string, status Status) (*Task, error) {
	if !IsValidStatus(status) {
		return nil, xerrors.New(CodeTaskValidation, "未知的任务状态: "+string(status))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	if !CanTransition(task.Status, status) {
		return cloneTask(task), xerrors.Wrap(CodeTaskInvalidTransition, ErrInvalidTransition,
			"任务 "+id+" 不能从 "+string(task.Status)+" 迁移到 "+string(status))
	}
	if task.Status != status {
		task.Status = status
		task.UpdatedAt = m.now().Unix()
	}
	return cloneTask(task), nil
}

// MarkConcluded 记录运行已经进入收尾阶段。
func (m *MemoryStore) MarkConcluded() {
	m.mu.Lock()
	m.concluded = true
	m.mu.Unlock()
}

// Concluded 返回运行是否已经收尾。
func (m *MemoryStore) Concluded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.concluded
}

// ensure interface compliance at compile time
var _ Store = (*MemoryStore)(nil)
