package task

import (
	stdErrors "errors"

	xerrors "AutoAgent/internal/errors"
)

// Status 表示任务在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Task 描述目标拆解出的一个工作单元。
//
// ID、Value、Seq 在创建后不再变化；Status 只允许向前迁移。
type Task struct {
	ID        string `json:"id"`
	Value     string `json:"value"`
	Status    Status `json:"status"`
	Result    string `json:"result,omitempty"`
	Seq       int    `json:"seq"`
	ParentID  string `json:"parent_id,omitempty"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// Terminal 判断任务是否已经结束。
func (t *Task) Terminal() bool {
	return t != nil && (t.Status == StatusCompleted || t.Status == StatusFailed)
}

const (
	CodeTaskNotFound          xerrors.Code = "TASK_NOT_FOUND"
	CodeTaskInvalidTransition xerrors.Code = "TASK_INVALID_TRANSITION"
	CodeTaskValidation        xerrors.Code = "TASK_VALIDATION_FAILED"
)

var (
	// ErrTaskNotFound 表示指定的任务不存在。
	ErrTaskNotFound = xerrors.New(CodeTaskNotFound, "task not found")
	// ErrInvalidTransition 表示请求的状态迁移会让任务回退。
	ErrInvalidTransition = xerrors.New(CodeTaskInvalidTransition, "invalid task status transition")
)

func init() {
	xerrors.Register(CodeTaskNotFound, xerrors.Attributes{
		Message:  "task not found",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
		Fatal:    true,
	})
	xerrors.Register(CodeTaskInvalidTransition, xerrors.Attributes{
		Message:  "invalid task status transition",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
		Fatal:    true,
	})
	xerrors.Register(CodeTaskValidation, xerrors.Attributes{
		Message:  "task validation failed",
		Severity: xerrors.SeverityInfo,
	})
}

// transitions 列出允许的状态迁移，同状态更新视为无操作。
var transitions = map[Status][]Status{
	StatusPending:   {StatusExecuting, StatusFailed},
	StatusExecuting: {StatusCompleted, StatusFailed},
}

// CanTransition 检查状态迁移是否合法。
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsValidStatus 检查给定的任务状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusExecuting, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// IsStoreError 判断错误是否来自任务存储的一致性检查。
func IsStoreError(err error) bool {
	return stdErrors.Is(err, ErrTaskNotFound) || stdErrors.Is(err, ErrInvalidTransition)
}

func cloneTask(task *Task) *Task {
	if task == nil {
		return nil
	}
	clone := *task
	return &clone
}
