package message

import (
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "AutoAgent/internal/errors"
)

// Type 区分消息流中的消息种类。
type Type string

const (
	TypeGoal     Type = "goal"
	TypeTask     Type = "task"
	TypeThinking Type = "thinking"
	TypeAction   Type = "action"
	TypeSystem   Type = "system"
	TypeSummary  Type = "summary"
	TypeError    Type = "error"
)

// Status 是消息的展示状态，与任务状态无关。
type Status string

const (
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
)

// Loading 是结果到达之前展示的占位内容。
const Loading = "Loading…"

// Message 描述消息流中的一条用户可见输出。
//
// 表示任务进度时 TaskID 指向唯一的任务；目标、系统与错误消息不关联任务。
type Message struct {
	ID        string `json:"id"`
	Type      Type   `json:"type"`
	TaskID    string `json:"task_id,omitempty"`
	Value     string `json:"value"`
	Status    Status `json:"status,omitempty"`
	Info      string `json:"info,omitempty"`
	Final     bool   `json:"final,omitempty"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

const (
	CodeMessageFinalized xerrors.Code = "MESSAGE_FINALIZED"
	CodeMessageNotFound  xerrors.Code = "MESSAGE_NOT_FOUND"
	CodeMessageDuplicate xerrors.Code = "MESSAGE_DUPLICATE"
)

var (
	// ErrFinalized 表示消息已定稿，不能再更新。
	ErrFinalized = xerrors.New(CodeMessageFinalized, "message already final")
	// ErrNotFound 表示要更新的消息不存在。
	ErrNotFound = xerrors.New(CodeMessageNotFound, "message not found")
	// ErrDuplicate 表示同一 ID 的消息被重复追加。
	ErrDuplicate = xerrors.New(CodeMessageDuplicate, "message already sent")
)

func init() {
	xerrors.Register(CodeMessageFinalized, xerrors.Attributes{
		Message:  "message already final",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeMessageNotFound, xerrors.Attributes{
		Message:  "message not found",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeMessageDuplicate, xerrors.Attributes{
		Message:  "message already sent",
		Severity: xerrors.SeverityWarning,
	})
}

// New 创建一条带 ID 与时间戳的消息。
func New(typ Type, value string) Message {
	now := time.Now().Unix()
	return Message{
		ID:        uuid.NewString(),
		Type:      typ,
		Value:     strings.TrimSpace(value),
		Status:    StatusCompleted,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ForTask 创建一条关联任务的消息。
func ForTask(typ Type, taskID, value string) Message {
	msg := New(typ, value)
	msg.TaskID = taskID
	return msg
}

// Error 创建错误消息。
func Error(reason string) Message {
	msg := New(TypeError, reason)
	msg.Final = true
	return msg
}

// WithInfo 返回填充了 Info 的副本。
func (m Message) WithInfo(info string) Message {
	m.Info = info
	m.UpdatedAt = time.Now().Unix()
	return m
}

// Finalize 返回定稿后的副本。
func (m Message) Finalize() Message {
	m.Final = true
	m.UpdatedAt = time.Now().Unix()
	return m
}
