package message

import (
	"context"
	"sync"
	"time"
)

// Sink 是有序消息流的写入端。
type Sink interface {
	// Send 追加一条消息。
	Send(ctx context.Context, msg Message) error
	// Update 按 ID 原地替换一条已发送的消息。
	Update(ctx context.Context, msg Message) error
	// SendError 追加一条终结性的错误消息。
	SendError(ctx context.Context, reason string) error
}

// Feed 是内存中的有序消息流，供接口层读取快照。
type Feed struct {
	mu       sync.RWMutex
	messages []Message
	index    map[string]int
}

// NewFeed 创建空的消息流。
func NewFeed() *Feed {
	return &Feed{index: make(map[string]int)}
}

// Send 实现 Sink 接口。
func (f *Feed) Send(_ context.Context, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.index[msg.ID]; ok {
		return ErrDuplicate
	}
	f.index[msg.ID] = len(f.messages)
	f.messages = append(f.messages, msg)
	return nil
}

// Update 实现 Sink 接口，已定稿的消息不能再修改。
func (f *Feed) Update(_ context.Context, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	pos, ok := f.index[msg.ID]
	if !ok {
		return ErrNotFound
	}
	if f.messages[pos].Final {
		return ErrFinalized
	}
	if msg.UpdatedAt == 0 {
		msg.UpdatedAt = time.Now().Unix()
	}
	f.messages[pos] = msg
	return nil
}

// SendError 实现 Sink 接口。
func (f *Feed) SendError(ctx context.Context, reason string) error {
	return f.Send(ctx, Error(reason))
}

// Messages 返回当前消息流的副本。
func (f *Feed) Messages() []Message {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Message, len(f.messages))
	copy(out, f.messages)
	return out
}

// Len 返回消息数量。
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.messages)
}

var _ Sink = (*Feed)(nil)
