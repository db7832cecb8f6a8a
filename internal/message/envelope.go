package message

import (
	"encoding/json"
	"fmt"
	"time"
)

// Op 表示镜像到外部通道的消息操作。
type Op string

const (
	OpSend   Op = "send"
	OpUpdate Op = "update"
)

// Envelope 是发往 Redis / RabbitMQ 的消息事件。
type Envelope struct {
	RunID      string  `json:"run_id"`
	Op         Op      `json:"op"`
	Message    Message `json:"message"`
	OccurredAt int64   `json:"occurred_at"`
}

func encodeEnvelope(runID string, op Op, msg Message) ([]byte, error) {
	payload, err := json.Marshal(Envelope{
		RunID:      runID,
		Op:         op,
		Message:    msg,
		OccurredAt: time.Now().UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("序列化消息事件失败: %w", err)
	}
	return payload, nil
}

// DecodeEnvelope 解析外部通道收到的消息事件。
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("解析消息事件失败: %w", err)
	}
	if env.RunID == "" || env.Message.ID == "" {
		return Envelope{}, fmt.Errorf("消息事件缺少 run_id 或 message.id")
	}
	return env, nil
}
