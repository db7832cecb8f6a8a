// Package file 提供基于本地 JSON Lines 文件的消息持久化，便于在没有 MySQL 的环境下迭代开发。
package file

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	xerrors "AutoAgent/internal/errors"
	"AutoAgent/internal/message"
)

const logFileName = "messages.log"

type record struct {
	RunID   string          `json:"run_id"`
	Message message.Message `json:"message"`
}

// MessageLog 以追加写的方式记录每次保存的消息。
//
// 同一消息多次保存会产生多行记录，读取时以最后一行为准。
type MessageLog struct {
	mu   sync.Mutex
	path string
}

// NewMessageLog 在 dataDir 下创建或打开消息日志。
func NewMessageLog(dataDir string) (*MessageLog, error) {
	if strings.TrimSpace(dataDir) == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建数据目录失败")
	}
	path := filepath.Join(dataDir, logFileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开消息日志失败")
	}
	file.Close()
	return &MessageLog{path: path}, nil
}

// Path 返回日志文件路径。
func (l *MessageLog) Path() string { return l.path }

// SaveMessages 把一批消息追加到日志末尾。
func (l *MessageLog) SaveMessages(_ context.Context, runID string, msgs []message.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if strings.TrimSpace(runID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "run_id 不能为空")
	}

	var buf []byte
	for _, msg := range msgs {
		encoded, err := json.Marshal(record{RunID: runID, Message: msg})
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化消息失败")
		}
		buf = append(buf, encoded...)
		buf = append(buf, '\n')
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开消息日志失败")
	}
	defer file.Close()

	if _, err := file.Write(buf); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入消息日志失败")
	}
	return nil
}

// ListByRun 返回一次运行中每条消息的最新版本，顺序为首次保存的顺序。
func (l *MessageLog) ListByRun(_ context.Context, runID string) ([]message.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.Open(l.path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取消息日志失败")
	}
	defer file.Close()

	var (
		msgs  []message.Message
		index = make(map[string]int)
	)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var rec record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		if rec.RunID != runID {
			continue
		}
		if idx, ok := index[rec.Message.ID]; ok {
			msgs[idx] = rec.Message
			continue
		}
		index[rec.Message.ID] = len(msgs)
		msgs = append(msgs, rec.Message)
	}
	if err := scanner.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, fmt.Errorf("解析消息日志失败: %w", err), "读取消息日志失败")
	}
	return msgs, nil
}
