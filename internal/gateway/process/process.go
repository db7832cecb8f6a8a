package process

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"AutoAgent/internal/gateway"
)

// Client 通过调用外部命令实现网关。
//
// 每次调用启动一次命令，stdin 写入 {"op": ..., "request": ...}，
// stdout 返回 {"tasks": [...], "analysis": {...}, "text": "..."} 中与 op 对应的字段。
type Client struct {
	command    string
	args       []string
	workingDir string
}

// NewClient 创建外部命令网关。
func NewClient(command string, args []string, workingDir string) (*Client, error) {
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("未指定网关命令")
	}
	return &Client{
		command:    command,
		args:       append([]string(nil), args...),
		workingDir: workingDir,
	}, nil
}

type envelope struct {
	Op        string `json:"op"`
	Timestamp int64  `json:"timestamp"`
	Request   any    `json:"request"`
}

type reply struct {
	Tasks    []string          `json:"tasks"`
	Analysis *gateway.Analysis `json:"analysis"`
	Text     string            `json:"text"`
	Error    string            `json:"error"`
}

func (c *Client) invoke(ctx context.Context, op string, req any) (*reply, error) {
	encoded, err := json.Marshal(envelope{Op: op, Timestamp: time.Now().Unix(), Request: req})
	if err != nil {
		return nil, gateway.Failure(op, fmt.Errorf("序列化请求失败: %w", err))
	}

	command := exec.CommandContext(ctx, c.command, c.args...)
	if c.workingDir != "" {
		command.Dir = c.workingDir
	}
	command.Stdin = bytes.NewReader(encoded)

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, gateway.Failure(op, fmt.Errorf("执行网关命令失败: %v, stderr=%s", err, strings.TrimSpace(stderr.String())))
	}

	var resp reply
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, gateway.Failure(op, fmt.Errorf("解析网关输出失败: %w", err))
	}
	if msg := strings.TrimSpace(resp.Error); msg != "" {
		return nil, gateway.Failure(op, fmt.Errorf("网关返回错误: %s", msg))
	}
	return &resp, nil
}

func (c *Client) Start(ctx context.Context, req gateway.StartRequest) ([]string, error) {
	resp, err := c.invoke(ctx, "start", req)
	if err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

func (c *Client) Analyze(ctx context.Context, req gateway.AnalyzeRequest) (gateway.Analysis, error) {
	resp, err := c.invoke(ctx, "analyze", req)
	if err != nil {
		return gateway.Analysis{}, err
	}
	if resp.Analysis == nil {
		return gateway.Analysis{}, nil
	}
	return *resp.Analysis, nil
}

func (c *Client) Execute(ctx context.Context, req gateway.ExecuteRequest) (string, error) {
	resp, err := c.invoke(ctx, "execute", req)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (c *Client) Create(ctx context.Context, req gateway.CreateRequest) ([]string, error) {
	resp, err := c.invoke(ctx, "create", req)
	if err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

func (c *Client) Summarize(ctx context.Context, req gateway.SummarizeRequest) (string, error) {
	resp, err := c.invoke(ctx, "summarize", req)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// ResolvePath 根据基准目录推导脚本路径。
func ResolvePath(baseDir, script string) string {
	if script == "" {
		return ""
	}
	if filepath.IsAbs(script) || baseDir == "" {
		return script
	}
	return filepath.Join(baseDir, script)
}

var _ gateway.Gateway = (*Client)(nil)
