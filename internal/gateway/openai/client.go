package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"AutoAgent/internal/gateway"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModelName = "gpt-4o-mini"
	defaultTimeout   = 60 * time.Second
	maxPromptTasks   = 10
)

// Config 描述了调用 OpenAI Chat Completions API 所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client 通过 OpenAI Chat Completions 实现智能体网关。
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient 根据配置创建 OpenAI 网关。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 OpenAI API Key")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Start 请求模型把目标拆解为初始任务列表。
func (c *Client) Start(ctx context.Context, req gateway.StartRequest) ([]string, error) {
	prompt := fmt.Sprintf("目标: %s\n请给出实现该目标的初始任务列表。", strings.TrimSpace(req.Goal))
	content, err := c.complete(ctx, req.Settings, startPrompt, prompt)
	if err != nil {
		return nil, gateway.Failure("start", err)
	}
	return parseTaskList(content), nil
}

// Analyze 请求模型为任务选择执行动作。
func (c *Client) Analyze(ctx context.Context, req gateway.AnalyzeRequest) (gateway.Analysis, error) {
	prompt := fmt.Sprintf("目标: %s\n任务: %s", strings.TrimSpace(req.Goal), strings.TrimSpace(req.Task.Value))
	content, err := c.complete(ctx, req.Settings, analyzePrompt, prompt)
	if err != nil {
		return gateway.Analysis{}, gateway.Failure("analyze", err)
	}
	var analysis gateway.Analysis
	if err := json.Unmarshal([]byte(stripFence(content)), &analysis); err != nil {
		return gateway.Analysis{}, gateway.Failure("analyze", fmt.Errorf("解析分析结果失败: %w", err))
	}
	return analysis, nil
}

// Execute 请求模型按照分析结果完成任务。
func (c *Client) Execute(ctx context.Context, req gateway.ExecuteRequest) (string, error) {
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("目标: %s\n任务: %s\n", strings.TrimSpace(req.Goal), strings.TrimSpace(req.Task.Value)))
	builder.WriteString(fmt.Sprintf("动作: %s\n", req.Analysis.Action))
	if arg := strings.TrimSpace(req.Analysis.Arg); arg != "" {
		builder.WriteString(fmt.Sprintf("参数: %s\n", arg))
	}
	content, err := c.complete(ctx, req.Settings, executePrompt, builder.String())
	if err != nil {
		return "", gateway.Failure("execute", err)
	}
	return content, nil
}

// Create 请求模型根据已完成任务的结果生成后续任务。
func (c *Client) Create(ctx context.Context, req gateway.CreateRequest) ([]string, error) {
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("目标: %s\n已完成任务: %s\n结果: %s\n",
		strings.TrimSpace(req.Goal), strings.TrimSpace(req.Task.Value), truncate(req.Result, 400)))
	if len(req.Remaining) > 0 {
		builder.WriteString("\n## 尚未执行的任务\n")
		for idx, value := range req.Remaining {
			if idx >= maxPromptTasks {
				break
			}
			builder.WriteString(fmt.Sprintf("- %s\n", truncate(value, 80)))
		}
	}
	content, err := c.complete(ctx, req.Settings, createPrompt, builder.String())
	if err != nil {
		return nil, gateway.Failure("create", err)
	}
	return parseTaskList(content), nil
}

// Summarize 请求模型总结所有任务结果。
func (c *Client) Summarize(ctx context.Context, req gateway.SummarizeRequest) (string, error) {
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("目标: %s\n\n## 任务结果\n", strings.TrimSpace(req.Goal)))
	for idx, result := range req.Results {
		builder.WriteString(fmt.Sprintf("[%d] %s\n", idx+1, truncate(result, 400)))
	}
	content, err := c.complete(ctx, req.Settings, summarizePrompt, builder.String())
	if err != nil {
		return "", gateway.Failure("summarize", err)
	}
	return content, nil
}

func (c *Client) complete(ctx context.Context, settings gateway.ModelSettings, system, user string) (string, error) {
	payload, err := c.buildPayload(settings, system, user)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("构建 OpenAI 请求失败: %w", err)
	}
	apiKey := c.apiKey
	if key := strings.TrimSpace(settings.APIKey); key != "" {
		apiKey = key
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("请求 OpenAI 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("OpenAI 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("解析 OpenAI 响应失败: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", errors.New("OpenAI 响应中没有有效的 choices")
	}
	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		return "", errors.New("OpenAI 响应内容为空")
	}
	return content, nil
}

func (c *Client) buildPayload(settings gateway.ModelSettings, system, user string) ([]byte, error) {
	type message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	if lang := strings.TrimSpace(settings.Language); lang != "" {
		system += " Answer in " + lang + "."
	}

	model := c.model
	if m := strings.TrimSpace(settings.Model); m != "" {
		model = m
	}
	temperature := settings.Temperature
	if temperature <= 0 {
		temperature = 0.2
	}

	body := map[string]any{
		"model": model,
		"messages": []message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		"temperature": temperature,
	}
	if settings.MaxTokens > 0 {
		body["max_tokens"] = settings.MaxTokens
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("序列化 OpenAI 请求失败: %w", err)
	}
	return encoded, nil
}

const (
	startPrompt = "You plan work for an autonomous agent. " +
		"Respond only with a JSON array of short task descriptions."
	analyzePrompt = "You choose how an autonomous agent should perform a task. " +
		"Respond with a compact JSON object: {\"action\": \"reason|search|code|image\", \"arg\": string, \"reasoning\": string}."
	executePrompt = "You are an autonomous agent executing one task toward a goal. " +
		"Respond with the task result as plain text."
	createPrompt = "You plan follow-up work for an autonomous agent. " +
		"Given a completed task and its result, respond only with a JSON array of new task descriptions, or [] when none are needed. " +
		"Do not repeat pending tasks."
	summarizePrompt = "You summarise the outcome of an autonomous agent run in a few paragraphs."
)

// parseTaskList 解析 JSON 数组；模型未按格式返回时按行拆分并去掉列表编号。
func parseTaskList(content string) []string {
	content = stripFence(content)
	var list []string
	if err := json.Unmarshal([]byte(content), &list); err != nil {
		list = list[:0]
		for _, line := range strings.Split(content, "\n") {
			list = append(list, strings.TrimLeft(strings.TrimSpace(line), "-*0123456789. "))
		}
	}
	tasks := make([]string, 0, len(list))
	for _, item := range list {
		if item = strings.TrimSpace(item); item != "" {
			tasks = append(tasks, item)
		}
	}
	return tasks
}

func stripFence(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```")
	if idx := strings.Index(content, "\n"); idx >= 0 {
		content = content[idx+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(content), "```"))
}

func truncate(text string, limit int) string {
	text = strings.TrimSpace(text)
	if runes := []rune(text); len(runes) > limit {
		return string(runes[:limit]) + "..."
	}
	return text
}

var _ gateway.Gateway = (*Client)(nil)
