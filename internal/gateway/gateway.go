package gateway

import (
	"context"
	"fmt"
	"strings"

	xerrors "AutoAgent/internal/errors"
	"AutoAgent/internal/task"
)

// ModelSettings 描述一次调用所使用的模型参数。
type ModelSettings struct {
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Language    string  `json:"language,omitempty"`
	APIKey      string  `json:"-"`
}

// 已知的分析动作。
const (
	ActionReason = "reason"
	ActionSearch = "search"
	ActionCode   = "code"
	ActionImage  = "image"
)

// Analysis 是任务分析的结果，决定执行时采用的动作。
type Analysis struct {
	Action    string `json:"action"`
	Arg       string `json:"arg"`
	Reasoning string `json:"reasoning,omitempty"`
}

// DefaultAnalysis 返回跳过分析步骤时使用的默认分析。
func DefaultAnalysis(t *task.Task) Analysis {
	arg := ""
	if t != nil {
		arg = t.Value
	}
	return Analysis{Action: ActionReason, Arg: arg}
}

// CodeInvalidAnalysis 表示分析结果缺失或动作未知。
const CodeInvalidAnalysis xerrors.Code = "INVALID_ANALYSIS"

func init() {
	xerrors.Register(CodeInvalidAnalysis, xerrors.Attributes{
		Message:  "invalid task analysis",
		Severity: xerrors.SeverityWarning,
	})
}

// Validate 校验分析结果是否可用于执行。
func (a Analysis) Validate() error {
	switch strings.ToLower(strings.TrimSpace(a.Action)) {
	case ActionReason, ActionSearch, ActionCode, ActionImage:
		return nil
	case "":
		return xerrors.New(CodeInvalidAnalysis, "分析结果缺少 action")
	default:
		return xerrors.New(CodeInvalidAnalysis, fmt.Sprintf("未知的分析动作: %s", a.Action),
			xerrors.WithMetadata("action", a.Action))
	}
}

// StartRequest 请求为目标生成初始任务。
type StartRequest struct {
	RunID    string
	Goal     string
	Settings ModelSettings
}

// AnalyzeRequest 请求为任务选择执行动作。
type AnalyzeRequest struct {
	RunID    string
	Goal     string
	Task     task.Task
	Settings ModelSettings
}

// ExecuteRequest 请求执行单个任务。
type ExecuteRequest struct {
	RunID    string
	Goal     string
	Task     task.Task
	Analysis Analysis
	Settings ModelSettings
}

// CreateRequest 请求根据已完成任务的结果生成后续任务。
type CreateRequest struct {
	RunID     string
	Goal      string
	Task      task.Task
	Result    string
	Remaining []string
	Settings  ModelSettings
}

// SummarizeRequest 请求对整个运行的结果进行总结。
type SummarizeRequest struct {
	RunID    string
	Goal     string
	Results  []string
	Settings ModelSettings
}

// Gateway 是智能体调用外部推理服务的统一接口。
type Gateway interface {
	Start(ctx context.Context, req StartRequest) ([]string, error)
	Analyze(ctx context.Context, req AnalyzeRequest) (Analysis, error)
	Execute(ctx context.Context, req ExecuteRequest) (string, error)
	Create(ctx context.Context, req CreateRequest) ([]string, error)
	Summarize(ctx context.Context, req SummarizeRequest) (string, error)
}

// Failure 将适配器的底层错误包装为 GATEWAY_FAILURE，已编码的错误原样返回。
func Failure(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := xerrors.From(err); ok {
		return err
	}
	return xerrors.Wrap(xerrors.CodeGatewayFailure, err, fmt.Sprintf("gateway %s 调用失败", op),
		xerrors.WithMetadata("op", op))
}
