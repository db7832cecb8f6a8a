package agent

import "AutoAgent/internal/gateway"

// ModelSettings 是用户为一次运行选择的模型参数。
type ModelSettings struct {
	Model        string  `json:"model,omitempty" yaml:"model"`
	Temperature  float64 `json:"temperature,omitempty" yaml:"temperature"`
	MaxTokens    int     `json:"max_tokens,omitempty" yaml:"max_tokens"`
	Language     string  `json:"language,omitempty" yaml:"language"`
	CustomAPIKey string  `json:"custom_api_key,omitempty" yaml:"-"`
}

func (s ModelSettings) toGateway() gateway.ModelSettings {
	return gateway.ModelSettings{
		Model:       s.Model,
		Temperature: s.Temperature,
		MaxTokens:   s.MaxTokens,
		Language:    s.Language,
		APIKey:      s.CustomAPIKey,
	}
}
