package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"AutoAgent/internal/storage/mysql"
	"AutoAgent/internal/task"
	"AutoAgent/pkg/logger"
)

// EnvConfigPath 指定配置文件路径的环境变量。
const EnvConfigPath = "AUTOAGENT_CONFIG"

// DefaultPath 是未设置环境变量时使用的配置文件。
var DefaultPath = filepath.Join("configs", "autoagent.yaml")

// 网关实现
const (
	ProviderEcho    = "echo"
	ProviderOpenAI  = "openai"
	ProviderProcess = "process"
)

// 持久化驱动
const (
	PersistenceNone  = "none"
	PersistenceFile  = "file"
	PersistenceMySQL = "mysql"
)

// Config 描述了 AutoAgent 在启动阶段需要加载的全部配置。
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Agent       AgentConfig       `yaml:"agent"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Feed        FeedConfig        `yaml:"feed"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Logging     logger.Config     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Alerting    AlertingConfig    `yaml:"alerting"`
	Runtime     RuntimeConfig     `yaml:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address         string        `yaml:"address"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AgentConfig 是每次运行的默认参数，创建运行时可以覆盖。
type AgentConfig struct {
	MaxLoops      int         `yaml:"max_loops"`
	TaskSelection string      `yaml:"task_selection"`
	Analysis      *bool       `yaml:"analysis"`
	FollowUps     *bool       `yaml:"follow_ups"`
	Summary       bool        `yaml:"summary"`
	Model         ModelConfig `yaml:"model"`
}

// AnalysisEnabled 返回是否在执行前分析任务，默认开启。
func (a AgentConfig) AnalysisEnabled() bool {
	return a.Analysis == nil || *a.Analysis
}

// FollowUpsEnabled 返回是否在任务完成后生成后续任务，默认开启。
func (a AgentConfig) FollowUpsEnabled() bool {
	return a.FollowUps == nil || *a.FollowUps
}

// ModelConfig 描述默认的模型参数。
type ModelConfig struct {
	Name        string  `yaml:"name"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	Language    string  `yaml:"language"`
}

// GatewayConfig 选择并配置智能体网关。
type GatewayConfig struct {
	Provider string        `yaml:"provider"`
	Timeout  time.Duration `yaml:"timeout"`
	OpenAI   OpenAIConfig  `yaml:"openai"`
	Process  ProcessConfig `yaml:"process"`
}

// OpenAIConfig 描述 OpenAI 兼容接口的访问参数。
type OpenAIConfig struct {
	APIKey    string        `yaml:"api_key"`
	APIKeyEnv string        `yaml:"api_key_env"`
	BaseURL   string        `yaml:"base_url"`
	Model     string        `yaml:"model"`
	Timeout   time.Duration `yaml:"timeout"`
}

// ResolveAPIKey 优先使用显式配置的密钥，其次读取 api_key_env 指定的环境变量。
func (o OpenAIConfig) ResolveAPIKey() string {
	if key := strings.TrimSpace(o.APIKey); key != "" {
		return key
	}
	if o.APIKeyEnv != "" {
		return strings.TrimSpace(os.Getenv(o.APIKeyEnv))
	}
	return ""
}

// ProcessConfig 描述通过外部进程实现网关时的命令。
type ProcessConfig struct {
	Command    string   `yaml:"command"`
	Args       []string `yaml:"args"`
	WorkingDir string   `yaml:"working_dir"`
}

// FeedConfig 配置消息流的外部镜像。
type FeedConfig struct {
	Redis    RedisFeedConfig    `yaml:"redis"`
	RabbitMQ RabbitMQFeedConfig `yaml:"rabbitmq"`
}

// RedisFeedConfig 描述 Redis 镜像。
type RedisFeedConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Address  string        `yaml:"address"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// RabbitMQFeedConfig 描述 RabbitMQ 镜像。
type RabbitMQFeedConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
	Durable  bool   `yaml:"durable"`
}

// PersistenceConfig 选择 saveMessages 的实现。
type PersistenceConfig struct {
	Driver string       `yaml:"driver"`
	MySQL  mysql.Config `yaml:"mysql"`
}

// MetricsConfig 控制 Prometheus 指标。
type MetricsConfig struct {
	Enabled   *bool  `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	// Address 非空时在独立端口暴露指标，否则挂在 API 服务的 /metrics 上。
	Address string `yaml:"address"`
}

// On 返回是否启用指标，默认开启。
func (m MetricsConfig) On() bool {
	return m.Enabled == nil || *m.Enabled
}

// AlertingConfig 配置运行出错时的告警渠道。
type AlertingConfig struct {
	Webhook WebhookConfig `yaml:"webhook"`
}

// WebhookConfig 描述告警 Webhook。
type WebhookConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `yaml:"data_dir"`
}

// PathFromEnv 返回环境变量指定的配置路径，未设置时返回默认路径。
func PathFromEnv() string {
	if path := strings.TrimSpace(os.Getenv(EnvConfigPath)); path != "" {
		return path
	}
	return DefaultPath
}

// Load 负责解析指定路径的 YAML 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg, err := Parse(content, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("解析配置 %s 失败: %w", path, err)
	}
	return cfg, nil
}

// Parse 解析配置内容，相对路径以 baseDir 为基准。
func Parse(content []byte, baseDir string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults(baseDir)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 5 * time.Second
	}

	if c.Agent.MaxLoops == 0 {
		c.Agent.MaxLoops = 25
	}
	c.Agent.TaskSelection = strings.ToLower(strings.TrimSpace(c.Agent.TaskSelection))
	if c.Agent.TaskSelection == "" {
		c.Agent.TaskSelection = task.SelectionFIFO
	}
	if c.Agent.Model.Language == "" {
		c.Agent.Model.Language = "English"
	}

	c.Gateway.Provider = strings.ToLower(strings.TrimSpace(c.Gateway.Provider))
	if c.Gateway.Provider == "" {
		c.Gateway.Provider = ProviderEcho
	}
	if c.Gateway.Timeout <= 0 {
		c.Gateway.Timeout = 2 * time.Minute
	}
	if c.Gateway.Process.WorkingDir == "" {
		c.Gateway.Process.WorkingDir = baseDir
	} else if !filepath.IsAbs(c.Gateway.Process.WorkingDir) {
		c.Gateway.Process.WorkingDir = filepath.Join(baseDir, c.Gateway.Process.WorkingDir)
	}

	if c.Feed.Redis.Prefix == "" {
		c.Feed.Redis.Prefix = "autoagent"
	}
	if c.Feed.RabbitMQ.Exchange == "" {
		c.Feed.RabbitMQ.Exchange = "autoagent.messages"
	}

	c.Persistence.Driver = strings.ToLower(strings.TrimSpace(c.Persistence.Driver))
	if c.Persistence.Driver == "" {
		c.Persistence.Driver = PersistenceFile
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if len(c.Logging.OutputPaths) == 0 {
		c.Logging.OutputPaths = []string{"stdout"}
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}

	if c.Logging.Audit.Enabled {
		if c.Logging.Audit.Path == "" {
			c.Logging.Audit.Path = filepath.Join(c.Runtime.DataDir, "audit.log")
		} else if !filepath.IsAbs(c.Logging.Audit.Path) {
			c.Logging.Audit.Path = filepath.Join(baseDir, c.Logging.Audit.Path)
		}
	}

	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "autoagent"
	}
	if c.Alerting.Webhook.Timeout <= 0 {
		c.Alerting.Webhook.Timeout = 5 * time.Second
	}
}

func (c *Config) validate() error {
	if c.Agent.MaxLoops < 0 {
		return fmt.Errorf("agent.max_loops 不能为负数: %d", c.Agent.MaxLoops)
	}
	if _, err := task.SelectorByName(c.Agent.TaskSelection); err != nil {
		return err
	}
	switch c.Gateway.Provider {
	case ProviderEcho, ProviderOpenAI:
	case ProviderProcess:
		if strings.TrimSpace(c.Gateway.Process.Command) == "" {
			return errors.New("process 网关需要配置 gateway.process.command")
		}
	default:
		return fmt.Errorf("未知的网关 provider: %s", c.Gateway.Provider)
	}
	switch c.Persistence.Driver {
	case PersistenceNone, PersistenceFile:
	case PersistenceMySQL:
		if strings.TrimSpace(c.Persistence.MySQL.DSN) == "" {
			return errors.New("mysql 持久化需要配置 persistence.mysql.dsn")
		}
	default:
		return fmt.Errorf("未知的持久化驱动: %s", c.Persistence.Driver)
	}
	if c.Feed.Redis.Enabled && strings.TrimSpace(c.Feed.Redis.Address) == "" {
		return errors.New("启用 Redis 镜像需要配置 feed.redis.address")
	}
	if c.Feed.RabbitMQ.Enabled && strings.TrimSpace(c.Feed.RabbitMQ.URL) == "" {
		return errors.New("启用 RabbitMQ 镜像需要配置 feed.rabbitmq.url")
	}
	return nil
}
