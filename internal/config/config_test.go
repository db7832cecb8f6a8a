package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"), "/srv/autoagent")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected address: %s", cfg.Server.Address)
	}
	if cfg.Agent.MaxLoops != 25 || cfg.Agent.TaskSelection != "fifo" {
		t.Fatalf("unexpected agent defaults: %+v", cfg.Agent)
	}
	if !cfg.Agent.AnalysisEnabled() || !cfg.Agent.FollowUpsEnabled() || cfg.Agent.Summary {
		t.Fatalf("unexpected agent toggles: %+v", cfg.Agent)
	}
	if cfg.Gateway.Provider != ProviderEcho || cfg.Gateway.Timeout != 2*time.Minute {
		t.Fatalf("unexpected gateway defaults: %+v", cfg.Gateway)
	}
	if cfg.Persistence.Driver != PersistenceFile {
		t.Fatalf("unexpected persistence driver: %s", cfg.Persistence.Driver)
	}
	if cfg.Runtime.DataDir != filepath.Join("/srv/autoagent", "data") {
		t.Fatalf("unexpected data dir: %s", cfg.Runtime.DataDir)
	}
	if !cfg.Metrics.On() || cfg.Metrics.Namespace != "autoagent" {
		t.Fatalf("unexpected metrics defaults: %+v", cfg.Metrics)
	}
}

func TestParseYAMLOverrides(t *testing.T) {
	content := `
agent:
  max_loops: 3
  task_selection: LIFO
  analysis: false
  summary: true
gateway:
  provider: openai
  timeout: 30s
  openai:
    api_key_env: TEST_AUTOAGENT_KEY
persistence:
  driver: mysql
  mysql:
    dsn: u:p@tcp(db:3306)/agent
    conn_max_lifetime: 10m
runtime:
  data_dir: state
`
	t.Setenv("TEST_AUTOAGENT_KEY", " sk-test ")
	cfg, err := Parse([]byte(content), "/etc/autoagent")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Agent.MaxLoops != 3 || cfg.Agent.TaskSelection != "lifo" {
		t.Fatalf("unexpected agent config: %+v", cfg.Agent)
	}
	if cfg.Agent.AnalysisEnabled() || !cfg.Agent.Summary {
		t.Fatalf("toggles not applied: %+v", cfg.Agent)
	}
	if cfg.Gateway.Timeout != 30*time.Second {
		t.Fatalf("unexpected timeout: %v", cfg.Gateway.Timeout)
	}
	if key := cfg.Gateway.OpenAI.ResolveAPIKey(); key != "sk-test" {
		t.Fatalf("api key not read from env: %q", key)
	}
	if cfg.Persistence.MySQL.ConnMaxLifetime != 10*time.Minute {
		t.Fatalf("unexpected mysql lifetime: %v", cfg.Persistence.MySQL.ConnMaxLifetime)
	}
	if cfg.Runtime.DataDir != filepath.Join("/etc/autoagent", "state") {
		t.Fatalf("relative data dir not resolved: %s", cfg.Runtime.DataDir)
	}
}

func TestParseRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"selection": "agent:\n  task_selection: random\n",
		"provider":  "gateway:\n  provider: magic\n",
		"process":   "gateway:\n  provider: process\n",
		"driver":    "persistence:\n  driver: sqlite\n",
		"mysql":     "persistence:\n  driver: mysql\n",
		"redis":     "feed:\n  redis:\n    enabled: true\n",
		"loops":     "agent:\n  max_loops: -1\n",
	}
	for name, content := range cases {
		if _, err := Parse([]byte(content), "."); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadAcceptsJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "autoagent.json")
	if err := os.WriteFile(path, []byte(`{"server":{"address":":9090"},"gateway":{"provider":"echo"}}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Fatalf("unexpected address: %s", cfg.Server.Address)
	}
	if cfg.Gateway.Process.WorkingDir != dir {
		t.Fatalf("working dir should default to config dir, got %s", cfg.Gateway.Process.WorkingDir)
	}
}

func TestLoadBundledConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "autoagent.yaml"))
	if err != nil {
		t.Fatalf("load bundled config: %v", err)
	}
	if cfg.Gateway.Provider != ProviderEcho {
		t.Fatalf("bundled config should use the echo gateway, got %s", cfg.Gateway.Provider)
	}
	if !strings.HasSuffix(cfg.Logging.Audit.Path, "audit.log") {
		t.Fatalf("unexpected audit path: %s", cfg.Logging.Audit.Path)
	}
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	if PathFromEnv() != DefaultPath {
		t.Fatalf("expected default path")
	}
	t.Setenv(EnvConfigPath, "/tmp/custom.yaml")
	if PathFromEnv() != "/tmp/custom.yaml" {
		t.Fatalf("env path not used")
	}
}
