package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type Config struct {
	Assistant    AssistantConfig    `json:"assistant"`
	Server       ServerConfig       `json:"server"`
	LLM          LLMConfig          `json:"llm"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Gateway      GatewayConfig      `json:"gateway"`
}

type AssistantConfig struct {
	Name      string `json:"name"`
	CLIUserID string `json:"cli_user_id"`
}

type ServerConfig struct {
	Port               int `json:"port"`
	ResponseTimeoutSec int `json:"response_timeout_sec"`
}

type LLMConfig struct {
	BaseURL           string `json:"base_url,omitempty"`
	Model             string `json:"model"`
	APIKeyEnv         string `json:"api_key_env"`
	RequestTimeoutSec int    `json:"request_timeout_sec"`
}

type OrchestratorConfig struct {
	HistoryWindow              int     `json:"history_window"`
	HandlerTimeoutSec          int     `json:"handler_timeout_sec"`
	RoutingConfidenceThreshold float64 `json:"routing_confidence_threshold"`
}

type GatewayConfig struct {
	QueueBuffer int    `json:"queue_buffer"`
	TraceDir    string `json:"trace_dir"`
}

type Manager struct {
	path string
	mu   sync.RWMutex
	cfg  Config
}

func DefaultPath() string {
	return filepath.Join("config", "config.json")
}

func NewManager(path string) (*Manager, error) {
	cfg := defaultConfig()
	mgr := &Manager{
		path: path,
		cfg:  cfg,
	}
	if err := mgr.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}
	if err := mgr.save(); err != nil {
		return nil, err
	}
	return mgr, nil
}

func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) Update(apply func(*Config)) (Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	apply(&m.cfg)
	applyDefaults(&m.cfg)
	if err := m.saveLocked(); err != nil {
		return Config{}, err
	}
	return m.cfg, nil
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return err
	}
	var fileCfg Config
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		return err
	}
	m.cfg = fileCfg
	applyDefaults(&m.cfg)
	return nil
}

func (m *Manager) save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked()
}

func (m *Manager) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m.cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.path, data, 0644)
}

func defaultConfig() Config {
	return Config{
		Assistant: AssistantConfig{
			Name:      "Aide0",
			CLIUserID: "local_user",
		},
		Server: ServerConfig{
			Port:               8080,
			ResponseTimeoutSec: 120,
		},
		LLM: LLMConfig{
			Model:             "gpt-4o-mini",
			APIKeyEnv:         "OPENAI_API_KEY",
			RequestTimeoutSec: 30,
		},
		Orchestrator: OrchestratorConfig{
			HistoryWindow:              10,
			HandlerTimeoutSec:          30,
			RoutingConfidenceThreshold: 0.45,
		},
		Gateway: GatewayConfig{
			QueueBuffer: 64,
			TraceDir:    "output/trace",
		},
	}
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Assistant.Name) == "" {
		cfg.Assistant.Name = "Aide0"
	}
	if strings.TrimSpace(cfg.Assistant.CLIUserID) == "" {
		cfg.Assistant.CLIUserID = "local_user"
	}
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ResponseTimeoutSec <= 0 {
		cfg.Server.ResponseTimeoutSec = 120
	}
	if strings.TrimSpace(cfg.LLM.Model) == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if strings.TrimSpace(cfg.LLM.APIKeyEnv) == "" {
		cfg.LLM.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.LLM.RequestTimeoutSec <= 0 {
		cfg.LLM.RequestTimeoutSec = 30
	}
	if cfg.Orchestrator.HistoryWindow <= 0 {
		cfg.Orchestrator.HistoryWindow = 10
	}
	if cfg.Orchestrator.HandlerTimeoutSec <= 0 {
		cfg.Orchestrator.HandlerTimeoutSec = 30
	}
	if cfg.Orchestrator.RoutingConfidenceThreshold <= 0 || cfg.Orchestrator.RoutingConfidenceThreshold > 1 {
		cfg.Orchestrator.RoutingConfidenceThreshold = 0.45
	}
	if cfg.Gateway.QueueBuffer <= 0 {
		cfg.Gateway.QueueBuffer = 64
	}
	if strings.TrimSpace(cfg.Gateway.TraceDir) == "" {
		cfg.Gateway.TraceDir = "output/trace"
	}
}
