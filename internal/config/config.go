// Package config loads the workbench configuration from kory.yaml with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

// AgentConfig configures one logical agent role (manager, coder, task).
type AgentConfig struct {
	Model          string `mapstructure:"model"`
	MaxTokens      int    `mapstructure:"maxTokens"`
	ReasoningLevel string `mapstructure:"reasoningLevel"`
}

// ProviderConfig holds credentials and endpoint overrides for one provider.
type ProviderConfig struct {
	APIKey            string   `mapstructure:"apiKey"`
	AuthToken         string   `mapstructure:"authToken"`
	BaseURL           string   `mapstructure:"baseUrl"`
	Disabled          bool     `mapstructure:"disabled"`
	SelectedModels    []string `mapstructure:"selectedModels"`
	HideModelSelector bool     `mapstructure:"hideModelSelector"`
}

// MCPServerConfig describes an external MCP tool server.
type MCPServerConfig struct {
	Type    string            `mapstructure:"type"`
	Command string            `mapstructure:"command"`
	Args    []string          `mapstructure:"args"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
	Env     map[string]string `mapstructure:"env"`
}

// TelegramConfig configures the chat-bot bridge (consumed outside the core).
type TelegramConfig struct {
	BotToken    string `mapstructure:"botToken"`
	AdminID     string `mapstructure:"adminId"`
	SecretToken string `mapstructure:"secretToken"`
	WebhookURL  string `mapstructure:"webhookUrl"`
}

// SafetyConfig bounds tool and model execution.
type SafetyConfig struct {
	MaxTokensPerTurn       int   `mapstructure:"maxTokensPerTurn"`
	MaxFileSizeBytes       int64 `mapstructure:"maxFileSizeBytes"`
	ToolExecutionTimeoutMs int   `mapstructure:"toolExecutionTimeoutMs"`
}

// InteractionConfig controls the clarification gate.
type InteractionConfig struct {
	ClarifyFirstEnabled bool `mapstructure:"clarifyFirstEnabled"`
	MaxClarifyQuestions int  `mapstructure:"maxClarifyQuestions"`
}

// Config is the root configuration object.
type Config struct {
	Server        ServerConfig               `mapstructure:"server"`
	Agents        map[string]AgentConfig     `mapstructure:"agents"`
	Assignments   map[string]string          `mapstructure:"assignments"` // domain -> "provider:modelId"
	Fallbacks     map[string][]string        `mapstructure:"fallbacks"`   // modelId -> fallback model ids
	Providers     map[string]ProviderConfig  `mapstructure:"providers"`
	MCPServers    map[string]MCPServerConfig `mapstructure:"mcpServers"`
	Telegram      TelegramConfig             `mapstructure:"telegram"`
	ContextPaths  []string                   `mapstructure:"contextPaths"`
	DataDirectory string                     `mapstructure:"dataDirectory"`
	Safety        SafetyConfig               `mapstructure:"safety"`
	Interaction   InteractionConfig          `mapstructure:"interaction"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 8420, Host: "127.0.0.1"},
		Agents: map[string]AgentConfig{
			"manager": {Model: "anthropic:claude-sonnet-4-5"},
			"coder":   {Model: "anthropic:claude-sonnet-4-5"},
			"task":    {Model: "anthropic:claude-haiku-4-5"},
		},
		Assignments:   map[string]string{},
		Fallbacks:     map[string][]string{},
		Providers:     map[string]ProviderConfig{},
		MCPServers:    map[string]MCPServerConfig{},
		DataDirectory: defaultDataDir(),
		Safety: SafetyConfig{
			MaxTokensPerTurn:       4096,
			MaxFileSizeBytes:       10 * 1024 * 1024,
			ToolExecutionTimeoutMs: 60000,
		},
		Interaction: InteractionConfig{
			ClarifyFirstEnabled: true,
			MaxClarifyQuestions: 3,
		},
	}
}

// Load reads kory.yaml from the working directory or ~/.kory, applying
// KORY_* environment overrides on top of defaults. A missing file is not an
// error.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("kory")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".kory"))
	}
	v.SetEnvPrefix("KORY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8420
	}
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.DataDirectory == "" {
		c.DataDirectory = defaultDataDir()
	}
	if c.Safety.MaxTokensPerTurn == 0 {
		c.Safety.MaxTokensPerTurn = 4096
	}
	if c.Safety.MaxFileSizeBytes == 0 {
		c.Safety.MaxFileSizeBytes = 10 * 1024 * 1024
	}
	if c.Safety.ToolExecutionTimeoutMs == 0 {
		c.Safety.ToolExecutionTimeoutMs = 60000
	}
	if c.Interaction.MaxClarifyQuestions <= 0 {
		c.Interaction.MaxClarifyQuestions = 3
	}
	if c.Interaction.MaxClarifyQuestions > 4 {
		c.Interaction.MaxClarifyQuestions = 4
	}
	if c.Agents == nil {
		c.Agents = Default().Agents
	}
}

// AgentModel returns the configured "provider:modelId" for an agent role,
// falling back to the manager assignment.
func (c *Config) AgentModel(role string) string {
	if agent, ok := c.Agents[role]; ok && agent.Model != "" {
		return agent.Model
	}
	if agent, ok := c.Agents["manager"]; ok {
		return agent.Model
	}
	return ""
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".kory"
	}
	return filepath.Join(home, ".kory")
}
