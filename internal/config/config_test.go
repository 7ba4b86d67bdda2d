package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 8420, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.True(t, cfg.Interaction.ClarifyFirstEnabled)
	assert.Equal(t, 3, cfg.Interaction.MaxClarifyQuestions)
	assert.NotEmpty(t, cfg.AgentModel("manager"))
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8420, cfg.Server.Port)
}

func TestLoadReadsYAML(t *testing.T) {
	dir := t.TempDir()
	yaml := `
server:
  port: 9001
interaction:
  clarifyFirstEnabled: false
  maxClarifyQuestions: 2
assignments:
  backend: "openai:gpt-4o"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kory.yaml"), []byte(yaml), 0o644))
	t.Chdir(dir)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.False(t, cfg.Interaction.ClarifyFirstEnabled)
	assert.Equal(t, 2, cfg.Interaction.MaxClarifyQuestions)
	assert.Equal(t, "openai:gpt-4o", cfg.Assignments["backend"])
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kory.yaml"), []byte("server: [broken"), 0o644))
	t.Chdir(dir)

	_, err := Load()
	assert.Error(t, err)
}

func TestApplyDefaultsClampsClarifyQuestions(t *testing.T) {
	cfg := &Config{Interaction: InteractionConfig{MaxClarifyQuestions: 99}}
	cfg.applyDefaults()
	assert.Equal(t, 4, cfg.Interaction.MaxClarifyQuestions)

	cfg = &Config{Interaction: InteractionConfig{MaxClarifyQuestions: -1}}
	cfg.applyDefaults()
	assert.Equal(t, 3, cfg.Interaction.MaxClarifyQuestions)
}

func TestAgentModelFallsBackToManager(t *testing.T) {
	cfg := Default()
	assert.Equal(t, cfg.Agents["manager"].Model, cfg.AgentModel("nonexistent-role"))

	cfg.Agents = map[string]AgentConfig{}
	assert.Empty(t, cfg.AgentModel("coder"))
}
