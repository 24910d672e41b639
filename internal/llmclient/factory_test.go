package llmclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/navigator-cli/api/schemas"
	"github.com/xkilldash9x/navigator-cli/internal/config"
)

func TestNewClientSelectsProvider(t *testing.T) {
	logger := setupTestLogger(t)

	t.Run("gemini", func(t *testing.T) {
		cfg := getValidLLMConfig()
		client, err := NewClient(cfg, logger)
		require.NoError(t, err)
		assert.IsType(t, &GeminiClient{}, client)
	})

	t.Run("openai", func(t *testing.T) {
		cfg := getValidLLMConfig()
		cfg.Provider = config.ProviderOpenAI
		cfg.Model = "gpt-4o-mini"
		client, err := NewClient(cfg, logger)
		require.NoError(t, err)
		assert.IsType(t, &OpenAIClient{}, client)
	})

	t.Run("scripted", func(t *testing.T) {
		cfg := getValidLLMConfig()
		cfg.Provider = config.ProviderScripted
		cfg.ScriptedReplies = []string{"one"}
		client, err := NewClient(cfg, logger)
		require.NoError(t, err)
		assert.IsType(t, &ScriptedClient{}, client)
	})

	t.Run("unknown", func(t *testing.T) {
		cfg := getValidLLMConfig()
		cfg.Provider = "oracle"
		client, err := NewClient(cfg, logger)
		assert.Error(t, err)
		assert.Nil(t, client)
	})
}

func TestScriptedClientReplaysInOrder(t *testing.T) {
	client := NewScriptedClient([]string{"first", "second"}, setupTestLogger(t))
	ctx := context.Background()

	reply, err := client.Generate(ctx, schemas.GenerationRequest{UserPrompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "first", reply)
	assert.Equal(t, 1, client.Remaining())

	reply, err = client.Generate(ctx, schemas.GenerationRequest{UserPrompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "second", reply)

	_, err = client.Generate(ctx, schemas.GenerationRequest{UserPrompt: "x"})
	assert.Error(t, err, "exhausted script must error")
}

func TestScriptedClientHonorsCancellation(t *testing.T) {
	client := NewScriptedClient([]string{"never served"}, setupTestLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Generate(ctx, schemas.GenerationRequest{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, client.Remaining())
}
