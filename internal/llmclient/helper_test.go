package llmclient

import (
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/navigator-cli/internal/config"
)

// setupTestLogger provides a logger wired to the test output.
func setupTestLogger(t *testing.T) *zap.Logger {
	t.Helper()
	return zaptest.NewLogger(t)
}

// getValidLLMConfig returns a baseline config for client construction.
func getValidLLMConfig() config.LLMConfig {
	return config.LLMConfig{
		Provider:    config.ProviderGemini,
		Model:       "gemini-2.0-flash",
		APIKey:      "test-api-key",
		APITimeout:  30 * time.Second,
		Temperature: 0.7,
	}
}
