package llmclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/navigator-cli/internal/config"
)

func setupOpenAIClient(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := getValidLLMConfig()
	cfg.Provider = config.ProviderOpenAI
	cfg.Model = "gpt-4o-mini"
	cfg.Endpoint = server.URL

	client, err := NewOpenAIClient(cfg, setupTestLogger(t))
	require.NoError(t, err)

	client.backoffFactory = func() backoff.BackOff {
		return backoff.NewConstantBackOff(10 * time.Millisecond)
	}
	return client
}

func openAISuccessBody(text string) openAIResponsePayload {
	var payload openAIResponsePayload
	payload.Choices = []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	}{
		{Message: openAIMessage{Role: "assistant", Content: text}, FinishReason: "stop"},
	}
	return payload
}

func TestNewOpenAIClientMissingAPIKey(t *testing.T) {
	cfg := getValidLLMConfig()
	cfg.APIKey = ""

	client, err := NewOpenAIClient(cfg, setupTestLogger(t))
	assert.Error(t, err)
	assert.Nil(t, client)
}

func TestOpenAIGenerateSuccess(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-api-key", r.Header.Get("Authorization"))

		body, _ := io.ReadAll(r.Body)
		var payload openAIRequestPayload
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, "gpt-4o-mini", payload.Model)
		require.Len(t, payload.Messages, 2)
		assert.Equal(t, "system", payload.Messages[0].Role)
		assert.Equal(t, "user", payload.Messages[1].Role)
		require.NotNil(t, payload.ResponseFormat)
		assert.Equal(t, "json_object", payload.ResponseFormat.Type)

		json.NewEncoder(w).Encode(openAISuccessBody(`{"status": "wait", "wait_seconds": 2}`))
	}

	client := setupOpenAIClient(t, handler)

	req := createTestRequest()
	req.ForceJSONFormat = true

	response, err := client.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, `{"status": "wait", "wait_seconds": 2}`, response)
}

func TestOpenAIGenerateRetriesTransientErrors(t *testing.T) {
	var attempts int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(openAISuccessBody("recovered"))
	}

	client := setupOpenAIClient(t, handler)

	response, err := client.Generate(context.Background(), createTestRequest())
	require.NoError(t, err)
	assert.Equal(t, "recovered", response)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestOpenAIGenerateNoRetryOnClientErrors(t *testing.T) {
	var attempts int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}

	client := setupOpenAIClient(t, handler)

	_, err := client.Generate(context.Background(), createTestRequest())
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestOpenAIGenerateNoChoicesIsPermanent(t *testing.T) {
	var attempts int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		json.NewEncoder(w).Encode(openAIResponsePayload{})
	}

	client := setupOpenAIClient(t, handler)

	_, err := client.Generate(context.Background(), createTestRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}
