// internal/llmclient/scripted.go
package llmclient

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/navigator-cli/api/schemas"
)

// ScriptedClient replays a fixed sequence of replies. It backs the "scripted"
// provider used for offline runs and deterministic engine tests; it never
// touches the network.
type ScriptedClient struct {
	mu      sync.Mutex
	replies []string
	next    int
	logger  *zap.Logger
}

// NewScriptedClient builds a client that returns each reply once, in order.
func NewScriptedClient(replies []string, logger *zap.Logger) *ScriptedClient {
	return &ScriptedClient{
		replies: append([]string(nil), replies...),
		logger:  logger.Named("llm_client.scripted"),
	}
}

// Generate returns the next scripted reply. It fails once the script is
// exhausted so a runaway loop surfaces as an error instead of hanging.
func (c *ScriptedClient) Generate(ctx context.Context, _ schemas.GenerationRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.next >= len(c.replies) {
		return "", fmt.Errorf("scripted client exhausted after %d replies", len(c.replies))
	}

	reply := c.replies[c.next]
	c.next++
	c.logger.Debug("Serving scripted reply", zap.Int("index", c.next-1))
	return reply, nil
}

// Remaining reports how many scripted replies have not been served yet.
func (c *ScriptedClient) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.replies) - c.next
}
