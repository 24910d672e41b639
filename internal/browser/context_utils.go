// internal/browser/context_utils.go
package browser

import (
	"context"
)

// CombineContext derives a context from lifetime (the session context, which
// carries the CDP connection info) that is additionally canceled when op (the
// per-call operational context) ends. chromedp requires the connection values
// from the session context, so the derivation order matters.
func CombineContext(lifetime, op context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(lifetime)

	go func() {
		select {
		case <-op.Done():
			cancel()
		case <-combined.Done():
		}
	}()

	return combined, cancel
}
