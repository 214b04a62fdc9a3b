package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/flemzord/relaybot/internal/gateway"
)

// mapHTTPError turns a non-2xx answer into a gateway.RemoteError carrying
// the API's own message when it has one. Returns nil for 2xx.
func mapHTTPError(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	var apiErr apiError
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
		body = []byte(apiErr.Error.Message)
	}
	return gateway.NewRemoteError("openai", statusCode, body)
}

// mapConnectionError wraps transport failures. Context errors pass through
// so the gateway can classify them.
func mapConnectionError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: openai: %w", gateway.ErrRemote, err)
}
