package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAuth is returned when the model provider rejects the configured
	// credentials.
	ErrAuth = errors.New("model provider rejected credentials")
	// ErrTransport covers every other failure to obtain a completion.
	ErrTransport = errors.New("model provider request failed")
)

// authMarkers are substrings gollm providers include in credential errors.
var authMarkers = []string{
	"401",
	"unauthorized",
	"invalid api key",
	"incorrect api key",
	"invalid_api_key",
	"authentication",
}

// classify wraps err in ErrAuth or ErrTransport, keeping the original error
// in the chain.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrAuth) || errors.Is(err, ErrTransport) {
		return err
	}
	if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		msg := strings.ToLower(err.Error())
		for _, marker := range authMarkers {
			if strings.Contains(msg, marker) {
				return fmt.Errorf("%w: %w", ErrAuth, err)
			}
		}
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}
