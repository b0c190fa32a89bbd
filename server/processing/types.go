// Package processing turns one user utterance into a model prompt, reads the
// model's reply back into device actions, and dispatches those actions.
//
// A turn flows through these steps:
//
//	session lookup → inventory → prompt → model → extract → dispatch → session update
//
// The model is asked to reply with an envelope of the form
//
//	{ "entities": [ { "id": "", "action": "" } ], "assistant": "" }
//
// but replies that wrap the envelope in prose, omit fields or are not JSON at
// all are tolerated.
package processing

import (
	"context"

	"github.com/teilomillet/hearth/errors"
	"github.com/teilomillet/hearth/server/session"
)

// Device is a controllable entity as reported by Home Assistant.
type Device struct {
	ID         string
	State      string
	Attributes map[string]any
	// Exposed is true when the entity is visible to the conversation assistant.
	Exposed bool
}

// DeviceSource returns a fresh snapshot of devices in the given domains.
type DeviceSource interface {
	Snapshot(ctx context.Context, domains ...string) ([]Device, error)
}

// CommandInvoker calls a device command, e.g. category "light", action
// "turn_on".
type CommandInvoker interface {
	Invoke(ctx context.Context, category, action string, data map[string]any) error
}

// Completion is one chat-completion request.
type Completion struct {
	Model       string
	Messages    []session.Message
	MaxTokens   int
	TopP        float64
	Temperature float64
	// User identifies the conversation to the model provider.
	User string
}

// Completer sends a chat completion and returns the reply text.
type Completer interface {
	Complete(ctx context.Context, c Completion) (string, error)
}

// Settings is the per-turn configuration. It is computed from the loaded
// configuration and passed explicitly into Process.
type Settings struct {
	Model        string
	MaxTokens    int
	TopP         float64
	Temperature  float64
	Preamble     string
	LocationName string
	Mode         Mode
}

// Turn is one user utterance.
type Turn struct {
	Text           string
	ConversationID string
	// Language is the language the client asked for. It is logged with the
	// turn; the instruction language follows Settings.Mode.
	Language string
}

// Result is the outcome of one turn. Err is set when the turn failed; Speech
// then carries the message shown to the user.
type Result struct {
	ConversationID string
	Speech         string
	Err            *errors.HearthError
	Actions        int
	Strategy       string
}
