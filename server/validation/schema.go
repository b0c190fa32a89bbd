// Package validation checks conversation requests before they reach the
// handler and estimates the token size of model prompts.
package validation

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
	"github.com/teilomillet/hearth/server/session"
)

// fallbackEncoding is used for models tiktoken does not know, which covers
// most non-OpenAI providers.
const fallbackEncoding = "cl100k_base"

// tokensPerMessage approximates the role and framing tokens chat models add
// around each message.
const tokensPerMessage = 4

// ConversationRequest is the body of POST /v1/conversation.
type ConversationRequest struct {
	Text           string `json:"text" validate:"required,max=4096"`
	ConversationID string `json:"conversation_id,omitempty" validate:"omitempty,max=128,printascii"`
	Language       string `json:"language,omitempty" validate:"omitempty,max=35"`
}

// Tokenizer defines the interface for token counting
type Tokenizer interface {
	Encode(text string, allowedSpecial, disallowedSpecial []string) []int
}

// TokenCounter estimates prompt sizes with tiktoken.
type TokenCounter struct {
	encoding Tokenizer
}

// NewTokenCounter creates a counter for model, falling back to cl100k_base
// when the model has no known encoding.
func NewTokenCounter(model string) (*TokenCounter, error) {
	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return nil, fmt.Errorf("load encoding for model %s: %w", model, err)
		}
	}
	return &TokenCounter{encoding: encoding}, nil
}

// NewTokenCounterWithTokenizer creates a counter around an existing tokenizer.
func NewTokenCounterWithTokenizer(t Tokenizer) *TokenCounter {
	return &TokenCounter{encoding: t}
}

// CountText returns the number of tokens in text.
func (tc *TokenCounter) CountText(text string) int {
	return len(tc.encoding.Encode(text, nil, nil))
}

// CountMessages estimates the prompt size of msgs.
func (tc *TokenCounter) CountMessages(msgs []session.Message) int {
	total := 0
	for _, m := range msgs {
		total += tokensPerMessage + tc.CountText(m.Content)
	}
	return total
}
