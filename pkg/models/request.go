package models

import "encoding/json"

// Chat roles accepted by the provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage represents a single message in a chat conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseFormat is the provider response_format hint.
type ResponseFormat struct {
	Type string `json:"type"`
}

// ChatCompletionRequest is the OpenAI-compatible payload sent to the provider.
type ChatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []ChatMessage   `json:"messages"`
	MaxTokens      *int            `json:"max_tokens,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	Stream         bool            `json:"stream"`
}

// ChatCompletionResponse is an OpenAI-compatible chat completion response.
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Choice represents a single completion choice.
type Choice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// ProviderError is the error envelope returned by OpenAI-compatible providers.
type ProviderError struct {
	Error struct {
		Message string          `json:"message"`
		Code    json.RawMessage `json:"code,omitempty"`
	} `json:"error"`
}
