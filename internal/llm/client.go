// Package llm calls an OpenAI-compatible chat completion API (DashScope's
// compatible mode serves the Qwen models).
package llm

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"

	"github.com/iliyamo/dermascan/internal/config"
)

// ErrNoChoices is returned when the API answers without any completion.
var ErrNoChoices = errors.New("llm returned no choices")

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Roles understood by the API.
const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

// Request describes one completion.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float32
	MaxTokens   int
	TopP        float32
	JSON        bool // ask for a JSON object response
}

// Client wraps the go-openai client.
type Client struct {
	api *openai.Client
}

// New returns a client for cfg.BaseURL, authenticating with cfg.APIKey.
func New(cfg config.LLMConfig) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = cfg.BaseURL
	return &Client{api: openai.NewClientWithConfig(oc)}
}

// Complete returns the content of the first choice.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	ccr := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
	}
	if req.JSON {
		ccr.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	resp, err := c.api.CreateChatCompletion(ctx, ccr)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	return resp.Choices[0].Message.Content, nil
}
