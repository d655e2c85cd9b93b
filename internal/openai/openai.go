// Package openai is the completion provider for OpenAI and any
// OpenAI-compatible endpoint.
package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"
)

const DefaultModel = "gpt-4o-mini"

type Client struct {
	client *goopenai.Client
	model  string
}

// NewClient points at baseURL when it is set, e.g. a local gateway.
func NewClient(apiKey, baseURL, model string, httpClient *http.Client) *Client {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	if model == "" {
		model = DefaultModel
	}
	return &Client{client: goopenai.NewClientWithConfig(cfg), model: model}
}

func (c *Client) Name() string { return "openai" }

func (c *Client) Close() error { return nil }

func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	messages := make([]goopenai.ChatCompletionMessage, 0, 2)
	if system != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleSystem, Content: system})
	}
	messages = append(messages, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser, Content: prompt})

	resp, err := c.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:               c.model,
		Messages:            messages,
		Temperature:         0.3,
		MaxCompletionTokens: 2000,
	})
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("no response from OpenAI")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
