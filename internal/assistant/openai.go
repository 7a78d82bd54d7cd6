// Package assistant answers spoken queries through an OpenAI-compatible
// chat completion endpoint.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"livescribe/internal/domain"
)

const systemPrompt = "You are a concise voice assistant. Answer the user's " +
	"spoken question directly. The first line of your reply is a short title " +
	"for the answer; the remaining lines are the answer itself."

type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

// Client implements ports.Assistant over a chat completion API.
type Client struct {
	api   *openai.Client
	model string
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("missing API key")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		config.HTTPClient = cfg.HTTPClient
	} else {
		config.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{api: openai.NewClientWithConfig(config), model: cfg.Model}, nil
}

// Ask sends the query and shapes the completion into a titled reply.
func (c *Client) Ask(ctx context.Context, query string) (domain.AssistantReply, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: query},
		},
	})
	if err != nil {
		return domain.AssistantReply{}, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return domain.AssistantReply{}, errors.New("chat completion returned no choices")
	}

	return parseReply(resp.Choices[0].Message.Content), nil
}

// parseReply splits a completion into a title line and body lines. A
// single-line completion becomes a body under a generic title.
func parseReply(content string) domain.AssistantReply {
	var lines []string
	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		if line != "" {
			lines = append(lines, line)
		}
	}

	switch len(lines) {
	case 0:
		return domain.AssistantReply{Title: "Assistant", Lines: nil}
	case 1:
		return domain.AssistantReply{Title: "Assistant", Lines: lines}
	default:
		return domain.AssistantReply{Title: strings.TrimSuffix(lines[0], ":"), Lines: lines[1:]}
	}
}
