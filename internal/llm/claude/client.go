// Package claude implements incident.Provider on the Anthropic Messages API.
package claude

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/respond/internal/incident"
)

const requestTimeout = 120 * time.Second

// ErrEmptyResponse is returned when the model produced no text blocks.
var ErrEmptyResponse = errors.New("claude returned no text content")

// Client implements incident.Provider for the Claude API.
type Client struct {
	client anthropic.Client
	model  string
}

var _ incident.Provider = (*Client)(nil)

// New creates a Claude client. Extra options are appended after the API key,
// which lets tests point the client at a local server.
func New(apiKey, model string, opts ...option.RequestOption) *Client {
	base := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(requestTimeout),
	}
	return &Client{
		client: anthropic.NewClient(append(base, opts...)...),
		model:  model,
	}
}

// Send issues a single-turn message and flattens the text blocks of the reply.
func (c *Client) Send(ctx context.Context, req *incident.LLMRequest) (*incident.LLMResponse, error) {
	msg, err := c.client.Messages.New(ctx, c.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("claude messages: %w", err)
	}
	return fromSDKResponse(msg)
}

func (c *Client) buildParams(req *incident.LLMRequest) anthropic.MessageNewParams {
	p := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(req.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		p.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	return p
}

func fromSDKResponse(msg *anthropic.Message) (*incident.LLMResponse, error) {
	text := textFromContent(msg.Content)
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyResponse
	}
	return &incident.LLMResponse{
		Text:       text,
		Model:      string(msg.Model),
		StopReason: string(msg.StopReason),
		Usage: incident.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}

func textFromContent(blocks []anthropic.ContentBlockUnion) string {
	var b strings.Builder
	for _, block := range blocks {
		if block.Type != "text" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(block.Text)
	}
	return b.String()
}
