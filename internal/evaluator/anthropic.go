package evaluator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic evaluates stories through the Anthropic Messages API.
type Anthropic struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropic creates an Anthropic evaluator. The SDK's own retries are
// disabled; retry policy belongs to the caller.
func NewAnthropic(baseURL, apiKey, model string, maxTokens int64) *Anthropic {
	opts := []anthropicopt.RequestOption{
		anthropicopt.WithAPIKey(apiKey),
		anthropicopt.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, anthropicopt.WithBaseURL(baseURL))
	}
	if model == "" {
		model = "claude-sonnet-4-5"
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	client := anthropic.NewClient(opts...)
	return &Anthropic{client: &client, model: model, maxTokens: maxTokens}
}

func (e *Anthropic) Evaluate(ctx context.Context, story string) (string, error) {
	req := anthropic.MessageNewParams{
		Model:     anthropic.Model(e.model),
		MaxTokens: e.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(SystemPrompt + "\n\n" + UserMessage(story))),
		},
	}

	rsp, err := e.client.Messages.New(ctx, req)
	if err != nil {
		return "", classify(ctx, err)
	}

	var b strings.Builder
	for _, content := range rsp.Content {
		if text, ok := content.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(text.Text)
		}
	}

	result := b.String()
	if len(result) == 0 {
		return "", fmt.Errorf("%w: %w", ErrRemoteUnavailable, errors.New("empty response from Anthropic"))
	}
	return result, nil
}
