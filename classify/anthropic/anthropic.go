// Package anthropic provides a classify.Classifier backed by the Anthropic
// Messages API.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hupe1980/threadmesh/classify"
)

// Options configures the Anthropic classifier (model id, max tokens, API
// key). Extend via functional options to preserve stability.
type Options struct {
	Model     anthropic.Model
	MaxTokens int64
	APIKey    string
}

// Classifier wraps the Anthropic Messages API behind classify.Classifier.
type Classifier struct {
	client *anthropic.Client
	opts   Options
}

// New creates a new Anthropic classifier using the official client.
func New(optFns ...func(o *Options)) *Classifier {
	opts := Options{
		Model:     anthropic.ModelClaude3_5Sonnet20241022,
		MaxTokens: 64,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Classifier{client: &client, opts: opts}
}

// NewFromClient creates a classifier from an existing client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Classifier {
	opts := Options{
		Model:     anthropic.ModelClaude3_5Sonnet20241022,
		MaxTokens: 64,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Classifier{client: client, opts: opts}
}

// Classify implements classify.Classifier. The candidate set is rendered
// into the system prompt and the model is asked for exactly one candidate
// name; any other answer is an error, never a guess.
func (c *Classifier) Classify(ctx context.Context, req classify.Request) (string, error) {
	if len(req.Candidates) == 0 {
		return "", fmt.Errorf("no candidates provided")
	}

	params := anthropic.MessageNewParams{
		Model:     c.opts.Model,
		MaxTokens: c.opts.MaxTokens,
		System: []anthropic.TextBlockParam{
			{Text: buildSystemPrompt(req.Candidates)},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Input)),
		},
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic api error: %w", err)
	}

	var answer strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			answer.WriteString(block.AsText().Text)
		}
	}

	choice := strings.TrimSpace(answer.String())
	if err := classify.ValidateChoice(choice, req.Candidates); err != nil {
		return "", err
	}
	return choice, nil
}

func buildSystemPrompt(candidates []classify.Candidate) string {
	var b strings.Builder
	b.WriteString("You route a conversation to exactly one handler. ")
	b.WriteString("Answer with the handler name only, nothing else.\nHandlers:\n")
	for _, c := range candidates {
		fmt.Fprintf(&b, "- %s: %s\n", c.Name, c.Description)
	}
	return b.String()
}
