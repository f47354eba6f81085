// Package openai provides a classify.Classifier and classify.Streamer
// backed by the OpenAI Chat Completions API.
package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"

	"github.com/hupe1980/threadmesh/classify"
)

// Options configures the OpenAI classifier. Fields mirror a minimal subset
// of Chat Completion parameters; extend via functional options without
// breaking callers.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Classifier wraps the OpenAI Chat Completions API behind
// classify.Classifier and classify.Streamer.
type Classifier struct {
	client *openai.Client
	opts   Options
}

// New creates a new OpenAI classifier using the official client.
func New(optFns ...func(o *Options)) *Classifier {
	client := openai.NewClient()
	return NewFromClient(&client, optFns...)
}

// NewFromClient creates a classifier from an existing client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Classifier {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0,
		MaxCompletionTokens: 64,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Classifier{client: client, opts: opts}
}

// Classify implements classify.Classifier.
func (c *Classifier) Classify(ctx context.Context, req classify.Request) (string, error) {
	if len(req.Candidates) == 0 {
		return "", fmt.Errorf("no candidates provided")
	}

	params := openai.ChatCompletionNewParams{
		Model:               c.opts.Model,
		Temperature:         openai.Float(c.opts.Temperature),
		MaxCompletionTokens: openai.Int(c.opts.MaxCompletionTokens),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(buildSystemPrompt(req.Candidates)),
			openai.UserMessage(req.Input),
		},
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}

	choice := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := classify.ValidateChoice(choice, req.Candidates); err != nil {
		return "", err
	}
	return choice, nil
}

// Stream implements classify.Streamer: completions arrive as a lazy finite
// fragment sequence. Abandoning the channel stops consumption; the
// underlying call winds down on context cancellation.
func (c *Classifier) Stream(ctx context.Context, prompt string) (<-chan classify.Fragment, <-chan error) {
	out := make(chan classify.Fragment, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params := openai.ChatCompletionNewParams{
			Model:               c.opts.Model,
			Temperature:         openai.Float(c.opts.Temperature),
			MaxCompletionTokens: openai.Int(c.opts.MaxCompletionTokens),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.UserMessage(prompt),
			},
		}

		stream := c.client.Chat.Completions.NewStreaming(ctx, params)
		for stream.Next() {
			ck := stream.Current()
			for _, ch := range ck.Choices {
				if ch.Delta.Content != "" {
					select {
					case <-ctx.Done():
						errCh <- ctx.Err()
						return
					case out <- classify.Fragment{Text: ch.Delta.Content}:
					}
				}
				if ch.FinishReason != "" {
					select {
					case <-ctx.Done():
						errCh <- ctx.Err()
					case out <- classify.Fragment{Final: true}:
					}
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			errCh <- fmt.Errorf("openai streaming error: %w", err)
		}
	}()

	return out, errCh
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
