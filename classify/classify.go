// Package classify defines the LLM classification boundary used by the
// router's fallback path: when the deterministic rule pass is ambiguous, a
// Classifier picks the next worker from the declared candidates. Vendor
// adapters live in the anthropic and openai subpackages; MockClassifier
// serves tests and offline development.
package classify

import (
	"context"
	"fmt"
)

// Candidate is one routable worker presented to the classifier.
type Candidate struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Request captures the normalized classification input.
type Request struct {
	// Input is the conversational context to classify, usually the latest
	// external input plus a compact state summary.
	Input string
	// Candidates are the workers the classifier may choose between.
	Candidates []Candidate
}

// Classifier resolves an ambiguous routing decision to one candidate name.
// Implementations must return a name from the candidate set or an error;
// the router never guesses on a failed classification.
type Classifier interface {
	Classify(ctx context.Context, req Request) (string, error)
}

// Fragment is one chunk of a streamed completion. The fragment sequence is
// lazy and finite; consumers stop reading to cancel, which simply abandons
// the producer at its next send.
type Fragment struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// Streamer exposes completions as a lazy fragment sequence. Restart by
// calling Stream again with the same prompt.
type Streamer interface {
	Stream(ctx context.Context, prompt string) (<-chan Fragment, <-chan error)
}

// ValidateChoice checks a classifier answer against the candidate set.
func ValidateChoice(choice string, candidates []Candidate) error {
	for _, c := range candidates {
		if c.Name == choice {
			return nil
		}
	}
	return fmt.Errorf("classifier chose %q which is not a candidate", choice)
}

// MockClassifier is a deterministic in-memory Classifier for tests and
// examples. Responses are registered per input; unregistered inputs resolve
// to the first candidate.
type MockClassifier struct {
	responses map[string]string
	calls     int
}

// NewMockClassifier constructs an empty mock.
func NewMockClassifier() *MockClassifier {
	return &MockClassifier{responses: map[string]string{}}
}

// AddResponse registers a canned choice for an input.
func (m *MockClassifier) AddResponse(input, choice string) { m.responses[input] = choice }

// Calls returns how many classifications were requested.
func (m *MockClassifier) Calls() int { return m.calls }

// Classify implements Classifier.
func (m *MockClassifier) Classify(_ context.Context, req Request) (string, error) {
	m.calls++
	if len(req.Candidates) == 0 {
		return "", fmt.Errorf("no candidates provided")
	}
	if choice, ok := m.responses[req.Input]; ok {
		if err := ValidateChoice(choice, req.Candidates); err != nil {
			return "", err
		}
		return choice, nil
	}
	return req.Candidates[0].Name, nil
}

// Stream implements Streamer; emits the canned response rune by rune.
func (m *MockClassifier) Stream(ctx context.Context, prompt string) (<-chan Fragment, <-chan error) {
	out := make(chan Fragment, 16)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		full := m.responses[prompt]
		if full == "" {
			full = "Mock completion for: " + prompt
		}
		for _, r := range full {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- Fragment{Text: string(r)}:
			}
		}
		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case out <- Fragment{Final: true}:
		}
	}()
	return out, errCh
}
