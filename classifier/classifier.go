package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/levabala/llm-social-filter/metrics"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	defaultModel   = "google/gemini-2.5-flash"

	maxRationaleLen = 160
)

// Intent is a matching criterion a post is checked against.
type Intent struct {
	ID               string
	Description      string
	ExamplesPositive []string
	ExamplesNegative []string
}

// Match is the per-intent classification outcome.
type Match struct {
	IntentID   string  `json:"intent_id"`
	Match      bool    `json:"match"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// Result aggregates per-intent matches. OverallMatch is true iff at least
// one intent matched.
type Result struct {
	Matches      []Match `json:"matches"`
	OverallMatch bool    `json:"overall_match"`
}

// Classifier checks posts against intents using an OpenAI-compatible chat
// API.
type Classifier struct {
	client *openai.Client
	model  string
}

// Option configures a Classifier.
type Option func(*openai.ClientConfig, *Classifier)

// WithModel sets the model to use.
func WithModel(model string) Option {
	return func(_ *openai.ClientConfig, c *Classifier) {
		if model != "" {
			c.model = model
		}
	}
}

// WithBaseURL sets a custom API base URL (for testing).
func WithBaseURL(url string) Option {
	return func(cfg *openai.ClientConfig, _ *Classifier) {
		cfg.BaseURL = url
	}
}

// New creates a classifier talking to OpenRouter by default.
func New(apiKey string, opts ...Option) *Classifier {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = defaultBaseURL

	c := &Classifier{model: defaultModel}
	for _, opt := range opts {
		opt(&cfg, c)
	}
	c.client = openai.NewClientWithConfig(cfg)
	return c
}

// Classify checks a post against every intent and reports per-intent
// matches plus the overall outcome.
func (c *Classifier) Classify(ctx context.Context, post string, intents []Intent) (*Result, error) {
	metrics.ClassifierCalls.Inc()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0.1,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are a strict multi-intent classifier. Output only JSON matching the schema.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildPrompt(post, intents),
			},
		},
	})
	if err != nil {
		metrics.ClassifierErrors.Inc()
		return nil, fmt.Errorf("classification call: %w", err)
	}

	if len(resp.Choices) == 0 {
		metrics.ClassifierErrors.Inc()
		return nil, fmt.Errorf("no choices in classification response")
	}

	result, err := parseResult(resp.Choices[0].Message.Content)
	if err != nil {
		metrics.ClassifierErrors.Inc()
		return nil, err
	}
	return result, nil
}

func buildPrompt(post string, intents []Intent) string {
	var requirements strings.Builder
	for _, intent := range intents {
		fmt.Fprintf(&requirements, `
    <requirement>
      <id>%s</id>
      <description>%s</description>%s%s
    </requirement>`, intent.ID, intent.Description,
			exampleList("positive_examples", intent.ExamplesPositive),
			exampleList("negative_examples", intent.ExamplesNegative))
	}

	return fmt.Sprintf(`<prompt>
  <task>
    You are a classifier. For the given post, check if it matches each of the listed requirements.
    For each requirement, return:
      - intent_id: the requirement ID
      - match: true or false
      - confidence: a number between 0 and 1 that defines the accuracy of the "match" property
      - rationale: a short explanation (max 160 characters)
    Also return overall_match: true if any match is true, otherwise false.
    Respond ONLY with valid JSON matching this schema:
    {
      "matches": [
        {
          "intent_id": "string",
          "match": true/false,
          "confidence": 0-1,
          "rationale": "string (max 160 chars)"
        }
      ],
      "overall_match": true/false
    }
  </task>
  <post>
    <text>%s</text>
  </post>
  <requirements>
    %s
  </requirements>
</prompt>`, post, requirements.String())
}

func exampleList(tag string, examples []string) string {
	if len(examples) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "\n      <%s>", tag)
	for _, example := range examples {
		fmt.Fprintf(&b, "\n        <example>%s</example>", example)
	}
	fmt.Fprintf(&b, "\n      </%s>", tag)
	return b.String()
}

func parseResult(content string) (*Result, error) {
	content = stripMarkdownCodeBlock(content)

	var result Result
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return nil, fmt.Errorf("parse classification JSON: %w", err)
	}
	if len(result.Matches) == 0 {
		return nil, fmt.Errorf("classification response carried no matches")
	}

	for i := range result.Matches {
		if len(result.Matches[i].Rationale) > maxRationaleLen {
			result.Matches[i].Rationale = result.Matches[i].Rationale[:maxRationaleLen]
		}
	}
	return &result, nil
}

var codeBlockRegex = regexp.MustCompile("(?s)^\\s*```(?:json)?\\s*(.+?)\\s*```\\s*$")

func stripMarkdownCodeBlock(s string) string {
	s = strings.TrimSpace(s)
	if matches := codeBlockRegex.FindStringSubmatch(s); len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}
	return s
}
