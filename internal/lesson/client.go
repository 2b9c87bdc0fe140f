package lesson

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	maxRetries   = 3
	initialDelay = 1 * time.Second
)

var (
	ErrEmptyResponse = errors.New("empty completion")
	ErrInvalidTier   = errors.New("invalid tier")
)

// tierDescriptions tells the model what each level means.
var tierDescriptions = map[int]string{
	1: "absolute beginner: 3-5 very common words, present tense",
	2: "elementary: one short everyday sentence, simple grammar",
	3: "intermediate: one sentence with a subordinate clause",
	4: "upper-intermediate: idiomatic sentence, mixed tenses",
	5: "advanced: natural, nuanced sentence a native speaker would use",
}

// Client talks to an OpenAI-compatible chat completions endpoint
type Client struct {
	baseURL  string
	apiKey   string
	model    string
	language string
	client   *http.Client
	delay    time.Duration
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// NewClient creates a generation client. language is the language being learned.
func NewClient(baseURL, apiKey, model, language string, timeout time.Duration) *Client {
	return &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		apiKey:   apiKey,
		model:    model,
		language: language,
		client:   &http.Client{Timeout: timeout},
		delay:    initialDelay,
	}
}

// Generate asks the model for one lesson at the given tier. avoid lists recent
// sentences of the tier the model should not repeat.
func (c *Client) Generate(ctx context.Context, tier int, avoid []string) (Lesson, error) {
	desc, ok := tierDescriptions[tier]
	if !ok {
		return Lesson{}, fmt.Errorf("%w: %d", ErrInvalidTier, tier)
	}

	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: "You write short daily " + c.language + " lessons for English speakers. " +
				`Answer with JSON only: {"text": string, "translation": string, "words": [{"word": string, "meaning": string}]}.`},
			{Role: "user", Content: userPrompt(tier, desc, avoid)},
		},
		Temperature:    0.9,
		ResponseFormat: map[string]string{"type": "json_object"},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Lesson{}, fmt.Errorf("marshal request: %w", err)
	}

	// 1s, 2s between the attempts
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.delay
	b.Multiplier = 2
	b.RandomizationFactor = 0

	l, err := backoff.Retry(ctx, func() (Lesson, error) {
		return c.do(ctx, body)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(maxRetries))
	if err != nil {
		return Lesson{}, fmt.Errorf("generate tier %d: %w", tier, err)
	}
	return l, nil
}

func userPrompt(tier int, desc string, avoid []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Level %d (%s). Write one new sentence with its English translation and a breakdown of every word.", tier, desc)
	if len(avoid) > 0 {
		b.WriteString(" Do not repeat any of these recent sentences:")
		for _, s := range avoid {
			b.WriteString("\n- ")
			b.WriteString(s)
		}
	}
	return b.String()
}

// do sends one completion request. Errors wrapped in backoff.Permanent end the retries.
func (c *Client) do(ctx context.Context, body []byte) (Lesson, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Lesson{}, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		err = fmt.Errorf("do request: %w", err)
		if ctx.Err() != nil {
			return Lesson{}, backoff.Permanent(err)
		}
		return Lesson{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Lesson{}, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		msg := string(data)
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		err := fmt.Errorf("API error %d: %s", resp.StatusCode, msg)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return Lesson{}, err
		}
		return Lesson{}, backoff.Permanent(err)
	}

	var completion chatResponse
	if err := json.Unmarshal(data, &completion); err != nil {
		return Lesson{}, backoff.Permanent(fmt.Errorf("unmarshal: %w", err))
	}
	if len(completion.Choices) == 0 {
		return Lesson{}, ErrEmptyResponse
	}

	// A malformed lesson is retried; the model may do better on a second try.
	return parseLesson(completion.Choices[0].Message.Content)
}

// parseLesson decodes the model output, tolerating a surrounding code fence.
func parseLesson(content string) (Lesson, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var l Lesson
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &l); err != nil {
		return Lesson{}, fmt.Errorf("decode lesson: %w", err)
	}
	if strings.TrimSpace(l.Text) == "" {
		return Lesson{}, ErrEmptyResponse
	}
	return l, nil
}
