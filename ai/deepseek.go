package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/korjavin/quizbot/models"
)

const (
	deepseekAPIURL = "https://api.deepseek.com/v1/chat/completions"
	apiTimeout     = 60 * time.Second
)

// DeepseekClient asks the Deepseek chat API to explain a question.
type DeepseekClient struct {
	apiKey string
	http   *http.Client
	log    *zap.SugaredLogger
}

// NewDeepseekClient creates a new Deepseek API client.
func NewDeepseekClient(apiKey string, log *zap.SugaredLogger) *DeepseekClient {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &DeepseekClient{
		apiKey: apiKey,
		http:   &http.Client{Timeout: apiTimeout},
		log:    log,
	}
}

type deepseekMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type deepseekRequest struct {
	Model    string            `json:"model"`
	Messages []deepseekMessage `json:"messages"`
}

type deepseekResponse struct {
	Choices []struct {
		Message deepseekMessage `json:"message"`
	} `json:"choices"`
}

// Explain sends the question with its labeled options and returns the
// model's explanation text.
func (c *DeepseekClient) Explain(ctx context.Context, q models.Question) (string, error) {
	start := time.Now()

	var opts strings.Builder
	for _, o := range q.Options {
		fmt.Fprintf(&opts, "%s) %s\n", o.Label, o.Text)
	}

	prompt := fmt.Sprintf(`
I have a multiple-choice exam question. Please help me with the following:

1. State which option is correct and explain why.
2. Briefly explain why each other option is wrong.
3. Suggest a short memory aid for this fact if one applies.

Question: %s

Options:
%s
Please be concise and answer in plain text.
`, q.Text, opts.String())

	reqBody := deepseekRequest{
		Model:    "deepseek-chat",
		Messages: []deepseekMessage{{Role: "user", Content: prompt}},
	}
	reqJSON, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, deepseekAPIURL, bytes.NewBuffer(reqJSON))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			c.log.Warnw("deepseek request timed out", "question", q.Number)
		}
		return "", fmt.Errorf("deepseek request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("deepseek API status %d: %s", resp.StatusCode, string(body))
	}

	var parsed deepseekResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("no choices in API response")
	}

	content := parsed.Choices[0].Message.Content
	c.log.Infow("deepseek explanation received",
		"question", q.Number, "took", time.Since(start), "length", len(content))
	return content, nil
}
