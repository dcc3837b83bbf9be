// Package llm is the client for the text-generation collaborator: a
// single /predict endpoint taking a prompt and returning generated text.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/skyload/skyload-api/internal/config"
)

// Generator is the one operation the rest of the system needs. Timeout
// and HTTP failures come back as errors, never panics; callers are
// expected to degrade to fallback paths.
type Generator interface {
	Generate(ctx context.Context, prompt, systemPrompt string, maxTokens int) (string, error)
}

type generateRequest struct {
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

type Client struct {
	endpoint string
	http     *resty.Client
	logger   zerolog.Logger
}

func NewClient(cfg config.LLMConfig, logger zerolog.Logger) *Client {
	http := resty.New().
		SetTimeout(cfg.RequestTimeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return r.StatusCode() == 429 || (r.StatusCode() >= 500 && r.StatusCode() <= 504)
		})

	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		http:     http,
		logger:   logger.With().Str("component", "llm").Logger(),
	}
}

func (c *Client) Generate(ctx context.Context, prompt, systemPrompt string, maxTokens int) (string, error) {
	if c.endpoint == "" {
		return "", errors.New("text-generation endpoint not configured")
	}

	full := prompt
	if systemPrompt != "" {
		full = systemPrompt + "\n\n" + prompt
	}

	var out generateResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(generateRequest{Prompt: full, MaxTokens: maxTokens}).
		SetResult(&out).
		Post(c.endpoint + "/predict")
	if err != nil {
		return "", errors.Wrap(err, "text-generation request")
	}
	if resp.IsError() {
		return "", errors.Errorf("text-generation request failed: %s", resp.Status())
	}
	if out.Error != "" {
		return "", errors.Errorf("text-generation error: %s", out.Error)
	}
	return strings.TrimSpace(out.Response), nil
}

// AnalysisPrompt builds the data-analysis recommendation prompt for an
// uploaded file. The caller forwards it through Generate.
func AnalysisPrompt(filename, contentType string) (prompt, system string) {
	prompt = fmt.Sprintf(`Based on the uploaded file information, provide recommendations for:

File: %s
Type: %s

Please suggest:
1. Appropriate data validation checks
2. Recommended data transformations
3. Warehouse table design best practices
4. Performance optimization strategies
5. Data quality monitoring approaches

Keep recommendations practical and actionable.`, filename, contentType)
	return prompt, "You are a data engineering expert providing practical advice."
}

// ExplainPrompt builds the ETL-process explanation prompt for a file type.
func ExplainPrompt(fileType string) (prompt, system string) {
	prompt = fmt.Sprintf(`Explain the ETL process for ingesting %s files into a cloud warehouse, including:

1. Data extraction best practices
2. Common transformation requirements
3. Loading strategies and considerations
4. Potential challenges and solutions
5. Performance optimization tips

Keep the explanation clear and technical.`, fileType)
	return prompt, "You are an ETL expert explaining technical processes clearly."
}
