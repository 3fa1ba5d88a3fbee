package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/local/minerudispatch/internal/metrics"
)

// ErrRateLimited marks a 429 from the provider.
var ErrRateLimited = errors.New("rate_limited")

// canonical endpoints for providers that expose the OpenAI-compatible
// chat completions surface
var defaultBaseURLs = map[string]string{
	"openai": "https://api.openai.com/v1",
	"gemini": "https://generativelanguage.googleapis.com/v1beta/openai",
}

// Client calls OpenAI-compatible chat completions with an inline image.
type Client struct {
	http *http.Client
}

func NewClient() *Client {
	return &Client{http: &http.Client{Timeout: 120 * time.Second}}
}

type chatMessage struct {
	Role    string           `json:"role"`
	Content []map[string]any `json:"content"`
}

type chatReq struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResp struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends one image with the prompt and returns the model text.
func (c *Client) Complete(ctx context.Context, p *Provider, model, prompt, imagePath string) (string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("read image %s: %w", imagePath, err)
	}
	mime := mimetype.Detect(data).String()
	if !strings.HasPrefix(mime, "image/") {
		mime = "image/jpeg"
	}
	imageURL := fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data))

	payload := chatReq{
		Model: model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []map[string]any{
				{"type": "text", "text": prompt},
				{"type": "image_url", "image_url": map[string]string{"url": imageURL}},
			},
		}},
		Temperature: 0,
		MaxTokens:   4096,
	}

	base := p.NextBaseURL()
	if base == "" {
		base = defaultBaseURLs[p.Name]
	}
	if base == "" {
		return "", fmt.Errorf("vision provider %s has no base URL configured", p.Name)
	}

	started := time.Now()
	text, err := c.post(ctx, p, base, payload)
	result := "success"
	if err != nil {
		result = "error"
		if errors.Is(err, ErrRateLimited) {
			result = "rate_limited"
		}
	}
	metrics.ObserveVision(p.Name, model, result, time.Since(started))
	return text, err
}

func (c *Client) post(ctx context.Context, p *Provider, base string, payload chatReq) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	url := strings.TrimRight(base, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%s vision request: %w", p.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("%s: %w", p.Name, ErrRateLimited)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%s vision status %d: %s", p.Name, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var r chatResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return "", fmt.Errorf("%s vision decode: %w", p.Name, err)
	}
	if len(r.Choices) == 0 {
		return "", fmt.Errorf("%s vision returned no choices", p.Name)
	}
	return r.Choices[0].Message.Content, nil
}
