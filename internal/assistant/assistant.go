// Package assistant proxies chat messages to the Gemini generateContent API
// so the API key never leaves the server.
package assistant

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/sakif/codeflow/internal/apperror"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com"
	DefaultModel   = "gemini-1.5-flash"

	MaxMessageLength = 8000
	// Only the most recent turns are forwarded.
	MaxHistory = 40
)

// ErrNotConfigured is returned when no API key was provided.
var ErrNotConfigured = errors.New("assistant: AI service not configured")

// Message is one turn of the conversation. Older clients send the text in
// "content" instead of "text"; both are accepted.
type Message struct {
	Role    string `json:"role"`
	Text    string `json:"text,omitempty"`
	Content string `json:"content,omitempty"`
}

func (m Message) body() string {
	if m.Text != "" {
		return m.Text
	}
	return m.Content
}

type ChatRequest struct {
	Message           string    `json:"message"`
	History           []Message `json:"conversationHistory"`
	SystemInstruction string    `json:"systemInstruction,omitempty"`
}

type ChatReply struct {
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

type Client struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
	logger  *slog.Logger
	now     func() time.Time
}

func New(apiKey string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		model:   DefaultModel,
		http:    &http.Client{Timeout: 60 * time.Second},
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool { return c.apiKey != "" }

// generateContent wire types.
type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents          []content `json:"contents"`
	SystemInstruction *content  `json:"systemInstruction,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Chat sends the conversation and returns the model's reply.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatReply, error) {
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return nil, apperror.ValidationFailed("message", "message is required")
	}
	if len([]rune(msg)) > MaxMessageLength {
		return nil, apperror.ValidationFailed("message", fmt.Sprintf("message must be at most %d characters", MaxMessageLength))
	}
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	body, err := sonic.Marshal(buildRequest(req.History, msg, req.SystemInstruction))
	if err != nil {
		return nil, fmt.Errorf("assistant: encoding request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, url.PathEscape(c.model))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("assistant: building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("assistant: calling model: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("assistant: reading response: %w", err)
	}

	var out generateResponse
	if err := sonic.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("assistant: decoding response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 300 || out.Error != nil {
		detail := http.StatusText(resp.StatusCode)
		if out.Error != nil {
			detail = out.Error.Message
		}
		c.logger.Error("model call failed", slog.Int("status", resp.StatusCode), slog.String("detail", detail))
		return nil, fmt.Errorf("assistant: model returned %d: %s", resp.StatusCode, detail)
	}

	text := replyText(out)
	if text == "" {
		if out.PromptFeedback != nil && out.PromptFeedback.BlockReason != "" {
			return nil, fmt.Errorf("assistant: prompt blocked: %s", out.PromptFeedback.BlockReason)
		}
		text = "No response available"
	}

	return &ChatReply{Response: text, Timestamp: c.now().UTC()}, nil
}

func buildRequest(history []Message, msg, system string) generateRequest {
	if len(history) > MaxHistory {
		history = history[len(history)-MaxHistory:]
	}

	var r generateRequest
	for _, m := range history {
		text := strings.TrimSpace(m.body())
		if text == "" {
			continue
		}
		r.Contents = append(r.Contents, content{Role: normaliseRole(m.Role), Parts: []part{{Text: text}}})
	}
	r.Contents = append(r.Contents, content{Role: "user", Parts: []part{{Text: msg}}})

	if s := strings.TrimSpace(system); s != "" {
		r.SystemInstruction = &content{Parts: []part{{Text: s}}}
	}
	return r
}

// normaliseRole maps chat roles onto the two Gemini accepts.
func normaliseRole(role string) string {
	switch strings.ToLower(role) {
	case "model", "assistant", "ai", "bot":
		return "model"
	default:
		return "user"
	}
}

func replyText(out generateResponse) string {
	if len(out.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}
