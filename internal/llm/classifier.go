// Package llm asks an Anthropic model for a second opinion on a command's
// security tier. The static pattern classifier stays authoritative; callers
// fall back to it when the API is unreachable or returns garbage.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nextlevelbuilder/clawgate/internal/security"
)

const (
	defaultModel = "claude-sonnet-4-5-20250929"
	apiBase      = "https://api.anthropic.com/v1"
	apiVersion   = "2023-06-01"
)

const systemPrompt = `You classify shell commands for a security gateway.
Respond with only a JSON object: {"tier": "green"|"yellow"|"red", "action": "allow"|"ask"|"block", "reason": "<one sentence>"}.
green/allow is for clearly safe read-only commands, red/block for destructive or credential-stealing commands, yellow/ask for everything in between.`

// Classifier calls the Anthropic messages API to classify a command.
type Classifier struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

type Option func(*Classifier)

func WithModel(model string) Option {
	return func(c *Classifier) { c.model = model }
}

func WithBaseURL(baseURL string) Option {
	return func(c *Classifier) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// NewClassifier builds a classifier using the given API key.
func NewClassifier(apiKey string, opts ...Option) *Classifier {
	c := &Classifier{
		apiKey:  apiKey,
		baseURL: apiBase,
		model:   defaultModel,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type verdict struct {
	Tier   string `json:"tier"`
	Action string `json:"action"`
	Reason string `json:"reason"`
}

// Classify sends one command to the model and maps its answer onto the
// static classifier's verdict shape.
func (c *Classifier) Classify(ctx context.Context, command string) (security.Classification, error) {
	body, err := json.Marshal(messagesRequest{
		Model:     c.model,
		MaxTokens: 200,
		System:    systemPrompt,
		Messages:  []message{{Role: "user", Content: command}},
	})
	if err != nil {
		return security.Classification{}, fmt.Errorf("llm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return security.Classification{}, fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		return security.Classification{}, fmt.Errorf("llm: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return security.Classification{}, fmt.Errorf("llm: status %d: %s", resp.StatusCode, msg)
	}

	var mr messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return security.Classification{}, fmt.Errorf("llm: decode response: %w", err)
	}
	var text string
	for _, block := range mr.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return parseVerdict(command, text)
}

// parseVerdict extracts the JSON verdict from model output. Models sometimes
// wrap JSON in prose or code fences, so it scans for the first object.
func parseVerdict(command, text string) (security.Classification, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return security.Classification{}, fmt.Errorf("llm: no JSON verdict in response %q", text)
	}

	var v verdict
	if err := json.Unmarshal([]byte(text[start:end+1]), &v); err != nil {
		return security.Classification{}, fmt.Errorf("llm: parse verdict: %w", err)
	}

	tier := security.Tier(v.Tier)
	action := security.Action(v.Action)
	switch tier {
	case security.TierGreen, security.TierYellow, security.TierRed:
	default:
		return security.Classification{}, fmt.Errorf("llm: unknown tier %q", v.Tier)
	}
	switch action {
	case security.ActionAllow, security.ActionAsk, security.ActionBlock:
	default:
		return security.Classification{}, fmt.Errorf("llm: unknown action %q", v.Action)
	}

	reason := strings.TrimSpace(v.Reason)
	if reason == "" {
		reason = "Classified by model"
	}
	return security.Classification{
		Command:          command,
		Tier:             tier,
		Action:           action,
		Reason:           reason,
		RequiresApproval: action == security.ActionAsk,
	}, nil
}
