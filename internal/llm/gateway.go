// Package llm implements the LLM Gateway: it invokes an external provider's
// chat endpoint with bearer auth and site attribution headers, falls back
// to a preconfigured model exactly once on a 4xx/5xx when the caller did
// not pin a model, and surfaces the gateway's typed error taxonomy on a
// second failure. Streaming is exposed as a lazy, finite channel of content
// fragments terminated by a sentinel chunk.
//
// The shape of the outbound call (bytes.Buffer JSON body, bearer header,
// io.ReadAll + json.Unmarshal of the response) follows the teacher's
// internal/router provider-calling style; everything provider-registry,
// cost-tracking, and discovery related has been dropped since the gateway
// pins to one OpenAI-compatible chat endpoint plus one fallback model,
// rather than routing across a tenant-configured fleet of providers.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/salonflow/controlplane/internal/apierr"
	"github.com/salonflow/controlplane/pkg/contracts"
)

// Config configures the gateway's outbound call.
type Config struct {
	BaseURL       string
	APIKey        string
	DefaultModel  string
	FallbackModel string
	MaxTokens     int
	Temperature   float64
	SiteURL       string // attribution headers, e.g. OpenRouter's HTTP-Referer
	SiteName      string
}

// Gateway invokes the configured LLM provider's chat-completions endpoint.
type Gateway struct {
	cfg    Config
	client *http.Client
}

// New creates a Gateway with a 120s request timeout and a 30s dial timeout,
// per the gateway's behavior contract.
func New(cfg Config) *Gateway {
	return &Gateway{
		cfg: cfg,
		client: &http.Client{
			Timeout: 120 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 30 * time.Second}).DialContext,
			},
		},
	}
}

type chatCompletionRequest struct {
	Model       string                     `json:"model"`
	Messages    []contracts.ChatMessage    `json:"messages"`
	Temperature float64                    `json:"temperature,omitempty"`
	MaxTokens   int                        `json:"max_tokens,omitempty"`
	Stream      bool                       `json:"stream,omitempty"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Chat invokes the provider once, applying the fallback-once rule on a
// 4xx/5xx when req.Model is unset. It never retries on 2xx/3xx.
func (g *Gateway) Chat(ctx context.Context, req contracts.ChatRequest) (*contracts.ChatResponse, error) {
	model := req.Model
	pinned := model != ""
	if model == "" {
		model = g.cfg.DefaultModel
	}

	resp, status, err := g.call(ctx, req, model)
	if err == nil && status >= 200 && status < 400 {
		return resp, nil
	}

	if pinned || status < 400 {
		// Caller pinned a model, or the failure wasn't an HTTP 4xx/5xx
		// (e.g. a transport error) — no fallback, surface directly.
		return nil, classifyError(status, err)
	}
	if g.cfg.FallbackModel == "" || g.cfg.FallbackModel == model {
		return nil, classifyError(status, err)
	}

	log.Warn().Str("model", model).Str("fallback", g.cfg.FallbackModel).Int("status", status).
		Msg("llm gateway: falling back to secondary model")

	resp, status, err = g.call(ctx, req, g.cfg.FallbackModel)
	if err == nil && status >= 200 && status < 400 {
		return resp, nil
	}
	return nil, classifyError(status, err)
}

func (g *Gateway) call(ctx context.Context, req contracts.ChatRequest, model string) (*contracts.ChatResponse, int, error) {
	messages := make([]contracts.ChatMessage, 0, len(req.History)+2)
	if req.System != "" {
		messages = append(messages, contracts.ChatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, req.History...)
	messages = append(messages, contracts.ChatMessage{Role: "user", Content: req.Prompt})

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = g.cfg.MaxTokens
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = g.cfg.Temperature
	}

	body, err := json.Marshal(chatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	if g.cfg.SiteURL != "" {
		httpReq.Header.Set("HTTP-Referer", g.cfg.SiteURL)
	}
	if g.cfg.SiteName != "" {
		httpReq.Header.Set("X-Title", g.cfg.SiteName)
	}

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("provider request failed: %w", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, httpResp.StatusCode, fmt.Errorf("read provider response: %w", err)
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, httpResp.StatusCode, fmt.Errorf("decode provider response: %w", err)
	}
	if parsed.Error != nil {
		return nil, httpResp.StatusCode, fmt.Errorf("provider error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, httpResp.StatusCode, fmt.Errorf("provider returned no choices")
	}

	return &contracts.ChatResponse{
		ID:    parsed.ID,
		Model: parsed.Model,
		Choices: []contracts.ChatChoice{{
			Role:    parsed.Choices[0].Message.Role,
			Content: parsed.Choices[0].Message.Content,
		}},
		Usage: contracts.TokenUsage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}, httpResp.StatusCode, nil
}

func classifyError(status int, cause error) error {
	switch {
	case status == http.StatusTooManyRequests:
		return apierr.Wrap(apierr.ProviderRateLimited, "provider rate limited the request", cause)
	case status >= 400 && status < 600:
		return apierr.Wrap(apierr.ProviderUnavailable, fmt.Sprintf("provider returned status %d", status), cause)
	default:
		return apierr.Wrap(apierr.ProviderUnavailable, "provider request failed", cause)
	}
}

// Stream invokes the provider in streaming mode and returns a finite,
// not-restartable channel of content fragments terminated by a Done chunk.
// The OpenAI-compatible SSE framing ("data: {...}" lines, "data: [DONE]"
// sentinel) is parsed incrementally; the consumer drains the channel.
func (g *Gateway) Stream(ctx context.Context, req contracts.ChatRequest) (<-chan contracts.StreamChunk, error) {
	model := req.Model
	if model == "" {
		model = g.cfg.DefaultModel
	}

	messages := make([]contracts.ChatMessage, 0, len(req.History)+2)
	if req.System != "" {
		messages = append(messages, contracts.ChatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, req.History...)
	messages = append(messages, contracts.ChatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal stream request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, apierr.Wrap(apierr.ProviderUnavailable, "stream request failed", err)
	}
	if httpResp.StatusCode >= 400 {
		httpResp.Body.Close()
		return nil, classifyError(httpResp.StatusCode, nil)
	}

	out := make(chan contracts.StreamChunk, 8)
	go func() {
		defer close(out)
		defer httpResp.Body.Close()
		decodeSSE(ctx, httpResp.Body, out)
	}()
	return out, nil
}

// sseChunk mirrors the delta shape of an OpenAI-compatible streaming chunk.
type sseChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// decodeSSE reads "data: ..." lines from r, emitting one StreamChunk per
// delta and a final Done chunk on the "[DONE]" sentinel, EOF, or ctx
// cancellation. It never retries or reopens the stream.
func decodeSSE(ctx context.Context, r io.Reader, out chan<- contracts.StreamChunk) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			out <- contracts.StreamChunk{Done: true}
			return
		}

		var chunk sseChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		out <- contracts.StreamChunk{Delta: chunk.Choices[0].Delta.Content}
	}
	out <- contracts.StreamChunk{Done: true}
}
