// Package llm wraps the chat completion API behind a single prompt-in, text-out call.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/todo-1m/tms/internal/platform/config"
	"github.com/todo-1m/tms/internal/platform/logging"
	"github.com/todo-1m/tms/internal/platform/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	ErrDisabled   = errors.New("language model is not configured")
	ErrEmptyReply = errors.New("language model returned no choices")
)

const systemPrompt = "You are a concise productivity assistant for a task management service."

type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Disabled is used when no API key is configured; every call fails with ErrDisabled.
type Disabled struct{}

func (Disabled) Complete(context.Context, string) (string, error) {
	return "", ErrDisabled
}

type Client struct {
	api     *openai.Client
	model   string
	timeout time.Duration
	limiter *rate.Limiter
	log     *zap.Logger
}

// New returns Disabled when cfg carries no API key.
func New(cfg config.LLMConfig, log *zap.Logger) Completer {
	if strings.TrimSpace(cfg.APIKey) == "" {
		logging.OrNop(log).Info("language model disabled: OPENAI_API_KEY not set")
		return Disabled{}
	}
	return NewClient(cfg, log)
}

func NewClient(cfg config.LLMConfig, log *zap.Logger) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &Client{
		api:     openai.NewClientWithConfig(oc),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		limiter: rate.NewLimiter(limit, 1),
		log:     logging.OrNop(log),
	}
}

func (c *Client) Complete(ctx context.Context, prompt string) (reply string, err error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("llm rate limit: %w", err)
	}

	start := time.Now()
	defer func() {
		metrics.ObserveSince(metrics.LLMCalls.WithLabelValues(metrics.Result(err)), start)
	}()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyReply
	}
	c.log.Debug("llm reply received",
		zap.String("model", c.model),
		zap.String("finish_reason", string(resp.Choices[0].FinishReason)),
		zap.Duration("elapsed", time.Since(start)))
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
