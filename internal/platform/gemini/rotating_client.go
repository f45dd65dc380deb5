package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/docvet/scheduler/internal/config"
	"github.com/docvet/scheduler/internal/credential"
	"github.com/docvet/scheduler/internal/redact"
	"github.com/docvet/scheduler/internal/sched"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// CallFunc performs one generation call against a concrete client.
// Injectable so tests can script upstream behavior without network access.
type CallFunc func(ctx context.Context, client *genai.Client, model, prompt string) (string, error)

// RotatingClient fans outbound generation calls across multiple API
// credentials. Each call selects the least-loaded credential from the
// rotator, is paced by a shared rate limiter, and reports its outcome
// (with latency) back so failing credentials get blacklisted and healthy
// ones absorb the traffic.
type RotatingClient struct {
	clients map[string]*genai.Client
	rotator *credential.Rotator
	limiter *rate.Limiter
	model   string
	call    CallFunc
	logger  *slog.Logger
}

// NewRotatingClient builds one Gemini client per API key and wires them
// to the rotator. The rotator must have been constructed over the same
// key set.
func NewRotatingClient(
	ctx context.Context,
	cfg config.LLMConfig,
	keys []string,
	rotator *credential.Rotator,
	logger *slog.Logger,
) (*RotatingClient, error) {
	if rotator == nil {
		return nil, fmt.Errorf("%w: rotator cannot be nil", ErrInvalidConfig)
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", ErrInvalidConfig)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: at least one API key is required", ErrInvalidConfig)
	}

	clients := make(map[string]*genai.Client, len(keys))
	for _, key := range keys {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  key,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: failed to create client for %s: %v",
				ErrInvalidConfig, redact.CredentialID(key), err)
		}
		clients[key] = client
	}

	limit := rate.Inf
	if cfg.MinCallInterval > 0 {
		limit = rate.Every(cfg.MinCallInterval)
	}

	return &RotatingClient{
		clients: clients,
		rotator: rotator,
		limiter: rate.NewLimiter(limit, 1),
		model:   cfg.ModelName,
		call:    generateContent,
		logger:  logger.With("component", "gemini_client"),
	}, nil
}

// generateContent is the production CallFunc.
func generateContent(ctx context.Context, client *genai.Client, model, prompt string) (string, error) {
	resp, err := client.Models.GenerateContent(ctx, model, genai.Text(prompt), nil)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("%w: no content generated", ErrInvalidResponse)
	}
	if resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
		return "", fmt.Errorf("%w", ErrContentBlocked)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("%w: empty response text", ErrInvalidResponse)
	}
	return text, nil
}

// GenerateText runs one generation call: pace, select a credential,
// call, measure, report. Credential exhaustion and rate-limit style
// upstream failures surface as transient errors so the worker pool
// requeues the task instead of failing it.
func (c *RotatingClient) GenerateText(ctx context.Context, prompt string) (string, error) {
	if prompt == "" {
		return "", ErrEmptyPrompt
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	key, err := c.rotator.Select()
	if err != nil {
		// All credentials exhausted: retryable by contract.
		return "", err
	}

	client, ok := c.clients[key]
	if !ok {
		return "", fmt.Errorf("%w: rotator returned unconfigured credential %s",
			ErrInvalidConfig, redact.CredentialID(key))
	}

	start := time.Now()
	text, err := c.call(ctx, client, c.model, prompt)
	elapsed := time.Since(start)

	if err != nil {
		classified := classify(err)
		// A permanent refusal is not the credential's fault; only
		// transport and quota failures count against it.
		c.rotator.ReportLatency(key, !isCredentialFailure(classified), elapsed)

		c.logger.Warn("generation call failed",
			"credential", redact.CredentialID(key),
			"elapsed", elapsed,
			"error", redact.Error(err))
		return "", classified
	}

	c.rotator.ReportLatency(key, true, elapsed)

	c.logger.Debug("generation call succeeded",
		"credential", redact.CredentialID(key),
		"elapsed", elapsed)
	return text, nil
}

// classify maps an upstream error onto the scheduler's taxonomy:
// rate limits, quota exhaustion, timeouts, and 5xx responses are
// transient; safety blocks and malformed responses are permanent.
func classify(err error) error {
	if errors.Is(err, ErrContentBlocked) || errors.Is(err, ErrInvalidResponse) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return err // already transient by classification
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"429", "rate limit", "quota", "resource exhausted",
		"500", "502", "503", "unavailable", "timeout", "deadline",
	} {
		if strings.Contains(msg, marker) {
			return sched.Transient(err)
		}
	}
	return err
}

// isCredentialFailure reports whether the classified error should count
// against the credential that made the call.
func isCredentialFailure(err error) bool {
	return sched.IsTransient(err) ||
		!(errors.Is(err, ErrContentBlocked) || errors.Is(err, ErrInvalidResponse))
}
