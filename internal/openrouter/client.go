// Package openrouter talks to the OpenRouter chat completions API and turns model output into
// validated flashcard proposals.
package openrouter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/avast/retry-go"
	"go.uber.org/zap"
	"resty.dev/v3"

	"github.com/MarcoPoloResearchLab/cardloom/internal/ratelimit"
	"github.com/MarcoPoloResearchLab/cardloom/internal/validation"
)

const (
	DefaultBaseURL       = "https://openrouter.ai/api/v1"
	DefaultModel         = "anthropic/claude-3.5-sonnet"
	DefaultTimeout       = 30 * time.Second
	DefaultRetryAttempts = 2
	DefaultRetryDelay    = time.Second
	DefaultHTTPReferer   = "https://cardloom.app"
	DefaultAppTitle      = "Cardloom Flashcard Generator"

	// MaxSourceTextLength bounds sanitized source text in characters.
	MaxSourceTextLength = 10000

	defaultTemperature  = 0.7
	defaultMaxTokens    = 2000
	chatCompletionsPath = "/chat/completions"
)

var (
	ErrMissingAPIKey         = errors.New("openrouter: API key is required")
	ErrInsecureBaseURL       = errors.New("openrouter: base URL must use HTTPS")
	ErrInvalidTimeout        = errors.New("openrouter: Timeout must be greater than 0")
	ErrNegativeRetryAttempts = errors.New("openrouter: retry attempts cannot be negative")
	ErrNegativeRetryDelay    = errors.New("openrouter: retry delay cannot be negative")
)

// RateLimiter gates each outbound attempt.
type RateLimiter interface {
	Acquire(ctx context.Context) error
}

// Option customises a Client.
type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.timeout = timeout }
}

func WithRetryAttempts(attempts int) Option {
	return func(c *Client) { c.retryAttempts = attempts }
}

func WithRetryDelay(delay time.Duration) Option {
	return func(c *Client) { c.retryDelay = delay }
}

// WithHTTPClient sends requests through the supplied *http.Client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.transport = httpClient }
}

func WithRateLimiter(limiter RateLimiter) Option {
	return func(c *Client) { c.limiter = limiter }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func WithDefaultModel(model string) Option {
	return func(c *Client) { c.defaultModel = model }
}

func WithHTTPReferer(referer string) Option {
	return func(c *Client) { c.httpReferer = referer }
}

func WithAppTitle(title string) Option {
	return func(c *Client) { c.appTitle = title }
}

// Client calls the OpenRouter API with rate limiting, per-attempt deadlines and exponential backoff.
type Client struct {
	apiKey        string
	baseURL       string
	timeout       time.Duration
	retryAttempts int
	retryDelay    time.Duration
	httpReferer   string
	appTitle      string
	defaultModel  string

	transport *http.Client
	rest      *resty.Client
	limiter   RateLimiter
	validator *validation.Validator
	logger    *zap.Logger

	onBackoff func(time.Duration)
}

// NewClient validates the configuration and builds a Client. Without WithRateLimiter the client
// uses the default 60 requests per minute window.
func NewClient(apiKey string, options ...Option) (*Client, error) {
	client := &Client{
		apiKey:        strings.TrimSpace(apiKey),
		baseURL:       DefaultBaseURL,
		timeout:       DefaultTimeout,
		retryAttempts: DefaultRetryAttempts,
		retryDelay:    DefaultRetryDelay,
		httpReferer:   DefaultHTTPReferer,
		appTitle:      DefaultAppTitle,
		defaultModel:  DefaultModel,
	}
	for _, option := range options {
		if option != nil {
			option(client)
		}
	}

	if client.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if !strings.HasPrefix(client.baseURL, "https://") {
		return nil, ErrInsecureBaseURL
	}
	if client.timeout <= 0 {
		return nil, ErrInvalidTimeout
	}
	if client.retryAttempts < 0 {
		return nil, ErrNegativeRetryAttempts
	}
	if client.retryDelay < 0 {
		return nil, ErrNegativeRetryDelay
	}
	if strings.TrimSpace(client.defaultModel) == "" {
		client.defaultModel = DefaultModel
	}
	if client.logger == nil {
		client.logger = zap.NewNop()
	}
	if client.limiter == nil {
		client.limiter = ratelimit.NewDefault()
	}

	validator, err := validation.New()
	if err != nil {
		return nil, fmt.Errorf("openrouter: build validator: %w", err)
	}
	client.validator = validator

	if client.transport != nil {
		client.rest = resty.NewWithClient(client.transport)
	} else {
		client.rest = resty.New()
	}
	client.rest.SetBaseURL(client.baseURL)
	client.rest.SetHeader("Authorization", "Bearer "+client.apiKey)
	client.rest.SetHeader("Content-Type", "application/json")
	client.rest.SetHeader("HTTP-Referer", client.httpReferer)
	client.rest.SetHeader("X-Title", client.appTitle)

	return client, nil
}

// Close releases the underlying HTTP client.
func (c *Client) Close() error {
	return c.rest.Close()
}

// DefaultModel returns the model used when callers do not name one.
func (c *Client) DefaultModel() string {
	return c.defaultModel
}

// GenerateFlashcards asks the model for flashcard proposals about sourceText. An empty model
// selects the client default.
func (c *Client) GenerateFlashcards(ctx context.Context, sourceText, model string) ([]FlashcardProposal, error) {
	sanitized := SanitizeSourceText(sourceText)
	if sanitized == "" {
		return nil, newError(CodeInputValidation, "Source text cannot be empty")
	}
	if utf8.RuneCountInString(sanitized) > MaxSourceTextLength {
		return nil, newError(CodeInputValidation, fmt.Sprintf("Source text exceeds maximum length of %d characters", MaxSourceTextLength))
	}
	if strings.TrimSpace(model) == "" {
		model = c.defaultModel
	}

	response, err := c.complete(ctx, completionRequest{
		Model:          model,
		Messages:       flashcardMessages(sanitized),
		Temperature:    defaultTemperature,
		MaxTokens:      defaultMaxTokens,
		ResponseFormat: FlashcardResponseFormat(),
	})
	if err != nil {
		err = wrapUnexpected(err, "Unexpected error during flashcard generation")
		c.logFailure("generate_flashcards", model, err)
		return nil, err
	}

	proposals, err := parseProposals(response, c.validator)
	if err != nil {
		c.logFailure("generate_flashcards", model, err)
		return nil, err
	}
	return proposals, nil
}

// Chat sends an arbitrary chat completion request.
func (c *Client) Chat(ctx context.Context, request ChatRequest) (*ChatResponse, error) {
	if strings.TrimSpace(request.Model) == "" {
		return nil, newError(CodeInputValidation, "Model name is required")
	}
	if len(request.Messages) == 0 {
		return nil, newError(CodeInputValidation, "At least one message is required")
	}

	body := completionRequest{
		Model:            request.Model,
		Messages:         request.Messages,
		Temperature:      defaultTemperature,
		MaxTokens:        defaultMaxTokens,
		ResponseFormat:   request.ResponseFormat,
		TopP:             request.TopP,
		FrequencyPenalty: request.FrequencyPenalty,
		PresencePenalty:  request.PresencePenalty,
	}
	if request.Temperature != nil {
		body.Temperature = *request.Temperature
	}
	if request.MaxTokens != nil {
		body.MaxTokens = *request.MaxTokens
	}

	response, err := c.complete(ctx, body)
	if err != nil {
		err = wrapUnexpected(err, "Unexpected error during chat completion")
		c.logFailure("chat", request.Model, err)
		return nil, err
	}
	return response, nil
}

// complete runs the attempt loop. Only errors classified as retryable are retried, with a delay
// of retryDelay * 2^attempt between attempts.
func (c *Client) complete(ctx context.Context, body completionRequest) (*ChatResponse, error) {
	var result *ChatResponse
	err := retry.Do(
		func() error {
			response, attemptErr := c.attempt(ctx, body)
			if attemptErr != nil {
				return attemptErr
			}
			result = response
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.retryAttempts)+1),
		retry.LastErrorOnly(true),
		retry.RetryIf(IsRetryable),
		retry.DelayType(c.backoffDelay),
	)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) backoffDelay(attempt uint, err error, _ *retry.Config) time.Duration {
	delay := c.retryDelay * time.Duration(uint64(1)<<attempt)
	fields := []zap.Field{
		zap.Uint("attempt", attempt+1),
		zap.Duration("delay", delay),
	}
	if classified, ok := IsError(err); ok {
		fields = append(fields, zap.String("code", string(classified.Code)))
	}
	c.logger.Info("retrying openrouter request", fields...)
	if c.onBackoff != nil {
		c.onBackoff(delay)
	}
	return delay
}

func (c *Client) attempt(ctx context.Context, body completionRequest) (*ChatResponse, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	response, err := c.rest.R().
		SetContext(attemptCtx).
		SetBody(body).
		Post(chatCompletionsPath)
	if err != nil {
		return nil, classifyTransportError(ctx, attemptCtx, c.timeout.Milliseconds(), err)
	}

	payload := response.String()
	if response.IsError() {
		return nil, ClassifyStatus(response.StatusCode(), decodeAPIErrorMessage(payload))
	}
	return decodeChatResponse(payload)
}

func (c *Client) logFailure(operation, model string, err error) {
	fields := []zap.Field{
		zap.String("operation", operation),
		zap.String("model", model),
		zap.Error(err),
	}
	if classified, ok := IsError(err); ok {
		fields = append(fields, zap.String("code", string(classified.Code)), zap.Int("status", classified.StatusCode))
	}
	c.logger.Warn("openrouter request failed", fields...)
}

var _ RateLimiter = (*ratelimit.Limiter)(nil)
