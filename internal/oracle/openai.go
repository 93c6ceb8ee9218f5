package oracle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"
)

// Default client settings.
const (
	defaultModel       = "gpt-4o-mini"
	defaultRatePerMin  = 50.0
	defaultBurst       = 5
	defaultMaxRetries  = 3
	defaultBaseBackoff = time.Second
)

// OpenAIConfig configures the OpenAI-compatible completer.
type OpenAIConfig struct {
	Model              string
	BaseURL            string // Empty means the public OpenAI endpoint
	APIKey             string `json:"-"`
	Temperature        float64
	RateLimitPerMinute float64
	Burst              int
	MaxRetries         int
	BaseBackoff        time.Duration
}

type llmCompleter struct {
	llm         llms.Model
	temperature float64
	limiter     *rate.Limiter
	maxRetries  int
	baseBackoff time.Duration
}

// NewOpenAICompleter creates a rate-limited Completer backed by an OpenAI-compatible chat model.
func NewOpenAICompleter(cfg OpenAIConfig) (Completer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("oracle API key required")
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}

	opts := []openai.Option{
		openai.WithModel(model),
		openai.WithToken(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}

	return newLLMCompleter(llm, cfg), nil
}

func newLLMCompleter(llm llms.Model, cfg OpenAIConfig) *llmCompleter {
	perMinute := cfg.RateLimitPerMinute
	if perMinute <= 0 {
		perMinute = defaultRatePerMin
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	} else if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}
	backoff := cfg.BaseBackoff
	if backoff <= 0 {
		backoff = defaultBaseBackoff
	}

	return &llmCompleter{
		llm:         llm,
		temperature: cfg.Temperature,
		limiter:     rate.NewLimiter(rate.Limit(perMinute/60.0), burst),
		maxRetries:  maxRetries,
		baseBackoff: backoff,
	}
}

// Complete sends prompt to the model, waiting on the rate limiter and retrying transient
// failures with exponential backoff.
func (c *llmCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() == nil {
			// The limiter refuses up front when the next token lands after the deadline
			return "", fmt.Errorf("rate limiter error: %w: %v", context.DeadlineExceeded, err)
		}
		return "", fmt.Errorf("rate limiter error: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.baseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		reply, err := llms.GenerateFromSinglePrompt(ctx, c.llm, prompt, llms.WithTemperature(c.temperature))
		if err == nil {
			if strings.TrimSpace(reply) == "" {
				return "", fmt.Errorf("empty response from model")
			}
			return reply, nil
		}

		lastErr = err
		if ctx.Err() != nil || !isRetryableError(err) {
			return "", err
		}
	}

	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

// statusCodePattern matches the status line langchaingo's OpenAI client puts in API errors.
var statusCodePattern = regexp.MustCompile(`status code: (\d{3})`)

// retryableStatus are the HTTP statuses worth retrying.
var retryableStatus = map[int]bool{429: true, 500: true, 502: true, 503: true, 504: true}

// retryablePhrases are substrings of transient provider errors that carry no status code.
var retryablePhrases = []string{"rate limit", "connection reset", "connection refused", "timeout"}

// isRetryableError checks if a provider error is worth retrying.
func isRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	if m := statusCodePattern.FindStringSubmatch(msg); m != nil {
		code, _ := strconv.Atoi(m[1])
		return retryableStatus[code]
	}
	for _, phrase := range retryablePhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

var _ Completer = (*llmCompleter)(nil)
