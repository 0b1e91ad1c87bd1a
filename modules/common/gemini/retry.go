package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"
)

// contentGenerator is the slice of *genai.Models the retry helper needs.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// RetryPolicy - how rate-limited calls are retried
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy - 3 attempts, 2s apart
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Backoff: 2 * time.Second}

// GenerateContentWithRetry - retry only on 429 / quota errors
// Any other error is returned immediately.
func GenerateContentWithRetry(
	ctx context.Context,
	models contentGenerator,
	model string,
	contents []*genai.Content,
	config *genai.GenerateContentConfig,
	policy RetryPolicy,
	logger *slog.Logger,
) (*genai.GenerateContentResponse, error) {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		result, err := models.GenerateContent(ctx, model, contents, config)
		if err == nil {
			if attempt > 1 {
				logger.Info("gemini call succeeded after retry", "attempt", attempt)
			}
			return result, nil
		}
		lastErr = err

		if !is429Error(err) {
			return nil, err
		}
		logger.Warn("gemini rate limited", "attempt", attempt, "max_attempts", policy.MaxAttempts, "err", err)

		if attempt == policy.MaxAttempts {
			break
		}
		select {
		case <-time.After(policy.Backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("rate limited after %d attempts: %w", policy.MaxAttempts, lastErr)
}

// is429Error - rate limit or quota exhaustion
func is429Error(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "quota") ||
		strings.Contains(msg, "resource_exhausted")
}
