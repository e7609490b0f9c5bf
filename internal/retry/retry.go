package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const (
	defaultBaseDelay      = 500 * time.Millisecond
	defaultMaxDelay       = 8 * time.Second
	defaultMultiplier     = 2.0
	defaultMaxAttempts    = 3
	defaultJitterFraction = 0.30
	defaultSnippetLimit   = 200
)

type Sleeper func(ctx context.Context, d time.Duration) error
type NowFunc func() time.Time
type RandFunc func() float64

// RequestFunc собирает новый запрос для каждой попытки (тело запроса одноразовое).
type RequestFunc func(ctx context.Context) (*http.Request, error)

// Policy параметры повторов. Нулевые поля заменяются значениями по умолчанию.
type Policy struct {
	// Name попадает в логи как upstream.
	Name           string
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	MaxAttempts    int
	JitterFraction float64
	SnippetLimit   int
	Sleep          Sleeper
	Now            NowFunc
	Rand           RandFunc
}

// DefaultPolicy политика для внешних API: 3 попытки, экспоненциальная задержка с джиттером.
func DefaultPolicy(name string) Policy {
	return withDefaults(Policy{Name: name})
}

// Response прочитанный ответ сервера.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// StatusError ответ со статусом, который имело смысл повторить.
type StatusError struct {
	StatusCode  int
	BodySnippet string
}

func (e *StatusError) Error() string {
	if e.BodySnippet == "" {
		return fmt.Sprintf("transient status %d", e.StatusCode)
	}
	return fmt.Sprintf("transient status %d: %s", e.StatusCode, e.BodySnippet)
}

// ExhaustedError все попытки исчерпаны.
type ExhaustedError struct {
	Cause    error
	Attempts int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry attempts exhausted after %d: %v", e.Attempts, e.Cause)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Cause
}

// Do выполняет запрос с повторами при сетевых сбоях, 408, 429 и 5xx.
// Тело ответа читается целиком. Ответы с прочими статусами возвращаются как есть:
// их интерпретирует вызывающий.
func Do(ctx context.Context, client *http.Client, policy Policy, logger *slog.Logger, newRequest RequestFunc) (*Response, error) {
	policy = withDefaults(policy)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := send(ctx, client, newRequest)
		if err != nil {
			if !isRetryableNetErr(ctx, err) {
				return nil, err
			}
			if attempt == policy.MaxAttempts {
				return nil, &ExhaustedError{Cause: err, Attempts: attempt}
			}
			delay := policy.jitterDelay(policy.backoffDelay(attempt))
			logRetry(logger, policy, attempt+1, 0, reasonForNetErr(err), delay, false, "")
			if err := policy.Sleep(ctx, delay); err != nil {
				return nil, err
			}
			continue
		}

		if !isRetryableStatus(resp.StatusCode) {
			return resp, nil
		}

		snippet := bodySnippet(resp.Body, policy.SnippetLimit)
		if attempt == policy.MaxAttempts {
			return resp, &ExhaustedError{
				Cause:    &StatusError{StatusCode: resp.StatusCode, BodySnippet: snippet},
				Attempts: attempt,
			}
		}

		retryAfter, usedRetryAfter := parseRetryAfter(resp.Header, policy.Now())
		delay := policy.nextDelay(attempt, retryAfter, usedRetryAfter)
		logRetry(logger, policy, attempt+1, resp.StatusCode, reasonForStatus(resp.StatusCode), delay, usedRetryAfter, snippet)
		if err := policy.Sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func send(ctx context.Context, client *http.Client, newRequest RequestFunc) (*Response, error) {
	req, err := newRequest(ctx)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func withDefaults(p Policy) Policy {
	if p.BaseDelay == 0 {
		p.BaseDelay = defaultBaseDelay
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = defaultMaxDelay
	}
	if p.Multiplier == 0 {
		p.Multiplier = defaultMultiplier
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.JitterFraction == 0 {
		p.JitterFraction = defaultJitterFraction
	}
	if p.SnippetLimit == 0 {
		p.SnippetLimit = defaultSnippetLimit
	}
	if p.Sleep == nil {
		p.Sleep = defaultSleep
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.Rand == nil {
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		p.Rand = rng.Float64
	}
	return p
}

func (p Policy) backoffDelay(retryIndex int) time.Duration {
	if retryIndex < 1 {
		retryIndex = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(retryIndex-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}

// jitterDelay разбрасывает задержку на ±JitterFraction.
func (p Policy) jitterDelay(delay time.Duration) time.Duration {
	if delay <= 0 || p.JitterFraction <= 0 {
		return delay
	}
	factor := 1 + (p.Rand()*2-1)*p.JitterFraction
	adjusted := float64(delay) * factor
	if adjusted < 0 {
		adjusted = 0
	}
	return time.Duration(adjusted)
}

func (p Policy) nextDelay(retryIndex int, retryAfter time.Duration, usedRetryAfter bool) time.Duration {
	if usedRetryAfter {
		return min(retryAfter, p.MaxDelay)
	}
	return p.jitterDelay(p.backoffDelay(retryIndex))
}

func defaultSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseRetryAfter(header http.Header, now time.Time) (time.Duration, bool) {
	value := strings.TrimSpace(header.Get("Retry-After"))
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, true
		}
		return time.Duration(seconds) * time.Second, true
	}
	if parsed, err := http.ParseTime(value); err == nil {
		return max(parsed.Sub(now), 0), true
	}
	return 0, false
}

func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func reasonForStatus(status int) string {
	switch status {
	case http.StatusTooManyRequests:
		return "rate limit"
	case http.StatusRequestTimeout:
		return "timeout"
	default:
		return "upstream 5xx"
	}
}

// isRetryableNetErr: отмена или дедлайн родительского контекста не повторяются.
func isRetryableNetErr(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "connection reset")
}

func reasonForNetErr(err error) string {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return "eof"
	case errors.Is(err, syscall.ECONNREFUSED):
		return "connection refused"
	case errors.Is(err, syscall.ECONNRESET), strings.Contains(strings.ToLower(err.Error()), "connection reset"):
		return "connection reset"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	return "network error"
}

func logRetry(logger *slog.Logger, p Policy, attempt int, status int, reason string, delay time.Duration, usedRetryAfter bool, snippet string) {
	if logger == nil {
		return
	}
	args := []any{
		slog.String("upstream", p.Name),
		slog.Int("attempt", attempt),
		slog.Int("max_attempts", p.MaxAttempts),
		slog.String("reason", reason),
		slog.Duration("retry_in", delay),
		slog.Bool("retry_after_used", usedRetryAfter),
	}
	if status > 0 {
		args = append(args, slog.Int("status", status))
	}
	if snippet != "" {
		args = append(args, slog.String("snippet", snippet))
	}
	logger.Warn("retrying request", args...)
}

func bodySnippet(body []byte, limit int) string {
	if len(body) == 0 || limit <= 0 {
		return ""
	}
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit])
}
