package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"AutoScript/internal/backend"
	"AutoScript/internal/retry"
)

// DefaultBaseURL is the OpenRouter chat-completions API root.
const DefaultBaseURL = "https://openrouter.ai/api/v1"

// Config holds the collaborators of an Executor. Zero values get sensible defaults.
type Config struct {
	BaseURL    string
	Headers    map[string]string
	HTTPClient *http.Client
	Policy     retry.Policy
	Logger     *slog.Logger
	Tracer     trace.Tracer
	Meter      metric.Meter
}

// Executor sends chat-completion requests and retries failed attempts with backoff.
type Executor struct {
	endpoint   string
	headers    map[string]string
	httpClient *http.Client
	policy     retry.Policy
	logger     *slog.Logger
	tracer     trace.Tracer
	meter      metric.Meter

	duration metric.Float64Histogram
	attempts metric.Int64Counter
	failures metric.Int64Counter
}

// New creates an Executor from cfg
func New(cfg Config) *Executor {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}

	policy := cfg.Policy
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer("executor")
	}
	meter := cfg.Meter
	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter("executor")
	}

	e := &Executor{
		endpoint:   baseURL + "/chat/completions",
		headers:    headers,
		httpClient: httpClient,
		policy:     policy,
		logger:     logger,
		tracer:     tracer,
		meter:      meter,
	}

	var err error
	e.duration, err = meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
	)
	if err != nil {
		logger.Warn("failed to create duration histogram", "error", err)
	}
	e.attempts, err = meter.Int64Counter(
		"llm.request.attempts",
		metric.WithDescription("Completion attempts issued"),
	)
	if err != nil {
		logger.Warn("failed to create attempts counter", "error", err)
	}
	e.failures, err = meter.Int64Counter(
		"llm.request.failures",
		metric.WithDescription("Failed completion attempts by kind"),
	)
	if err != nil {
		logger.Warn("failed to create failures counter", "error", err)
	}

	return e
}

// CallOption customises a single Execute call
type CallOption func(*call)

type call struct {
	check    func(string) error
	fallback string
	name     string
}

// WithCheck runs check on every successful response body. A non-nil result fails the
// attempt, which is then retried like any other failure.
func WithCheck(check func(string) error) CallOption {
	return func(c *call) { c.check = check }
}

// WithFallback sets the user-facing message carried by ExhaustedError.
func WithFallback(msg string) CallOption {
	return func(c *call) { c.fallback = msg }
}

// WithName labels the call in logs and spans.
func WithName(name string) CallOption {
	return func(c *call) { c.name = name }
}

// Execute sends spec until it succeeds or the retry policy gives up. It returns the raw
// message content exactly as received. Terminal failures are *ExhaustedError; a cancelled
// context ends the loop early with the context error.
func (e *Executor) Execute(ctx context.Context, spec backend.RequestSpec, opts ...CallOption) (string, error) {
	c := call{fallback: DefaultFallback, name: "chat_completion"}
	for _, opt := range opts {
		opt(&c)
	}

	ctx, span := e.tracer.Start(ctx, c.name)
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", spec.Model),
		attribute.Int("llm.messages", len(spec.Messages)),
	)

	policy := e.policy
	policy.OnFailure = func(attempt int, err error) {
		kind := failureKind(err)
		e.logger.Warn("attempt failed",
			"call", c.name,
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"kind", kind,
			"reason", err.Error(),
		)
		span.AddEvent("attempt_failed", trace.WithAttributes(
			attribute.Int("attempt", attempt),
			attribute.String("kind", kind),
		))
		if e.failures != nil {
			e.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
		}
	}

	res := retry.Do(ctx, policy, func(ctx context.Context, attempt int) (string, error) {
		text, err := e.send(ctx, spec, attempt)
		if err != nil {
			return "", err
		}
		if c.check != nil {
			if err := c.check(text); err != nil {
				return "", err
			}
		}
		return text, nil
	})

	span.SetAttributes(attribute.Int("llm.attempts", res.Attempts))
	if res.Err == nil {
		e.logger.Info("request succeeded", "call", c.name, "attempts", res.Attempts, "content_length", len(res.Value))
		return res.Value, nil
	}

	span.RecordError(res.Err)
	span.SetStatus(codes.Error, res.Err.Error())

	var exhausted *retry.ExhaustedError
	if errors.As(res.Err, &exhausted) {
		e.logger.Error("request exhausted retries", "call", c.name, "attempts", exhausted.Attempts, "error", exhausted.Last)
		return "", &ExhaustedError{Attempts: exhausted.Attempts, Last: exhausted.Last, Fallback: c.fallback}
	}

	e.logger.Warn("request cancelled", "call", c.name, "attempts", res.Attempts, "error", res.Err)
	return "", fmt.Errorf("request cancelled after %d attempts: %w", res.Attempts, res.Err)
}

// send performs a single attempt
func (e *Executor) send(ctx context.Context, spec backend.RequestSpec, attempt int) (string, error) {
	ctx, span := e.tracer.Start(ctx, "chat_completion_attempt")
	defer span.End()
	span.SetAttributes(attribute.Int("attempt", attempt))

	if e.attempts != nil {
		e.attempts.Add(ctx, 1)
	}
	start := time.Now()

	jsonData, err := json.Marshal(backend.NewOpenAIRequest(spec))
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+spec.Credential)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range e.headers {
		req.Header.Set(k, v)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", &NetworkError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &NetworkError{Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if e.duration != nil {
		e.duration.Record(ctx, float64(time.Since(start).Milliseconds()))
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &ServiceError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var apiResp backend.OpenAIResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", &MalformedError{Reason: "failed to unmarshal response", Err: err}
	}

	e.recordUsage(ctx, apiResp.Usage)

	content, ok := apiResp.Content()
	if !ok {
		return "", &MalformedError{Reason: "missing choices[0].message.content"}
	}
	return content, nil
}

// recordUsage records OpenTelemetry counters from usage data
func (e *Executor) recordUsage(ctx context.Context, usage map[string]interface{}) {
	for key, value := range usage {
		n, ok := value.(float64)
		if !ok {
			continue
		}
		counter, err := e.meter.Int64Counter(
			fmt.Sprintf("llm.usage.%s", key),
			metric.WithDescription(fmt.Sprintf("LLM usage metric: %s", key)),
		)
		if err != nil {
			e.logger.Warn("failed to create counter", "key", key, "error", err)
			continue
		}
		counter.Add(ctx, int64(n))
	}
}
