package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/relaycore/relaybot/internal/httpkit"
	"github.com/relaycore/relaybot/internal/logging"
	"github.com/relaycore/relaybot/internal/metrics"
	"github.com/relaycore/relaybot/internal/tracing"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrUnknownService is returned when a request names an ai_service that is
// not present in the client's endpoint registry.
var ErrUnknownService = errors.New("llm: unknown ai_service")

// chatMessage is a single OpenAI-compatible chat message.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the wire body for POST <base>/v1/chat/completions.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// OpenAICompatibleClient calls an OpenAI-compatible chat-completion endpoint,
// with the base URL per call resolved from a small registry keyed by
// service name (the room's configured ai_service). Every call is routed
// through a circuit breaker per service: repeated upstream failures trip
// the breaker so subsequent calls fail fast into the deterministic
// fallback strings instead of piling up retries that would stall the
// reply pipeline or the scheduler loop.
type OpenAICompatibleClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoints  map[string]string // ai_service name -> base URL
	logAPI     bool

	breakers map[string]*gobreaker.CircuitBreaker[*chatResponse]
}

// NewOpenAICompatibleClient builds a client backed by the given ai_service
// registry (service name -> base URL, e.g. {"local": "http://localhost:11434"}).
// logAPI enables log_api forensics: every request/response body is logged
// at logging.LevelTrace, which is noisy enough to keep behind its own
// toggle even when log_level is already trace.
func NewOpenAICompatibleClient(endpoints map[string]string, logAPI bool, logger *slog.Logger) *OpenAICompatibleClient {
	if logger == nil {
		logger = slog.Default()
	}

	c := &OpenAICompatibleClient{
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(30*time.Second),
			httpkit.WithTransport(httpkit.NewTransport()),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithLogger(logger),
		),
		logger:    logger,
		endpoints: endpoints,
		logAPI:    logAPI,
		breakers:  make(map[string]*gobreaker.CircuitBreaker[*chatResponse], len(endpoints)),
	}

	for name := range endpoints {
		c.breakers[name] = newBreaker(name, logger)
	}

	return c
}

func newBreaker(name string, logger *slog.Logger) *gobreaker.CircuitBreaker[*chatResponse] {
	return gobreaker.NewCircuitBreaker[*chatResponse](gobreaker.Settings{
		Name:        "llm:" + name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(cbName string, from, to gobreaker.State) {
			logger.Warn("llm circuit breaker state change", "breaker", cbName, "from", from, "to", to)
		},
	})
}

// breakerFor returns the circuit breaker for service, creating one if
// none exists. call rejects services missing from the endpoint registry
// before reaching here, and that registry is fixed at construction (a
// rehash does not add services), so every service it sees already has
// a breaker.
func (c *OpenAICompatibleClient) breakerFor(service string) *gobreaker.CircuitBreaker[*chatResponse] {
	if cb, ok := c.breakers[service]; ok {
		return cb
	}
	cb := newBreaker(service, c.logger)
	c.breakers[service] = cb
	return cb
}

func (c *OpenAICompatibleClient) call(ctx context.Context, operation, service, apiKey string, req chatRequest) (string, error) {
	ctx, span := tracing.Tracer().Start(ctx, "llm.call",
		trace.WithAttributes(
			attribute.String("llm.operation", operation),
			attribute.String("llm.service", service),
			attribute.String("llm.model", req.Model),
		),
	)
	defer span.End()

	baseURL, ok := c.endpoints[service]
	if !ok {
		span.SetStatus(codes.Error, "unknown ai_service")
		metrics.LLMCalls.WithLabelValues(operation, "error").Inc()
		return "", fmt.Errorf("%w: %q", ErrUnknownService, service)
	}

	cb := c.breakerFor(service)

	resp, err := cb.Execute(func() (*chatResponse, error) {
		return c.doRequest(ctx, baseURL, apiKey, req)
	})
	if err != nil {
		c.logger.Warn("llm call failed", "service", service, "model", req.Model, "error", err)
		outcome := "error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			outcome = "breaker_open"
		}
		span.SetStatus(codes.Error, err.Error())
		metrics.LLMCalls.WithLabelValues(operation, outcome).Inc()
		return "", err
	}

	if resp.Error != nil {
		span.SetStatus(codes.Error, resp.Error.Message)
		metrics.LLMCalls.WithLabelValues(operation, "error").Inc()
		return "", fmt.Errorf("llm: upstream error: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		span.SetStatus(codes.Error, "empty response")
		metrics.LLMCalls.WithLabelValues(operation, "error").Inc()
		return "", errors.New("llm: empty response")
	}
	metrics.LLMCalls.WithLabelValues(operation, "ok").Inc()
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAICompatibleClient) doRequest(ctx context.Context, baseURL, apiKey string, body chatRequest) (*chatResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	logging.TraceAPI(c.logger, c.logAPI, "request", string(payload))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("llm: upstream status %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 2048))
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	logging.TraceAPI(c.logger, c.logAPI, "response", string(respBody))

	var out chatResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

// GenerateReply implements Client.
func (c *OpenAICompatibleClient) GenerateReply(ctx context.Context, req ReplyRequest) (string, error) {
	messages := []chatMessage{{Role: "system", Content: req.SystemPrompt}}
	if req.Roster != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.Roster})
	}
	if req.History != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.History})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Turn})

	return c.call(ctx, "chat", req.Service, req.APIKey, chatRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: orDefault(req.Temperature, ChatTemperature),
		MaxTokens:   orDefaultInt(req.MaxTokens, ChatMaxTokens),
	})
}

// GenerateTopic implements Client.
func (c *OpenAICompatibleClient) GenerateTopic(ctx context.Context, req TopicRequest) (string, error) {
	messages := []chatMessage{{Role: "system", Content: req.SystemPrompt}}
	if req.History != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.History})
	}
	messages = append(messages, chatMessage{Role: "user", Content: "Propose a new topic."})

	return c.call(ctx, "topic", req.Service, req.APIKey, chatRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: orDefault(req.Temperature, OtherTemperature),
		MaxTokens:   orDefaultInt(req.MaxTokens, OtherMaxTokens),
	})
}

// GenerateKickReason implements Client.
func (c *OpenAICompatibleClient) GenerateKickReason(ctx context.Context, req KickRequest) (string, error) {
	messages := []chatMessage{
		{Role: "system", Content: req.SystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Give a short reason to kick %s.", req.Target)},
	}

	return c.call(ctx, "kick", req.Service, req.APIKey, chatRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: orDefault(req.Temperature, OtherTemperature),
		MaxTokens:   orDefaultInt(req.MaxTokens, OtherMaxTokens),
	})
}

// GenerateEntrance implements Client.
func (c *OpenAICompatibleClient) GenerateEntrance(ctx context.Context, req EntranceRequest) (string, error) {
	messages := []chatMessage{
		{Role: "system", Content: req.SystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Greet %s arriving in the room.", req.Nick)},
	}

	return c.call(ctx, "entrance", req.Service, req.APIKey, chatRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: orDefault(req.Temperature, OtherTemperature),
		MaxTokens:   orDefaultInt(req.MaxTokens, OtherMaxTokens),
	})
}

func orDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
