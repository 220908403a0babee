package tavusclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/mockinterview/pkg/logging"
)

const (
	defaultBaseURL   = "https://tavusapi.com/v2"
	defaultPersonaID = "pe13ed370726"
	defaultUserAgent = "mockinterview/0.1"
	maxResponseBytes = 1 << 20
)

var tracer = otel.Tracer("mockinterview.internal.tavusclient")

// Config controls how the Tavus client behaves.
type Config struct {
	BaseURL    string
	APIKey     string
	PersonaID  string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger
	UserAgent  string
}

// Client wraps the two Tavus CVI endpoints used by the interview flow. It holds
// no session state; a missing API key is reported per call as a config error.
type Client struct {
	apiKey     string
	baseURL    string
	personaID  string
	httpClient *http.Client
	logger     *logging.Logger
	userAgent  string
}

// New creates a configured Client with sane defaults.
func New(cfg Config) *Client {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	personaID := strings.TrimSpace(cfg.PersonaID)
	if personaID == "" {
		personaID = defaultPersonaID
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		baseURL:    baseURL,
		personaID:  personaID,
		httpClient: httpClient,
		logger:     logger,
		userAgent:  userAgent,
	}
}

// WithAPIKey returns a copy of the client that authenticates with key.
func (c *Client) WithAPIKey(key string) *Client {
	clone := *c
	clone.apiKey = strings.TrimSpace(key)
	return &clone
}

// HasAPIKey reports whether calls can be attempted at all.
func (c *Client) HasAPIKey() bool {
	return c.apiKey != ""
}

// Create starts a conversation. The returned Conversation carries at least one
// of ConversationID or ConversationURL.
func (c *Client) Create(ctx context.Context, req CreateRequest) (*Conversation, error) {
	const op = "create conversation"
	if !c.HasAPIKey() {
		return nil, configError(op)
	}
	if strings.TrimSpace(req.PersonaID) == "" {
		req.PersonaID = c.personaID
	}

	ctx, span := tracer.Start(ctx, "tavus.conversations.create")
	defer span.End()
	span.SetAttributes(
		attribute.String("tavus.persona_id", req.PersonaID),
		attribute.String("tavus.conversation_name", req.ConversationName),
	)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, &Error{Kind: KindProtocol, Op: op, Detail: "marshal request", Err: err}
	}
	data, err := c.invoke(ctx, op, "/conversations", body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
		return nil, err
	}

	var conv Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		perr := &Error{Kind: KindProtocol, Op: op, Detail: "decode response", Err: err}
		span.RecordError(perr)
		span.SetStatus(codes.Error, string(KindProtocol))
		return nil, perr
	}
	if conv.ConversationID == "" && conv.ConversationURL == "" {
		perr := &Error{Kind: KindProtocol, Op: op, Detail: "response missing conversation_id and conversation_url"}
		span.RecordError(perr)
		span.SetStatus(codes.Error, string(KindProtocol))
		return nil, perr
	}
	span.SetAttributes(attribute.String("tavus.conversation_id", conv.ConversationID))
	c.logger.Debug("tavus conversation created",
		"conversation_id", conv.ConversationID,
		"persona_id", req.PersonaID,
	)
	return &conv, nil
}

// End terminates a conversation. An empty id has nothing to end and succeeds
// without touching the network.
func (c *Client) End(ctx context.Context, conversationID string) error {
	const op = "end conversation"
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil
	}
	if !c.HasAPIKey() {
		return configError(op)
	}

	ctx, span := tracer.Start(ctx, "tavus.conversations.end")
	defer span.End()
	span.SetAttributes(attribute.String("tavus.conversation_id", conversationID))

	path := fmt.Sprintf("/conversations/%s/end", url.PathEscape(conversationID))
	if _, err := c.invoke(ctx, op, path, nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
		return err
	}
	c.logger.Debug("tavus conversation ended", "conversation_id", conversationID)
	return nil
}

func (c *Client) invoke(ctx context.Context, op, path string, body []byte) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Op: op, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Kind: KindRemote, Op: op, StatusCode: resp.StatusCode, Detail: remoteDetail(data)}
	}
	if readErr != nil {
		return nil, &Error{Kind: KindTransport, Op: op, Err: fmt.Errorf("read response: %w", readErr)}
	}
	return data, nil
}

// remoteDetail extracts the vendor's message from an error body when it has one.
func remoteDetail(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	if parsed.Message != "" {
		return parsed.Message
	}
	return parsed.Error
}
