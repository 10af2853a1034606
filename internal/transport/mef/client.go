// Package mef is the HTTP client for the Modernized e-File transmission
// service.
package mef

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"efile/internal/signer"
	"efile/internal/submission/models"
	id "efile/pkg/domain"
	dErrors "efile/pkg/domain-errors"
	"efile/pkg/platform/circuit"
	"efile/pkg/platform/sentinel"
	"efile/pkg/requestcontext"
)

const (
	// HeaderSubmissionID names the submission a transmission belongs to; MeF
	// keys acknowledgments by it.
	HeaderSubmissionID = "X-Submission-Id"

	contentTypeXML = "application/xml"
	maxBodyBytes   = 4 << 20
)

// ErrCircuitOpen is returned without contacting MeF while the breaker is open.
var ErrCircuitOpen = dErrors.Wrap(sentinel.ErrUnavailable, dErrors.CodeUnavailable, "mef circuit open")

// AuthenticationError means MeF refused the transmitter's credentials. It is
// never retried automatically.
type AuthenticationError struct {
	Status  int
	Message string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("mef authentication failed (%d): %s", e.Status, e.Message)
}

func (e *AuthenticationError) DomainCode() dErrors.Code { return dErrors.CodeUnauthorized }

func (e *AuthenticationError) Kind() string { return "authentication_error" }

// StatusError is an unexpected HTTP status from MeF.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("mef returned %d: %s", e.Status, e.Body)
}

func (e *StatusError) DomainCode() dErrors.Code { return dErrors.CodeUnavailable }

type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     *TokenIssuer
	breaker    *circuit.Breaker
	logger     *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func New(baseURL string, tokens *TokenIssuer, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		tokens:     tokens,
		breaker:    circuit.New("mef"),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "mef_client")
	return c
}

type handoffResponse struct {
	Accepted  bool   `json:"accepted"`
	Reference string `json:"reference"`
	Message   string `json:"message"`
}

// Transmit posts the signed envelope. A 4xx other than 401/403 is a refused
// handoff, not an error.
func (c *Client) Transmit(ctx context.Context, env signer.Envelope) (models.Handoff, error) {
	resp, err := c.do(ctx, http.MethodPost, "/submissions", signer.EncodeEnvelope(env))
	if err != nil {
		return models.Handoff{}, err
	}
	switch {
	case resp.status >= 200 && resp.status < 300:
		var body handoffResponse
		if err := json.Unmarshal(resp.body, &body); err != nil {
			return models.Handoff{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "decode handoff response")
		}
		return models.Handoff{Accepted: body.Accepted, Reference: body.Reference, Message: body.Message}, nil
	case resp.status >= 400 && resp.status < 500:
		var body handoffResponse
		if json.Unmarshal(resp.body, &body) != nil || body.Message == "" {
			body.Message = strings.TrimSpace(string(resp.body))
		}
		return models.Handoff{Accepted: false, Message: body.Message}, nil
	}
	return models.Handoff{}, &StatusError{Status: resp.status, Body: truncate(resp.body)}
}

// FetchAcknowledgment returns the acknowledgment bytes once MeF has one.
func (c *Client) FetchAcknowledgment(ctx context.Context, subID id.SubmissionID) ([]byte, bool, error) {
	resp, err := c.do(ctx, http.MethodGet, "/acknowledgments/"+url.PathEscape(subID.String()), nil)
	if err != nil {
		return nil, false, err
	}
	switch resp.status {
	case http.StatusOK:
		return resp.body, true, nil
	case http.StatusAccepted, http.StatusNoContent, http.StatusNotFound:
		return nil, false, nil
	}
	return nil, false, &StatusError{Status: resp.status, Body: truncate(resp.body)}
}

type response struct {
	status int
	body   []byte
}

// do sends one request through the breaker. 5xx and transport errors count
// as failures; authentication errors are returned as AuthenticationError.
func (c *Client) do(ctx context.Context, method, path string, body []byte) (response, error) {
	if !c.breaker.Allow() {
		return response{}, ErrCircuitOpen
	}
	token, err := c.tokens.Issue()
	if err != nil {
		return response{}, err
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return response{}, dErrors.Wrap(err, dErrors.CodeConfiguration, "build mef request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json, "+contentTypeXML)
	if body != nil {
		req.Header.Set("Content-Type", contentTypeXML)
	}
	if subID := requestcontext.SubmissionID(ctx); !subID.IsNil() {
		req.Header.Set(HeaderSubmissionID, subID.String())
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordFailure()
		if errors.Is(err, context.DeadlineExceeded) {
			return response{}, dErrors.Wrap(err, dErrors.CodeTimeout, "mef request timed out")
		}
		return response{}, err
	}
	defer httpResp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		c.recordFailure()
		return response{}, fmt.Errorf("read mef response: %w", err)
	}

	switch {
	case httpResp.StatusCode == http.StatusUnauthorized || httpResp.StatusCode == http.StatusForbidden:
		c.breaker.RecordSuccess()
		return response{}, &AuthenticationError{Status: httpResp.StatusCode, Message: truncate(data)}
	case httpResp.StatusCode >= 500:
		c.recordFailure()
	default:
		c.breaker.RecordSuccess()
	}
	return response{status: httpResp.StatusCode, body: data}, nil
}

func (c *Client) recordFailure() {
	if _, change := c.breaker.RecordFailure(); change.Opened {
		c.logger.Warn("mef circuit opened")
	}
}

func truncate(b []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
