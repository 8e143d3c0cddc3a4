// Package pingone is the token-injecting gateway to the PingOne management API.
package pingone

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pingone-bulk-users/internal/apperrors"
	"github.com/pingone-bulk-users/internal/backoff"
	"github.com/pingone-bulk-users/internal/models"
	"github.com/rs/zerolog"
)

// TokenSource supplies bearer tokens and the credentials they were issued for
type TokenSource interface {
	AccessToken(ctx context.Context, override *models.Credentials) (string, error)
	Credentials() (models.Credentials, error)
	Invalidate()
}

// Config holds outbound call settings
type Config struct {
	Timeout time.Duration
	Retry   backoff.Policy
	// BaseURL overrides the region-derived API base URL
	BaseURL string
}

// CallOptions tunes a single call
type CallOptions struct {
	Query   url.Values
	Headers map[string]string
	// Area overrides the friendly-message area derived from the path
	Area apperrors.Area
}

// Response is a normalized API response
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// IsJSON reports whether the body was declared as JSON
func (r *Response) IsJSON() bool {
	mt, _, err := mime.ParseMediaType(r.ContentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// Decode parses a JSON body into v
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return nil
	}
	if !r.IsJSON() {
		return fmt.Errorf("response is %q, not JSON", r.ContentType)
	}
	return json.Unmarshal(r.Body, v)
}

// Text returns a non-JSON body as text
func (r *Response) Text() string {
	return string(r.Body)
}

// Gateway wraps outbound calls with token injection, region resolution, retries and error normalization
type Gateway struct {
	tokens TokenSource
	client *http.Client
	cfg    Config
	sleep  backoff.SleepFunc
	log    zerolog.Logger
}

// GatewayOption customizes a Gateway
type GatewayOption func(*Gateway)

// WithClient replaces the HTTP client
func WithClient(c *http.Client) GatewayOption {
	return func(g *Gateway) { g.client = c }
}

// WithRetrySleep replaces the wait between retries
func WithRetrySleep(fn backoff.SleepFunc) GatewayOption {
	return func(g *Gateway) { g.sleep = fn }
}

// NewGateway creates a gateway
func NewGateway(tokens TokenSource, cfg Config, log zerolog.Logger, opts ...GatewayOption) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	g := &Gateway{
		tokens: tokens,
		client: &http.Client{},
		cfg:    cfg,
		sleep:  backoff.Sleep,
		log:    log.With().Str("component", "gateway").Logger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// resolve returns the environment-scoped base URL, failing before any network call on a bad region
func (g *Gateway) resolve() (string, error) {
	creds, err := g.tokens.Credentials()
	if err != nil {
		return "", err
	}
	regionBase, err := APIBaseURL(creds.Region)
	if err != nil {
		return "", err
	}
	base := g.cfg.BaseURL
	if base == "" {
		base = regionBase
	}
	return strings.TrimRight(base, "/") + "/environments/" + url.PathEscape(creds.EnvironmentID), nil
}

// Call sends method to the environment-relative path, or to path as-is when it is an absolute URL
func (g *Gateway) Call(ctx context.Context, method, path string, body any, opts *CallOptions) (*Response, error) {
	if opts == nil {
		opts = &CallOptions{}
	}
	target := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		base, err := g.resolve()
		if err != nil {
			return nil, err
		}
		target = base + "/" + strings.TrimLeft(path, "/")
	}
	if len(opts.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + opts.Query.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	area := opts.Area
	if area == "" {
		area = apperrors.AreaForPath(method, path)
	}

	var resp *Response
	start := time.Now()
	err := g.cfg.Retry.Retry(ctx, apperrors.Retryable, func(attempt int) error {
		var callErr error
		resp, callErr = g.send(ctx, method, target, payload, opts, area)
		return callErr
	},
		backoff.WithSleep(g.sleep),
		backoff.OnRetry(func(attempt int, delay time.Duration, err error) {
			g.log.Warn().
				Err(err).
				Str("method", method).
				Str("path", path).
				Int("attempt", attempt+1).
				Dur("delay", delay).
				Msg("Retrying PingOne call")
		}),
	)

	event := g.log.Debug()
	if err != nil {
		event = g.log.Warn().Err(err)
	}
	event.Str("method", method).Str("path", path).Dur("duration", time.Since(start)).Msg("PingOne call completed")

	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (g *Gateway) send(ctx context.Context, method, target string, payload []byte, opts *CallOptions, area apperrors.Area) (*Response, error) {
	resp, err := g.attempt(ctx, method, target, payload, opts, area)
	if err != nil && apperrors.KindOf(err) == apperrors.KindAuthentication {
		// A rejected token may have been revoked early; refresh once
		g.tokens.Invalidate()
		resp, err = g.attempt(ctx, method, target, payload, opts, area)
	}
	return resp, err
}

func (g *Gateway) attempt(ctx context.Context, method, target string, payload []byte, opts *CallOptions, area apperrors.Area) (*Response, error) {
	accessToken, err := g.tokens.AccessToken(ctx, nil)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(callCtx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	httpResp, err := g.client.Do(req)
	if err != nil {
		return nil, g.transportError(ctx, callCtx, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, g.transportError(ctx, callCtx, err)
	}

	resp := &Response{
		Status:      httpResp.StatusCode,
		ContentType: httpResp.Header.Get("Content-Type"),
		Body:        body,
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return nil, classify(resp, area)
	}
	return resp, nil
}

func (g *Gateway) transportError(parent, callCtx context.Context, err error) error {
	if parent.Err() != nil {
		return apperrors.Wrap(apperrors.KindCancelled, "The request was cancelled.", parent.Err())
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return &apperrors.Error{
			Kind:    apperrors.KindTimeout,
			Status:  http.StatusGatewayTimeout,
			Message: fmt.Sprintf("The request to PingOne timed out after %s.", g.cfg.Timeout),
			Err:     err,
		}
	}
	return &apperrors.Error{
		Kind:    apperrors.KindUpstream,
		Status:  http.StatusBadGateway,
		Message: "Unable to reach PingOne.",
		Err:     err,
	}
}

// apiError is the PingOne error document
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details []struct {
		Code    string `json:"code"`
		Target  string `json:"target"`
		Message string `json:"message"`
	} `json:"details"`
}

func classify(resp *Response, area apperrors.Area) error {
	var doc apiError
	if resp.IsJSON() {
		_ = json.Unmarshal(resp.Body, &doc)
	}

	e := apperrors.FromStatus(resp.Status, area, doc.Message)
	for _, d := range doc.Details {
		if d.Message != "" {
			e.Details = append(e.Details, d.Message)
		}
		switch {
		case d.Code == "UNIQUENESS_VIOLATION":
			e.Kind = apperrors.KindUniqueness
			e.Status = http.StatusConflict
			e.Message = apperrors.FriendlyMessage(http.StatusConflict, area)
		case strings.HasPrefix(strings.ToLower(d.Target), "population"):
			e.Kind = apperrors.KindInvalidPopulation
			e.Message = "The population assigned to this user does not exist in the environment."
		}
	}
	return e
}
