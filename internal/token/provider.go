// Package token acquires and caches PingOne bearer tokens via the client-credentials grant.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pingone-bulk-users/internal/apperrors"
	"github.com/pingone-bulk-users/internal/backoff"
	"github.com/pingone-bulk-users/internal/models"
	"github.com/pingone-bulk-users/internal/pingone"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// CredentialStore is the persisted settings store consulted after process configuration
type CredentialStore interface {
	Credentials() models.Credentials
}

// Config holds token cache and rate limit settings
type Config struct {
	MinRequestInterval time.Duration
	ExpiryBuffer       time.Duration
	MaxLifetime        time.Duration
	Timeout            time.Duration
	Retry              backoff.Policy
}

// Provider owns the token cache and the single in-flight refresh per credential set
type Provider struct {
	process  models.Credentials
	stored   CredentialStore
	cfg      Config
	client   *http.Client
	endpoint func(creds models.Credentials) (string, error)
	now      func() time.Time
	sleep    backoff.SleepFunc
	log      zerolog.Logger

	mu          sync.Mutex
	cached      *models.Token
	cachedKey   string
	lastRequest time.Time
	group       singleflight.Group
	requests    atomic.Int64
}

// Option customizes a Provider
type Option func(*Provider)

// WithHTTPClient replaces the HTTP client used for token requests
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithEndpoint replaces the token endpoint resolver
func WithEndpoint(fn func(creds models.Credentials) (string, error)) Option {
	return func(p *Provider) { p.endpoint = fn }
}

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// WithSleep replaces the retry wait
func WithSleep(fn backoff.SleepFunc) Option {
	return func(p *Provider) { p.sleep = fn }
}

// NewProvider creates a token provider. process holds explicit configuration; stored is consulted for empty fields.
func NewProvider(process models.Credentials, stored CredentialStore, cfg Config, log zerolog.Logger, opts ...Option) *Provider {
	if cfg.ExpiryBuffer <= 0 {
		cfg.ExpiryBuffer = 2 * time.Minute
	}
	if cfg.MaxLifetime <= 0 {
		cfg.MaxLifetime = 55 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	p := &Provider{
		process: process,
		stored:  stored,
		cfg:     cfg,
		client:  &http.Client{},
		endpoint: func(creds models.Credentials) (string, error) {
			return pingone.TokenURL(creds.Region, creds.EnvironmentID)
		},
		now:   time.Now,
		sleep: backoff.Sleep,
		log:   log.With().Str("component", "token").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ResolveCredentials merges process configuration over the settings store, field by field
func (p *Provider) ResolveCredentials() (models.Credentials, error) {
	var stored models.Credentials
	if p.stored != nil {
		stored = p.stored.Credentials()
	}
	creds := models.Credentials{
		ClientID:      firstNonEmpty(p.process.ClientID, stored.ClientID),
		ClientSecret:  firstNonEmpty(p.process.ClientSecret, stored.ClientSecret),
		EnvironmentID: firstNonEmpty(p.process.EnvironmentID, stored.EnvironmentID),
		Region:        firstNonEmpty(p.process.Region, stored.Region),
	}
	if err := checkComplete(creds); err != nil {
		return models.Credentials{}, err
	}
	return creds, nil
}

// Credentials satisfies the gateway's credential lookup
func (p *Provider) Credentials() (models.Credentials, error) {
	return p.ResolveCredentials()
}

// AccessToken returns only the bearer string
func (p *Provider) AccessToken(ctx context.Context, override *models.Credentials) (string, error) {
	tok, err := p.Token(ctx, override)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// Token returns a token valid beyond the expiry buffer.
// Without override credentials the cached token is reused and concurrent refreshes collapse into one request.
func (p *Provider) Token(ctx context.Context, override *models.Credentials) (*models.Token, error) {
	if override != nil {
		creds := *override
		if err := checkComplete(creds); err != nil {
			return nil, err
		}
		if err := p.reserveRequest(); err != nil {
			return nil, err
		}
		return p.fetch(ctx, creds)
	}

	creds, err := p.ResolveCredentials()
	if err != nil {
		return nil, err
	}
	key := cacheKey(creds)

	if tok := p.cachedToken(key); tok != nil {
		return tok, nil
	}

	v, err, shared := p.group.Do(key, func() (interface{}, error) {
		if tok := p.cachedToken(key); tok != nil {
			return tok, nil
		}
		if err := p.reserveRequest(); err != nil {
			// A token inside the buffer is still served while rate limited
			if tok := p.unexpiredToken(key); tok != nil {
				return tok, nil
			}
			return nil, err
		}
		// Waiters share this refresh, so it must not die with the first caller's context
		tok, err := p.fetch(context.WithoutCancel(ctx), creds)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.cached = tok
		p.cachedKey = key
		p.mu.Unlock()
		return tok, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		p.log.Debug().Msg("Joined in-flight token refresh")
	}
	return v.(*models.Token), nil
}

// Invalidate drops the cached token, forcing the next call to refresh
func (p *Provider) Invalidate() {
	p.mu.Lock()
	p.cached = nil
	p.cachedKey = ""
	p.mu.Unlock()
}

// Requests returns the number of outbound token requests issued
func (p *Provider) Requests() int64 {
	return p.requests.Load()
}

func (p *Provider) cachedToken(key string) *models.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cachedKey == key && p.cached.ValidFor(p.now(), p.cfg.ExpiryBuffer) {
		return p.cached
	}
	return nil
}

func (p *Provider) unexpiredToken(key string) *models.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cachedKey == key && p.cached.ValidFor(p.now(), 0) {
		return p.cached
	}
	return nil
}

// reserveRequest enforces the minimum interval between token requests
func (p *Provider) reserveRequest() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	if p.cfg.MinRequestInterval > 0 && !p.lastRequest.IsZero() && now.Sub(p.lastRequest) < p.cfg.MinRequestInterval {
		return &apperrors.Error{
			Kind:    apperrors.KindRateLimited,
			Status:  http.StatusTooManyRequests,
			Message: "Token requests are being rate limited. Please wait a moment and try again.",
		}
	}
	p.lastRequest = now
	return nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type tokenErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Message          string `json:"message"`
}

func (p *Provider) fetch(ctx context.Context, creds models.Credentials) (*models.Token, error) {
	endpoint, err := p.endpoint(creds)
	if err != nil {
		return nil, err
	}

	var tok *models.Token
	err = p.cfg.Retry.Retry(ctx, apperrors.Retryable, func(attempt int) error {
		var reqErr error
		tok, reqErr = p.request(ctx, endpoint, creds)
		return reqErr
	},
		backoff.WithSleep(p.sleep),
		backoff.OnRetry(func(attempt int, delay time.Duration, err error) {
			p.log.Warn().Err(err).Int("attempt", attempt+1).Dur("delay", delay).Msg("Retrying token request")
		}),
	)
	if err != nil {
		p.log.Error().Err(err).Str("environment_id", creds.EnvironmentID).Msg("Token request failed")
		return nil, err
	}

	p.log.Info().
		Str("environment_id", creds.EnvironmentID).
		Time("expires_at", tok.ExpiresAt).
		Msg("Access token acquired")
	return tok, nil
}

func (p *Provider) request(ctx context.Context, endpoint string, creds models.Credentials) (*models.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(creds.ClientID, creds.ClientSecret)

	p.requests.Add(1)
	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &apperrors.Error{
				Kind:    apperrors.KindTimeout,
				Status:  http.StatusGatewayTimeout,
				Message: "The token request to PingOne timed out.",
				Err:     err,
			}
		}
		return nil, apperrors.Wrap(apperrors.KindUpstream, "Unable to reach the PingOne authentication service.", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindUpstream, "Failed to read the token response.", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var te tokenErrorResponse
		_ = json.Unmarshal(body, &te)
		detail := firstNonEmpty(te.ErrorDescription, te.Message, te.Error)
		return nil, apperrors.FromStatus(resp.StatusCode, apperrors.AreaToken, detail)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil || tr.AccessToken == "" {
		return nil, &apperrors.Error{Kind: apperrors.KindUpstream, Message: "PingOne returned an invalid token response.", Err: err}
	}

	lifetime := time.Duration(tr.ExpiresIn) * time.Second
	if lifetime <= 0 || lifetime > p.cfg.MaxLifetime {
		lifetime = p.cfg.MaxLifetime
	}
	tokenType := tr.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &models.Token{
		AccessToken: tr.AccessToken,
		TokenType:   tokenType,
		ExpiresAt:   p.now().Add(lifetime),
	}, nil
}

func checkComplete(creds models.Credentials) error {
	var missing []string
	if creds.ClientID == "" {
		missing = append(missing, "client id")
	}
	if creds.ClientSecret == "" {
		missing = append(missing, "client secret")
	}
	if creds.EnvironmentID == "" {
		missing = append(missing, "environment id")
	}
	if len(missing) == 0 {
		return nil
	}
	return &apperrors.Error{
		Kind:    apperrors.KindCredentialsMissing,
		Status:  http.StatusUnauthorized,
		Message: "PingOne API credentials are not configured. Add them in Settings.",
		Details: missing,
	}
}

func cacheKey(creds models.Credentials) string {
	return strings.Join([]string{creds.Region, creds.EnvironmentID, creds.ClientID, creds.ClientSecret}, "|")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
