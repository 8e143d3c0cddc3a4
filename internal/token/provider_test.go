package token_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pingone-bulk-users/internal/apperrors"
	"github.com/pingone-bulk-users/internal/models"
	"github.com/pingone-bulk-users/internal/settings"
	"github.com/pingone-bulk-users/internal/token"
	"github.com/rs/zerolog"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type tokenServer struct {
	*httptest.Server
	calls  atomic.Int64
	status int
	delay  time.Duration
	lastID atomic.Value
}

func newTokenServer(t *testing.T) *tokenServer {
	t.Helper()
	ts := &tokenServer{status: http.StatusOK}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := ts.calls.Add(1)
		if ts.delay > 0 {
			time.Sleep(ts.delay)
		}
		id, _, _ := r.BasicAuth()
		ts.lastID.Store(id)
		if r.FormValue("grant_type") != "client_credentials" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if ts.status != http.StatusOK {
			w.WriteHeader(ts.status)
			fmt.Fprint(w, `{"error":"invalid_client","error_description":"bad things"}`)
			return
		}
		fmt.Fprintf(w, `{"access_token":"token-%d","token_type":"Bearer","expires_in":3600}`, n)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newProvider(ts *tokenServer, clock *fakeClock, process models.Credentials, stored token.CredentialStore, interval time.Duration) *token.Provider {
	return token.NewProvider(process, stored, token.Config{
		MinRequestInterval: interval,
		ExpiryBuffer:       2 * time.Minute,
		MaxLifetime:        55 * time.Minute,
		Timeout:            5 * time.Second,
	}, zerolog.Nop(),
		token.WithEndpoint(func(models.Credentials) (string, error) { return ts.URL + "/as/token", nil }),
		token.WithClock(clock.Now),
	)
}

var validCreds = models.Credentials{ClientID: "client", ClientSecret: "secret", EnvironmentID: "env", Region: "NA"}

func TestToken_CachedWithinSafetyWindow(t *testing.T) {
	ts := newTokenServer(t)
	clock := &fakeClock{now: time.Now()}
	p := newProvider(ts, clock, validCreds, nil, 0)

	first, err := p.AccessToken(context.Background(), nil)
	if err != nil {
		t.Fatalf("AccessToken failed: %v", err)
	}
	clock.Advance(10 * time.Minute)
	second, err := p.AccessToken(context.Background(), nil)
	if err != nil {
		t.Fatalf("AccessToken failed: %v", err)
	}

	if first != second {
		t.Errorf("Expected identical cached token, got %s and %s", first, second)
	}
	if ts.calls.Load() != 1 {
		t.Errorf("Expected 1 token request, got %d", ts.calls.Load())
	}
}

func TestToken_NearExpiryTreatedAsAbsent(t *testing.T) {
	ts := newTokenServer(t)
	clock := &fakeClock{now: time.Now()}
	p := newProvider(ts, clock, validCreds, nil, 0)

	first, _ := p.AccessToken(context.Background(), nil)
	// 55m lifetime cap, 2m buffer: at 54m the token is inside the buffer
	clock.Advance(54 * time.Minute)
	second, err := p.AccessToken(context.Background(), nil)
	if err != nil {
		t.Fatalf("AccessToken failed: %v", err)
	}
	if first == second {
		t.Error("Token inside the expiry buffer must not be handed out")
	}
	if ts.calls.Load() != 2 {
		t.Errorf("Expected 2 token requests, got %d", ts.calls.Load())
	}
}

func TestToken_ConcurrentRefreshSingleRequest(t *testing.T) {
	ts := newTokenServer(t)
	ts.delay = 50 * time.Millisecond
	clock := &fakeClock{now: time.Now()}
	p := newProvider(ts, clock, validCreds, nil, 0)

	if _, err := p.AccessToken(context.Background(), nil); err != nil {
		t.Fatalf("AccessToken failed: %v", err)
	}
	clock.Advance(2 * time.Hour)

	const callers = 20
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = p.AccessToken(context.Background(), nil)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		if tokens[i] != tokens[0] {
			t.Errorf("caller %d got %s, expected shared %s", i, tokens[i], tokens[0])
		}
	}
	if ts.calls.Load() != 2 {
		t.Errorf("Expected exactly one refresh after expiry (2 total), got %d", ts.calls.Load())
	}
}

func TestToken_CredentialPrecedence(t *testing.T) {
	ts := newTokenServer(t)
	clock := &fakeClock{now: time.Now()}
	stored := settings.FromMap(map[string]string{
		settings.KeyClientID:      "stored-client",
		settings.KeyClientSecret:  "stored-secret",
		settings.KeyEnvironmentID: "stored-env",
		settings.KeyRegion:        "EU",
	})

	p := newProvider(ts, clock, models.Credentials{ClientID: "env-client"}, stored, 0)
	creds, err := p.ResolveCredentials()
	if err != nil {
		t.Fatalf("ResolveCredentials failed: %v", err)
	}
	if creds.ClientID != "env-client" {
		t.Errorf("Process configuration should win, got %s", creds.ClientID)
	}
	if creds.ClientSecret != "stored-secret" || creds.EnvironmentID != "stored-env" {
		t.Errorf("Settings store should fill empty fields, got %+v", creds)
	}
	if creds.Region != "EU" {
		t.Errorf("Expected stored region EU, got %s", creds.Region)
	}

	if _, err := p.AccessToken(context.Background(), nil); err != nil {
		t.Fatalf("AccessToken failed: %v", err)
	}
	if got := ts.lastID.Load(); got != "env-client" {
		t.Errorf("Expected basic auth with env-client, got %v", got)
	}
}

func TestToken_MissingRegionIsInvalid(t *testing.T) {
	process := validCreds
	process.Region = ""
	p := token.NewProvider(process, settings.FromMap(nil), token.Config{}, zerolog.Nop())

	creds, err := p.ResolveCredentials()
	if err != nil {
		t.Fatalf("ResolveCredentials failed: %v", err)
	}
	if creds.Region != "" {
		t.Errorf("Region must not be defaulted, got %q", creds.Region)
	}

	_, err = p.AccessToken(context.Background(), nil)
	if !errors.Is(err, apperrors.ErrInvalidRegion) {
		t.Fatalf("Expected invalid region error, got %v", err)
	}
	if p.Requests() != 0 {
		t.Errorf("Expected no token request, got %d", p.Requests())
	}
}

func TestToken_EmptyStoredValueIgnored(t *testing.T) {
	ts := newTokenServer(t)
	stored := settings.FromMap(map[string]string{
		settings.KeyClientID:      "client",
		settings.KeyClientSecret:  "  ",
		settings.KeyEnvironmentID: "env",
	})
	p := newProvider(ts, &fakeClock{now: time.Now()}, models.Credentials{}, stored, 0)

	_, err := p.AccessToken(context.Background(), nil)
	if !errors.Is(err, apperrors.ErrCredentialsMissing) {
		t.Fatalf("Expected credentials missing, got %v", err)
	}
	details := apperrors.Details(err)
	if len(details) != 1 || details[0] != "client secret" {
		t.Errorf("Expected missing client secret detail, got %v", details)
	}
	if ts.calls.Load() != 0 {
		t.Error("No network call expected when credentials are missing")
	}
}

func TestToken_RateLimited(t *testing.T) {
	ts := newTokenServer(t)
	clock := &fakeClock{now: time.Now()}
	p := newProvider(ts, clock, validCreds, nil, 500*time.Millisecond)

	if _, err := p.AccessToken(context.Background(), &validCreds); err != nil {
		t.Fatalf("first request failed: %v", err)
	}
	clock.Advance(100 * time.Millisecond)
	_, err := p.AccessToken(context.Background(), &validCreds)
	if !errors.Is(err, apperrors.ErrRateLimited) {
		t.Fatalf("Expected rate limited error, got %v", err)
	}

	clock.Advance(time.Second)
	if _, err := p.AccessToken(context.Background(), &validCreds); err != nil {
		t.Fatalf("request after interval failed: %v", err)
	}
}

func TestToken_RateLimitedFallsBackToUnexpiredToken(t *testing.T) {
	ts := newTokenServer(t)
	clock := &fakeClock{now: time.Now()}
	p := newProvider(ts, clock, validCreds, nil, 500*time.Millisecond)

	first, err := p.AccessToken(context.Background(), nil)
	if err != nil {
		t.Fatalf("AccessToken failed: %v", err)
	}

	// Inside the expiry buffer, with a token request issued just before
	clock.Advance(54 * time.Minute)
	override := models.Credentials{ClientID: "other", ClientSecret: "s", EnvironmentID: "e"}
	if _, err := p.AccessToken(context.Background(), &override); err != nil {
		t.Fatalf("override request failed: %v", err)
	}
	clock.Advance(100 * time.Millisecond)

	second, err := p.AccessToken(context.Background(), nil)
	if err != nil {
		t.Fatalf("Expected the cached token while rate limited, got %v", err)
	}
	if second != first {
		t.Errorf("Expected cached token %s, got %s", first, second)
	}
	if ts.calls.Load() != 2 {
		t.Errorf("Expected 2 token requests, got %d", ts.calls.Load())
	}
}

func TestToken_OverrideBypassesCache(t *testing.T) {
	ts := newTokenServer(t)
	clock := &fakeClock{now: time.Now()}
	p := newProvider(ts, clock, validCreds, nil, 0)

	cached, _ := p.AccessToken(context.Background(), nil)
	override := models.Credentials{ClientID: "other", ClientSecret: "s", EnvironmentID: "e"}
	custom, err := p.AccessToken(context.Background(), &override)
	if err != nil {
		t.Fatalf("override request failed: %v", err)
	}
	if custom == cached {
		t.Error("Override credentials must not reuse the default cache")
	}
	again, _ := p.AccessToken(context.Background(), nil)
	if again != cached {
		t.Error("Override request must not replace the default cached token")
	}
}

func TestToken_StatusTaxonomy(t *testing.T) {
	tests := []struct {
		status  int
		kind    apperrors.Kind
		message string
	}{
		{http.StatusBadRequest, apperrors.KindValidation, "environment ID appears to be malformed"},
		{http.StatusUnauthorized, apperrors.KindAuthentication, "client ID or client secret is incorrect"},
		{http.StatusForbidden, apperrors.KindPermission, "does not have permission"},
		{http.StatusNotFound, apperrors.KindNotFound, "environment was not found"},
		{http.StatusTooManyRequests, apperrors.KindRateLimited, "Too many token requests"},
		{http.StatusServiceUnavailable, apperrors.KindUpstream, "currently unavailable"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			ts := newTokenServer(t)
			ts.status = tt.status
			p := newProvider(ts, &fakeClock{now: time.Now()}, validCreds, nil, 0)

			_, err := p.AccessToken(context.Background(), nil)
			if err == nil {
				t.Fatal("Expected error")
			}
			if got := apperrors.KindOf(err); got != tt.kind {
				t.Errorf("Expected kind %s, got %s", tt.kind, got)
			}
			if !strings.Contains(apperrors.Message(err), tt.message) {
				t.Errorf("Expected message containing %q, got %q", tt.message, apperrors.Message(err))
			}
		})
	}
}

func TestToken_Invalidate(t *testing.T) {
	ts := newTokenServer(t)
	p := newProvider(ts, &fakeClock{now: time.Now()}, validCreds, nil, 0)

	first, _ := p.AccessToken(context.Background(), nil)
	p.Invalidate()
	second, _ := p.AccessToken(context.Background(), nil)
	if first == second {
		t.Error("Expected a new token after Invalidate")
	}
	if p.Requests() != 2 {
		t.Errorf("Expected 2 requests, got %d", p.Requests())
	}
}
