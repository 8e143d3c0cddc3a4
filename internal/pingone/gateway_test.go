package pingone

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pingone-bulk-users/internal/apperrors"
	"github.com/pingone-bulk-users/internal/backoff"
	"github.com/pingone-bulk-users/internal/models"
	"github.com/rs/zerolog"
)

type fakeTokens struct {
	mu          sync.Mutex
	creds       models.Credentials
	token       string
	invalidated int
}

func (f *fakeTokens) AccessToken(ctx context.Context, override *models.Credentials) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, nil
}

func (f *fakeTokens) Credentials() (models.Credentials, error) {
	return f.creds, nil
}

func (f *fakeTokens) Invalidate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated++
	f.token = "fresh-token"
}

func noSleep(ctx context.Context, d time.Duration) bool { return true }

func newTestGateway(t *testing.T, handler http.HandlerFunc, cfg Config) (*Gateway, *fakeTokens) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	tokens := &fakeTokens{
		creds: models.Credentials{ClientID: "c", ClientSecret: "s", EnvironmentID: "env-1", Region: "NA"},
		token: "stale-token",
	}
	cfg.BaseURL = srv.URL + "/v1"
	return NewGateway(tokens, cfg, zerolog.Nop(), WithRetrySleep(noSleep)), tokens
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestGateway_InjectsTokenAndEnvironmentPath(t *testing.T) {
	var gotAuth, gotPath string
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		writeJSON(w, http.StatusOK, map[string]any{
			"_embedded": map[string]any{"populations": []map[string]any{{"id": "p1", "name": "Default"}}},
		})
	}, Config{})

	pops, err := gw.ListPopulations(context.Background())
	if err != nil {
		t.Fatalf("ListPopulations failed: %v", err)
	}
	if len(pops) != 1 || pops[0].Name != "Default" {
		t.Errorf("unexpected populations: %+v", pops)
	}
	if gotAuth != "Bearer stale-token" {
		t.Errorf("expected bearer token, got %q", gotAuth)
	}
	if gotPath != "/v1/environments/env-1/populations" {
		t.Errorf("unexpected path %q", gotPath)
	}
}

func TestGateway_InvalidRegionFailsBeforeNetwork(t *testing.T) {
	tests := []struct {
		name   string
		region string
	}{
		{"unknown region", "MARS"},
		{"no region configured", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			gw, tokens := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				writeJSON(w, http.StatusOK, map[string]any{})
			}, Config{})
			tokens.creds.Region = tt.region

			_, err := gw.Call(context.Background(), http.MethodGet, "/users", nil, nil)
			if apperrors.KindOf(err) != apperrors.KindInvalidRegion {
				t.Fatalf("expected invalid region error, got %v", err)
			}
			if atomic.LoadInt32(&calls) != 0 {
				t.Errorf("expected no network call, got %d", atomic.LoadInt32(&calls))
			}
		})
	}
}

func TestGateway_RefreshesTokenOnceOn401(t *testing.T) {
	gw, tokens := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh-token" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "expired"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": "u1", "username": "alice"})
	}, Config{})

	user, err := gw.GetUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if user.Username != "alice" {
		t.Errorf("unexpected user %+v", user)
	}
	if tokens.invalidated != 1 {
		t.Errorf("expected one invalidation, got %d", tokens.invalidated)
	}
}

func TestGateway_UniquenessViolation(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"code":    "INVALID_DATA",
			"message": "The request could not be completed.",
			"details": []map[string]string{{"code": "UNIQUENESS_VIOLATION", "target": "username", "message": "username must be unique"}},
		})
	}, Config{})

	_, err := gw.CreateUser(context.Background(), &models.UserRecord{Username: "dup"}, "p1")
	if apperrors.KindOf(err) != apperrors.KindUniqueness {
		t.Fatalf("expected uniqueness error, got %v", err)
	}
	if apperrors.HTTPStatus(err) != http.StatusConflict {
		t.Errorf("expected 409, got %d", apperrors.HTTPStatus(err))
	}
	details := apperrors.Details(err)
	if len(details) == 0 || details[len(details)-1] != "username must be unique" {
		t.Errorf("unexpected details %v", details)
	}
}

func TestGateway_InvalidPopulation(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"code":    "INVALID_DATA",
			"details": []map[string]string{{"code": "INVALID_VALUE", "target": "population.id"}},
		})
	}, Config{})

	_, err := gw.CreateUser(context.Background(), &models.UserRecord{Username: "bob"}, "missing")
	if apperrors.KindOf(err) != apperrors.KindInvalidPopulation {
		t.Fatalf("expected invalid population error, got %v", err)
	}
}

func TestGateway_Timeout(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}, Config{Timeout: 50 * time.Millisecond})

	_, err := gw.Call(context.Background(), http.MethodGet, "/users", nil, nil)
	if apperrors.KindOf(err) != apperrors.KindTimeout {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if apperrors.HTTPStatus(err) != http.StatusGatewayTimeout {
		t.Errorf("expected 504, got %d", apperrors.HTTPStatus(err))
	}
}

func TestGateway_RetriesTransientFailures(t *testing.T) {
	var calls int32
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"message": "busy"})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}, Config{Retry: backoff.Policy{Base: time.Millisecond, MaxRetries: 3}})

	if err := gw.DeleteUser(context.Background(), "u1"); err != nil {
		t.Fatalf("DeleteUser failed: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 3 calls, got %d", got)
	}
}

func TestGateway_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "nope"})
	}, Config{Retry: backoff.Policy{Base: time.Millisecond, MaxRetries: 3}})

	err := gw.DeleteUser(context.Background(), "u1")
	if apperrors.KindOf(err) != apperrors.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected 1 call, got %d", got)
	}
}

func TestGateway_NonJSONBodyReturnedAsText(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		fmt.Fprint(w, "a,b\n1,2\n")
	}, Config{})

	resp, err := gw.Call(context.Background(), http.MethodGet, "/reports/users", nil, nil)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if resp.IsJSON() {
		t.Error("expected non-JSON response")
	}
	if resp.Text() != "a,b\n1,2\n" {
		t.Errorf("unexpected body %q", resp.Text())
	}
	var v map[string]any
	if err := resp.Decode(&v); err == nil {
		t.Error("expected Decode to refuse a non-JSON body")
	}
}

func TestGateway_ListUsersFollowsNextLinks(t *testing.T) {
	var srvURL string
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			writeJSON(w, http.StatusOK, map[string]any{
				"_embedded": map[string]any{"users": []map[string]any{{"id": "u3"}}},
			})
			return
		}
		if !strings.Contains(r.URL.Query().Get("filter"), `population.id eq "p1"`) {
			t.Errorf("missing population filter: %q", r.URL.RawQuery)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"_embedded": map[string]any{"users": []map[string]any{{"id": "u1"}, {"id": "u2"}}},
			"_links":    map[string]any{"next": map[string]string{"href": srvURL + "/v1/environments/env-1/users?page=2"}},
		})
	}, Config{})
	srvURL = strings.TrimSuffix(gw.cfg.BaseURL, "/v1")

	var ids []string
	err := gw.ListUsers(context.Background(), "p1", func(u *models.RemoteUser) error {
		ids = append(ids, u.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("ListUsers failed: %v", err)
	}
	if strings.Join(ids, ",") != "u1,u2,u3" {
		t.Errorf("unexpected ids %v", ids)
	}
}

func TestFindUserByUsername_NoMatch(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"_embedded": map[string]any{"users": []any{}}})
	}, Config{})

	user, err := gw.FindUserByUsername(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("FindUserByUsername failed: %v", err)
	}
	if user != nil {
		t.Errorf("expected nil user, got %+v", user)
	}
}

func TestFilterEscapesQuotes(t *testing.T) {
	got := Filter("username", `a"b\c`)
	want := `username eq "a\"b\\c"`
	if got != want {
		t.Errorf("Filter = %q, want %q", got, want)
	}
}

func TestUserBodyOmitsEmptyFields(t *testing.T) {
	enabled := false
	body := UserBody(&models.UserRecord{
		Username:  "alice",
		GivenName: "Alice",
		Enabled:   &enabled,
		Extra:     map[string]string{"nickname": "al", "username": "ignored"},
	})
	if _, ok := body["email"]; ok {
		t.Error("empty email should be omitted")
	}
	if body["username"] != "alice" {
		t.Errorf("extra column must not override username, got %v", body["username"])
	}
	if body["enabled"] != false {
		t.Error("expected enabled=false")
	}
	if body["nickname"] != "al" {
		t.Error("expected extra column to be carried")
	}
}
