package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestErrorsIsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("batch 3: %w", FromStatus(http.StatusTooManyRequests, AreaUser, ""))
	if !errors.Is(err, ErrRateLimited) {
		t.Error("expected wrapped rate limit error to match sentinel")
	}
	if errors.Is(err, ErrTimeout) {
		t.Error("rate limit error must not match timeout sentinel")
	}
}

func TestKindForStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{http.StatusBadRequest, KindValidation},
		{http.StatusUnauthorized, KindAuthentication},
		{http.StatusForbidden, KindPermission},
		{http.StatusNotFound, KindNotFound},
		{http.StatusConflict, KindUniqueness},
		{http.StatusTooManyRequests, KindRateLimited},
		{http.StatusGatewayTimeout, KindTimeout},
		{http.StatusRequestTimeout, KindTimeout},
		{http.StatusServiceUnavailable, KindUpstream},
		{http.StatusTeapot, KindInternal},
	}
	for _, tt := range tests {
		if got := KindForStatus(tt.status); got != tt.want {
			t.Errorf("KindForStatus(%d) = %s, want %s", tt.status, got, tt.want)
		}
	}
}

func TestRetryableAndFatal(t *testing.T) {
	retryable := []error{ErrRateLimited, ErrTimeout, ErrUpstream}
	for _, err := range retryable {
		if !Retryable(err) {
			t.Errorf("expected %s to be retryable", KindOf(err))
		}
	}
	notRetryable := []error{ErrValidation, ErrNotFound, ErrUniqueness, errors.New("plain")}
	for _, err := range notRetryable {
		if Retryable(err) {
			t.Errorf("expected %v not to be retryable", err)
		}
	}

	for _, err := range []error{ErrCredentialsMissing, ErrAuthentication, ErrInvalidRegion} {
		if !Fatal(err) {
			t.Errorf("expected %s to be fatal", KindOf(err))
		}
	}
	if Fatal(ErrUniqueness) {
		t.Error("uniqueness is a per-record failure")
	}
}

func TestHTTPStatus(t *testing.T) {
	if got := HTTPStatus(Validation("bad")); got != http.StatusBadRequest {
		t.Errorf("validation: got %d", got)
	}
	if got := HTTPStatus(New(KindQueueFull, "full")); got != http.StatusTooManyRequests {
		t.Errorf("queue full: got %d", got)
	}
	if got := HTTPStatus(FromStatus(http.StatusServiceUnavailable, AreaGeneric, "")); got != http.StatusServiceUnavailable {
		t.Errorf("explicit status should win, got %d", got)
	}
	if got := HTTPStatus(errors.New("boom")); got != http.StatusInternalServerError {
		t.Errorf("untyped: got %d", got)
	}
}

func TestAreaForPath(t *testing.T) {
	tests := []struct {
		method, path string
		want         Area
	}{
		{http.MethodPost, "/env/as/token", AreaToken},
		{http.MethodGet, "/environments/e/populations", AreaPopulation},
		{http.MethodPost, "/environments/e/users", AreaImport},
		{http.MethodPatch, "/environments/e/users/u1", AreaUser},
		{http.MethodGet, "/environments/e/users", AreaUser},
		{http.MethodGet, "/environments/e/applications", AreaGeneric},
	}
	for _, tt := range tests {
		if got := AreaForPath(tt.method, tt.path); got != tt.want {
			t.Errorf("AreaForPath(%s %s) = %s, want %s", tt.method, tt.path, got, tt.want)
		}
	}
}

func TestFriendlyMessageFallsBackToGeneric(t *testing.T) {
	msg := FriendlyMessage(http.StatusTooManyRequests, AreaImport)
	if msg != genericMessage(http.StatusTooManyRequests) {
		t.Errorf("expected generic message, got %q", msg)
	}
	if !strings.Contains(FriendlyMessage(http.StatusConflict, AreaImport), "already exists") {
		t.Error("expected import conflict message")
	}
}

func TestFromStatusKeepsDetail(t *testing.T) {
	err := FromStatus(http.StatusUnauthorized, AreaToken, "  invalid_client  ")
	if err.Kind != KindAuthentication {
		t.Errorf("unexpected kind %s", err.Kind)
	}
	if len(err.Details) != 1 || err.Details[0] != "invalid_client" {
		t.Errorf("unexpected details %v", err.Details)
	}
	if Message(err) != FriendlyMessage(http.StatusUnauthorized, AreaToken) {
		t.Errorf("unexpected message %q", Message(err))
	}
}
