package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pingone-bulk-users/internal/api"
	"github.com/pingone-bulk-users/internal/apperrors"
	"github.com/pingone-bulk-users/internal/config"
	"github.com/pingone-bulk-users/internal/mocks"
	"github.com/pingone-bulk-users/internal/models"
	"github.com/pingone-bulk-users/internal/progress"
	"github.com/pingone-bulk-users/internal/queue"
	"github.com/pingone-bulk-users/internal/service"
	"github.com/rs/zerolog"
)

type testServer struct {
	router      *gin.Engine
	imports     *mocks.MockImportService
	sessions    *mocks.MockSessionService
	exports     *mocks.MockExportService
	bulk        *mocks.MockBulkService
	populations *mocks.MockPopulationService
	tokens      *mocks.MockTokenService
	hub         *progress.Hub
}

func setupTestRouter() *testServer {
	gin.SetMode(gin.TestMode)
	log := zerolog.Nop()

	cfg := &config.Config{
		Server: config.ServerConfig{Port: "4000"},
		Jobs: config.JobsConfig{
			BatchSize:     5,
			MaxUploadSize: 1024 * 1024,
		},
		Queues: config.QueuesConfig{
			Import: config.QueueLimits{MaxConcurrent: 10, MaxPending: 1000},
			Export: config.QueueLimits{MaxConcurrent: 2, MaxPending: 50},
			API:    config.QueueLimits{MaxConcurrent: 10, MaxPending: 500},
		},
	}

	ts := &testServer{
		imports:     mocks.NewMockImportService(),
		sessions:    mocks.NewMockSessionService(),
		exports:     mocks.NewMockExportService(),
		bulk:        mocks.NewMockBulkService(),
		populations: &mocks.MockPopulationService{},
		tokens:      &mocks.MockTokenService{},
		hub:         progress.NewHub(time.Hour, time.Minute, log),
	}

	services := &service.Services{
		Import:      ts.imports,
		Sessions:    ts.sessions,
		Export:      ts.exports,
		Bulk:        ts.bulk,
		Populations: ts.populations,
		Tokens:      ts.tokens,
		Progress:    ts.hub,
		Queues:      queue.NewRegistry(cfg.Queues, log),
	}

	ts.router = api.NewRouter(services, cfg, log)
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func jsonRequest(method, url string, body any) *http.Request {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(method, url, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func uploadRequest(url, filename, content string, fields map[string]string) *http.Request {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		writer.WriteField(k, v)
	}
	part, _ := writer.CreateFormFile("file", filename)
	io.WriteString(part, content)
	writer.Close()

	req := httptest.NewRequest("POST", url, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Invalid JSON response %q: %v", w.Body.String(), err)
	}
	return response
}

func TestHealthEndpoint(t *testing.T) {
	ts := setupTestRouter()

	w := ts.do(httptest.NewRequest("GET", "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	response := decodeBody(t, w)
	if response["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", response["status"])
	}
	if queues, ok := response["queues"].([]interface{}); !ok || len(queues) != 3 {
		t.Errorf("Expected 3 queue stats, got %v", response["queues"])
	}
}

func TestHealthEndpointDatabaseDown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	services := &service.Services{
		DBHealth: func(ctx context.Context) error {
			return apperrors.New(apperrors.KindUpstream, "connection refused")
		},
	}
	router := api.NewRouter(services, &config.Config{}, zerolog.Nop())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
	response := decodeBody(t, w)
	if response["status"] != "unhealthy" {
		t.Errorf("Expected status 'unhealthy', got %v", response["status"])
	}
}

func TestStartImport(t *testing.T) {
	ts := setupTestRouter()

	req := uploadRequest("/import", "users.csv", "username\nann\n", map[string]string{
		"populationId":         "pop-1",
		"populationName":       "Sales",
		"continueOnUniqueness": "true",
	})
	w := ts.do(req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d: %s", w.Code, w.Body.String())
	}
	response := decodeBody(t, w)
	if response["sessionId"] != "test-session-id" {
		t.Errorf("Expected session id, got %v", response["sessionId"])
	}

	if len(ts.imports.Started) != 1 {
		t.Fatalf("Expected 1 import, got %d", len(ts.imports.Started))
	}
	started := ts.imports.Started[0]
	if started.PopulationID != "pop-1" || started.PopulationName != "Sales" || !started.ContinueOnUniqueness {
		t.Errorf("Unexpected import options: %+v", started)
	}
	if ts.imports.Uploads[0] != "username\nann\n" {
		t.Errorf("Unexpected upload: %q", ts.imports.Uploads[0])
	}
}

func TestStartImport_ValidationErrors(t *testing.T) {
	tests := []struct {
		name           string
		req            func() *http.Request
		expectedStatus int
		expectedKind   string
	}{
		{
			name:           "missing file",
			req:            func() *http.Request { return jsonRequest("POST", "/import", map[string]string{}) },
			expectedStatus: http.StatusBadRequest,
			expectedKind:   "validation_error",
		},
		{
			name:           "wrong extension",
			req:            func() *http.Request { return uploadRequest("/import", "users.xlsx", "x", nil) },
			expectedStatus: http.StatusBadRequest,
			expectedKind:   "validation_error",
		},
		{
			name: "file too large",
			req: func() *http.Request {
				return uploadRequest("/import", "users.csv", strings.Repeat("a", 2*1024*1024), nil)
			},
			expectedStatus: http.StatusBadRequest,
			expectedKind:   "validation_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := setupTestRouter()
			w := ts.do(tt.req())
			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
			if response := decodeBody(t, w); response["error"] != tt.expectedKind {
				t.Errorf("Expected error %q, got %v", tt.expectedKind, response["error"])
			}
		})
	}
}

func TestStartImport_ServiceErrorMapping(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
	}{
		{name: "validation", err: apperrors.Validation("bad"), expectedStatus: http.StatusBadRequest},
		{name: "authentication", err: apperrors.New(apperrors.KindAuthentication, "no"), expectedStatus: http.StatusUnauthorized},
		{name: "queue full", err: apperrors.New(apperrors.KindQueueFull, "busy"), expectedStatus: http.StatusTooManyRequests},
		{name: "upstream", err: apperrors.New(apperrors.KindUpstream, "down"), expectedStatus: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := setupTestRouter()
			ts.imports.StartFunc = func(ctx context.Context, req *models.ImportRequest, file io.Reader) (*models.Session, error) {
				return nil, tt.err
			}
			w := ts.do(uploadRequest("/import", "users.csv", "username\nann\n", nil))
			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
			if response := decodeBody(t, w); response["message"] != apperrors.Message(tt.err) {
				t.Errorf("Expected message %q, got %v", apperrors.Message(tt.err), response["message"])
			}
		})
	}
}

func TestProgressStream(t *testing.T) {
	ts := setupTestRouter()

	session := &models.Session{ID: "s1", TotalRecords: 2}
	ts.hub.Open("s1")
	session.Apply(models.OutcomeSuccess)
	ts.hub.Publish("s1", models.NewProgressEvent(session, "1 of 2"))
	session.Apply(models.OutcomeSuccess)
	ts.hub.Publish("s1", models.NewCompleteEvent(session, "done"))

	w := ts.do(httptest.NewRequest("GET", "/import/progress/s1", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Expected text/event-stream, got %s", ct)
	}
	body := w.Body.String()
	progressAt := strings.Index(body, "event:progress")
	completeAt := strings.Index(body, "event:complete")
	if progressAt < 0 || completeAt < 0 || progressAt > completeAt {
		t.Errorf("Expected progress then complete events, got:\n%s", body)
	}
	if !strings.Contains(body, `"message":"done"`) {
		t.Errorf("Expected JSON payload, got:\n%s", body)
	}
}

func TestProgressStream_ResumesAfterLastEventID(t *testing.T) {
	ts := setupTestRouter()

	session := &models.Session{ID: "s2", TotalRecords: 3}
	ts.hub.Open("s2")
	for i := 0; i < 2; i++ {
		session.Apply(models.OutcomeSuccess)
		ts.hub.Publish("s2", models.NewProgressEvent(session, "step"))
	}
	ts.hub.Publish("s2", models.NewCompleteEvent(session, "done"))

	req := httptest.NewRequest("GET", "/import/progress/s2", nil)
	req.Header.Set("Last-Event-ID", "2")
	body := ts.do(req).Body.String()

	if strings.Contains(body, "event:progress") {
		t.Errorf("Expected already-seen events to be skipped, got:\n%s", body)
	}
	if !strings.Contains(body, "id:3") || !strings.Contains(body, "event:complete") {
		t.Errorf("Expected the complete event with id 3, got:\n%s", body)
	}
}

func TestProgressStream_UnknownSession(t *testing.T) {
	ts := setupTestRouter()

	w := ts.do(httptest.NewRequest("GET", "/import/progress/missing", nil))
	if !strings.Contains(w.Body.String(), "event:error") {
		t.Errorf("Expected an error event, got:\n%s", w.Body.String())
	}
}

func TestResolveEndpoints(t *testing.T) {
	ts := setupTestRouter()

	var conflict *models.ResolveConflictRequest
	ts.imports.ResolveConflictFunc = func(ctx context.Context, req *models.ResolveConflictRequest) error {
		conflict = req
		return nil
	}
	w := ts.do(jsonRequest("POST", "/import/resolve-conflict", map[string]any{"sessionId": "s1", "useCsvPopulation": true}))
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if conflict == nil || !conflict.UseCSVPopulation || conflict.SessionID != "s1" {
		t.Errorf("Unexpected conflict request: %+v", conflict)
	}

	ts.imports.ResolveInvalidFunc = func(ctx context.Context, req *models.ResolveInvalidPopulationRequest) error {
		return apperrors.Validation("No users are waiting for a population resolution in this session.")
	}
	w = ts.do(jsonRequest("POST", "/import/resolve-invalid-population", map[string]any{"sessionId": "s1", "selectedPopulationId": "p"}))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}

	w = ts.do(jsonRequest("POST", "/import/resolve-conflict", map[string]any{"useCsvPopulation": true}))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 without sessionId, got %d", w.Code)
	}
}

func TestCancel(t *testing.T) {
	ts := setupTestRouter()

	w := ts.do(jsonRequest("POST", "/import/cancel", map[string]string{"sessionId": "s1"}))
	if w.Code != http.StatusAccepted {
		t.Errorf("Expected status 202, got %d", w.Code)
	}
	if len(ts.sessions.Cancelled) != 1 || ts.sessions.Cancelled[0] != "s1" {
		t.Errorf("Expected s1 cancelled, got %v", ts.sessions.Cancelled)
	}

	ts.sessions.CancelErr = apperrors.New(apperrors.KindNotFound, "Session s2 was not found.")
	w = ts.do(jsonRequest("POST", "/import/cancel", map[string]string{"sessionId": "s2"}))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestGetSession(t *testing.T) {
	ts := setupTestRouter()
	ts.sessions.Sessions["s1"] = &models.SessionResponse{
		Session: models.Session{
			ID:             "s1",
			Kind:           models.OperationImport,
			State:          models.SessionStateCompleted,
			TotalRecords:   10,
			ProcessedCount: 10,
			SuccessCount:   9,
			FailedCount:    1,
		},
		FailureCount: 1,
	}

	w := ts.do(httptest.NewRequest("GET", "/sessions/s1", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response models.SessionResponse
	json.Unmarshal(w.Body.Bytes(), &response)
	if response.ID != "s1" || response.State != models.SessionStateCompleted || response.SuccessCount != 9 {
		t.Errorf("Unexpected session: %+v", response)
	}

	w = ts.do(httptest.NewRequest("GET", "/sessions/missing", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestGetSessionErrors(t *testing.T) {
	ts := setupTestRouter()
	ts.sessions.Sessions["s1"] = &models.SessionResponse{Session: models.Session{ID: "s1"}}
	ts.sessions.Failures["s1"] = []models.RecordFailure{
		{Index: 0, Line: 2, Username: "ann", Outcome: models.OutcomeFailed, Reason: "invalid email"},
		{Index: 3, Line: 5, Username: "ben", Outcome: models.OutcomeSkipped, Reason: "user already exists"},
	}

	w := ts.do(httptest.NewRequest("GET", "/sessions/s1/errors", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if response := decodeBody(t, w); response["errorCount"].(float64) != 2 {
		t.Errorf("Expected 2 errors, got %v", response["errorCount"])
	}

	w = ts.do(httptest.NewRequest("GET", "/sessions/s1/errors?format=csv", nil))
	if ct := w.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Expected text/csv, got %s", ct)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("index,line,username,outcome,reason")) {
		t.Error("CSV should contain header row")
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("3,5,ben,skipped,user already exists")) {
		t.Errorf("CSV should contain failure rows, got: %s", w.Body.String())
	}
}

func TestExportUsers(t *testing.T) {
	ts := setupTestRouter()
	ts.exports.Result = &models.ExportResult{
		SessionID: "e1",
		Total:     1,
		Columns:   []string{"id", "username"},
		Users:     []map[string]string{{"id": "u1", "username": "ann"}},
	}

	w := ts.do(jsonRequest("POST", "/export-users", map[string]any{"populationId": "p", "fields": "basic"}))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var result models.ExportResult
	json.Unmarshal(w.Body.Bytes(), &result)
	if result.Total != 1 || result.Users[0]["username"] != "ann" {
		t.Errorf("Unexpected export: %+v", result)
	}
	if ts.exports.Requests[0].PopulationID != "p" {
		t.Errorf("Expected population p, got %+v", ts.exports.Requests[0])
	}

	w = ts.do(jsonRequest("POST", "/export-users", map[string]any{"format": "csv"}))
	if ct := w.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Expected text/csv, got %s", ct)
	}
	if w.Body.String() != "id,username\nu1,ann\n" {
		t.Errorf("Unexpected CSV: %q", w.Body.String())
	}
}

func TestModifyAndDeleteUsers(t *testing.T) {
	ts := setupTestRouter()
	ts.bulk.Result = &models.BatchResult{
		SessionID: "m1",
		Operation: models.OperationModify,
		Counts:    models.Counts{Success: 1, Skipped: 1},
		Updated:   1,
		NoChanges: 1,
	}

	w := ts.do(uploadRequest("/modify-users", "users.csv", "username,title\nann,CEO\n", map[string]string{"createIfNotExists": "false"}))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var result models.BatchResult
	json.Unmarshal(w.Body.Bytes(), &result)
	if result.Updated != 1 || result.NoChanges != 1 {
		t.Errorf("Unexpected result: %+v", result)
	}

	w = ts.do(uploadRequest("/delete-users", "users.csv", "username\nann\n", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if len(ts.bulk.Uploads) != 2 {
		t.Errorf("Expected 2 uploads, got %d", len(ts.bulk.Uploads))
	}

	w = ts.do(jsonRequest("POST", "/population-delete", map[string]string{"populationId": "p"}))
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if len(ts.bulk.Deleted) != 1 || ts.bulk.Deleted[0] != "p" {
		t.Errorf("Expected population p deleted, got %v", ts.bulk.Deleted)
	}
}

func TestListPopulations(t *testing.T) {
	ts := setupTestRouter()
	ts.populations.Populations = []models.Population{{ID: "p1", Name: "Sales", UserCount: 4}}

	w := ts.do(httptest.NewRequest("GET", "/pingone/populations?refresh=true", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response []map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &response)
	if len(response) != 1 || response[0]["id"] != "p1" || response[0]["name"] != "Sales" {
		t.Errorf("Unexpected populations: %v", response)
	}
	if _, ok := response[0]["userCount"]; ok {
		t.Error("Expected only id and name")
	}
	if ts.populations.Invalidated != 1 {
		t.Errorf("Expected cache invalidated, got %d", ts.populations.Invalidated)
	}
}

func TestGetToken(t *testing.T) {
	ts := setupTestRouter()
	ts.tokens.Token = &models.Token{AccessToken: "abc", TokenType: "Bearer", ExpiresAt: time.Now().Add(time.Hour)}

	w := ts.do(httptest.NewRequest("POST", "/pingone/get-token", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	response := decodeBody(t, w)
	if response["access_token"] != "abc" {
		t.Errorf("Expected token abc, got %v", response["access_token"])
	}
	if expiresIn := response["expires_in"].(float64); expiresIn < 3500 || expiresIn > 3600 {
		t.Errorf("Unexpected expires_in: %v", expiresIn)
	}
	if ts.tokens.Overrides[0] != nil {
		t.Error("Expected no override without a body")
	}

	ts.do(jsonRequest("POST", "/pingone/get-token", models.Credentials{ClientID: "c", ClientSecret: "s", EnvironmentID: "e", Region: "EU"}))
	if override := ts.tokens.Overrides[1]; override == nil || override.Region != "EU" {
		t.Errorf("Expected override credentials, got %+v", override)
	}

	ts.tokens.Err = apperrors.New(apperrors.KindCredentialsMissing, "PingOne credentials are not configured.")
	w = ts.do(httptest.NewRequest("POST", "/pingone/get-token", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	ts := setupTestRouter()

	w := ts.do(httptest.NewRequest("OPTIONS", "/import", nil))
	if w.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected CORS header")
	}
}
