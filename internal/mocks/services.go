package mocks

import (
	"context"
	"io"

	"github.com/pingone-bulk-users/internal/models"
	"github.com/pingone-bulk-users/internal/service"
)

// MockImportService is a mock implementation of ImportService
type MockImportService struct {
	StartFunc           func(ctx context.Context, req *models.ImportRequest, file io.Reader) (*models.Session, error)
	ResolveConflictFunc func(ctx context.Context, req *models.ResolveConflictRequest) error
	ResolveInvalidFunc  func(ctx context.Context, req *models.ResolveInvalidPopulationRequest) error
	Started             []*models.ImportRequest
	Uploads             []string
}

// Verify interface compliance
var _ service.ImportService = (*MockImportService)(nil)

func NewMockImportService() *MockImportService {
	return &MockImportService{}
}

func (m *MockImportService) StartImport(ctx context.Context, req *models.ImportRequest, file io.Reader) (*models.Session, error) {
	if m.StartFunc != nil {
		return m.StartFunc(ctx, req, file)
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	m.Started = append(m.Started, req)
	m.Uploads = append(m.Uploads, string(data))
	return &models.Session{
		ID:    "test-session-id",
		Kind:  models.OperationImport,
		State: models.SessionStatePending,
	}, nil
}

func (m *MockImportService) ResolveConflict(ctx context.Context, req *models.ResolveConflictRequest) error {
	if m.ResolveConflictFunc != nil {
		return m.ResolveConflictFunc(ctx, req)
	}
	return nil
}

func (m *MockImportService) ResolveInvalidPopulation(ctx context.Context, req *models.ResolveInvalidPopulationRequest) error {
	if m.ResolveInvalidFunc != nil {
		return m.ResolveInvalidFunc(ctx, req)
	}
	return nil
}

// MockSessionService is a mock implementation of SessionService
type MockSessionService struct {
	Sessions  map[string]*models.SessionResponse
	Failures  map[string][]models.RecordFailure
	CancelErr error
	Cancelled []string
}

// Verify interface compliance
var _ service.SessionService = (*MockSessionService)(nil)

func NewMockSessionService() *MockSessionService {
	return &MockSessionService{
		Sessions: make(map[string]*models.SessionResponse),
		Failures: make(map[string][]models.RecordFailure),
	}
}

func (m *MockSessionService) GetSession(ctx context.Context, id string) (*models.SessionResponse, error) {
	if s, ok := m.Sessions[id]; ok {
		return s, nil
	}
	return nil, notFound("Session " + id + " was not found.")
}

func (m *MockSessionService) GetFailures(ctx context.Context, id string) ([]models.RecordFailure, error) {
	if _, ok := m.Sessions[id]; !ok {
		return nil, notFound("Session " + id + " was not found.")
	}
	return m.Failures[id], nil
}

func (m *MockSessionService) ListSessions(ctx context.Context, limit int) ([]*models.Session, error) {
	out := make([]*models.Session, 0, len(m.Sessions))
	for _, s := range m.Sessions {
		sess := s.Session
		out = append(out, &sess)
	}
	return out, nil
}

func (m *MockSessionService) Cancel(ctx context.Context, id string) error {
	if m.CancelErr != nil {
		return m.CancelErr
	}
	m.Cancelled = append(m.Cancelled, id)
	return nil
}

func (m *MockSessionService) Shutdown(ctx context.Context) error {
	return nil
}

// MockExportService is a mock implementation of ExportService
type MockExportService struct {
	Result   *models.ExportResult
	Err      error
	Requests []*models.ExportRequest
}

// Verify interface compliance
var _ service.ExportService = (*MockExportService)(nil)

func NewMockExportService() *MockExportService {
	return &MockExportService{}
}

func (m *MockExportService) Export(ctx context.Context, req *models.ExportRequest) (*models.ExportResult, error) {
	m.Requests = append(m.Requests, req)
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Result, nil
}

func (m *MockExportService) IgnoredUsers(ctx context.Context, sessionID string) ([]models.IgnoredUser, error) {
	return nil, nil
}

// MockBulkService is a mock implementation of BulkService
type MockBulkService struct {
	Result  *models.BatchResult
	Err     error
	Uploads []string
	Deleted []string
}

// Verify interface compliance
var _ service.BulkService = (*MockBulkService)(nil)

func NewMockBulkService() *MockBulkService {
	return &MockBulkService{}
}

func (m *MockBulkService) Modify(ctx context.Context, req *models.ModifyRequest, file io.Reader) (*models.BatchResult, error) {
	return m.read(file)
}

func (m *MockBulkService) Delete(ctx context.Context, req *models.DeleteRequest, file io.Reader) (*models.BatchResult, error) {
	return m.read(file)
}

func (m *MockBulkService) DeletePopulation(ctx context.Context, req *models.PopulationDeleteRequest) (*models.BatchResult, error) {
	m.Deleted = append(m.Deleted, req.PopulationID)
	return m.Result, m.Err
}

func (m *MockBulkService) read(file io.Reader) (*models.BatchResult, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	m.Uploads = append(m.Uploads, string(data))
	return m.Result, m.Err
}

// MockPopulationService is a mock implementation of PopulationService
type MockPopulationService struct {
	Populations []models.Population
	Err         error
	Invalidated int
}

// Verify interface compliance
var _ service.PopulationService = (*MockPopulationService)(nil)

func (m *MockPopulationService) ListPopulations(ctx context.Context) ([]models.Population, error) {
	return m.Populations, m.Err
}

func (m *MockPopulationService) Invalidate() {
	m.Invalidated++
}

// MockTokenService is a mock implementation of TokenService
type MockTokenService struct {
	Token     *models.Token
	Err       error
	Overrides []*models.Credentials
}

// Verify interface compliance
var _ service.TokenService = (*MockTokenService)(nil)

func (m *MockTokenService) GetToken(ctx context.Context, override *models.Credentials) (*models.Token, error) {
	m.Overrides = append(m.Overrides, override)
	return m.Token, m.Err
}
