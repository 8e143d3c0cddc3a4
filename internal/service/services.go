package service

import (
	"context"
	"io"

	"github.com/pingone-bulk-users/internal/backoff"
	"github.com/pingone-bulk-users/internal/config"
	"github.com/pingone-bulk-users/internal/models"
	"github.com/pingone-bulk-users/internal/progress"
	"github.com/pingone-bulk-users/internal/queue"
	"github.com/pingone-bulk-users/internal/repository"
	"github.com/rs/zerolog"
)

// Directory is the slice of the PingOne API the orchestrator drives
type Directory interface {
	ListPopulations(ctx context.Context) ([]models.Population, error)
	CreateUser(ctx context.Context, rec *models.UserRecord, populationID string) (*models.RemoteUser, error)
	GetUser(ctx context.Context, id string) (*models.RemoteUser, error)
	FindUserByUsername(ctx context.Context, username string) (*models.RemoteUser, error)
	FindUserByEmail(ctx context.Context, email string) (*models.RemoteUser, error)
	UpdateUser(ctx context.Context, id string, patch map[string]any) (*models.RemoteUser, error)
	DeleteUser(ctx context.Context, id string) error
	ListUsers(ctx context.Context, populationID string, fn func(*models.RemoteUser) error) error
}

// TokenIssuer hands out bearer tokens for the browser-facing token delegate
type TokenIssuer interface {
	Token(ctx context.Context, override *models.Credentials) (*models.Token, error)
}

// ImportService runs asynchronous import sessions and their resolution sub-flows
type ImportService interface {
	StartImport(ctx context.Context, req *models.ImportRequest, file io.Reader) (*models.Session, error)
	ResolveConflict(ctx context.Context, req *models.ResolveConflictRequest) error
	ResolveInvalidPopulation(ctx context.Context, req *models.ResolveInvalidPopulationRequest) error
}

// SessionService exposes live and finished sessions
type SessionService interface {
	GetSession(ctx context.Context, id string) (*models.SessionResponse, error)
	GetFailures(ctx context.Context, id string) ([]models.RecordFailure, error)
	ListSessions(ctx context.Context, limit int) ([]*models.Session, error)
	Cancel(ctx context.Context, id string) error
	Shutdown(ctx context.Context) error
}

// ExportService exports users synchronously
type ExportService interface {
	Export(ctx context.Context, req *models.ExportRequest) (*models.ExportResult, error)
	IgnoredUsers(ctx context.Context, sessionID string) ([]models.IgnoredUser, error)
}

// BulkService runs the synchronous modify and delete operations
type BulkService interface {
	Modify(ctx context.Context, req *models.ModifyRequest, file io.Reader) (*models.BatchResult, error)
	Delete(ctx context.Context, req *models.DeleteRequest, file io.Reader) (*models.BatchResult, error)
	DeletePopulation(ctx context.Context, req *models.PopulationDeleteRequest) (*models.BatchResult, error)
}

// PopulationService lists populations for the selection UI
type PopulationService interface {
	ListPopulations(ctx context.Context) ([]models.Population, error)
	Invalidate()
}

// TokenService is the token delegate exposed to the browser
type TokenService interface {
	GetToken(ctx context.Context, override *models.Credentials) (*models.Token, error)
}

// Services holds all service interfaces
type Services struct {
	Import      ImportService
	Sessions    SessionService
	Export      ExportService
	Bulk        BulkService
	Populations PopulationService
	Tokens      TokenService
	Progress    *progress.Hub
	Queues      *queue.Registry
	// DBHealth pings the history database; nil when history is kept in memory
	DBHealth func(ctx context.Context) error
}

// Dependencies are the collaborators the services are built from
type Dependencies struct {
	Directory Directory
	Tokens    TokenIssuer
	Repos     *repository.Repositories
	Queues    *queue.Registry
	Hub       *progress.Hub
	DBHealth  func(ctx context.Context) error
	// Sleep replaces the inter-batch wait in tests
	Sleep backoff.SleepFunc
}

// NewServices creates all services
func NewServices(deps Dependencies, cfg *config.Config, log zerolog.Logger) *Services {
	if deps.Sleep == nil {
		deps.Sleep = backoff.Sleep
	}

	sessions := newSessionManager(deps.Repos, deps.Hub, cfg.Jobs, log)
	engine := newBatchEngine(cfg.Jobs, deps.Sleep, log)
	populations := newPopulationService(deps.Directory, deps.Queues.API, log)

	return &Services{
		Import:      newImportService(deps.Directory, sessions, engine, populations, deps.Queues.Import, log),
		Sessions:    sessions,
		Export:      newExportService(deps.Directory, sessions, deps.Repos.Audit, deps.Queues.Export, log),
		Bulk:        newBulkService(deps.Directory, sessions, engine, deps.Queues.API, log),
		Populations: populations,
		Tokens:      newTokenService(deps.Tokens, deps.Queues.API, log),
		Progress:    deps.Hub,
		Queues:      deps.Queues,
		DBHealth:    deps.DBHealth,
	}
}
