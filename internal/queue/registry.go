package queue

import (
	"github.com/pingone-bulk-users/internal/config"
	"github.com/rs/zerolog"
)

// Registry holds one independent queue per operation kind
type Registry struct {
	Import *Queue
	Export *Queue
	API    *Queue
}

// NewRegistry creates the import, export and generic API queues
func NewRegistry(cfg config.QueuesConfig, log zerolog.Logger) *Registry {
	log.Info().
		Int("import_concurrency", cfg.Import.MaxConcurrent).
		Int("export_concurrency", cfg.Export.MaxConcurrent).
		Int("api_concurrency", cfg.API.MaxConcurrent).
		Msg("Initializing request queues")

	return &Registry{
		Import: New("import", cfg.Import, log),
		Export: New("export", cfg.Export, log),
		API:    New("api", cfg.API, log),
	}
}

// Stats returns the load of every queue
func (r *Registry) Stats() []Stats {
	return []Stats{r.Import.Stats(), r.Export.Stats(), r.API.Stats()}
}
