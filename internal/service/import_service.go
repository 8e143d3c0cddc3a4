package service

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/pingone-bulk-users/internal/apperrors"
	"github.com/pingone-bulk-users/internal/models"
	"github.com/pingone-bulk-users/internal/queue"
	"github.com/pingone-bulk-users/internal/validation"
	"github.com/rs/zerolog"
)

// importService is the concrete implementation of ImportService
type importService struct {
	dir         Directory
	sessions    *sessionManager
	engine      *batchEngine
	populations *populationService
	queue       *queue.Queue
	log         zerolog.Logger
}

// newImportService creates a new ImportService
func newImportService(dir Directory, sessions *sessionManager, engine *batchEngine, populations *populationService, q *queue.Queue, log zerolog.Logger) *importService {
	return &importService{
		dir:         dir,
		sessions:    sessions,
		engine:      engine,
		populations: populations,
		queue:       q,
		log:         log.With().Str("service", "import").Logger(),
	}
}

// StartImport validates the upload and starts an asynchronous import session
func (s *importService) StartImport(ctx context.Context, req *models.ImportRequest, file io.Reader) (*models.Session, error) {
	parsed, err := validation.ParseUsersCSV(file, models.OperationImport)
	if err != nil {
		return nil, err
	}
	if err := validation.ValidateImport(req, parsed); err != nil {
		return nil, err
	}

	r := s.sessions.create(models.OperationImport, parsed.Total(), true)
	r.mu.Lock()
	r.session.PopulationID = req.PopulationID
	r.session.PopulationName = req.PopulationName
	r.mu.Unlock()

	s.log.Info().
		Str("session_id", r.id()).
		Int("records", len(parsed.Records)).
		Int("rejected", len(parsed.Rejected)).
		Str("population_id", req.PopulationID).
		Bool("continue_on_uniqueness", req.ContinueOnUniqueness).
		Msg("Import session started")

	opts := *req
	s.sessions.start(r, func(ctx context.Context) error {
		return s.process(ctx, r, &opts, parsed)
	})

	snap := r.snapshot()
	return &snap, nil
}

func (s *importService) process(ctx context.Context, r *run, req *models.ImportRequest, parsed *validation.ParseResult) error {
	if err := s.sessions.begin(r); err != nil {
		return err
	}
	r.recordRejected(parsed.Rejected)
	records := parsed.Records

	if n := conflictingRecords(records, req.PopulationID); n > 0 {
		useCSV, err := s.awaitConflict(ctx, r, req, n)
		if err != nil {
			return err
		}
		applyConflictChoice(records, req.PopulationID, useCSV)
	} else {
		applyConflictChoice(records, req.PopulationID, true)
	}

	s.progress(r, fmt.Sprintf("Importing %d users", len(records)))

	if err := s.precheckPopulations(ctx, r, records); err != nil {
		return err
	}

	opts := batchOptions{
		queue:             s.queue,
		abortOnUniqueness: !req.ContinueOnUniqueness,
		onBatch: func() {
			snap := r.snapshot()
			s.progress(r, fmt.Sprintf("Processed %d of %d users", snap.ProcessedCount, snap.TotalRecords))
		},
	}
	create := s.createUser(req.ContinueOnUniqueness)

	pending := records
	for len(pending) > 0 {
		pause, err := s.engine.run(ctx, r, pending, create, opts)
		if err != nil {
			return err
		}
		if pause == nil {
			break
		}
		if err := s.awaitInvalidPopulation(ctx, r, distinctPopulations(pause.deferred), pause.deferred); err != nil {
			return err
		}
		pending = append(pause.deferred, pause.remaining...)
	}
	return nil
}

func (s *importService) createUser(continueOnUniqueness bool) recordFunc {
	return func(ctx context.Context, rec *models.UserRecord) recordResult {
		_, err := s.dir.CreateUser(ctx, rec, rec.PopulationID)
		switch {
		case err == nil:
			res := succeeded()
			res.created = true
			return res
		case apperrors.KindOf(err) == apperrors.KindInvalidPopulation:
			return recordResult{deferred: true}
		case apperrors.KindOf(err) == apperrors.KindUniqueness && continueOnUniqueness:
			return skipped("user already exists")
		}
		s.log.Warn().Err(err).Str("username", rec.Identity()).Int("index", rec.Index).Msg("Failed to create user")
		return failed(err)
	}
}

func (s *importService) progress(r *run, message string) {
	snap := r.snapshot()
	s.sessions.emit(r, models.NewProgressEvent(&snap, message))
}

// awaitConflict pauses the session until the browser picks a population source
func (s *importService) awaitConflict(ctx context.Context, r *run, req *models.ImportRequest, csvCount int) (bool, error) {
	if err := r.transition(models.SessionStateAwaitingConflict); err != nil {
		return false, err
	}

	selected := req.PopulationName
	if selected == "" {
		selected = req.PopulationID
	}
	s.sessions.emit(r, models.Event{Type: models.EventPopulationConflict, Payload: models.PopulationConflictPayload{
		Type:                 models.EventPopulationConflict,
		CSVPopulationCount:   csvCount,
		UISelectedPopulation: selected,
		Message:              fmt.Sprintf("%d users in the file name a population other than %s.", csvCount, selected),
	}})

	s.log.Info().Str("session_id", r.id()).Int("csv_population_count", csvCount).Msg("Waiting for population conflict resolution")

	res, err := r.await(ctx)
	if err != nil {
		return false, err
	}
	if err := r.transition(models.SessionStateRunning); err != nil {
		return false, err
	}
	return res.useCSV, nil
}

// precheckPopulations resolves unknown population ids before any user is created
func (s *importService) precheckPopulations(ctx context.Context, r *run, records []*models.UserRecord) error {
	for {
		populations, err := s.populations.ListPopulations(ctx)
		if err != nil {
			if apperrors.Fatal(err) {
				return err
			}
			s.log.Warn().Err(err).Str("session_id", r.id()).Msg("Population pre-check skipped")
			return nil
		}

		known := make(map[string]bool, len(populations))
		for _, p := range populations {
			known[p.ID] = true
		}
		var affected []*models.UserRecord
		for _, rec := range records {
			if !known[rec.PopulationID] {
				affected = append(affected, rec)
			}
		}
		if len(affected) == 0 {
			return nil
		}
		if err := s.awaitInvalidPopulation(ctx, r, distinctPopulations(affected), affected); err != nil {
			return err
		}
	}
}

// awaitInvalidPopulation pauses the session until the browser names a replacement population
func (s *importService) awaitInvalidPopulation(ctx context.Context, r *run, invalid []string, affected []*models.UserRecord) error {
	indexes := make([]int, len(affected))
	for i, rec := range affected {
		indexes[i] = rec.Index
	}

	r.mu.Lock()
	r.affected = indexes
	r.mu.Unlock()
	if err := r.transition(models.SessionStateAwaitingInvalidPopulation); err != nil {
		return err
	}

	s.sessions.emit(r, models.Event{Type: models.EventInvalidPopulation, Payload: models.InvalidPopulationPayload{
		Type:                models.EventInvalidPopulation,
		InvalidPopulations:  invalid,
		AffectedUserCount:   len(affected),
		AffectedUserIndexes: indexes,
		Message:             fmt.Sprintf("%d users reference a population that does not exist.", len(affected)),
	}})

	s.log.Info().
		Str("session_id", r.id()).
		Strs("invalid_populations", invalid).
		Int("affected", len(affected)).
		Msg("Waiting for invalid population resolution")

	res, err := r.await(ctx)
	if err != nil {
		return err
	}
	if err := r.transition(models.SessionStateRunning); err != nil {
		return err
	}

	for _, rec := range affected {
		rec.PopulationID = res.populationID
	}
	r.mu.Lock()
	r.affected = nil
	r.mu.Unlock()
	return nil
}

// ResolveConflict answers a population_conflict pause
func (s *importService) ResolveConflict(ctx context.Context, req *models.ResolveConflictRequest) error {
	r := s.sessions.get(req.SessionID)
	if r == nil {
		return sessionNotFound(req.SessionID)
	}
	if err := r.resolve(models.SessionStateAwaitingConflict, resolution{useCSV: req.UseCSVPopulation}); err != nil {
		return err
	}
	s.log.Info().Str("session_id", req.SessionID).Bool("use_csv_population", req.UseCSVPopulation).Msg("Population conflict resolved")
	return nil
}

// ResolveInvalidPopulation answers an invalid_population pause
func (s *importService) ResolveInvalidPopulation(ctx context.Context, req *models.ResolveInvalidPopulationRequest) error {
	if req.SelectedPopulationID == "" {
		return apperrors.Validation("selectedPopulationId is required")
	}
	r := s.sessions.get(req.SessionID)
	if r == nil {
		return sessionNotFound(req.SessionID)
	}

	r.mu.Lock()
	noAffected := len(r.affected) == 0
	r.mu.Unlock()
	if noAffected {
		return apperrors.Validation("No users are waiting for a population resolution in this session.")
	}

	if err := r.resolve(models.SessionStateAwaitingInvalidPopulation, resolution{populationID: req.SelectedPopulationID}); err != nil {
		return err
	}
	s.log.Info().Str("session_id", req.SessionID).Str("population_id", req.SelectedPopulationID).Msg("Invalid population resolved")
	return nil
}

// conflictingRecords counts records naming a population other than the UI selection
func conflictingRecords(records []*models.UserRecord, uiPopulation string) int {
	if uiPopulation == "" {
		return 0
	}
	n := 0
	for _, rec := range records {
		if rec.PopulationID != "" && rec.PopulationID != uiPopulation {
			n++
		}
	}
	return n
}

// applyConflictChoice assigns the population each record is created in
func applyConflictChoice(records []*models.UserRecord, uiPopulation string, useCSV bool) {
	for _, rec := range records {
		if !useCSV || rec.PopulationID == "" {
			rec.PopulationID = uiPopulation
		}
	}
}

func distinctPopulations(records []*models.UserRecord) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, rec := range records {
		if !seen[rec.PopulationID] {
			seen[rec.PopulationID] = true
			ids = append(ids, rec.PopulationID)
		}
	}
	sort.Strings(ids)
	return ids
}
