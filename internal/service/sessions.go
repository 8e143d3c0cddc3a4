package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pingone-bulk-users/internal/apperrors"
	"github.com/pingone-bulk-users/internal/config"
	"github.com/pingone-bulk-users/internal/models"
	"github.com/pingone-bulk-users/internal/progress"
	"github.com/pingone-bulk-users/internal/repository"
	"github.com/rs/zerolog"
)

// failurePreviewLimit caps the failures embedded in a session response
const failurePreviewLimit = 100

var errCancelled = apperrors.New(apperrors.KindCancelled, "The operation was cancelled.")

// allowedTransitions is the session state machine
var allowedTransitions = map[models.SessionState][]models.SessionState{
	models.SessionStatePending: {
		models.SessionStateRunning, models.SessionStateCancelled, models.SessionStateFailed,
	},
	models.SessionStateRunning: {
		models.SessionStateAwaitingConflict, models.SessionStateAwaitingInvalidPopulation,
		models.SessionStateCompleted, models.SessionStateCancelled, models.SessionStateFailed,
	},
	models.SessionStateAwaitingConflict: {
		models.SessionStateRunning, models.SessionStateCancelled, models.SessionStateFailed,
	},
	models.SessionStateAwaitingInvalidPopulation: {
		models.SessionStateRunning, models.SessionStateCancelled, models.SessionStateFailed,
	},
}

// resolution is the browser's answer to a paused session
type resolution struct {
	useCSV       bool
	populationID string
}

// run is the live state of one session; only its runner mutates the counters
type run struct {
	mu        sync.Mutex
	session   models.Session
	failures  []models.RecordFailure
	publish   bool
	affected  []int
	created   int
	updated   int
	noChanges int

	cancelled   atomic.Bool
	cancelOnce  sync.Once
	cancelCh    chan struct{}
	resolutions chan resolution
}

func (r *run) id() string {
	return r.session.ID
}

func (r *run) snapshot() models.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

func (r *run) state() models.SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session.State
}

func (r *run) transition(to models.SessionState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range allowedTransitions[r.session.State] {
		if s == to {
			r.session.State = to
			return nil
		}
	}
	return fmt.Errorf("invalid session transition %s -> %s", r.session.State, to)
}

func (r *run) setTotal(total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session.TotalRecords = total
}

// record classifies one processed record
func (r *run) record(rec *models.UserRecord, res recordResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.session.Apply(res.outcome) {
		return
	}
	switch {
	case res.created:
		r.created++
	case res.updated:
		r.updated++
	case res.noChange:
		r.noChanges++
	}
	if res.outcome != models.OutcomeSuccess {
		r.failures = append(r.failures, models.RecordFailure{
			Index:    rec.Index,
			Line:     rec.Line,
			Username: rec.Identity(),
			Outcome:  res.outcome,
			Reason:   res.reason,
		})
	}
}

// recordRejected counts rows that failed validation before dispatch
func (r *run) recordRejected(rejected []models.RecordFailure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range rejected {
		if r.session.Apply(models.OutcomeFailed) {
			r.failures = append(r.failures, f)
		}
	}
}

func (r *run) failureList(limit int) ([]models.RecordFailure, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.failures)
	if limit > 0 && n > limit {
		n = limit
	}
	return append([]models.RecordFailure(nil), r.failures[:n]...), len(r.failures)
}

func (r *run) requestCancel() {
	r.cancelled.Store(true)
	r.cancelOnce.Do(func() { close(r.cancelCh) })
}

func (r *run) isCancelled() bool {
	return r.cancelled.Load()
}

// await blocks until the browser resolves the pause or the session is cancelled
func (r *run) await(ctx context.Context) (resolution, error) {
	select {
	case res := <-r.resolutions:
		return res, nil
	case <-r.cancelCh:
		return resolution{}, errCancelled
	case <-ctx.Done():
		return resolution{}, apperrors.Wrap(apperrors.KindCancelled, "The operation was cancelled.", ctx.Err())
	}
}

// resolve hands a resolution to a session paused in state expect
func (r *run) resolve(expect models.SessionState, res resolution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session.State != expect {
		return apperrors.Validation(fmt.Sprintf("Session %s is not awaiting this resolution (state: %s).", r.session.ID, r.session.State))
	}
	select {
	case r.resolutions <- res:
		return nil
	default:
		return apperrors.Validation("A resolution for this session is already being applied.")
	}
}

// sessionManager owns every live session
type sessionManager struct {
	mu    sync.RWMutex
	runs  map[string]*run
	repos *repository.Repositories
	hub   *progress.Hub
	cfg   config.JobsConfig
	log   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newSessionManager(repos *repository.Repositories, hub *progress.Hub, cfg config.JobsConfig, log zerolog.Logger) *sessionManager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &sessionManager{
		runs:   make(map[string]*run),
		repos:  repos,
		hub:    hub,
		cfg:    cfg,
		log:    log.With().Str("service", "sessions").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
	if cfg.SessionRetention > 0 {
		m.wg.Add(1)
		go m.pruneHistory(cfg.SessionRetention)
	}
	return m
}

// create registers a new pending session; publish opens a progress channel for it
func (m *sessionManager) create(kind models.OperationKind, total int, publish bool) *run {
	r := &run{
		session: models.Session{
			ID:           uuid.New().String(),
			Kind:         kind,
			State:        models.SessionStatePending,
			TotalRecords: total,
			CreatedAt:    time.Now(),
		},
		publish:     publish,
		cancelCh:    make(chan struct{}),
		resolutions: make(chan resolution, 1),
	}

	m.mu.Lock()
	m.runs[r.id()] = r
	m.mu.Unlock()

	if publish && m.hub != nil {
		m.hub.Open(r.id())
	}

	m.log.Info().
		Str("session_id", r.id()).
		Str("operation", string(kind)).
		Int("total_records", total).
		Msg("Session created")
	return r
}

func (m *sessionManager) get(id string) *run {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.runs[id]
}

// begin moves a session to running
func (m *sessionManager) begin(r *run) error {
	if err := r.transition(models.SessionStateRunning); err != nil {
		return err
	}
	now := time.Now()
	r.mu.Lock()
	r.session.StartedAt = &now
	r.mu.Unlock()
	return nil
}

// start runs fn in the background and finishes the session with its result
func (m *sessionManager) start(r *run, fn func(ctx context.Context) error) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		var err error
		// Panic recovery - a broken session must not take the process down
		defer func() {
			if rec := recover(); rec != nil {
				m.log.Error().
					Interface("panic", rec).
					Str("session_id", r.id()).
					Msg("Session runner panicked - recovered")
				err = fmt.Errorf("internal error: %v", rec)
			}
			m.finish(r, err)
		}()

		err = fn(m.ctx)
	}()
}

// emit publishes ev on the session's progress channel
func (m *sessionManager) emit(r *run, ev models.Event) {
	if !r.publish || m.hub == nil {
		return
	}
	if err := m.hub.Publish(r.id(), ev); err != nil {
		m.log.Debug().Err(err).Str("session_id", r.id()).Str("event", string(ev.Type)).Msg("Progress event dropped")
	}
}

// finish moves the session to its terminal state, emits the terminal event and persists it
func (m *sessionManager) finish(r *run, err error) {
	state := models.SessionStateCompleted
	switch {
	case err == nil && r.isCancelled():
		state = models.SessionStateCancelled
	case errors.Is(err, apperrors.ErrCancelled):
		state = models.SessionStateCancelled
	case err != nil:
		state = models.SessionStateFailed
	}

	now := time.Now()
	r.mu.Lock()
	r.session.State = state
	r.session.CompletedAt = &now
	if r.session.StartedAt != nil {
		r.session.DurationMs = now.Sub(*r.session.StartedAt).Milliseconds()
	}
	if state == models.SessionStateFailed {
		r.session.Error = apperrors.Message(err)
	}
	snap := r.session
	r.mu.Unlock()

	event := m.log.Info()
	if state == models.SessionStateFailed {
		event = m.log.Error().Err(err)
	}
	event.
		Str("session_id", snap.ID).
		Str("operation", string(snap.Kind)).
		Str("state", string(state)).
		Int("success", snap.SuccessCount).
		Int("failed", snap.FailedCount).
		Int("skipped", snap.SkippedCount).
		Int64("duration_ms", snap.DurationMs).
		Msg("Session finished")

	m.persist(r, &snap)

	m.mu.Lock()
	delete(m.runs, snap.ID)
	m.mu.Unlock()

	// The terminal event goes out last so subscribers find the session in history
	switch state {
	case models.SessionStateCompleted:
		m.emit(r, models.NewCompleteEvent(&snap, completionMessage(&snap)))
	case models.SessionStateCancelled:
		m.emit(r, models.NewCloseEvent(&snap, "The operation was cancelled."))
	default:
		m.emit(r, models.NewErrorEvent(apperrors.Message(err), apperrors.Details(err)))
	}
}

func (m *sessionManager) persist(r *run, snap *models.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := m.repos.Session.Save(ctx, snap); err != nil {
		m.log.Error().Err(err).Str("session_id", snap.ID).Msg("Failed to save session history")
		return
	}
	failures, _ := r.failureList(0)
	if err := m.repos.Session.AddFailures(ctx, snap.ID, failures); err != nil {
		m.log.Error().Err(err).Int("count", len(failures)).Msg("Failed to save session failures")
	}
}

func (m *sessionManager) pruneHistory(retention time.Duration) {
	defer m.wg.Done()

	interval := retention / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			n, err := m.repos.Session.DeleteOlderThan(m.ctx, time.Now().Add(-retention))
			if err != nil {
				m.log.Warn().Err(err).Msg("Failed to prune session history")
			} else if n > 0 {
				m.log.Debug().Int("removed", n).Msg("Pruned session history")
			}
		}
	}
}

// GetSession returns a live session, or a finished one from history
func (m *sessionManager) GetSession(ctx context.Context, id string) (*models.SessionResponse, error) {
	if r := m.get(id); r != nil {
		failures, count := r.failureList(failurePreviewLimit)
		return newSessionResponse(r.snapshot(), failures, count), nil
	}

	session, err := m.repos.Session.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, sessionNotFound(id)
	}
	failures, err := m.repos.Session.GetFailures(ctx, id, failurePreviewLimit)
	if err != nil {
		m.log.Error().Err(err).Str("session_id", id).Msg("Failed to get session failures")
	}
	return newSessionResponse(*session, failures, session.FailedCount+session.SkippedCount), nil
}

func newSessionResponse(s models.Session, failures []models.RecordFailure, count int) *models.SessionResponse {
	resp := &models.SessionResponse{
		Session:      s,
		Failures:     failures,
		FailureCount: count,
	}
	if count > 0 {
		resp.ErrorReport = "/sessions/" + s.ID + "/errors"
	}
	return resp
}

// GetFailures returns the complete per-record detail log
func (m *sessionManager) GetFailures(ctx context.Context, id string) ([]models.RecordFailure, error) {
	if r := m.get(id); r != nil {
		failures, _ := r.failureList(0)
		return failures, nil
	}
	session, err := m.repos.Session.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, sessionNotFound(id)
	}
	return m.repos.Session.GetFailures(ctx, id, 0)
}

// ListSessions returns live sessions followed by recent history
func (m *sessionManager) ListSessions(ctx context.Context, limit int) ([]*models.Session, error) {
	m.mu.RLock()
	out := make([]*models.Session, 0, len(m.runs))
	for _, r := range m.runs {
		snap := r.snapshot()
		out = append(out, &snap)
	}
	m.mu.RUnlock()

	history, err := m.repos.Session.ListRecent(ctx, limit)
	if err != nil {
		return nil, err
	}
	out = append(out, history...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Cancel asks a live session to stop at its next batch boundary
func (m *sessionManager) Cancel(ctx context.Context, id string) error {
	r := m.get(id)
	if r == nil {
		if s, _ := m.repos.Session.GetByID(ctx, id); s != nil {
			return apperrors.Validation(fmt.Sprintf("Session %s has already finished (state: %s).", id, s.State))
		}
		return sessionNotFound(id)
	}
	r.requestCancel()
	m.log.Info().Str("session_id", id).Msg("Cancellation requested")
	return nil
}

// Shutdown cancels every live session and waits for the runners to stop
func (m *sessionManager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	for _, r := range m.runs {
		r.requestCancel()
	}
	m.mu.RUnlock()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.log.Info().Msg("Session runners stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sessionNotFound(id string) error {
	return apperrors.New(apperrors.KindNotFound, fmt.Sprintf("Session %s was not found.", id))
}

func completionMessage(s *models.Session) string {
	return fmt.Sprintf("%s completed: %d succeeded, %d failed, %d skipped",
		operationLabel(s.Kind), s.SuccessCount, s.FailedCount, s.SkippedCount)
}

func operationLabel(kind models.OperationKind) string {
	switch kind {
	case models.OperationImport:
		return "Import"
	case models.OperationExport:
		return "Export"
	case models.OperationModify:
		return "Modify"
	case models.OperationDelete:
		return "Delete"
	case models.OperationPopulationDelete:
		return "Population delete"
	}
	return string(kind)
}
