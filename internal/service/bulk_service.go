package service

import (
	"context"
	"io"

	"github.com/pingone-bulk-users/internal/apperrors"
	"github.com/pingone-bulk-users/internal/models"
	"github.com/pingone-bulk-users/internal/queue"
	"github.com/pingone-bulk-users/internal/validation"
	"github.com/rs/zerolog"
)

// bulkService is the concrete implementation of BulkService
type bulkService struct {
	dir      Directory
	sessions *sessionManager
	engine   *batchEngine
	queue    *queue.Queue
	log      zerolog.Logger
}

// newBulkService creates a new BulkService
func newBulkService(dir Directory, sessions *sessionManager, engine *batchEngine, q *queue.Queue, log zerolog.Logger) *bulkService {
	return &bulkService{
		dir:      dir,
		sessions: sessions,
		engine:   engine,
		queue:    q,
		log:      log.With().Str("service", "bulk").Logger(),
	}
}

// Modify updates existing users from a CSV, creating missing ones when asked
func (s *bulkService) Modify(ctx context.Context, req *models.ModifyRequest, file io.Reader) (*models.BatchResult, error) {
	parsed, err := validation.ParseUsersCSV(file, models.OperationModify)
	if err != nil {
		return nil, err
	}
	if err := validation.ValidateModify(req, parsed); err != nil {
		return nil, err
	}
	return s.execute(ctx, models.OperationModify, parsed, s.modifyUser(req))
}

// Delete removes the users listed in a CSV
func (s *bulkService) Delete(ctx context.Context, req *models.DeleteRequest, file io.Reader) (*models.BatchResult, error) {
	parsed, err := validation.ParseUsersCSV(file, models.OperationDelete)
	if err != nil {
		return nil, err
	}
	if err := validation.ValidateDelete(parsed); err != nil {
		return nil, err
	}
	return s.execute(ctx, models.OperationDelete, parsed, s.deleteUser)
}

// DeletePopulation removes every user of one population
func (s *bulkService) DeletePopulation(ctx context.Context, req *models.PopulationDeleteRequest) (*models.BatchResult, error) {
	if err := validation.ValidatePopulationDelete(req); err != nil {
		return nil, err
	}

	var records []*models.UserRecord
	err := s.queue.Do(ctx, queue.PriorityHigh, func(ctx context.Context) error {
		return s.dir.ListUsers(ctx, req.PopulationID, func(u *models.RemoteUser) error {
			records = append(records, &models.UserRecord{
				Index:    len(records),
				UserID:   u.ID,
				Username: u.Username,
				Email:    u.Email,
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("population_id", req.PopulationID).Int("users", len(records)).Msg("Deleting population users")
	return s.execute(ctx, models.OperationPopulationDelete, &validation.ParseResult{Records: records}, s.deleteUser)
}

// execute runs a synchronous session over the parsed records
func (s *bulkService) execute(ctx context.Context, kind models.OperationKind, parsed *validation.ParseResult, fn recordFunc) (*models.BatchResult, error) {
	r := s.sessions.create(kind, parsed.Total(), false)
	if err := s.sessions.begin(r); err != nil {
		s.sessions.finish(r, err)
		return nil, err
	}
	r.recordRejected(parsed.Rejected)

	_, err := s.engine.run(ctx, r, parsed.Records, fn, batchOptions{queue: s.queue})
	s.sessions.finish(r, err)

	snap := r.snapshot()
	failures, _ := r.failureList(0)
	r.mu.Lock()
	result := &models.BatchResult{
		SessionID: snap.ID,
		Operation: kind,
		State:     snap.State,
		Total:     snap.TotalRecords,
		Counts:    snap.Counts(),
		Created:   r.created,
		Updated:   r.updated,
		NoChanges: r.noChanges,
		Failures:  failures,
		Message:   completionMessage(&snap),
	}
	r.mu.Unlock()

	// A cancelled run still reports what it managed to do
	if err != nil && apperrors.KindOf(err) != apperrors.KindCancelled {
		return nil, err
	}
	return result, nil
}

// lookup finds the remote user a record refers to by id, username, then email
func (s *bulkService) lookup(ctx context.Context, rec *models.UserRecord) (*models.RemoteUser, error) {
	if rec.UserID != "" {
		u, err := s.dir.GetUser(ctx, rec.UserID)
		if apperrors.KindOf(err) == apperrors.KindNotFound {
			return nil, nil
		}
		return u, err
	}
	if rec.Username != "" {
		u, err := s.dir.FindUserByUsername(ctx, rec.Username)
		if err != nil || u != nil {
			return u, err
		}
	}
	if rec.Email != "" {
		return s.dir.FindUserByEmail(ctx, rec.Email)
	}
	return nil, nil
}

func (s *bulkService) modifyUser(req *models.ModifyRequest) recordFunc {
	return func(ctx context.Context, rec *models.UserRecord) recordResult {
		remote, err := s.lookup(ctx, rec)
		if err != nil {
			return failed(err)
		}

		if remote == nil {
			if !req.CreateIfNotExists {
				return skipped("user not found")
			}
			populationID := rec.PopulationID
			if populationID == "" {
				populationID = req.PopulationID
			}
			if _, err := s.dir.CreateUser(ctx, rec, populationID); err != nil {
				return failed(err)
			}
			res := succeeded()
			res.created = true
			return res
		}

		patch := diffUser(rec, remote)
		if len(patch) == 0 {
			res := skipped("no changes")
			res.noChange = true
			return res
		}
		if _, err := s.dir.UpdateUser(ctx, remote.ID, patch); err != nil {
			s.log.Warn().Err(err).Str("user_id", remote.ID).Msg("Failed to update user")
			return failed(err)
		}
		res := succeeded()
		res.updated = true
		return res
	}
}

func (s *bulkService) deleteUser(ctx context.Context, rec *models.UserRecord) recordResult {
	id := rec.UserID
	if id == "" {
		remote, err := s.lookup(ctx, rec)
		if err != nil {
			return failed(err)
		}
		if remote == nil {
			return skipped("user not found")
		}
		id = remote.ID
	}

	err := s.dir.DeleteUser(ctx, id)
	switch {
	case err == nil:
		return succeeded()
	case apperrors.KindOf(err) == apperrors.KindNotFound:
		return skipped("user not found")
	}
	s.log.Warn().Err(err).Str("user_id", id).Msg("Failed to delete user")
	return failed(err)
}
