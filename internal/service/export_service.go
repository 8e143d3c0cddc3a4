package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pingone-bulk-users/internal/models"
	"github.com/pingone-bulk-users/internal/queue"
	"github.com/pingone-bulk-users/internal/repository"
	"github.com/pingone-bulk-users/internal/validation"
	"github.com/rs/zerolog"
)

// basicColumns are the fixed known-safe export fields, in column order
var basicColumns = []string{
	"id", "username", "email", "name.given", "name.family",
	"primaryPhone", "title", "department", "population.id", "enabled",
}

// standardFields are the attributes every PingOne user carries
var standardFields = map[string]bool{
	"id": true, "username": true, "email": true, "name": true, "primaryPhone": true,
	"title": true, "department": true, "population": true, "enabled": true,
	"environment": true, "createdAt": true, "updatedAt": true, "lifecycle": true,
	"account": true, "identityProvider": true, "mfaEnabled": true, "verifyStatus": true,
	"_links": true,
}

// flattenable nested objects become prefixed scalar columns
var flattenable = map[string]bool{
	"name": true, "population": true, "address": true, "lifecycle": true,
	"environment": true, "identityProvider": true, "account": true,
}

// exportService is the concrete implementation of ExportService
type exportService struct {
	dir      Directory
	sessions *sessionManager
	audit    repository.AuditRepository
	queue    *queue.Queue
	log      zerolog.Logger
}

// newExportService creates a new ExportService
func newExportService(dir Directory, sessions *sessionManager, audit repository.AuditRepository, q *queue.Queue, log zerolog.Logger) *exportService {
	return &exportService{
		dir:      dir,
		sessions: sessions,
		audit:    audit,
		queue:    q,
		log:      log.With().Str("service", "export").Logger(),
	}
}

// Export lists the users of a population and shapes them into flat rows
func (s *exportService) Export(ctx context.Context, req *models.ExportRequest) (*models.ExportResult, error) {
	if err := validation.ValidateExport(req); err != nil {
		return nil, err
	}

	r := s.sessions.create(models.OperationExport, 0, false)
	if err := s.sessions.begin(r); err != nil {
		s.sessions.finish(r, err)
		return nil, err
	}

	var users []*models.RemoteUser
	err := s.queue.Do(ctx, queue.PriorityNormal, func(ctx context.Context) error {
		return s.dir.ListUsers(ctx, req.PopulationID, func(u *models.RemoteUser) error {
			users = append(users, u)
			return nil
		})
	})
	if err != nil {
		s.sessions.finish(r, err)
		return nil, err
	}
	r.setTotal(len(users))

	shaper := newShaper(req.Fields)
	var ignored []models.IgnoredUser
	rows := make([]map[string]string, 0, len(users))
	for i, u := range users {
		rec := &models.UserRecord{Index: i, UserID: u.ID, Username: u.Username}
		if req.IgnoreDisabledUsers && !u.Enabled {
			ignored = append(ignored, models.IgnoredUser{
				SessionID: r.id(),
				UserID:    u.ID,
				Username:  u.Username,
				Reason:    "disabled",
				CreatedAt: time.Now(),
			})
			r.record(rec, skipped("disabled"))
			continue
		}
		rows = append(rows, shaper.shape(u))
		r.record(rec, succeeded())
	}

	if len(ignored) > 0 {
		if err := s.audit.RecordIgnored(ctx, ignored); err != nil {
			s.log.Error().Err(err).Int("count", len(ignored)).Msg("Failed to record ignored users")
		}
	}
	s.sessions.finish(r, nil)

	s.log.Info().
		Str("session_id", r.id()).
		Str("population_id", req.PopulationID).
		Str("fields", req.Fields).
		Int("exported", len(rows)).
		Int("ignored", len(ignored)).
		Msg("Export completed")

	return &models.ExportResult{
		SessionID:    r.id(),
		Total:        len(rows),
		IgnoredCount: len(ignored),
		Columns:      shaper.columns(),
		Users:        rows,
		Warnings:     shaper.warnings,
	}, nil
}

// IgnoredUsers returns the audit trail of an export session
func (s *exportService) IgnoredUsers(ctx context.Context, sessionID string) ([]models.IgnoredUser, error) {
	return s.audit.ListIgnored(ctx, sessionID)
}

// WriteCSV writes an export result as CSV with a header row
func WriteCSV(w io.Writer, result *models.ExportResult) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(result.Columns); err != nil {
		return err
	}
	record := make([]string, len(result.Columns))
	for _, row := range result.Users {
		for i, col := range result.Columns {
			record[i] = row[col]
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// shaper turns PingOne user documents into flat string rows
type shaper struct {
	fields   string
	seen     map[string]bool
	warned   map[string]bool
	warnings []string
}

func newShaper(fields string) *shaper {
	return &shaper{fields: fields, seen: make(map[string]bool), warned: make(map[string]bool)}
}

func (sh *shaper) shape(u *models.RemoteUser) map[string]string {
	row := make(map[string]string)

	if sh.fields == models.ExportFieldsBasic {
		row["id"] = u.ID
		row["username"] = u.Username
		row["email"] = u.Email
		row["name.given"] = u.Name.Given
		row["name.family"] = u.Name.Family
		row["primaryPhone"] = u.PrimaryPhone
		row["title"] = u.Title
		row["department"] = u.Department
		row["population.id"] = u.Population.ID
		row["enabled"] = strconv.FormatBool(u.Enabled)
		return row
	}

	row["id"] = u.ID
	row["username"] = u.Username
	for key, value := range u.Raw {
		if key == "_links" {
			continue
		}
		if sh.fields == models.ExportFieldsCustom && standardFields[key] {
			continue
		}
		sh.add(row, key, value)
	}
	for key := range row {
		sh.seen[key] = true
	}
	return row
}

func (sh *shaper) add(row map[string]string, key string, value any) {
	switch v := value.(type) {
	case nil:
		row[key] = ""
	case map[string]any:
		if !flattenable[key] {
			sh.warn(fmt.Sprintf("Field %q is a nested object and was not exported.", key))
			return
		}
		for sub, subValue := range v {
			if _, nested := subValue.(map[string]any); nested {
				sh.warn(fmt.Sprintf("Field %q is a nested object and was not exported.", key+"."+sub))
				continue
			}
			sh.add(row, key+"."+sub, subValue)
		}
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			switch item.(type) {
			case map[string]any, []any:
				sh.warn(fmt.Sprintf("Field %q contains objects and was not exported.", key))
				return
			}
			parts = append(parts, scalar(item))
		}
		row[key] = strings.Join(parts, ";")
	default:
		row[key] = scalar(v)
	}
}

func (sh *shaper) warn(msg string) {
	if !sh.warned[msg] {
		sh.warned[msg] = true
		sh.warnings = append(sh.warnings, msg)
	}
}

// columns lists basic fields first, then every other column seen, sorted
func (sh *shaper) columns() []string {
	if sh.fields == models.ExportFieldsBasic {
		return append([]string(nil), basicColumns...)
	}
	var cols []string
	for _, c := range basicColumns {
		if sh.seen[c] {
			cols = append(cols, c)
		}
	}
	var rest []string
	for c := range sh.seen {
		if !contains(basicColumns, c) {
			rest = append(rest, c)
		}
	}
	sort.Strings(rest)
	return append(cols, rest...)
}

func scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
