package validation

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/pingone-bulk-users/internal/apperrors"
	"github.com/pingone-bulk-users/internal/models"
)

// columnAliases maps lower-cased header variants to record fields
var columnAliases = map[string]string{
	"username":      "username",
	"user_name":     "username",
	"email":         "email",
	"mail":          "email",
	"firstname":     "given",
	"first_name":    "given",
	"givenname":     "given",
	"given_name":    "given",
	"name.given":    "given",
	"lastname":      "family",
	"last_name":     "family",
	"familyname":    "family",
	"family_name":   "family",
	"name.family":   "family",
	"phone":         "phone",
	"primaryphone":  "phone",
	"primary_phone": "phone",
	"mobile":        "phone",
	"title":         "title",
	"department":    "department",
	"id":            "id",
	"userid":        "id",
	"user_id":       "id",
	"populationid":  "population",
	"population_id": "population",
	"population.id": "population",
	"password":      "password",
	"enabled":       "enabled",
	"active":        "enabled",
}

// ParseResult is the outcome of reading a users CSV
type ParseResult struct {
	Header  []string
	Records []*models.UserRecord
	// Rejected rows failed validation and never reach the remote API
	Rejected []models.RecordFailure
	// HasPopulationColumn is true when a populationId/population_id column is present
	HasPopulationColumn bool
}

// ParseUsersCSV reads a header row and data rows into user records.
// Unrecognized columns are kept in Extra for import and dropped for modify and delete.
func ParseUsersCSV(r io.Reader, kind models.OperationKind) (*ParseResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, apperrors.Validation("The CSV file is empty.")
	}
	if err != nil {
		return nil, apperrors.Validation("The CSV header could not be read.", err.Error())
	}

	headerMap := make(map[string]int)
	extras := make(map[int]string)
	result := &ParseResult{Header: header}
	for i, h := range header {
		name := strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		field, known := columnAliases[strings.ToLower(name)]
		switch {
		case known:
			if _, dup := headerMap[field]; !dup {
				headerMap[field] = i
			}
		case name != "":
			extras[i] = name
		}
	}
	if _, ok := headerMap["population"]; ok {
		result.HasPopulationColumn = true
	}

	validator := NewValidator(kind)
	index := 0
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			line := 0
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				line = perr.StartLine
			}
			result.Rejected = append(result.Rejected, models.RecordFailure{
				Index:   index,
				Line:    line,
				Outcome: models.OutcomeFailed,
				Reason:  fmt.Sprintf("malformed CSV row: %v", err),
			})
			index++
			continue
		}
		if isBlank(row) {
			continue
		}
		line, _ := reader.FieldPos(0)

		rec := &models.UserRecord{
			Index:        index,
			Line:         line,
			Username:     getField(row, headerMap, "username"),
			Email:        getField(row, headerMap, "email"),
			GivenName:    getField(row, headerMap, "given"),
			FamilyName:   getField(row, headerMap, "family"),
			Phone:        getField(row, headerMap, "phone"),
			Title:        getField(row, headerMap, "title"),
			Department:   getField(row, headerMap, "department"),
			UserID:       getField(row, headerMap, "id"),
			PopulationID: getField(row, headerMap, "population"),
			Password:     getField(row, headerMap, "password"),
		}
		index++

		var errs []ValidationError
		if raw := getField(row, headerMap, "enabled"); raw != "" {
			enabled, ok := parseBool(raw)
			if ok {
				rec.Enabled = &enabled
			} else {
				errs = append(errs, ValidationError{Field: "enabled", Message: "enabled must be true or false", Value: raw})
			}
		}
		if kind == models.OperationImport {
			for i, name := range extras {
				if i < len(row) && strings.TrimSpace(row[i]) != "" {
					if rec.Extra == nil {
						rec.Extra = make(map[string]string)
					}
					rec.Extra[name] = strings.TrimSpace(row[i])
				}
			}
		}

		errs = append(errs, validator.ValidateRecord(rec)...)
		if len(errs) > 0 {
			result.Rejected = append(result.Rejected, models.RecordFailure{
				Index:    rec.Index,
				Line:     rec.Line,
				Username: rec.Identity(),
				Outcome:  models.OutcomeFailed,
				Reason:   Summarize(errs),
			})
			continue
		}
		result.Records = append(result.Records, rec)
	}

	if len(result.Records) == 0 && len(result.Rejected) == 0 {
		return nil, apperrors.Validation("The CSV file contains no user records.")
	}
	return result, nil
}

// Total is the number of data rows, valid or not
func (r *ParseResult) Total() int {
	return len(r.Records) + len(r.Rejected)
}

func getField(record []string, headerMap map[string]int, field string) string {
	if idx, ok := headerMap[field]; ok && idx < len(record) {
		return strings.TrimSpace(record[idx])
	}
	return ""
}

func isBlank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "y", "1":
		return true, true
	case "false", "no", "n", "0":
		return false, true
	}
	return false, false
}
