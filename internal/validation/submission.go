package validation

import (
	"fmt"
	"strings"

	"github.com/pingone-bulk-users/internal/apperrors"
	"github.com/pingone-bulk-users/internal/models"
)

// ValidateImport checks an import submission against its parsed file.
// Every record needs an effective population: its own, or the selected one.
func ValidateImport(req *models.ImportRequest, parsed *ParseResult) error {
	if parsed == nil || parsed.Total() == 0 {
		return apperrors.Validation("The CSV file contains no user records.")
	}
	if len(parsed.Records) == 0 {
		return apperrors.Validation("No valid user records were found in the CSV file.", rejectedReasons(parsed, 10)...)
	}
	if strings.TrimSpace(req.PopulationID) != "" {
		return nil
	}
	missing := 0
	for _, rec := range parsed.Records {
		if rec.PopulationID == "" {
			missing++
		}
	}
	if missing > 0 {
		return apperrors.Validation(
			"Select a population for the import.",
			fmt.Sprintf("%d record(s) have no populationId column value", missing),
		)
	}
	return nil
}

// ValidateExport checks and normalizes an export submission
func ValidateExport(req *models.ExportRequest) error {
	req.Fields = strings.ToLower(strings.TrimSpace(req.Fields))
	if req.Fields == "" {
		req.Fields = models.ExportFieldsBasic
	}
	switch req.Fields {
	case models.ExportFieldsBasic, models.ExportFieldsCustom, models.ExportFieldsAll:
	default:
		return apperrors.Validation("Invalid field selection.", "fields must be one of: basic, custom, all")
	}

	req.Format = strings.ToLower(strings.TrimSpace(req.Format))
	if req.Format == "" {
		req.Format = "json"
	}
	if req.Format != "json" && req.Format != "csv" {
		return apperrors.Validation("Invalid export format.", "format must be json or csv")
	}
	return nil
}

// ValidateModify checks a modify submission against its parsed file
func ValidateModify(req *models.ModifyRequest, parsed *ParseResult) error {
	if parsed == nil || len(parsed.Records) == 0 {
		return apperrors.Validation("No valid user records were found in the CSV file.", rejectedReasons(parsed, 10)...)
	}
	if req.CreateIfNotExists && strings.TrimSpace(req.PopulationID) == "" {
		for _, rec := range parsed.Records {
			if rec.PopulationID == "" {
				return apperrors.Validation("Select a population for users created during modify.")
			}
		}
	}
	return nil
}

// ValidateDelete checks a delete submission against its parsed file
func ValidateDelete(parsed *ParseResult) error {
	if parsed == nil || len(parsed.Records) == 0 {
		return apperrors.Validation("No valid user records were found in the CSV file.", rejectedReasons(parsed, 10)...)
	}
	return nil
}

// ValidatePopulationDelete checks a population delete submission
func ValidatePopulationDelete(req *models.PopulationDeleteRequest) error {
	if strings.TrimSpace(req.PopulationID) == "" {
		return apperrors.Validation("populationId is required.")
	}
	return nil
}

func rejectedReasons(parsed *ParseResult, limit int) []string {
	if parsed == nil {
		return nil
	}
	var reasons []string
	for i, r := range parsed.Rejected {
		if i >= limit {
			reasons = append(reasons, fmt.Sprintf("and %d more", len(parsed.Rejected)-limit))
			break
		}
		reasons = append(reasons, fmt.Sprintf("line %d: %s", r.Line, r.Reason))
	}
	return reasons
}
