package service

import (
	"github.com/pingone-bulk-users/internal/models"
)

// diffUser builds the PATCH body that brings remote in line with rec over the
// mapped fields: email, given and family name, phone, title and department.
// Empty CSV values never clear a remote attribute.
func diffUser(rec *models.UserRecord, remote *models.RemoteUser) map[string]any {
	patch := make(map[string]any)

	if changed(rec.Email, remote.Email) {
		patch["email"] = rec.Email
	}
	if changed(rec.GivenName, remote.Name.Given) || changed(rec.FamilyName, remote.Name.Family) {
		name := map[string]any{
			"given":  remote.Name.Given,
			"family": remote.Name.Family,
		}
		if rec.GivenName != "" {
			name["given"] = rec.GivenName
		}
		if rec.FamilyName != "" {
			name["family"] = rec.FamilyName
		}
		patch["name"] = name
	}
	if changed(rec.Phone, remote.PrimaryPhone) {
		patch["primaryPhone"] = rec.Phone
	}
	if changed(rec.Title, remote.Title) {
		patch["title"] = rec.Title
	}
	if changed(rec.Department, remote.Department) {
		patch["department"] = rec.Department
	}
	return patch
}

func changed(local, remote string) bool {
	return local != "" && local != remote
}
