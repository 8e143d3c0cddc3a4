package pingone

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pingone-bulk-users/internal/apperrors"
	"github.com/pingone-bulk-users/internal/models"
)

// PageSize is the page size requested when listing users
const PageSize = 100

type link struct {
	Href string `json:"href"`
}

type populationList struct {
	Embedded struct {
		Populations []models.Population `json:"populations"`
	} `json:"_embedded"`
}

type userList struct {
	Embedded struct {
		Users []*models.RemoteUser `json:"users"`
	} `json:"_embedded"`
	Links struct {
		Next *link `json:"next"`
	} `json:"_links"`
	Count int `json:"count"`
	Size  int `json:"size"`
}

// ListPopulations returns every population in the environment
func (g *Gateway) ListPopulations(ctx context.Context) ([]models.Population, error) {
	resp, err := g.Call(ctx, http.MethodGet, "/populations", nil, nil)
	if err != nil {
		return nil, err
	}
	var list populationList
	if err := resp.Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode populations: %w", err)
	}
	return list.Embedded.Populations, nil
}

// CreateUser creates rec in populationID
func (g *Gateway) CreateUser(ctx context.Context, rec *models.UserRecord, populationID string) (*models.RemoteUser, error) {
	body := UserBody(rec)
	body["population"] = map[string]string{"id": populationID}
	if rec.Password != "" {
		body["password"] = map[string]any{"value": rec.Password, "forceChange": true}
	}

	resp, err := g.Call(ctx, http.MethodPost, "/users", body, nil)
	if err != nil {
		return nil, err
	}
	var user models.RemoteUser
	if err := resp.Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode created user: %w", err)
	}
	return &user, nil
}

// GetUser fetches a user by id
func (g *Gateway) GetUser(ctx context.Context, id string) (*models.RemoteUser, error) {
	resp, err := g.Call(ctx, http.MethodGet, "/users/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return nil, err
	}
	var user models.RemoteUser
	if err := resp.Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}
	return &user, nil
}

// FindUserByUsername returns the user with username, or nil when none exists
func (g *Gateway) FindUserByUsername(ctx context.Context, username string) (*models.RemoteUser, error) {
	return g.findOne(ctx, "username", username)
}

// FindUserByEmail returns the first user with email, or nil when none exists
func (g *Gateway) FindUserByEmail(ctx context.Context, email string) (*models.RemoteUser, error) {
	return g.findOne(ctx, "email", email)
}

func (g *Gateway) findOne(ctx context.Context, attr, value string) (*models.RemoteUser, error) {
	if value == "" {
		return nil, nil
	}
	query := url.Values{}
	query.Set("filter", Filter(attr, value))
	query.Set("limit", "1")

	resp, err := g.Call(ctx, http.MethodGet, "/users", nil, &CallOptions{Query: query, Area: apperrors.AreaUser})
	if err != nil {
		return nil, err
	}
	var list userList
	if err := resp.Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode user search: %w", err)
	}
	if len(list.Embedded.Users) == 0 {
		return nil, nil
	}
	return list.Embedded.Users[0], nil
}

// UpdateUser applies a partial update to the user
func (g *Gateway) UpdateUser(ctx context.Context, id string, patch map[string]any) (*models.RemoteUser, error) {
	resp, err := g.Call(ctx, http.MethodPatch, "/users/"+url.PathEscape(id), patch, nil)
	if err != nil {
		return nil, err
	}
	var user models.RemoteUser
	if err := resp.Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode updated user: %w", err)
	}
	return &user, nil
}

// DeleteUser removes the user
func (g *Gateway) DeleteUser(ctx context.Context, id string) error {
	_, err := g.Call(ctx, http.MethodDelete, "/users/"+url.PathEscape(id), nil, nil)
	return err
}

// ListUsers pages through the users of populationID, or of the whole environment when it is empty.
// Iteration stops at the first error returned by fn.
func (g *Gateway) ListUsers(ctx context.Context, populationID string, fn func(*models.RemoteUser) error) error {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(PageSize))
	if populationID != "" {
		query.Set("filter", Filter("population.id", populationID))
	}

	path, opts := "/users", &CallOptions{Query: query, Area: apperrors.AreaUser}
	for path != "" {
		resp, err := g.Call(ctx, http.MethodGet, path, nil, opts)
		if err != nil {
			return err
		}
		var page userList
		if err := resp.Decode(&page); err != nil {
			return fmt.Errorf("failed to decode user page: %w", err)
		}
		for _, u := range page.Embedded.Users {
			if err := fn(u); err != nil {
				return err
			}
		}

		path = ""
		if page.Links.Next != nil && page.Links.Next.Href != "" {
			// the next link already carries the query
			path, opts = page.Links.Next.Href, &CallOptions{Area: apperrors.AreaUser}
		}
	}
	return nil
}

// Filter builds a SCIM equality filter with value quoted
func Filter(attr, value string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(value)
	return fmt.Sprintf(`%s eq "%s"`, attr, escaped)
}

// UserBody maps the writable fields of rec to a PingOne user document.
// Empty fields are left out so they never clear remote values.
func UserBody(rec *models.UserRecord) map[string]any {
	body := map[string]any{}
	if rec.Username != "" {
		body["username"] = rec.Username
	}
	if rec.Email != "" {
		body["email"] = rec.Email
	}
	name := map[string]string{}
	if rec.GivenName != "" {
		name["given"] = rec.GivenName
	}
	if rec.FamilyName != "" {
		name["family"] = rec.FamilyName
	}
	if len(name) > 0 {
		body["name"] = name
	}
	if rec.Phone != "" {
		body["primaryPhone"] = rec.Phone
	}
	if rec.Title != "" {
		body["title"] = rec.Title
	}
	if rec.Department != "" {
		body["department"] = rec.Department
	}
	if rec.Enabled != nil {
		body["enabled"] = *rec.Enabled
	}
	for k, v := range rec.Extra {
		if _, taken := body[k]; !taken && v != "" {
			body[k] = v
		}
	}
	return body
}
