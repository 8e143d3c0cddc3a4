package mocks

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pingone-bulk-users/internal/apperrors"
	"github.com/pingone-bulk-users/internal/models"
	"github.com/pingone-bulk-users/internal/service"
)

// MockDirectory is an in-memory PingOne environment
type MockDirectory struct {
	mu          sync.Mutex
	Populations []models.Population
	users       []*models.RemoteUser
	nextID      int

	// CreateFunc, when set, runs before a create and may fail it
	CreateFunc          func(rec *models.UserRecord, populationID string) error
	UpdateError         error
	ListPopulationsErr  error
	CreateCalls         int
	UpdateCalls         int
	DeleteCalls         int
	ListPopulationsCall int
}

// Verify interface compliance
var _ service.Directory = (*MockDirectory)(nil)

func NewMockDirectory(populations ...models.Population) *MockDirectory {
	return &MockDirectory{Populations: populations}
}

// AddUser seeds a user and returns its id
func (m *MockDirectory) AddUser(u models.RemoteUser) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == "" {
		m.nextID++
		u.ID = fmt.Sprintf("user-%d", m.nextID)
	}
	m.users = append(m.users, &u)
	return u.ID
}

// User returns a copy of the stored user with the given username
func (m *MockDirectory) User(username string) (models.RemoteUser, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			return *u, true
		}
	}
	return models.RemoteUser{}, false
}

// Count returns the number of stored users
func (m *MockDirectory) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users)
}

func (m *MockDirectory) ListPopulations(ctx context.Context) ([]models.Population, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListPopulationsCall++
	if m.ListPopulationsErr != nil {
		return nil, m.ListPopulationsErr
	}
	return append([]models.Population(nil), m.Populations...), nil
}

func (m *MockDirectory) CreateUser(ctx context.Context, rec *models.UserRecord, populationID string) (*models.RemoteUser, error) {
	if m.CreateFunc != nil {
		if err := m.CreateFunc(rec, populationID); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateCalls++

	if !m.hasPopulation(populationID) {
		return nil, &apperrors.Error{
			Kind:    apperrors.KindInvalidPopulation,
			Status:  400,
			Message: "The selected population does not exist.",
		}
	}
	for _, u := range m.users {
		if strings.EqualFold(u.Username, rec.Username) {
			return nil, &apperrors.Error{
				Kind:    apperrors.KindUniqueness,
				Status:  409,
				Message: "A user with this username already exists.",
			}
		}
	}

	m.nextID++
	u := &models.RemoteUser{
		ID:           fmt.Sprintf("user-%d", m.nextID),
		Username:     rec.Username,
		Email:        rec.Email,
		Enabled:      rec.Enabled == nil || *rec.Enabled,
		Name:         models.RemoteName{Given: rec.GivenName, Family: rec.FamilyName},
		PrimaryPhone: rec.Phone,
		Title:        rec.Title,
		Department:   rec.Department,
		Population:   models.RemoteRef{ID: populationID},
	}
	m.users = append(m.users, u)
	out := *u
	return &out, nil
}

func (m *MockDirectory) GetUser(ctx context.Context, id string) (*models.RemoteUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			out := *u
			return &out, nil
		}
	}
	return nil, apperrors.New(apperrors.KindNotFound, "The requested user was not found.")
}

func (m *MockDirectory) FindUserByUsername(ctx context.Context, username string) (*models.RemoteUser, error) {
	return m.find(func(u *models.RemoteUser) bool { return strings.EqualFold(u.Username, username) }), nil
}

func (m *MockDirectory) FindUserByEmail(ctx context.Context, email string) (*models.RemoteUser, error) {
	return m.find(func(u *models.RemoteUser) bool { return strings.EqualFold(u.Email, email) }), nil
}

func (m *MockDirectory) UpdateUser(ctx context.Context, id string, patch map[string]any) (*models.RemoteUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdateCalls++
	if m.UpdateError != nil {
		return nil, m.UpdateError
	}
	for _, u := range m.users {
		if u.ID != id {
			continue
		}
		for key, value := range patch {
			switch key {
			case "email":
				u.Email = value.(string)
			case "primaryPhone":
				u.PrimaryPhone = value.(string)
			case "title":
				u.Title = value.(string)
			case "department":
				u.Department = value.(string)
			case "enabled":
				u.Enabled = value.(bool)
			case "name":
				name := value.(map[string]any)
				u.Name.Given, _ = name["given"].(string)
				u.Name.Family, _ = name["family"].(string)
			}
		}
		out := *u
		return &out, nil
	}
	return nil, apperrors.New(apperrors.KindNotFound, "The requested user was not found.")
}

func (m *MockDirectory) DeleteUser(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalls++
	for i, u := range m.users {
		if u.ID == id {
			m.users = append(m.users[:i], m.users[i+1:]...)
			return nil
		}
	}
	return apperrors.New(apperrors.KindNotFound, "The requested user was not found.")
}

func (m *MockDirectory) ListUsers(ctx context.Context, populationID string, fn func(*models.RemoteUser) error) error {
	m.mu.Lock()
	var matched []models.RemoteUser
	for _, u := range m.users {
		if populationID == "" || u.Population.ID == populationID {
			matched = append(matched, *u)
		}
	}
	m.mu.Unlock()

	for i := range matched {
		if err := fn(&matched[i]); err != nil {
			return err
		}
	}
	return nil
}

func (m *MockDirectory) find(match func(*models.RemoteUser) bool) *models.RemoteUser {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if match(u) {
			out := *u
			return &out
		}
	}
	return nil
}

func (m *MockDirectory) hasPopulation(id string) bool {
	for _, p := range m.Populations {
		if p.ID == id {
			return true
		}
	}
	return false
}

// MockTokenIssuer hands out a fixed token
type MockTokenIssuer struct {
	Result    *models.Token
	Err       error
	Overrides []*models.Credentials
}

// Verify interface compliance
var _ service.TokenIssuer = (*MockTokenIssuer)(nil)

func (m *MockTokenIssuer) Token(ctx context.Context, override *models.Credentials) (*models.Token, error) {
	m.Overrides = append(m.Overrides, override)
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Result, nil
}

func notFound(msg string) error {
	return apperrors.New(apperrors.KindNotFound, msg)
}
