package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloo-solutions/outreach/internal/domain"
	"github.com/cloo-solutions/outreach/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

const testToken = "otr_0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

type MockPrincipalResolver struct {
	mock.Mock
}

func (m *MockPrincipalResolver) ResolvePrincipal(ctx context.Context, token string) (*domain.Principal, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Principal), args.Error(1)
}

func TestAPIKeyAuth_Success(t *testing.T) {
	resolver := new(MockPrincipalResolver)
	resolver.On("ResolvePrincipal", mock.Anything, testToken).
		Return(&domain.Principal{UserID: "key-1", OrgID: "org-789"}, nil)

	var captured *domain.Principal
	var loggedOrg string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = GetPrincipal(r.Context())
		loggedOrg = logger.OrgID(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	w := httptest.NewRecorder()

	APIKeyAuth(resolver)(handler).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	if assert.NotNil(t, captured) {
		assert.Equal(t, "org-789", captured.OrgID)
		assert.Equal(t, "key-1", captured.UserID)
	}
	assert.Equal(t, "org-789", loggedOrg)
	resolver.AssertExpectations(t)
}

func TestAPIKeyAuth_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		setup   func(*MockPrincipalResolver)
		status  int
		message string
	}{
		{
			name:    "missing header",
			status:  http.StatusUnauthorized,
			message: "missing authorization header",
		},
		{
			name:    "basic auth",
			header:  "Basic abc123",
			status:  http.StatusUnauthorized,
			message: "invalid authorization format",
		},
		{
			name:   "unknown key",
			header: "Bearer " + testToken,
			setup: func(m *MockPrincipalResolver) {
				m.On("ResolvePrincipal", mock.Anything, testToken).Return(nil, domain.ErrInvalidAPIKey)
			},
			status:  http.StatusUnauthorized,
			message: "invalid api key",
		},
		{
			name:   "principal without org",
			header: "Bearer " + testToken,
			setup: func(m *MockPrincipalResolver) {
				m.On("ResolvePrincipal", mock.Anything, testToken).Return(&domain.Principal{UserID: "key-1"}, nil)
			},
			status:  http.StatusUnauthorized,
			message: "no organization resolved",
		},
		{
			name:   "store failure",
			header: "Bearer " + testToken,
			setup: func(m *MockPrincipalResolver) {
				m.On("ResolvePrincipal", mock.Anything, testToken).Return(nil, errors.New("db down"))
			},
			status:  http.StatusInternalServerError,
			message: "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := new(MockPrincipalResolver)
			if tt.setup != nil {
				tt.setup(resolver)
			}
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			APIKeyAuth(resolver)(handler).ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), tt.message)
			resolver.AssertExpectations(t)
		})
	}
}

func TestWorkerToken(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name     string
		expected string
		sent     string
		status   int
	}{
		{"matching token", "s3cret", "s3cret", http.StatusNoContent},
		{"wrong token", "s3cret", "guess", http.StatusUnauthorized},
		{"missing token", "s3cret", "", http.StatusUnauthorized},
		{"unconfigured token", "", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/internal/jobs/j/result", nil)
			if tt.sent != "" {
				req.Header.Set(WorkerTokenHeader, tt.sent)
			}
			w := httptest.NewRecorder()

			WorkerToken(tt.expected)(ok).ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestAdminToken(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/orgs", nil)
	req.Header.Set(WorkerTokenHeader, "admin")
	w := httptest.NewRecorder()
	AdminToken("admin")(ok).ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid admin token")

	req.Header.Set(AdminTokenHeader, "admin")
	w = httptest.NewRecorder()
	AdminToken("admin")(ok).ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetOrgID(t *testing.T) {
	ctx := WithPrincipal(context.Background(), &domain.Principal{UserID: "u", OrgID: "org-123"})
	assert.Equal(t, "org-123", GetOrgID(ctx))
	assert.Equal(t, "", GetOrgID(context.Background()))
	assert.Nil(t, GetPrincipal(context.Background()))
}
