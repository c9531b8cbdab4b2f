package openai

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/cloo-solutions/outreach/internal/domain"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockOpenAIAPI is a mock for the OpenAI API
type MockOpenAIAPI struct {
	mock.Mock
}

func (m *MockOpenAIAPI) CreateEmbeddings(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

func TestClient_GenerateEmbedding_Success(t *testing.T) {
	mockAPI := new(MockOpenAIAPI)
	client := &Client{api: mockAPI, dimensions: 8}

	ctx := context.Background()
	text := "We install heat pumps in family homes."
	expected := []float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8}

	mockAPI.On("CreateEmbeddings", ctx, text).Return(expected, nil)

	embedding, err := client.GenerateEmbedding(ctx, text)

	assert.NoError(t, err)
	assert.Equal(t, expected, embedding)
	mockAPI.AssertExpectations(t)
}

func TestClient_GenerateEmbedding_EmptyText(t *testing.T) {
	client := NewClient("")

	embedding, err := client.GenerateEmbedding(context.Background(), "")

	assert.ErrorIs(t, err, ErrEmptyText)
	assert.Nil(t, embedding)
}

func TestClient_GenerateEmbedding_WrongDimensions(t *testing.T) {
	mockAPI := new(MockOpenAIAPI)
	client := &Client{api: mockAPI, dimensions: 1536}
	mockAPI.On("CreateEmbeddings", mock.Anything, "short").Return([]float32{1, 2}, nil)

	_, err := client.GenerateEmbedding(context.Background(), "short")

	assert.ErrorIs(t, err, ErrWrongDimensions)
}

func TestClient_GenerateEmbedding_APIError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		permanent bool
	}{
		{name: "rate limit is retryable", err: &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Message: "slow down"}},
		{name: "network error is retryable", err: errors.New("connection reset")},
		{name: "bad request is permanent", err: &openai.APIError{HTTPStatusCode: http.StatusBadRequest, Message: "input too long"}, permanent: true},
		{name: "bad key is permanent", err: &openai.APIError{HTTPStatusCode: http.StatusUnauthorized, Message: "invalid key"}, permanent: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockAPI := new(MockOpenAIAPI)
			client := &Client{api: mockAPI, dimensions: 1536}
			mockAPI.On("CreateEmbeddings", mock.Anything, "text").Return(nil, tt.err)

			embedding, err := client.GenerateEmbedding(context.Background(), "text")

			assert.Error(t, err)
			assert.Nil(t, embedding)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.permanent, domain.HasCode(err, domain.ErrCodeValidation))
		})
	}
}

func TestNewClientWithConfig_Defaults(t *testing.T) {
	client := NewClientWithConfig(Config{APIKey: "test-api-key"})

	assert.Equal(t, DefaultEmbeddingDimensions, client.dimensions)
	adapter, ok := client.api.(*openAIAdapter)
	assert.True(t, ok)
	assert.Equal(t, DefaultEmbeddingModel, adapter.model)
}
