package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Error(t *testing.T) {
	assert.Equal(t, "[NOT_FOUND] document not found", ErrDocumentNotFound.Error())

	wrapped := StorageFailure("head object", errors.New("timeout"))
	assert.Equal(t, "[STORAGE_ERROR] head object: timeout", wrapped.Error())
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"sentinel", ErrCampaignNotFound, ErrCodeNotFound},
		{"wrapped", fmt.Errorf("activate: %w", ErrCampaignNotDraft), ErrCodeConflict},
		{"queue", QueueFailure("enqueue", errors.New("conn reset")), ErrCodeQueue},
		{"worker", WorkerFailure("max attempts"), ErrCodeWorkerFailure},
		{"plain", errors.New("boom"), ErrCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestDomainError_IsMatchesCopies(t *testing.T) {
	copyErr := NewDomainError(ErrCodeConflict, ErrStaleGeneration.Message)
	assert.ErrorIs(t, fmt.Errorf("write chunks: %w", copyErr), ErrStaleGeneration)
	assert.NotErrorIs(t, copyErr, ErrCampaignNotDraft)

	cause := errors.New("no such key")
	err := StorageFailure("resolve", cause)
	assert.ErrorIs(t, err, cause)
}

func TestHasCode(t *testing.T) {
	assert.False(t, HasCode(nil, ErrCodeInternalError))
	assert.True(t, HasCode(Validation("x %d", 1), ErrCodeValidation))
}

func TestMessageOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"worker", WorkerFailure("captcha"), "captcha"},
		{"wrapped validation", fmt.Errorf("embed: %w", Validation("file %s contains no text", "a.pdf")), "file a.pdf contains no text"},
		{"with cause", StorageFailure("download", errors.New("timeout")), "download: timeout"},
		{"plain", errors.New("boom"), "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MessageOf(tt.err))
		})
	}
}
