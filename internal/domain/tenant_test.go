package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateOrganization(t *testing.T) {
	assert.NoError(t, ValidateOrganization(&Organization{ID: "o1", Name: "Acme"}))
	assert.Error(t, ValidateOrganization(&Organization{ID: "o1"}))
	assert.Error(t, ValidateOrganization(&Organization{Name: "Acme"}))
	assert.Error(t, ValidateOrganization(nil))
}

func TestAPIKey(t *testing.T) {
	key := &APIKey{ID: "k1", OrgID: "o1", Name: "ci", KeyHash: "abc", CreatedAt: time.Now()}
	assert.NoError(t, ValidateAPIKey(key))
	assert.False(t, key.IsRevoked())

	now := time.Now()
	key.RevokedAt = &now
	assert.True(t, key.IsRevoked())

	assert.True(t, HasCode(ValidateAPIKey(&APIKey{ID: "k1", Name: "ci", KeyHash: "abc"}), ErrCodeUnauthorized))
	assert.True(t, HasCode(ValidateAPIKey(&APIKey{ID: "k1", OrgID: "o1", KeyHash: "abc"}), ErrCodeValidation))
}

func TestPrincipal_RequireOrg(t *testing.T) {
	orgID, err := (&Principal{UserID: "k1", OrgID: "o1"}).RequireOrg()
	require.NoError(t, err)
	assert.Equal(t, "o1", orgID)

	var p *Principal
	_, err = p.RequireOrg()
	assert.ErrorIs(t, err, ErrMissingOrg)

	_, err = (&Principal{UserID: "k1"}).RequireOrg()
	assert.ErrorIs(t, err, ErrMissingOrg)
}
