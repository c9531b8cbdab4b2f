package domain

import (
	"strings"
	"time"
)

// Organization owns every document, campaign and API key
type Organization struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// ValidateOrganization validates an Organization
func ValidateOrganization(o *Organization) error {
	if o == nil {
		return Validation("organization cannot be nil")
	}
	if o.ID == "" {
		return Validation("organization ID is required")
	}
	if strings.TrimSpace(o.Name) == "" {
		return Validation("organization name is required")
	}
	return nil
}

// APIKey authenticates API callers on behalf of an organization. Only the
// hash of the key is stored.
type APIKey struct {
	ID        string
	OrgID     string
	Name      string
	KeyHash   string
	CreatedAt time.Time
	RevokedAt *time.Time
}

// IsRevoked returns true if the API key has been revoked
func (a *APIKey) IsRevoked() bool {
	return a.RevokedAt != nil
}

// ValidateAPIKey validates an APIKey
func ValidateAPIKey(a *APIKey) error {
	switch {
	case a == nil:
		return Validation("api key cannot be nil")
	case a.ID == "":
		return Validation("api key ID is required")
	case a.OrgID == "":
		return ErrMissingOrg
	case strings.TrimSpace(a.Name) == "":
		return Validation("api key name is required")
	case a.KeyHash == "":
		return Validation("api key hash is required")
	}
	return nil
}

// Principal is the resolved caller of a request.
type Principal struct {
	UserID string
	OrgID  string
}

// RequireOrg returns the principal's org id or an auth error.
func (p *Principal) RequireOrg() (string, error) {
	if p == nil || p.OrgID == "" {
		return "", ErrMissingOrg
	}
	return p.OrgID, nil
}
