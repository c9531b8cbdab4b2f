package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/cloo-solutions/outreach/internal/domain"
	"github.com/google/uuid"
)

const apiKeyPrefix = "otr_"

type OrgRepository interface {
	Create(ctx context.Context, org *domain.Organization) error
	GetByID(ctx context.Context, id string) (*domain.Organization, error)
	GetByName(ctx context.Context, name string) (*domain.Organization, error)
	List(ctx context.Context) ([]*domain.Organization, error)
}

type APIKeyRepository interface {
	Create(ctx context.Context, key *domain.APIKey) error
	GetByHash(ctx context.Context, hash string) (*domain.APIKey, error)
	GetByOrgID(ctx context.Context, orgID string) ([]*domain.APIKey, error)
	Revoke(ctx context.Context, id string) error
}

// AuthService manages organizations and API keys and resolves bearer
// tokens to a Principal.
type AuthService struct {
	orgRepo OrgRepository
	keyRepo APIKeyRepository
	uuidGen UUIDGenerator
	now     Clock
}

func NewAuthService(orgRepo OrgRepository, keyRepo APIKeyRepository, uuidGen UUIDGenerator) *AuthService {
	return &AuthService{
		orgRepo: orgRepo,
		keyRepo: keyRepo,
		uuidGen: uuidGen,
		now:     systemClock,
	}
}

func (s *AuthService) CreateOrg(ctx context.Context, name string) (*domain.Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.Validation("organization name is required")
	}

	if _, err := s.orgRepo.GetByName(ctx, name); err == nil {
		return nil, domain.ErrOrganizationExists
	} else if !errors.Is(err, domain.ErrOrganizationNotFound) {
		return nil, err
	}

	org := &domain.Organization{
		ID:        s.uuidGen.NewString(),
		Name:      name,
		CreatedAt: s.now(),
	}

	if err := domain.ValidateOrganization(org); err != nil {
		return nil, err
	}

	if err := s.orgRepo.Create(ctx, org); err != nil {
		return nil, err
	}

	return org, nil
}

func (s *AuthService) CreateAPIKey(ctx context.Context, orgID, name string) (string, error) {
	_, token, err := s.IssueAPIKey(ctx, orgID, name)
	return token, err
}

// IssueAPIKey stores a new key for the organization and returns it together
// with its plaintext token. Only the hash of the token is persisted.
func (s *AuthService) IssueAPIKey(ctx context.Context, orgID, name string) (*domain.APIKey, string, error) {
	if orgID == "" {
		return nil, "", domain.ErrMissingOrg
	}
	if name == "" {
		return nil, "", domain.Validation("API key name is required")
	}

	if _, err := s.orgRepo.GetByID(ctx, orgID); err != nil {
		return nil, "", err
	}

	token, err := generateAPIToken()
	if err != nil {
		return nil, "", domain.NewDomainErrorWithCause(domain.ErrCodeInternalError, "failed to generate API key", err)
	}

	key := &domain.APIKey{
		ID:        s.uuidGen.NewString(),
		OrgID:     orgID,
		Name:      name,
		KeyHash:   hashToken(token),
		CreatedAt: s.now(),
	}

	if err := domain.ValidateAPIKey(key); err != nil {
		return nil, "", err
	}

	if err := s.keyRepo.Create(ctx, key); err != nil {
		return nil, "", err
	}

	return key, token, nil
}

func (s *AuthService) CreateAPIKeyWithToken(ctx context.Context, orgID, name, token string) error {
	if orgID == "" {
		return domain.ErrMissingOrg
	}
	if name == "" {
		return domain.Validation("API key name is required")
	}
	if !IsValidAPIToken(token) {
		return domain.Validation("invalid API key format (expected otr_<64 hex chars>)")
	}

	_, err := s.orgRepo.GetByID(ctx, orgID)
	if err != nil {
		return err
	}

	hash := hashToken(token)

	key := &domain.APIKey{
		ID:        s.uuidGen.NewString(),
		OrgID:     orgID,
		Name:      name,
		KeyHash:   hash,
		CreatedAt: s.now(),
		RevokedAt: nil,
	}

	if err := domain.ValidateAPIKey(key); err != nil {
		return err
	}

	return s.keyRepo.Create(ctx, key)
}

// ResolvePrincipal maps a bearer token to the calling principal. The API key
// id stands in for the user id.
func (s *AuthService) ResolvePrincipal(ctx context.Context, token string) (*domain.Principal, error) {
	if !IsValidAPIToken(token) {
		return nil, domain.ErrInvalidAPIKey
	}

	key, err := s.keyRepo.GetByHash(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, domain.ErrAPIKeyNotFound) {
			return nil, domain.ErrInvalidAPIKey
		}
		return nil, err
	}

	if key.IsRevoked() {
		return nil, domain.ErrAPIKeyRevoked
	}

	return &domain.Principal{UserID: key.ID, OrgID: key.OrgID}, nil
}

func (s *AuthService) ListOrgs(ctx context.Context) ([]*domain.Organization, error) {
	return s.orgRepo.List(ctx)
}

// ResolveOrg looks an organization up by id when ref is a UUID and by name
// otherwise.
func (s *AuthService) ResolveOrg(ctx context.Context, ref string) (*domain.Organization, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, domain.Validation("organization id or name is required")
	}
	if _, err := uuid.Parse(ref); err == nil {
		return s.orgRepo.GetByID(ctx, ref)
	}
	return s.orgRepo.GetByName(ctx, ref)
}

func (s *AuthService) GetOrgByName(ctx context.Context, name string) (*domain.Organization, error) {
	return s.orgRepo.GetByName(ctx, strings.TrimSpace(name))
}

func (s *AuthService) RevokeAPIKey(ctx context.Context, keyID string) error {
	if keyID == "" {
		return domain.Validation("API key ID is required")
	}

	return s.keyRepo.Revoke(ctx, keyID)
}

func (s *AuthService) ListAPIKeys(ctx context.Context, orgID string) ([]*domain.APIKey, error) {
	if orgID == "" {
		return nil, domain.ErrMissingOrg
	}

	return s.keyRepo.GetByOrgID(ctx, orgID)
}

func generateAPIToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return apiKeyPrefix + hex.EncodeToString(bytes), nil
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

func IsValidAPIToken(token string) bool {
	if !strings.HasPrefix(token, apiKeyPrefix) {
		return false
	}
	hexPart := token[len(apiKeyPrefix):]
	if len(hexPart) != 64 {
		return false
	}
	for _, c := range hexPart {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}
