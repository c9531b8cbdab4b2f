package domain

import (
	"regexp"
	"strings"
	"time"
)

var templateVariablePattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// EmailTemplate is an outreach email attached to a campaign
type EmailTemplate struct {
	ID         string
	CampaignID string
	OrgID      string
	Name       string
	Subject    string
	Body       string
	Variables  []string
	Version    int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ExtractVariables returns the distinct {{placeholder}} names in text, in
// order of first appearance.
func ExtractVariables(text string) []string {
	matches := templateVariablePattern.FindAllStringSubmatch(text, -1)
	vars := make([]string, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		name := strings.TrimSpace(m[1])
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		vars = append(vars, name)
	}
	return vars
}

// Revise replaces the editable fields and bumps the version.
func (t *EmailTemplate) Revise(name, subject, body string, now time.Time) {
	if name != "" {
		t.Name = name
	}
	if subject != "" {
		t.Subject = subject
	}
	if body != "" {
		t.Body = body
	}
	t.Variables = ExtractVariables(t.Body)
	t.Version++
	t.UpdatedAt = now
}

// ValidateEmailTemplate validates an EmailTemplate
func ValidateEmailTemplate(t *EmailTemplate) error {
	if t == nil {
		return Validation("email template cannot be nil")
	}
	if t.ID == "" || t.CampaignID == "" {
		return ErrMissingRequiredField
	}
	if t.OrgID == "" {
		return ErrMissingOrg
	}
	if strings.TrimSpace(t.Name) == "" {
		return Validation("template name is required")
	}
	if strings.TrimSpace(t.Subject) == "" {
		return Validation("template subject is required")
	}
	if strings.TrimSpace(t.Body) == "" {
		return Validation("template body is required")
	}
	if t.Version < 1 {
		return Validation("template version must be positive")
	}
	return nil
}
