package domain

import (
	"fmt"
	"strings"
	"time"
)

// CampaignStatus is the persisted tag of a CampaignState
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusFailed    CampaignStatus = "failed"
)

// ScrapingStatus is the worker-owned sub-status of an active campaign
type ScrapingStatus string

const (
	ScrapingStatusPending    ScrapingStatus = "pending"
	ScrapingStatusInProgress ScrapingStatus = "in_progress"
	ScrapingStatusComplete   ScrapingStatus = "complete"
	ScrapingStatusFailed     ScrapingStatus = "failed"
)

// CampaignProgress is the progress record written by the scrape worker.
type CampaignProgress struct {
	ScrapingStatus     ScrapingStatus `json:"scrapingStatus"`
	CurrentQueryIndex  int            `json:"currentQueryIndex"`
	TotalQueries       int            `json:"totalQueries"`
	ProcessedCompanies int            `json:"processedCompanies"`
	Error              string         `json:"error,omitempty"`
	CompletedAt        *time.Time     `json:"completedAt,omitempty"`
}

// ProgressUpdate is an incremental report from the scrape worker.
type ProgressUpdate struct {
	CurrentQueryIndex  int            `json:"currentQueryIndex"`
	ProcessedCompanies int            `json:"processedCompanies"`
	ScrapingStatus     ScrapingStatus `json:"scrapingStatus,omitempty"`
}

// CampaignState is the lifecycle of a campaign. Draft carries no progress,
// Completed always has a completion time and Failed always has an error.
type CampaignState struct {
	status   CampaignStatus
	progress CampaignProgress
}

func CampaignDraft() CampaignState {
	return CampaignState{status: CampaignStatusDraft}
}

func CampaignActive(p CampaignProgress) CampaignState {
	return CampaignState{status: CampaignStatusActive, progress: p}
}

func CampaignCompleted(p CampaignProgress, at time.Time) CampaignState {
	at = at.UTC()
	p.ScrapingStatus = ScrapingStatusComplete
	p.CompletedAt = &at
	p.Error = ""
	return CampaignState{status: CampaignStatusCompleted, progress: p}
}

func CampaignFailed(p CampaignProgress, message string) CampaignState {
	if strings.TrimSpace(message) == "" {
		message = "unknown error"
	}
	p.ScrapingStatus = ScrapingStatusFailed
	p.Error = message
	p.CompletedAt = nil
	return CampaignState{status: CampaignStatusFailed, progress: p}
}

// RestoreCampaignState rebuilds a state from stored columns, rejecting
// combinations the constructors cannot produce.
func RestoreCampaignState(status CampaignStatus, p CampaignProgress) (CampaignState, error) {
	switch status {
	case CampaignStatusDraft:
		return CampaignDraft(), nil
	case CampaignStatusActive:
		return CampaignActive(p), nil
	case CampaignStatusCompleted:
		if p.CompletedAt == nil {
			return CampaignState{}, Validation("completed campaign has no completedAt")
		}
		return CampaignCompleted(p, *p.CompletedAt), nil
	case CampaignStatusFailed:
		if p.Error == "" {
			return CampaignState{}, Validation("failed campaign has no error")
		}
		return CampaignFailed(p, p.Error), nil
	}
	return CampaignState{}, Validation("invalid campaign status: %q", status)
}

func (s CampaignState) Status() CampaignStatus     { return s.status }
func (s CampaignState) Progress() CampaignProgress { return s.progress }

// IsTerminal reports whether the campaign reached completed or failed.
func (s CampaignState) IsTerminal() bool {
	return s.status == CampaignStatusCompleted || s.status == CampaignStatusFailed
}

// Activate moves a draft campaign to active with fresh progress.
func (s CampaignState) Activate(totalQueries int) (CampaignState, error) {
	if s.status != CampaignStatusDraft {
		return s, fmt.Errorf("%w: status is %s", ErrCampaignNotDraft, s.status)
	}
	if totalQueries < 1 {
		return s, Validation("campaign has no queries")
	}
	return CampaignActive(CampaignProgress{
		ScrapingStatus:    ScrapingStatusPending,
		CurrentQueryIndex: 0,
		TotalQueries:      totalQueries,
	}), nil
}

// Advance applies a progress update. Counters never move backwards so
// redelivered or reordered updates are harmless.
func (s CampaignState) Advance(u ProgressUpdate) (CampaignState, error) {
	if s.status != CampaignStatusActive {
		return s, fmt.Errorf("%w: campaign %s cannot accept progress", ErrIllegalTransition, s.status)
	}
	if u.CurrentQueryIndex < 0 || u.ProcessedCompanies < 0 {
		return s, Validation("progress counters cannot be negative")
	}
	if u.CurrentQueryIndex > s.progress.TotalQueries {
		return s, Validation("query index %d beyond %d queries", u.CurrentQueryIndex, s.progress.TotalQueries)
	}

	p := s.progress
	p.CurrentQueryIndex = max(p.CurrentQueryIndex, u.CurrentQueryIndex)
	p.ProcessedCompanies = max(p.ProcessedCompanies, u.ProcessedCompanies)
	switch u.ScrapingStatus {
	case "", ScrapingStatusInProgress:
		p.ScrapingStatus = ScrapingStatusInProgress
	case ScrapingStatusPending:
		if p.ScrapingStatus == "" {
			p.ScrapingStatus = ScrapingStatusPending
		}
	default:
		return s, Validation("terminal scraping status %q must be reported as a job outcome", u.ScrapingStatus)
	}
	return CampaignActive(p), nil
}

// Complete finishes an active campaign.
func (s CampaignState) Complete(at time.Time) (CampaignState, error) {
	if s.status != CampaignStatusActive {
		return s, fmt.Errorf("%w: campaign %s -> completed", ErrIllegalTransition, s.status)
	}
	p := s.progress
	p.CurrentQueryIndex = p.TotalQueries
	return CampaignCompleted(p, at), nil
}

// Fail records a terminal failure of an active campaign.
func (s CampaignState) Fail(message string) (CampaignState, error) {
	if s.status != CampaignStatusActive {
		return s, fmt.Errorf("%w: campaign %s -> failed", ErrIllegalTransition, s.status)
	}
	return CampaignFailed(s.progress, message), nil
}

// Campaign is a named set of search queries whose activation triggers scraping.
type Campaign struct {
	ID          string
	OrgID       string
	Name        string
	Description string
	Queries     []string
	State       CampaignState
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Status is a shorthand for c.State.Status()
func (c Campaign) Status() CampaignStatus {
	return c.State.Status()
}

// NormalizeQueries trims every query and rejects empty lists, blank entries
// and duplicates. Order is preserved.
func NormalizeQueries(raw []string) ([]string, error) {
	if len(raw) == 0 {
		return nil, Validation("at least one search query is required")
	}
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for i, q := range raw {
		q = strings.TrimSpace(q)
		if q == "" {
			return nil, Validation("query %d is empty", i)
		}
		if _, dup := seen[q]; dup {
			return nil, Validation("duplicate query %q", q)
		}
		seen[q] = struct{}{}
		out = append(out, q)
	}
	return out, nil
}

// ValidateCampaign validates a Campaign before it is persisted
func ValidateCampaign(c *Campaign) error {
	if c == nil {
		return Validation("campaign cannot be nil")
	}
	if c.ID == "" {
		return Validation("campaign ID is required")
	}
	if c.OrgID == "" {
		return ErrMissingOrg
	}
	if strings.TrimSpace(c.Name) == "" {
		return Validation("campaign name is required")
	}
	if _, err := NormalizeQueries(c.Queries); err != nil {
		return err
	}
	return nil
}
