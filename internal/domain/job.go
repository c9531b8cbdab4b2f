package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Lane names a category of background job with its own workers and retry policy
type Lane string

const (
	LaneEmbedding Lane = "embedding"
	LaneCrawl     Lane = "crawl"
	LaneScrape    Lane = "scrape"
)

// Lanes lists every lane in dispatch order.
var Lanes = []Lane{LaneEmbedding, LaneCrawl, LaneScrape}

// ParseLane validates a lane name
func ParseLane(s string) (Lane, error) {
	switch Lane(s) {
	case LaneEmbedding, LaneCrawl, LaneScrape:
		return Lane(s), nil
	}
	return "", Validation("unknown lane %q", s)
}

// JobStatus represents the status of a queued job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusDead      JobStatus = "dead"
)

// RetryPolicy bounds delivery attempts. Attempt n (1-based) that fails is
// retried after BaseDelay * 2^(n-1), capped at MaxDelay when set.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Standard policies per lane.
var (
	DefaultEmbeddingPolicy = RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Minute}
	DefaultCrawlPolicy     = RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Minute}
	DefaultScrapePolicy    = RetryPolicy{MaxAttempts: 3, BaseDelay: 5 * time.Second, MaxDelay: 5 * time.Minute}
)

// DefaultPolicy returns the standard retry policy for a lane.
func DefaultPolicy(lane Lane) RetryPolicy {
	switch lane {
	case LaneCrawl:
		return DefaultCrawlPolicy
	case LaneScrape:
		return DefaultScrapePolicy
	}
	return DefaultEmbeddingPolicy
}

// Validate checks the policy is usable
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return Validation("retry policy needs at least one attempt")
	}
	if p.BaseDelay <= 0 {
		return Validation("retry policy base delay must be positive")
	}
	if p.MaxDelay != 0 && p.MaxDelay < p.BaseDelay {
		return Validation("retry policy max delay is below base delay")
	}
	return nil
}

// Backoff returns the delay before retrying after the given failed attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Exhausted reports whether no attempt remains after the given one.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}

// Job is a unit of work on a lane. Payload is the lane-specific JSON body.
type Job struct {
	ID         string
	Lane       Lane
	OrgID      string
	EntityID   string
	Payload    json.RawMessage
	Status     JobStatus
	Attempts   int
	Policy     RetryPolicy
	NextRunAt  time.Time
	LastError  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	FinishedAt *time.Time
}

// EmbeddingPayload is the body of an embedding job. Exactly one of FileRef
// and RawTextOverride is set.
type EmbeddingPayload struct {
	DocID           string `json:"docId"`
	OrgID           string `json:"orgId"`
	FileRef         string `json:"fileRef,omitempty"`
	RawTextOverride string `json:"rawTextOverride,omitempty"`
	Generation      int64  `json:"generation"`
}

// CrawlPayload is the body of a crawl job
type CrawlPayload struct {
	DocID      string `json:"docId"`
	OrgID      string `json:"orgId"`
	SourceURL  string `json:"sourceUrl"`
	MaxDepth   int    `json:"maxDepth"`
	MaxPages   int    `json:"maxPages"`
	Generation int64  `json:"generation"`
}

// ScrapePayload is the body of a scrape job. It carries the full query list.
type ScrapePayload struct {
	CampaignID string   `json:"campaignId"`
	OrgID      string   `json:"orgId"`
	Queries    []string `json:"queries"`
}

// JobSpec is a request to enqueue one job
type JobSpec struct {
	Lane     Lane
	OrgID    string
	EntityID string
	Payload  any
	Policy   RetryPolicy
}

// NewJob builds a queued job from a spec, due immediately.
func NewJob(id string, spec JobSpec, now time.Time) (*Job, error) {
	if _, err := ParseLane(string(spec.Lane)); err != nil {
		return nil, err
	}
	if spec.OrgID == "" || spec.EntityID == "" {
		return nil, ErrMissingRequiredField
	}
	if err := spec.Policy.Validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(spec.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", spec.Lane, err)
	}
	return &Job{
		ID:        id,
		Lane:      spec.Lane,
		OrgID:     spec.OrgID,
		EntityID:  spec.EntityID,
		Payload:   body,
		Status:    JobStatusQueued,
		Policy:    spec.Policy,
		NextRunAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// DecodePayload unmarshals the job body into v
func (j *Job) DecodePayload(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return Validation("job %s has malformed %s payload: %v", j.ID, j.Lane, err)
	}
	return nil
}

// JobOutcome is the terminal result reported for a job
type JobOutcome string

const (
	OutcomeSuccess JobOutcome = "success"
	OutcomeFailure JobOutcome = "failure"
)

// JobResult is the worker result callback. A failure is retried under the
// lane policy unless Permanent is set.
type JobResult struct {
	JobID          string          `json:"jobId"`
	Outcome        JobOutcome      `json:"outcome"`
	Error          string          `json:"error,omitempty"`
	Permanent      bool            `json:"permanent,omitempty"`
	ProducedChunks []ProducedChunk `json:"producedChunks,omitempty"`
}

// Validate checks the callback shape
func (r JobResult) Validate() error {
	if r.JobID == "" {
		return Validation("jobId is required")
	}
	switch r.Outcome {
	case OutcomeSuccess:
		return ValidateChunkSet(r.ProducedChunks)
	case OutcomeFailure:
		return nil
	}
	return Validation("invalid outcome %q", r.Outcome)
}

// DocumentRef is the part of embedding and crawl payloads that identifies
// the target document and generation.
type DocumentRef struct {
	DocID      string `json:"docId"`
	Generation int64  `json:"generation"`
}

// JobProgress is the progress callback for a running scrape job.
type JobProgress struct {
	JobID string `json:"jobId"`
	ProgressUpdate
}
