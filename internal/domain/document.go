package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// DocumentKind discriminates how a knowledge document was sourced
type DocumentKind string

const (
	DocumentKindUpload DocumentKind = "upload"
	DocumentKindCrawl  DocumentKind = "crawl"
	DocumentKindOffer  DocumentKind = "offer"
)

// DocumentStatus is the persisted tag of a DocumentState
type DocumentStatus string

const (
	DocumentStatusPending    DocumentStatus = "pending"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusEmbedded   DocumentStatus = "embedded"
	DocumentStatusFailed     DocumentStatus = "failed"
)

// Crawl bounds accepted by SubmitCrawl.
const (
	MinCrawlDepth = 1
	MaxCrawlDepth = 5
	MinCrawlPages = 1
	MaxCrawlPages = 100

	DefaultCrawlDepth = 2
	DefaultCrawlPages = 25
)

// DefaultOfferTitle is used when an offer is saved without a title.
const DefaultOfferTitle = "Offer"

// DocumentState is the lifecycle of a document. Only the constructors below
// produce valid values; chunk count exists only on Embedded and the error
// message only on Failed.
type DocumentState struct {
	status     DocumentStatus
	chunkCount int
	message    string
}

func DocumentPending() DocumentState {
	return DocumentState{status: DocumentStatusPending}
}

func DocumentProcessing() DocumentState {
	return DocumentState{status: DocumentStatusProcessing}
}

func DocumentEmbedded(chunkCount int) DocumentState {
	return DocumentState{status: DocumentStatusEmbedded, chunkCount: chunkCount}
}

func DocumentFailed(message string) DocumentState {
	return DocumentState{status: DocumentStatusFailed, message: message}
}

// RestoreDocumentState rebuilds a state from stored columns.
func RestoreDocumentState(status DocumentStatus, chunkCount int, message string) (DocumentState, error) {
	switch status {
	case DocumentStatusPending:
		return DocumentPending(), nil
	case DocumentStatusProcessing:
		return DocumentProcessing(), nil
	case DocumentStatusEmbedded:
		if chunkCount < 0 {
			return DocumentState{}, Validation("embedded document has negative chunk count %d", chunkCount)
		}
		return DocumentEmbedded(chunkCount), nil
	case DocumentStatusFailed:
		if message == "" {
			message = "unknown error"
		}
		return DocumentFailed(message), nil
	}
	return DocumentState{}, Validation("invalid document status: %q", status)
}

func (s DocumentState) Status() DocumentStatus { return s.status }

// ChunkCount is non-zero only for embedded documents.
func (s DocumentState) ChunkCount() int { return s.chunkCount }

// ErrorMessage is non-empty only for failed documents.
func (s DocumentState) ErrorMessage() string { return s.message }

// IsTerminal reports whether no job is expected to move this state further.
func (s DocumentState) IsTerminal() bool {
	return s.status == DocumentStatusEmbedded || s.status == DocumentStatusFailed
}

// StartProcessing moves a pending document to processing. A document that is
// already processing stays there so a redelivered job is accepted.
func (s DocumentState) StartProcessing() (DocumentState, error) {
	switch s.status {
	case DocumentStatusPending, DocumentStatusProcessing:
		return DocumentProcessing(), nil
	}
	return s, NewDomainErrorWithCause(ErrCodeConflict, "cannot start processing", illegal(s.status, DocumentStatusProcessing))
}

// Embed records a successful embedding run.
func (s DocumentState) Embed(chunkCount int) (DocumentState, error) {
	if s.IsTerminal() {
		return s, NewDomainErrorWithCause(ErrCodeConflict, "cannot embed", illegal(s.status, DocumentStatusEmbedded))
	}
	if chunkCount < 0 {
		return s, Validation("chunk count cannot be negative")
	}
	return DocumentEmbedded(chunkCount), nil
}

// Fail records a terminal job failure.
func (s DocumentState) Fail(message string) (DocumentState, error) {
	if s.IsTerminal() {
		return s, NewDomainErrorWithCause(ErrCodeConflict, "cannot fail", illegal(s.status, DocumentStatusFailed))
	}
	if strings.TrimSpace(message) == "" {
		message = "unknown error"
	}
	return DocumentFailed(message), nil
}

// Resubmit returns to pending from any state and drops the previous outcome.
func (s DocumentState) Resubmit() DocumentState {
	return DocumentPending()
}

// KnowledgeDocument is a knowledge base entry owned by an organization
type KnowledgeDocument struct {
	ID          string
	OrgID       string
	Kind        DocumentKind
	Title       string
	Description string
	Content     string // offer text
	FileRef     string // upload object key
	SourceURL   string // crawl root
	CrawlDepth  int
	CrawlPages  int
	State       DocumentState
	Generation  int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}

// Status is a shorthand for d.State.Status()
func (d KnowledgeDocument) Status() DocumentStatus {
	return d.State.Status()
}

// Resubmit replaces the document's user-supplied fields, resets it to pending
// and bumps the generation so in-flight results for earlier generations are
// rejected.
func (d *KnowledgeDocument) Resubmit(title, description, content string, now time.Time) {
	d.Title = title
	d.Description = description
	d.Content = content
	d.State = d.State.Resubmit()
	d.Generation++
	d.UpdatedAt = now
}

// IsDeleted reports whether the document was soft-deleted
func (d KnowledgeDocument) IsDeleted() bool {
	return d.DeletedAt != nil
}

// ValidateDocument validates a KnowledgeDocument before it is persisted
func ValidateDocument(d *KnowledgeDocument) error {
	if d == nil {
		return Validation("document cannot be nil")
	}
	if d.ID == "" {
		return Validation("document ID is required")
	}
	if d.OrgID == "" {
		return ErrMissingOrg
	}
	if strings.TrimSpace(d.Title) == "" {
		return Validation("document title is required")
	}
	if d.Generation < 1 {
		return Validation("document generation must be positive")
	}
	if _, err := RestoreDocumentState(d.State.Status(), d.State.ChunkCount(), d.State.ErrorMessage()); err != nil {
		return err
	}

	switch d.Kind {
	case DocumentKindUpload:
		if strings.TrimSpace(d.Description) == "" {
			return Validation("document description is required")
		}
		if d.FileRef == "" {
			return Validation("upload document requires a file reference")
		}
	case DocumentKindCrawl:
		if strings.TrimSpace(d.Description) == "" {
			return Validation("document description is required")
		}
		if _, err := ParseCrawlURL(d.SourceURL); err != nil {
			return err
		}
		if err := ValidateCrawlBounds(d.CrawlDepth, d.CrawlPages); err != nil {
			return err
		}
	case DocumentKindOffer:
		if strings.TrimSpace(d.Content) == "" {
			return Validation("offer text is required")
		}
	default:
		return Validation("invalid document kind: %q", d.Kind)
	}
	return nil
}

// ParseCrawlURL accepts only absolute http(s) URLs with a host.
func ParseCrawlURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, Validation("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, NewDomainErrorWithCause(ErrCodeValidation, "malformed url", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, Validation("url must be absolute: %q", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, Validation("url scheme must be http or https: %q", u.Scheme)
	}
	return u, nil
}

// ValidateCrawlBounds checks maxDepth and maxPages against the crawl policy.
func ValidateCrawlBounds(maxDepth, maxPages int) error {
	if maxDepth < MinCrawlDepth || maxDepth > MaxCrawlDepth {
		return Validation("maxDepth must be between %d and %d, got %d", MinCrawlDepth, MaxCrawlDepth, maxDepth)
	}
	if maxPages < MinCrawlPages || maxPages > MaxCrawlPages {
		return Validation("maxPages must be between %d and %d, got %d", MinCrawlPages, MaxCrawlPages, maxPages)
	}
	return nil
}

func illegal(from, to DocumentStatus) error {
	return fmt.Errorf("%w: document %s -> %s", ErrIllegalTransition, from, to)
}
