// Package telemetry provides Sentry-based distributed tracing utilities.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cloo-solutions/outreach/internal/domain"
	"github.com/getsentry/sentry-go"
)

const (
	serviceName = "outreach"
)

// Config holds the configuration for Sentry initialization.
type Config struct {
	DSN              string
	Environment      string
	TracesSampleRate float64
	Debug            bool
}

// Init initializes Sentry with tracing enabled and returns a flush function.
// With an empty DSN it does nothing.
func Init(cfg Config) (func(), error) {
	if cfg.DSN == "" {
		return func() {}, nil
	}

	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	if cfg.TracesSampleRate == 0 {
		cfg.TracesSampleRate = 1.0
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		EnableTracing:    true,
		TracesSampleRate: cfg.TracesSampleRate,
		Debug:            cfg.Debug,
		ServerName:       serviceName,
		TracesSampler: sentry.TracesSampler(func(ctx sentry.SamplingContext) float64 {
			if ctx.Span.Name == "GET /health" {
				return 0.0
			}
			var emptySpanID sentry.SpanID
			if ctx.Span.ParentSpanID != emptySpanID {
				if ctx.Span.Sampled.Bool() {
					return 1.0
				}
				return 0.0
			}
			return cfg.TracesSampleRate
		}),
	})
	if err != nil {
		slog.Warn("sentry: failed to initialize, continuing without tracing", "error", err)
		return func() {}, nil
	}

	shutdown := func() {
		sentry.Flush(5 * time.Second)
	}

	slog.Info("sentry: tracing initialized", "environment", cfg.Environment, "sample_rate", cfg.TracesSampleRate)
	return shutdown, nil
}

// SampleRateFor returns the default trace sample rate for an environment.
func SampleRateFor(environment string) float64 {
	if environment == "" || environment == "development" {
		return 1.0
	}
	return 0.1
}

// SpanAttributes contains common attributes for service spans.
type SpanAttributes struct {
	OrgID      string
	DocumentID string
	CampaignID string
	JobID      string
	Lane       string
	Operation  string
}

// Span wraps sentry.Span to provide a consistent interface.
type Span struct {
	inner *sentry.Span
}

// End finishes the span.
func (s *Span) End() {
	if s.inner != nil {
		s.inner.Finish()
	}
}

// SetStatus sets the span status.
func (s *Span) SetStatus(status sentry.SpanStatus) {
	if s.inner != nil {
		s.inner.Status = status
	}
}

// SetError marks the span as errored. Caller errors (validation, auth, not
// found, conflict) only set a status; everything else is captured.
func (s *Span) SetError(err error) {
	if s.inner == nil || err == nil {
		return
	}
	switch domain.CodeOf(err) {
	case domain.ErrCodeValidation:
		s.inner.Status = sentry.SpanStatusInvalidArgument
	case domain.ErrCodeUnauthorized:
		s.inner.Status = sentry.SpanStatusUnauthenticated
	case domain.ErrCodeNotFound:
		s.inner.Status = sentry.SpanStatusNotFound
	case domain.ErrCodeConflict:
		s.inner.Status = sentry.SpanStatusAborted
	default:
		s.inner.Status = sentry.SpanStatusInternalError
		if hub := sentry.GetHubFromContext(s.inner.Context()); hub != nil {
			hub.CaptureException(err)
		}
	}
}

// Finish records err (if any) and ends the span. Meant for
// `defer func() { span.Finish(err) }()` with a named error result.
func (s *Span) Finish(err error) {
	s.SetError(err)
	s.End()
}

func setAttributes(span *sentry.Span, attrs SpanAttributes) {
	if span == nil {
		return
	}

	tags := map[string]string{
		"org_id":      attrs.OrgID,
		"document_id": attrs.DocumentID,
		"campaign_id": attrs.CampaignID,
		"job_id":      attrs.JobID,
		"lane":        attrs.Lane,
	}
	for k, v := range tags {
		if v != "" {
			span.SetTag(k, v)
		}
	}
	if attrs.Operation != "" {
		span.SetData("operation", attrs.Operation)
	}
}

// StartSpan creates a child span when ctx already carries one, otherwise a
// new transaction.
func StartSpan(ctx context.Context, name string, attrs SpanAttributes) (context.Context, *Span) {
	parentSpan := sentry.SpanFromContext(ctx)

	var span *sentry.Span
	if parentSpan != nil {
		span = parentSpan.StartChild(name)
	} else {
		span = sentry.StartSpan(ctx, name, sentry.WithTransactionName(name))
	}

	setAttributes(span, attrs)

	return span.Context(), &Span{inner: span}
}

// StartJobTransaction starts a root transaction for one job execution.
func StartJobTransaction(ctx context.Context, job *domain.Job) (context.Context, *Span) {
	name := "job." + string(job.Lane)
	span := sentry.StartSpan(ctx, "queue.process",
		sentry.WithTransactionName(name),
		sentry.WithTransactionSource(sentry.SourceTask),
	)
	setAttributes(span, SpanAttributes{
		OrgID: job.OrgID,
		JobID: job.ID,
		Lane:  string(job.Lane),
	})
	span.SetData("attempt", job.Attempts)
	return span.Context(), &Span{inner: span}
}

// CaptureError captures an error to Sentry with the current context.
func CaptureError(ctx context.Context, err error) {
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.CaptureException(err)
	} else {
		sentry.CaptureException(err)
	}
}

// AddBreadcrumb adds a breadcrumb to the current scope.
func AddBreadcrumb(ctx context.Context, category, message string) {
	breadcrumb := &sentry.Breadcrumb{
		Type:      "default",
		Category:  category,
		Message:   message,
		Level:     sentry.LevelInfo,
		Timestamp: time.Now(),
	}

	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.AddBreadcrumb(breadcrumb, nil)
	} else {
		sentry.AddBreadcrumb(breadcrumb)
	}
}
