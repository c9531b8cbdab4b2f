package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloo-solutions/outreach/internal/domain"
	"github.com/cloo-solutions/outreach/internal/logger"
	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"
)

// Topics
const (
	TopicPrefix   = "outreach."
	TopicResult   = "outreach.result"
	ResultChannel = "outreach-api"
)

// TopicForLane returns the topic external workers of lane consume.
func TopicForLane(lane domain.Lane) string {
	return TopicPrefix + string(lane)
}

// Envelope is the message published for a remote job
type Envelope struct {
	JobID     string          `json:"jobId"`
	Lane      domain.Lane     `json:"lane"`
	OrgID     string          `json:"orgId"`
	EntityID  string          `json:"entityId"`
	Attempt   int             `json:"attempt"`
	Payload   json.RawMessage `json:"payload"`
	RequestID string          `json:"requestId,omitempty"`
}

// Publisher is satisfied by *nsq.Producer
type Publisher interface {
	Publish(topic string, body []byte) error
}

// NSQRelay is the Handler of a remote lane: it publishes the job to the
// lane topic and leaves the job running until a result comes back.
type NSQRelay struct {
	publisher Publisher
}

// NewNSQRelay creates a new NSQRelay
func NewNSQRelay(publisher Publisher) *NSQRelay {
	return &NSQRelay{publisher: publisher}
}

// Handle implements Handler
func (r *NSQRelay) Handle(ctx context.Context, job *domain.Job) ([]domain.ProducedChunk, error) {
	body, err := json.Marshal(Envelope{
		JobID:     job.ID,
		Lane:      job.Lane,
		OrgID:     job.OrgID,
		EntityID:  job.EntityID,
		Attempt:   job.Attempts,
		Payload:   job.Payload,
		RequestID: logger.RequestID(ctx),
	})
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}

	topic := TopicForLane(job.Lane)
	if err := r.publisher.Publish(topic, body); err != nil {
		return nil, domain.QueueFailure("failed to publish to "+topic, err)
	}
	return nil, ErrDeferred
}

// Message types on the result topic
const (
	MessageResult   = "result"
	MessageProgress = "progress"
)

// ResultMessage is one message on the result topic
type ResultMessage struct {
	Type     string              `json:"type"`
	Result   *domain.JobResult   `json:"result,omitempty"`
	Progress *domain.JobProgress `json:"progress,omitempty"`
}

// NSQResultConsumer applies results and progress reported by external
// workers on the result topic.
type NSQResultConsumer struct {
	settler *Settler
	lease   time.Duration
}

// NewNSQResultConsumer creates a new NSQResultConsumer. Progress extends the
// job's lease by lease.
func NewNSQResultConsumer(settler *Settler, lease time.Duration) *NSQResultConsumer {
	if lease <= 0 {
		lease = DefaultLease
	}
	return &NSQResultConsumer{settler: settler, lease: lease}
}

// HandleMessage implements nsq.Handler. Returning an error requeues the
// message, so only infrastructure failures do.
func (c *NSQResultConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	ctx := logger.WithRequestID(context.Background(), uuid.NewString())

	var msg ResultMessage
	if err := json.Unmarshal(m.Body, &msg); err != nil {
		slog.ErrorContext(ctx, "invalid result message, dropping", "error", err)
		return nil
	}

	var err error
	switch {
	case msg.Type == MessageResult && msg.Result != nil:
		ctx = logger.WithJobID(ctx, msg.Result.JobID)
		err = c.settler.Apply(ctx, *msg.Result)
	case msg.Type == MessageProgress && msg.Progress != nil:
		ctx = logger.WithJobID(ctx, msg.Progress.JobID)
		err = c.settler.Progress(ctx, *msg.Progress, c.lease)
	default:
		slog.ErrorContext(ctx, "unknown result message, dropping", "type", msg.Type)
		return nil
	}

	if err == nil {
		return nil
	}
	if retryable(err) {
		slog.ErrorContext(ctx, "failed to apply result message, requeueing", "type", msg.Type, "error", err)
		return err
	}
	slog.WarnContext(ctx, "result message rejected", "type", msg.Type, "error", err)
	return nil
}

func retryable(err error) bool {
	if errors.Is(err, domain.ErrStaleGeneration) {
		return false
	}
	switch domain.CodeOf(err) {
	case domain.ErrCodeValidation, domain.ErrCodeNotFound, domain.ErrCodeConflict, domain.ErrCodeUnauthorized:
		return false
	}
	return true
}

// NSQConfig locates nsqd or nsqlookupd
type NSQConfig struct {
	NSQDAddr   string
	LookupAddr string
}

// StartResultConsumer connects an NSQResultConsumer to the result topic.
// Stop the returned consumer on shutdown.
func StartResultConsumer(cfg NSQConfig, handler nsq.Handler) (*nsq.Consumer, error) {
	consumer, err := nsq.NewConsumer(TopicResult, ResultChannel, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create nsq consumer: %w", err)
	}
	consumer.SetLogger(nil, nsq.LogLevelError)
	consumer.AddHandler(handler)

	if cfg.LookupAddr != "" {
		err = consumer.ConnectToNSQLookupd(cfg.LookupAddr)
	} else {
		err = consumer.ConnectToNSQD(cfg.NSQDAddr)
	}
	if err != nil {
		consumer.Stop()
		return nil, fmt.Errorf("failed to connect nsq consumer: %w", err)
	}

	slog.Info("nsq result consumer connected", "topic", TopicResult, "channel", ResultChannel)
	return consumer, nil
}

// NewProducer creates an nsqd producer and checks it is reachable.
func NewProducer(addr string) (*nsq.Producer, error) {
	producer, err := nsq.NewProducer(addr, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create nsq producer: %w", err)
	}
	producer.SetLogger(nil, nsq.LogLevelError)
	if err := producer.Ping(); err != nil {
		producer.Stop()
		return nil, fmt.Errorf("nsqd unreachable at %s: %w", addr, err)
	}
	return producer, nil
}
