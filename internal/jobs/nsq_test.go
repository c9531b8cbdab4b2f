package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/cloo-solutions/outreach/internal/domain"
	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestNSQRelay_Handle(t *testing.T) {
	publisher := new(MockPublisher)
	job := testJob(domain.LaneScrape, 2)
	job.Payload = []byte(`{"campaignId":"c-1","orgId":"org-1","queries":["a","b"]}`)

	publisher.On("Publish", "outreach.scrape", mock.MatchedBy(func(body []byte) bool {
		var env Envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return false
		}
		var payload domain.ScrapePayload
		_ = json.Unmarshal(env.Payload, &payload)
		return env.JobID == "job-1" && env.Attempt == 2 && env.Lane == domain.LaneScrape &&
			len(payload.Queries) == 2
	})).Return(nil)

	chunks, err := NewNSQRelay(publisher).Handle(context.Background(), job)

	assert.ErrorIs(t, err, ErrDeferred)
	assert.Nil(t, chunks)
	publisher.AssertExpectations(t)
}

func TestNSQRelay_PublishError(t *testing.T) {
	publisher := new(MockPublisher)
	publisher.On("Publish", "outreach.scrape", mock.Anything).Return(errors.New("connection refused"))

	_, err := NewNSQRelay(publisher).Handle(context.Background(), testJob(domain.LaneScrape, 1))

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDeferred)
	assert.True(t, domain.HasCode(err, domain.ErrCodeQueue))
}

func resultMessage(t *testing.T, msg ResultMessage) *nsq.Message {
	t.Helper()
	body, err := json.Marshal(msg)
	require.NoError(t, err)
	return &nsq.Message{Body: body}
}

func TestNSQResultConsumer_HandleMessage(t *testing.T) {
	t.Run("success result", func(t *testing.T) {
		queue, projector := new(MockQueue), new(MockProjector)
		consumer := NewNSQResultConsumer(NewSettler(queue, projector), time.Minute)
		projector.On("ApplySuccess", mock.Anything, "job-1", []domain.ProducedChunk(nil)).Return(nil)

		err := consumer.HandleMessage(resultMessage(t, ResultMessage{
			Type:   MessageResult,
			Result: &domain.JobResult{JobID: "job-1", Outcome: domain.OutcomeSuccess},
		}))

		assert.NoError(t, err)
		projector.AssertExpectations(t)
	})

	t.Run("progress extends lease", func(t *testing.T) {
		queue, projector := new(MockQueue), new(MockProjector)
		consumer := NewNSQResultConsumer(NewSettler(queue, projector), 10*time.Minute)
		progress := domain.JobProgress{
			JobID:          "job-1",
			ProgressUpdate: domain.ProgressUpdate{CurrentQueryIndex: 1, ProcessedCompanies: 12},
		}
		projector.On("ApplyProgress", mock.Anything, progress, 10*time.Minute).Return(nil)

		err := consumer.HandleMessage(resultMessage(t, ResultMessage{Type: MessageProgress, Progress: &progress}))

		assert.NoError(t, err)
		projector.AssertExpectations(t)
	})

	t.Run("rejected result is not requeued", func(t *testing.T) {
		queue, projector := new(MockQueue), new(MockProjector)
		consumer := NewNSQResultConsumer(NewSettler(queue, projector), time.Minute)
		projector.On("ApplySuccess", mock.Anything, "job-1", mock.Anything).Return(domain.ErrStaleGeneration)

		err := consumer.HandleMessage(resultMessage(t, ResultMessage{
			Type:   MessageResult,
			Result: &domain.JobResult{JobID: "job-1", Outcome: domain.OutcomeSuccess},
		}))

		assert.NoError(t, err)
	})

	t.Run("database failure is requeued", func(t *testing.T) {
		queue, projector := new(MockQueue), new(MockProjector)
		consumer := NewNSQResultConsumer(NewSettler(queue, projector), time.Minute)
		projector.On("ApplyFailure", mock.Anything, "job-1", "blocked").Return(errors.New("connection reset"))

		err := consumer.HandleMessage(resultMessage(t, ResultMessage{
			Type:   MessageResult,
			Result: &domain.JobResult{JobID: "job-1", Outcome: domain.OutcomeFailure, Error: "blocked", Permanent: true},
		}))

		assert.Error(t, err)
	})

	t.Run("malformed messages are dropped", func(t *testing.T) {
		consumer := NewNSQResultConsumer(NewSettler(new(MockQueue), new(MockProjector)), time.Minute)

		assert.NoError(t, consumer.HandleMessage(&nsq.Message{Body: []byte("invalid json")}))
		assert.NoError(t, consumer.HandleMessage(&nsq.Message{Body: nil}))
		assert.NoError(t, consumer.HandleMessage(resultMessage(t, ResultMessage{Type: "bogus"})))
	})
}
