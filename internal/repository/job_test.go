//go:build integration

package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cloo-solutions/outreach/internal/domain"
	"github.com/cloo-solutions/outreach/internal/service"
	"github.com/cloo-solutions/outreach/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrapeSpec(orgID string) domain.JobSpec {
	campaignID := uuid.NewString()
	return domain.JobSpec{
		Lane:     domain.LaneScrape,
		OrgID:    orgID,
		EntityID: campaignID,
		Payload:  domain.ScrapePayload{CampaignID: campaignID, OrgID: orgID, Queries: []string{"a", "b"}},
		Policy:   domain.DefaultScrapePolicy,
	}
}

func TestJobRepository_EnqueueAndClaim(t *testing.T) {
	ctx := context.Background()
	pool := testutil.NewTestDB(t)
	repo := NewJobRepository(pool)
	orgID := uuid.NewString()

	job, err := repo.Enqueue(ctx, scrapeSpec(orgID))
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, job.Status)

	stored, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultScrapePolicy, stored.Policy)
	var payload domain.ScrapePayload
	require.NoError(t, stored.DecodePayload(&payload))
	assert.Equal(t, []string{"a", "b"}, payload.Queries)

	none, err := repo.ClaimDue(ctx, domain.LaneEmbedding, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, none)

	claimed, err := repo.ClaimDue(ctx, domain.LaneScrape, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, domain.JobStatusRunning, claimed[0].Status)
	assert.Equal(t, 1, claimed[0].Attempts)
	assert.True(t, claimed[0].NextRunAt.After(time.Now().Add(30*time.Second)))

	again, err := repo.ClaimDue(ctx, domain.LaneScrape, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again, "leased job is not claimable")
}

func TestJobRepository_ExpiredLeaseIsReclaimed(t *testing.T) {
	ctx := context.Background()
	pool := testutil.NewTestDB(t)
	repo := NewJobRepository(pool)

	job, err := repo.Enqueue(ctx, scrapeSpec(uuid.NewString()))
	require.NoError(t, err)

	_, err = repo.ClaimDue(ctx, domain.LaneScrape, 1, time.Minute)
	require.NoError(t, err)
	require.NoError(t, repo.ExtendLease(ctx, job.ID, time.Now().Add(-time.Second)))

	claimed, err := repo.ClaimDue(ctx, domain.LaneScrape, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, 2, claimed[0].Attempts)
}

func TestJobRepository_ConcurrentClaimsAreDisjoint(t *testing.T) {
	ctx := context.Background()
	pool := testutil.NewTestDB(t)
	repo := NewJobRepository(pool)

	const total = 20
	for i := 0; i < total; i++ {
		_, err := repo.Enqueue(ctx, scrapeSpec(uuid.NewString()))
		require.NoError(t, err)
	}

	var mu sync.Mutex
	seen := map[string]int{}
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				jobs, err := repo.ClaimDue(ctx, domain.LaneScrape, 3, time.Minute)
				if err != nil || len(jobs) == 0 {
					return
				}
				mu.Lock()
				for _, j := range jobs {
					seen[j.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, total)
	for id, n := range seen {
		assert.Equal(t, 1, n, "job %s claimed %d times", id, n)
	}
}

func TestJobRepository_Transitions(t *testing.T) {
	ctx := context.Background()
	pool := testutil.NewTestDB(t)
	repo := NewJobRepository(pool)

	job, err := repo.Enqueue(ctx, scrapeSpec(uuid.NewString()))
	require.NoError(t, err)
	_, err = repo.ClaimDue(ctx, domain.LaneScrape, 1, time.Minute)
	require.NoError(t, err)

	runAt := time.Now().Add(time.Hour).UTC().Truncate(time.Microsecond)
	require.NoError(t, repo.ScheduleRetry(ctx, job.ID, runAt, "timeout"))
	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, got.Status)
	assert.Equal(t, "timeout", got.LastError)
	assert.True(t, runAt.Equal(got.NextRunAt))

	killed, err := repo.MarkDead(ctx, job.ID, "gave up")
	require.NoError(t, err)
	assert.True(t, killed)

	killed, err = repo.MarkDead(ctx, job.ID, "again")
	require.NoError(t, err)
	assert.False(t, killed)

	succeeded, err := repo.MarkSucceeded(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, succeeded)

	got, err = repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusDead, got.Status)
	assert.Equal(t, "gave up", got.LastError)
	assert.NotNil(t, got.FinishedAt)

	_, err = repo.MarkSucceeded(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	jobs, err := repo.ListByEntity(ctx, job.EntityID)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[domain.LaneScrape][domain.JobStatusDead])
}

func TestTxRunner_RollbackDiscardsEnqueue(t *testing.T) {
	ctx := context.Background()
	pool := testutil.NewTestDB(t)
	runner := NewTxRunner(pool)
	spec := scrapeSpec(uuid.NewString())

	err := runner.WithTx(ctx, func(repos service.TxRepositories) error {
		if _, err := repos.Jobs().Enqueue(ctx, spec); err != nil {
			return err
		}
		return domain.Validation("abort")
	})
	require.Error(t, err)

	jobs, err := NewJobRepository(pool).ListByEntity(ctx, spec.EntityID)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}
