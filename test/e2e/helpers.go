//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cloo-solutions/outreach/internal/api/handlers"
	"github.com/cloo-solutions/outreach/internal/cli/client"
	"github.com/cloo-solutions/outreach/internal/domain"
	"github.com/cloo-solutions/outreach/internal/jobs"
	"github.com/cloo-solutions/outreach/internal/repository"
	"github.com/cloo-solutions/outreach/internal/server"
	"github.com/cloo-solutions/outreach/internal/service"
	"github.com/cloo-solutions/outreach/internal/storage"
	"github.com/cloo-solutions/outreach/internal/testutil"
	"github.com/cloo-solutions/outreach/internal/textproc"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

const (
	adminToken  = "e2e-admin-token"
	workerToken = "e2e-worker-token"
	testLease   = time.Minute
)

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T          *testing.T
	Ctx        context.Context
	Pool       *pgxpool.Pool
	Server     *httptest.Server
	S3Client   *storage.S3Client
	Jobs       *repository.JobRepository
	HTTPClient *http.Client

	dispatchers map[domain.Lane]*jobs.Dispatcher

	OrgID  string
	APIKey string
	API    *client.APIClient
}

// SetupE2EEnv starts Postgres and RustFS, wires the full service graph
// behind the router and provisions one organization with an API key.
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	s3C := testutil.NewRustFSContainer(ctx, t)
	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        s3C.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     "rustfsadmin",
		SecretAccessKey: "rustfsadmin",
		Bucket:          "outreach-e2e",
		UsePathStyle:    true,
	})
	require.NoError(t, err)
	require.NoError(t, s3Client.EnsureBucket(ctx))

	txRunner := repository.NewTxRunner(pool)
	jobRepo := repository.NewJobRepository(pool)
	policies := service.RetryPolicies{
		domain.LaneEmbedding: {MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		domain.LaneCrawl:     {MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		domain.LaneScrape:    {MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}

	authSvc := service.NewAuthService(repository.NewOrgRepository(pool), repository.NewAPIKeyRepository(pool), &service.DefaultUUIDGenerator{})
	ingestion := service.NewIngestionService(repository.NewDocumentRepository(pool), repository.NewChunkRepository(pool), txRunner, s3Client, policies)
	campaigns := service.NewCampaignService(repository.NewCampaignRepository(pool), repository.NewTemplateRepository(pool), txRunner, policies)
	projector := service.NewProjector(txRunner, jobRepo)
	settler := jobs.NewSettler(jobRepo, projector)

	embedding := service.NewEmbeddingService(
		hashEmbedder{},
		wordCounter{},
		s3Client,
		textproc.NewExtractor(),
		textproc.NewCrawler(&http.Client{Timeout: 10 * time.Second}, "outreach-e2e"),
	)

	router := server.NewRouter(server.RouterConfig{
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		PrincipalResolver: authSvc,
		WorkerToken:       workerToken,
		AdminToken:        adminToken,
		HealthHandler:     handlers.NewHealthHandler(pool),
		AuthHandler:       handlers.NewAuthHandler(authSvc),
		FileHandler:       handlers.NewFileHandler(ingestion),
		DocumentHandler:   handlers.NewDocumentHandler(ingestion),
		CampaignHandler:   handlers.NewCampaignHandler(campaigns),
		JobHandler:        handlers.NewJobHandler(settler, testLease),
	})
	srv := httptest.NewServer(router)

	env := &E2ETestEnv{
		T:          t,
		Ctx:        ctx,
		Pool:       pool,
		Server:     srv,
		S3Client:   s3Client,
		Jobs:       jobRepo,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		dispatchers: map[domain.Lane]*jobs.Dispatcher{
			domain.LaneEmbedding: jobs.NewDispatcher(domain.LaneEmbedding, jobRepo, projector,
				jobs.HandlerFunc(embedding.ProcessEmbedding), jobs.DispatcherConfig{Lease: testLease}),
			domain.LaneCrawl: jobs.NewDispatcher(domain.LaneCrawl, jobRepo, projector,
				jobs.HandlerFunc(embedding.ProcessCrawl), jobs.DispatcherConfig{Lease: testLease}),
		},
	}

	t.Cleanup(func() {
		srv.Close()
		pool.Close()
		_ = s3C.Terminate(context.Background())
		_ = pgC.Terminate(context.Background())
	})

	env.Bootstrap()
	return env
}

// Bootstrap provisions an organization and API key through the admin routes
func (e *E2ETestEnv) Bootstrap() {
	t := e.T

	var org handlers.OrgResponse
	resp := e.Admin(http.MethodPost, "/orgs", map[string]any{"name": "E2E Org"}, &org)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var key handlers.APIKeyResponse
	resp = e.Admin(http.MethodPost, "/apikeys", map[string]any{"orgId": org.ID, "name": "e2e"}, &key)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.True(t, service.IsValidAPIToken(key.Token))

	e.OrgID = org.ID
	e.APIKey = key.Token
	e.API = client.NewAPIClientWithConfig(key.Token, e.Server.URL)
}

// Drain runs the lane's dispatcher until no due jobs remain
func (e *E2ETestEnv) Drain(lane domain.Lane) {
	t := e.T
	d, ok := e.dispatchers[lane]
	require.True(t, ok, "no dispatcher for lane %s", lane)

	for i := 0; i < 10; i++ {
		require.NoError(t, d.ProcessJobs(e.Ctx))
		counts, err := e.Jobs.CountByStatus(e.Ctx)
		require.NoError(t, err)
		if counts[lane][domain.JobStatusQueued] == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("lane %s did not drain", lane)
}

// ClaimOne leases the next due job of a lane the way an external worker would
func (e *E2ETestEnv) ClaimOne(lane domain.Lane) *domain.Job {
	claimed, err := e.Jobs.ClaimDue(e.Ctx, lane, 1, testLease)
	require.NoError(e.T, err)
	require.Len(e.T, claimed, 1)
	return claimed[0]
}

// Admin sends a request carrying the admin token and decodes the data field
func (e *E2ETestEnv) Admin(method, path string, body, out any) *http.Response {
	return e.do(method, path, body, out, map[string]string{"X-Admin-Token": adminToken})
}

// Worker sends a job callback carrying the worker token
func (e *E2ETestEnv) Worker(path string, body, out any) *http.Response {
	return e.do(http.MethodPost, path, body, out, map[string]string{"X-Worker-Token": workerToken})
}

func (e *E2ETestEnv) do(method, path string, body, out any, headers map[string]string) *http.Response {
	t := e.T

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(e.Ctx, method, e.Server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := e.HTTPClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	if out != nil && resp.StatusCode < 300 {
		envelope := struct {
			Data json.RawMessage `json:"data"`
		}{}
		require.NoError(t, json.Unmarshal(raw, &envelope), "body: %s", raw)
		require.NoError(t, json.Unmarshal(envelope.Data, out))
	}
	return resp
}

// hashEmbedder produces a deterministic vector from the text's words
type hashEmbedder struct{}

func (hashEmbedder) GenerateEmbedding(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 8)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		vec[h.Sum32()%uint32(len(vec))]++
	}
	return vec, nil
}

type wordCounter struct{}

func (wordCounter) Count(text string) int {
	return len(strings.Fields(text))
}

// site serves a small linked site for crawl jobs
func newSite(t *testing.T) *httptest.Server {
	pages := map[string]string{
		"/":        `<html><head><title>Acme Heat</title></head><body><p>Acme installs heat pumps.</p><a href="/pricing">Pricing</a><a href="/about">About</a></body></html>`,
		"/pricing": `<html><head><title>Pricing</title></head><body><p>Plans start at 99 euros.</p><a href="/">Home</a></body></html>`,
		"/about":   `<html><head><title>About</title></head><body><p>Family business since 1990.</p><a href="/team">Team</a></body></html>`,
		"/team":    `<html><head><title>Team</title></head><body><p>Twelve engineers.</p></body></html>`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}
