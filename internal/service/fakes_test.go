package service

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cloo-solutions/outreach/internal/domain"
	"github.com/cloo-solutions/outreach/internal/pagination"
)

// MockUUIDGenerator returns the given ids in order, then sequential fallbacks.
type MockUUIDGenerator struct {
	mu        sync.Mutex
	uuids     []string
	callCount int
}

func NewMockUUIDGenerator(uuids ...string) *MockUUIDGenerator {
	return &MockUUIDGenerator{uuids: uuids}
}

func (m *MockUUIDGenerator) NewString() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.callCount < len(m.uuids) {
		id := m.uuids[m.callCount]
		m.callCount++
		return id
	}
	m.callCount++
	return fmt.Sprintf("id-%d", m.callCount)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memState is the in-memory entity store and job table.
type memState struct {
	docs      map[string]domain.KnowledgeDocument
	chunks    map[string][]domain.KnowledgeChunk
	campaigns map[string]domain.Campaign
	templates map[string]domain.EmailTemplate
	jobs      map[string]domain.Job
	jobOrder  []string
}

func newMemState() memState {
	return memState{
		docs:      map[string]domain.KnowledgeDocument{},
		chunks:    map[string][]domain.KnowledgeChunk{},
		campaigns: map[string]domain.Campaign{},
		templates: map[string]domain.EmailTemplate{},
		jobs:      map[string]domain.Job{},
	}
}

func (s memState) clone() memState {
	out := newMemState()
	for k, v := range s.docs {
		out.docs[k] = v
	}
	for k, v := range s.chunks {
		out.chunks[k] = slices.Clone(v)
	}
	for k, v := range s.campaigns {
		out.campaigns[k] = v
	}
	for k, v := range s.templates {
		out.templates[k] = v
	}
	for k, v := range s.jobs {
		out.jobs[k] = v
	}
	out.jobOrder = slices.Clone(s.jobOrder)
	return out
}

// memStore runs every transaction against a copy of the state and swaps it
// in on commit, so a failed transaction leaves no trace.
type memStore struct {
	mu    sync.Mutex
	state memState
	clock *testClock
	ids   *MockUUIDGenerator

	enqueueErr   error
	enqueueCalls int
	txCount      int
}

func newMemStore(clock *testClock) *memStore {
	return &memStore{
		state: newMemState(),
		clock: clock,
		ids:   NewMockUUIDGenerator(),
	}
}

func (m *memStore) WithTx(ctx context.Context, fn func(repos TxRepositories) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txCount++

	work := m.state.clone()
	if err := fn(memTx{view{store: m, tx: &work}}); err != nil {
		return err
	}
	m.state = work
	return nil
}

type memTx struct{ v view }

func (t memTx) Documents() DocumentRepository { return memDocs{t.v} }
func (t memTx) Chunks() ChunkRepository       { return memChunks{t.v} }
func (t memTx) Campaigns() CampaignRepository { return memCampaigns{t.v} }
func (t memTx) Templates() TemplateRepository { return memTemplates{t.v} }
func (t memTx) Jobs() JobStore                { return memJobs{t.v} }

func (m *memStore) Documents() memDocs      { return memDocs{view{store: m}} }
func (m *memStore) Chunks() memChunks       { return memChunks{view{store: m}} }
func (m *memStore) Campaigns() memCampaigns { return memCampaigns{view{store: m}} }
func (m *memStore) Templates() memTemplates { return memTemplates{view{store: m}} }
func (m *memStore) Jobs() memJobs           { return memJobs{view{store: m}} }

func (m *memStore) snapshot() memState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

func (m *memStore) failEnqueue(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueueErr = err
}

func (m *memStore) enqueueCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enqueueCalls
}

func (m *memStore) jobsFor(entity string) []domain.Job {
	st := m.snapshot()
	var out []domain.Job
	for _, id := range st.jobOrder {
		if j := st.jobs[id]; j.EntityID == entity {
			out = append(out, j)
		}
	}
	return out
}

func (m *memStore) offers(orgID string) []domain.KnowledgeDocument {
	st := m.snapshot()
	var out []domain.KnowledgeDocument
	for _, d := range st.docs {
		if d.OrgID == orgID && d.Kind == domain.DocumentKindOffer && d.DeletedAt == nil {
			out = append(out, d)
		}
	}
	return out
}

// view routes repository calls to the transaction copy, or to the committed
// state under the store lock outside a transaction.
type view struct {
	store *memStore
	tx    *memState
}

func (v view) do(fn func(st *memState) error) error {
	if v.tx != nil {
		return fn(v.tx)
	}
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	return fn(&v.store.state)
}

type memDocs struct{ v view }

func (r memDocs) Create(ctx context.Context, d *domain.KnowledgeDocument) error {
	return r.v.do(func(st *memState) error {
		if _, ok := st.docs[d.ID]; ok {
			return domain.Conflict("document %s exists", d.ID)
		}
		if d.Kind == domain.DocumentKindOffer {
			for _, other := range st.docs {
				if other.OrgID == d.OrgID && other.Kind == domain.DocumentKindOffer && other.DeletedAt == nil {
					return domain.ErrOfferAlreadyExists
				}
			}
		}
		st.docs[d.ID] = *d
		return nil
	})
}

func (r memDocs) GetByID(ctx context.Context, id string) (*domain.KnowledgeDocument, error) {
	var out *domain.KnowledgeDocument
	err := r.v.do(func(st *memState) error {
		d, ok := st.docs[id]
		if !ok {
			return domain.ErrDocumentNotFound
		}
		out = &d
		return nil
	})
	return out, err
}

func (r memDocs) GetByIDForUpdate(ctx context.Context, id string) (*domain.KnowledgeDocument, error) {
	return r.GetByID(ctx, id)
}

func (r memDocs) GetOfferByOrg(ctx context.Context, orgID string) (*domain.KnowledgeDocument, error) {
	var out *domain.KnowledgeDocument
	err := r.v.do(func(st *memState) error {
		for _, d := range st.docs {
			if d.OrgID == orgID && d.Kind == domain.DocumentKindOffer && d.DeletedAt == nil {
				out = &d
				return nil
			}
		}
		return domain.ErrDocumentNotFound
	})
	return out, err
}

func (r memDocs) LockOffer(ctx context.Context, orgID string) error { return nil }

func (r memDocs) Update(ctx context.Context, d *domain.KnowledgeDocument) error {
	return r.v.do(func(st *memState) error {
		if _, ok := st.docs[d.ID]; !ok {
			return domain.ErrDocumentNotFound
		}
		st.docs[d.ID] = *d
		return nil
	})
}

func (r memDocs) ListByOrgWithCursor(ctx context.Context, orgID string, cursor *pagination.Cursor, limit int) (*DocumentPageResult, error) {
	var items []*domain.KnowledgeDocument
	err := r.v.do(func(st *memState) error {
		for _, d := range st.docs {
			if d.OrgID == orgID && d.DeletedAt == nil {
				items = append(items, &d)
			}
		}
		return nil
	})
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	if len(items) > limit {
		return &DocumentPageResult{Items: items[:limit], NextCursor: "next", HasMore: true}, err
	}
	return &DocumentPageResult{Items: items}, err
}

type memChunks struct{ v view }

func (r memChunks) DeleteByDocument(ctx context.Context, documentID string) (int64, error) {
	var n int64
	err := r.v.do(func(st *memState) error {
		n = int64(len(st.chunks[documentID]))
		delete(st.chunks, documentID)
		return nil
	})
	return n, err
}

func (r memChunks) InsertBatch(ctx context.Context, chunks []domain.KnowledgeChunk) error {
	return r.v.do(func(st *memState) error {
		for _, c := range chunks {
			for _, existing := range st.chunks[c.DocumentID] {
				if existing.ChunkIndex == c.ChunkIndex {
					return domain.Conflict("chunk %d exists", c.ChunkIndex)
				}
			}
			st.chunks[c.DocumentID] = append(st.chunks[c.DocumentID], c)
		}
		return nil
	})
}

func (r memChunks) ListByDocument(ctx context.Context, documentID string) ([]*domain.KnowledgeChunk, error) {
	var out []*domain.KnowledgeChunk
	err := r.v.do(func(st *memState) error {
		for _, c := range st.chunks[documentID] {
			out = append(out, &c)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, err
}

type memCampaigns struct{ v view }

func (r memCampaigns) Create(ctx context.Context, c *domain.Campaign) error {
	return r.v.do(func(st *memState) error {
		st.campaigns[c.ID] = *c
		return nil
	})
}

func (r memCampaigns) GetByID(ctx context.Context, id string) (*domain.Campaign, error) {
	var out *domain.Campaign
	err := r.v.do(func(st *memState) error {
		c, ok := st.campaigns[id]
		if !ok {
			return domain.ErrCampaignNotFound
		}
		out = &c
		return nil
	})
	return out, err
}

func (r memCampaigns) GetByIDForUpdate(ctx context.Context, id string) (*domain.Campaign, error) {
	return r.GetByID(ctx, id)
}

func (r memCampaigns) Update(ctx context.Context, c *domain.Campaign) error {
	return r.v.do(func(st *memState) error {
		if _, ok := st.campaigns[c.ID]; !ok {
			return domain.ErrCampaignNotFound
		}
		st.campaigns[c.ID] = *c
		return nil
	})
}

func (r memCampaigns) ListByOrgWithCursor(ctx context.Context, orgID string, cursor *pagination.Cursor, limit int) (*CampaignPageResult, error) {
	var items []*domain.Campaign
	err := r.v.do(func(st *memState) error {
		for _, c := range st.campaigns {
			if c.OrgID == orgID {
				items = append(items, &c)
			}
		}
		return nil
	})
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return &CampaignPageResult{Items: items}, err
}

type memTemplates struct{ v view }

func (r memTemplates) Create(ctx context.Context, t *domain.EmailTemplate) error {
	return r.v.do(func(st *memState) error {
		for _, other := range st.templates {
			if other.CampaignID == t.CampaignID && other.Name == t.Name {
				return domain.ErrTemplateNameConflict
			}
		}
		st.templates[t.ID] = *t
		return nil
	})
}

func (r memTemplates) GetByID(ctx context.Context, id string) (*domain.EmailTemplate, error) {
	var out *domain.EmailTemplate
	err := r.v.do(func(st *memState) error {
		t, ok := st.templates[id]
		if !ok {
			return domain.ErrTemplateNotFound
		}
		out = &t
		return nil
	})
	return out, err
}

func (r memTemplates) Update(ctx context.Context, t *domain.EmailTemplate) error {
	return r.v.do(func(st *memState) error {
		st.templates[t.ID] = *t
		return nil
	})
}

func (r memTemplates) Delete(ctx context.Context, id string) error {
	return r.v.do(func(st *memState) error {
		if _, ok := st.templates[id]; !ok {
			return domain.ErrTemplateNotFound
		}
		delete(st.templates, id)
		return nil
	})
}

func (r memTemplates) ListByCampaign(ctx context.Context, campaignID string) ([]*domain.EmailTemplate, error) {
	var out []*domain.EmailTemplate
	err := r.v.do(func(st *memState) error {
		for _, t := range st.templates {
			if t.CampaignID == campaignID {
				out = append(out, &t)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, err
}

type memJobs struct{ v view }

func (r memJobs) Enqueue(ctx context.Context, spec domain.JobSpec) (*domain.Job, error) {
	store := r.v.store
	store.enqueueCalls++
	if store.enqueueErr != nil {
		return nil, store.enqueueErr
	}
	job, err := domain.NewJob("job-"+store.ids.NewString(), spec, store.clock.Now())
	if err != nil {
		return nil, err
	}
	err = r.v.do(func(st *memState) error {
		st.jobs[job.ID] = *job
		st.jobOrder = append(st.jobOrder, job.ID)
		return nil
	})
	return job, err
}

func (r memJobs) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	var out *domain.Job
	err := r.v.do(func(st *memState) error {
		j, ok := st.jobs[id]
		if !ok {
			return domain.ErrJobNotFound
		}
		out = &j
		return nil
	})
	return out, err
}

func (r memJobs) GetByIDForUpdate(ctx context.Context, id string) (*domain.Job, error) {
	return r.GetByID(ctx, id)
}

func (r memJobs) ClaimDue(ctx context.Context, lane domain.Lane, limit int, lease time.Duration) ([]*domain.Job, error) {
	now := r.v.store.clock.Now()
	var out []*domain.Job
	err := r.v.do(func(st *memState) error {
		for _, id := range st.jobOrder {
			if len(out) >= limit {
				break
			}
			j := st.jobs[id]
			if j.Lane != lane || j.NextRunAt.After(now) {
				continue
			}
			if j.Status != domain.JobStatusQueued && j.Status != domain.JobStatusRunning {
				continue
			}
			j.Status = domain.JobStatusRunning
			j.Attempts++
			j.NextRunAt = now.Add(lease)
			j.UpdatedAt = now
			st.jobs[id] = j
			out = append(out, &j)
		}
		return nil
	})
	return out, err
}

func (r memJobs) ExtendLease(ctx context.Context, id string, until time.Time) error {
	return r.update(id, func(j *domain.Job) bool {
		if j.Status != domain.JobStatusRunning {
			return false
		}
		j.NextRunAt = until
		return true
	})
}

func (r memJobs) ScheduleRetry(ctx context.Context, id string, runAt time.Time, lastError string) error {
	return r.update(id, func(j *domain.Job) bool {
		if j.Status != domain.JobStatusRunning {
			return false
		}
		j.Status = domain.JobStatusQueued
		j.NextRunAt = runAt
		j.LastError = lastError
		return true
	})
}

func (r memJobs) MarkSucceeded(ctx context.Context, id string) (bool, error) {
	var changed bool
	err := r.update(id, func(j *domain.Job) bool {
		if j.Status == domain.JobStatusSucceeded || j.Status == domain.JobStatusDead {
			return false
		}
		j.Status = domain.JobStatusSucceeded
		changed = true
		return true
	})
	return changed, err
}

func (r memJobs) MarkDead(ctx context.Context, id string, lastError string) (bool, error) {
	var changed bool
	err := r.update(id, func(j *domain.Job) bool {
		if j.Status == domain.JobStatusSucceeded || j.Status == domain.JobStatusDead {
			return false
		}
		j.Status = domain.JobStatusDead
		j.LastError = lastError
		changed = true
		return true
	})
	return changed, err
}

func (r memJobs) ListByEntity(ctx context.Context, entityID string) ([]*domain.Job, error) {
	var out []*domain.Job
	err := r.v.do(func(st *memState) error {
		for _, id := range st.jobOrder {
			if j := st.jobs[id]; j.EntityID == entityID {
				out = append(out, &j)
			}
		}
		return nil
	})
	return out, err
}

func (r memJobs) update(id string, fn func(j *domain.Job) bool) error {
	now := r.v.store.clock.Now()
	return r.v.do(func(st *memState) error {
		j, ok := st.jobs[id]
		if !ok {
			return domain.ErrJobNotFound
		}
		if fn(&j) {
			j.UpdatedAt = now
			if j.Status == domain.JobStatusSucceeded || j.Status == domain.JobStatusDead {
				j.FinishedAt = &now
			}
			st.jobs[id] = j
		}
		return nil
	})
}

// memFiles is an in-memory FileStorage keyed by object key.
type memFiles struct {
	mu       sync.Mutex
	objects  map[string]memObject
	resolves int
}

type memObject struct {
	body        string
	contentType string
}

func newMemFiles() *memFiles {
	return &memFiles{objects: map[string]memObject{}}
}

func (f *memFiles) put(key, body, contentType string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = memObject{body: body, contentType: contentType}
}

func (f *memFiles) Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.put(key, string(data), contentType)
	return nil
}

func (f *memFiles) Resolve(ctx context.Context, key string) (*ObjectMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolves++
	obj, ok := f.objects[key]
	if !ok {
		return nil, domain.ErrFileNotFound
	}
	return &ObjectMetadata{ContentLength: int64(len(obj.body)), ContentType: obj.contentType}, nil
}

func (f *memFiles) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[key]
	if !ok {
		return nil, domain.ErrFileNotFound
	}
	return io.NopCloser(strings.NewReader(obj.body)), nil
}

func (f *memFiles) GenerateUploadURL(ctx context.Context, key string, contentType string) (string, error) {
	return "https://files.test/" + key, nil
}
