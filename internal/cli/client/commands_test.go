package client

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pendingOffer = `{"data":{"id":"doc-1","kind":"offer","title":"Offer","content":"We install heat pumps","status":"pending","generation":3}}`

func fastPolling(t *testing.T) {
	old := pollInterval
	pollInterval = time.Millisecond
	t.Cleanup(func() { pollInterval = old })
}

func TestOfferSave(t *testing.T) {
	withTempConfig(t)
	api := newFakeAPI(t)
	api.on("PUT /offer", http.StatusAccepted, pendingOffer)

	out, err := runCLI(t, api, "offer", "save", "We install heat pumps")
	require.NoError(t, err)

	req := api.last(t)
	assert.Equal(t, http.MethodPut, req.Method)
	assert.Equal(t, "We install heat pumps", decodeBody(t, req)["offerText"])
	assert.Contains(t, out, "Status: pending (generation 3)")
}

func TestOfferSave_FromFileAndWait(t *testing.T) {
	withTempConfig(t)
	fastPolling(t)

	path := filepath.Join(t.TempDir(), "offer.md")
	require.NoError(t, os.WriteFile(path, []byte("Solar panels for farms"), 0o600))

	api := newFakeAPI(t)
	api.on("PUT /offer", http.StatusAccepted, pendingOffer)
	api.on("GET /documents/doc-1", http.StatusOK, `{"data":{"id":"doc-1","status":"processing","generation":3}}`)
	api.on("GET /documents/doc-1", http.StatusOK, `{"data":{"id":"doc-1","status":"embedded","chunkCount":4,"generation":3}}`)

	out, err := runCLI(t, api, "offer", "save", "--file", path, "--wait", "--output")
	require.NoError(t, err)

	var doc Document
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "embedded", doc.Status)
	assert.Equal(t, 4, doc.ChunkCount)
	assert.Len(t, api.all(), 3)
}

func TestOfferSave_Rejections(t *testing.T) {
	withTempConfig(t)
	api := newFakeAPI(t)

	_, err := runCLI(t, api, "offer", "save", "   ")
	assert.ErrorContains(t, err, "offer text is empty")

	_, err = runCLI(t, api, "offer", "save", "text", "--file", "x.txt")
	assert.ErrorContains(t, err, "not both")

	assert.Empty(t, api.all())
}

func TestCommands_RequireAPIKey(t *testing.T) {
	withTempConfig(t)

	_, err := runCLI(t, nil, "docs", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), envAPIKey)
}

func TestDocsUpload(t *testing.T) {
	withTempConfig(t)
	path := filepath.Join(t.TempDir(), "case-study.txt")
	require.NoError(t, os.WriteFile(path, []byte("Customer saved 30%"), 0o600))

	api := newFakeAPI(t)
	api.on("POST /files", http.StatusCreated, `{"data":{"fileRef":"org-1/u1/case-study.txt"}}`)
	api.on("POST /documents/upload", http.StatusAccepted, `{"data":{"id":"doc-2","kind":"upload","title":"case-study","fileRef":"org-1/u1/case-study.txt","status":"pending","generation":1}}`)

	out, err := runCLI(t, api, "docs", "upload", path)
	require.NoError(t, err)

	body := decodeBody(t, api.last(t))
	assert.Equal(t, "case-study", body["title"], "title defaults to the file name")
	assert.Equal(t, "org-1/u1/case-study.txt", body["fileRef"])
	assert.Contains(t, out, "File: org-1/u1/case-study.txt")
}

func TestDocsCrawl(t *testing.T) {
	withTempConfig(t)
	api := newFakeAPI(t)
	api.on("POST /documents/crawl", http.StatusAccepted, `{"data":{"id":"doc-3","kind":"crawl","title":"acme.test","sourceUrl":"https://acme.test","maxDepth":2,"maxPages":10,"status":"pending","generation":1}}`)

	out, err := runCLI(t, api, "docs", "crawl", "https://acme.test", "--max-depth", "2", "--max-pages", "10")
	require.NoError(t, err)

	body := decodeBody(t, api.last(t))
	assert.Equal(t, "acme.test", body["title"])
	assert.Equal(t, "https://acme.test", body["url"])
	assert.Equal(t, float64(2), body["maxDepth"])
	assert.Equal(t, float64(10), body["maxPages"])
	assert.Contains(t, out, "Source: https://acme.test (depth 2, pages 10)")
}

func TestDocsList(t *testing.T) {
	withTempConfig(t)
	api := newFakeAPI(t)
	api.on("GET /documents", http.StatusOK, `{"data":{"items":[{"id":"doc-1","kind":"offer","title":"Offer","status":"embedded"}],"cursor":"abc","hasMore":true}}`)

	out, err := runCLI(t, api, "docs", "list", "--limit", "1")
	require.NoError(t, err)

	assert.Equal(t, "limit=1", api.last(t).Query)
	assert.Contains(t, out, "doc-1")
	assert.Contains(t, out, "--cursor abc")
}

func TestDocsChunks(t *testing.T) {
	withTempConfig(t)
	api := newFakeAPI(t)
	api.on("GET /documents/doc-1/chunks", http.StatusOK, `{"data":[{"id":"k1","index":0,"content":"We install heat pumps","tokenLength":5,"embedded":true,"generation":3}]}`)

	out, err := runCLI(t, api, "docs", "chunks", "doc-1")
	require.NoError(t, err)
	assert.Contains(t, out, "#0 (5 tokens, embedded)")
	assert.Contains(t, out, "We install heat pumps")
}

func TestDocsDelete_NotFound(t *testing.T) {
	withTempConfig(t)
	api := newFakeAPI(t)
	api.on("DELETE /documents/missing", http.StatusNotFound, `{"error":{"kind":"NotFoundError","message":"document not found"}}`)

	_, err := runCLI(t, api, "docs", "delete", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NotFoundError")
	assert.Contains(t, err.Error(), "document not found")
}

func TestCampaignsCreate(t *testing.T) {
	withTempConfig(t)
	api := newFakeAPI(t)
	api.on("POST /campaigns", http.StatusCreated, `{"data":{"id":"c-1","name":"Farms","queries":["dairy farms bavaria","pig farms"],"status":"draft","progress":{}}}`)

	out, err := runCLI(t, api, "campaigns", "create", "--name", "Farms", "-q", "dairy farms bavaria", "-q", "pig farms")
	require.NoError(t, err)

	body := decodeBody(t, api.last(t))
	assert.Equal(t, []any{"dairy farms bavaria", "pig farms"}, body["queries"])
	assert.Contains(t, out, "Status: draft")
	assert.Contains(t, out, "2. pig farms")
}

func TestCampaignsActivate_Wait(t *testing.T) {
	withTempConfig(t)
	fastPolling(t)

	api := newFakeAPI(t)
	api.on("POST /campaigns/c-1/activate", http.StatusAccepted,
		`{"data":{"id":"c-1","status":"active","queries":["q1","q2"],"progress":{"scrapingStatus":"pending","totalQueries":2}}}`)
	api.on("GET /campaigns/c-1", http.StatusOK,
		`{"data":{"id":"c-1","status":"active","queries":["q1","q2"],"progress":{"scrapingStatus":"in_progress","currentQueryIndex":1,"totalQueries":2,"processedCompanies":7}}}`)
	api.on("GET /campaigns/c-1", http.StatusOK,
		`{"data":{"id":"c-1","status":"completed","queries":["q1","q2"],"progress":{"scrapingStatus":"complete","currentQueryIndex":2,"totalQueries":2,"processedCompanies":19,"completedAt":"2026-01-01T00:00:00Z"}}}`)

	out, err := runCLI(t, api, "campaigns", "activate", "c-1", "--wait")
	require.NoError(t, err)

	assert.Contains(t, out, "Status: completed")
	assert.Contains(t, out, "Scraping: complete (query 2/2, 19 companies)")
}

func TestCampaignsActivate_NotDraft(t *testing.T) {
	withTempConfig(t)
	api := newFakeAPI(t)
	api.on("POST /campaigns/c-1/activate", http.StatusConflict, `{"error":{"kind":"ConflictError","message":"campaign is not a draft"}}`)

	_, err := runCLI(t, api, "campaigns", "activate", "c-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "campaign is not a draft")
}
