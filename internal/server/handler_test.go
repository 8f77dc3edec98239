package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kilupskalvis/vlnload/internal/corpus"
	"github.com/kilupskalvis/vlnload/internal/dataset"
	"github.com/kilupskalvis/vlnload/internal/features"
	"github.com/kilupskalvis/vlnload/internal/instruction"
	"github.com/kilupskalvis/vlnload/internal/models"
	"github.com/kilupskalvis/vlnload/internal/random"
	"github.com/kilupskalvis/vlnload/internal/tokenizer"
	"github.com/kilupskalvis/vlnload/internal/trajectory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var rooms = []string{"kitchen", "bedroom", "hallway", "garden", "office"}

type testRuns struct {
	runs []*models.Run
	err  error
}

func (t *testRuns) ListRuns(limit int) ([]*models.Run, error) {
	if t.err != nil {
		return nil, t.err
	}
	if limit > 0 && limit < len(t.runs) {
		return t.runs[:limit], nil
	}
	return t.runs, nil
}

// panicSamples panics on every call, for the recovery middleware.
type panicSamples struct{}

func (panicSamples) Len() int                                { panic("boom") }
func (panicSamples) ListingID(int) (models.ListingID, error) { panic("boom") }
func (panicSamples) Assemble(models.ListingID) (*dataset.Sample, *dataset.Trace, error) {
	panic("boom")
}

// newTestDeps builds a small in-memory dataset of listings 1..3 with five photos each.
func newTestDeps(t *testing.T) (Deps, *tokenizer.WordPiece) {
	t.Helper()

	dims := features.Dims{Feature: 2, Box: 5, Prob: 3}
	reader := features.NewMemoryReader(dims)
	var captions []*models.Caption
	for listing := models.ListingID(1); listing <= 3; listing++ {
		for p, room := range rooms {
			c := &models.Caption{ListingID: listing, Photo: int64(p), Text: "the " + room, NounPhrases: []string{room}}
			captions = append(captions, c)
			require.NoError(t, reader.Add(string(c.ID()), &features.Record{
				NumBoxes: 1,
				Features: []float32{float32(listing), float32(p)},
				Boxes:    []float32{0, 0, 1, 1, 1},
				Probs:    []float32{0.2, 0.3, 0.5},
				Mask:     []int64{1},
			}))
		}
	}
	c := corpus.New(captions)

	vocab := append([]string{"[PAD]", "[UNK]", "[CLS]", "[SEP]", "[MASK]", "the", "then", "and", ",", "."}, rooms...)
	tok, err := tokenizer.New(vocab, tokenizer.Options{Lowercase: true})
	require.NoError(t, err)

	gen, err := instruction.NewGenerator([]string{instruction.NameConcatenate}, instruction.Separators(true))
	require.NoError(t, err)

	sampler, err := trajectory.NewCorpusSampler(c, trajectory.Options{
		MinPathLength: 2,
		MaxPathLength: 4,
		Negatives:     trajectory.Counts{Captions: 1, Images: 1, Random: 1},
	}, random.Seeded(7))
	require.NoError(t, err)

	ds, err := dataset.New(dataset.Options{
		MaxPathLength:        4,
		MaxNumBoxes:          2,
		MaxInstructionLength: 16,
		Policy:               dataset.PolicyRankingNormal,
		Training:             true,
		OrderDraw:            dataset.OrderDrawPerSample,
	}, dataset.Deps{
		Listings:  c.ListingIDs(),
		Sampler:   sampler,
		Corpus:    c,
		Generator: gen,
		Tokenizer: tok,
		Features:  reader,
		Source:    random.Seeded(11),
	})
	require.NoError(t, err)

	runs := &testRuns{runs: []*models.Run{
		{ID: "run-b", Status: models.RunFinished, Split: "train", StartedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "run-a", Status: models.RunFailed, Split: "eval", StartedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
	}}
	return Deps{Samples: ds, Runs: runs, Tokens: tok}, tok
}

func newTestServer(t *testing.T, deps Deps, cfg *Config) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h, cleanup := Handler(deps, cfg, logger)
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		srv.Close()
		cleanup()
	})
	return srv
}

func get(t *testing.T, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// ==================== Health Tests ====================

func TestHealthz(t *testing.T) {
	deps, _ := newTestDeps(t)
	srv := newTestServer(t, deps, nil)

	resp := get(t, srv.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestReadyz(t *testing.T) {
	deps, _ := newTestDeps(t)
	srv := newTestServer(t, deps, nil)
	assert.Equal(t, http.StatusOK, get(t, srv.URL+"/readyz", "").StatusCode)

	deps.Runs = &testRuns{err: errors.New("database is locked")}
	srv = newTestServer(t, deps, nil)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, srv.URL+"/readyz", "").StatusCode)
}

// ==================== Listing Tests ====================

func TestListListings(t *testing.T) {
	deps, _ := newTestDeps(t)
	srv := newTestServer(t, deps, nil)

	resp := get(t, srv.URL+"/api/v1/listings", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[ListingsResponse](t, resp)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, []models.ListingID{1, 2, 3}, page.Listings)

	resp = get(t, srv.URL+"/api/v1/listings?offset=1&limit=1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page = decode[ListingsResponse](t, resp)
	assert.Equal(t, []models.ListingID{2}, page.Listings)

	resp = get(t, srv.URL+"/api/v1/listings?offset=9", "")
	page = decode[ListingsResponse](t, resp)
	assert.Empty(t, page.Listings)

	resp = get(t, srv.URL+"/api/v1/listings?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// ==================== Sample Tests ====================

func TestGetSample(t *testing.T) {
	deps, tok := newTestDeps(t)
	srv := newTestServer(t, deps, nil)

	resp := get(t, srv.URL+"/api/v1/listings/2/sample", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[SampleResponse](t, resp)

	require.NotNil(t, body.Trace)
	assert.Equal(t, models.ListingID(2), body.Trace.ListingID)
	assert.Equal(t, "ranking/normal", body.Trace.Policy)
	assert.Len(t, body.Trace.Instructions, 4)

	require.Len(t, body.Shapes, len(dataset.FieldNames))
	assert.Equal(t, "image_features", body.Shapes[1].Name)
	assert.Equal(t, []int{4, 8, 2}, body.Shapes[1].Shape)

	require.Len(t, body.InstrTokens, 4)
	assert.Len(t, body.InstrTokens[0], 16)
	assert.Equal(t, tok.CLS(), body.InstrTokens[0][0])
	require.Len(t, body.TokenStrings, 4)
	assert.Equal(t, "[CLS]", body.TokenStrings[0][0])
	assert.Equal(t, "[SEP]", body.TokenStrings[0][len(body.TokenStrings[0])-1])

	for _, row := range body.OrderingTarget {
		assert.Len(t, row, 4)
	}
}

func TestGetSample_Errors(t *testing.T) {
	deps, _ := newTestDeps(t)
	srv := newTestServer(t, deps, nil)

	assert.Equal(t, http.StatusBadRequest, get(t, srv.URL+"/api/v1/listings/abc/sample", "").StatusCode)

	resp := get(t, srv.URL+"/api/v1/listings/99/sample", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, "not_found", body["error"])
}

// ==================== Run Tests ====================

func TestListRuns(t *testing.T) {
	deps, _ := newTestDeps(t)
	srv := newTestServer(t, deps, nil)

	resp := get(t, srv.URL+"/api/v1/runs", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	runs := decode[[]*models.Run](t, resp)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-b", runs[0].ID)

	runs = decode[[]*models.Run](t, get(t, srv.URL+"/api/v1/runs?limit=1", ""))
	assert.Len(t, runs, 1)

	deps.Runs = nil
	srv = newTestServer(t, deps, nil)
	runs = decode[[]*models.Run](t, get(t, srv.URL+"/api/v1/runs", ""))
	assert.Empty(t, runs)
}

// ==================== Middleware Tests ====================

func TestBearerAuth(t *testing.T) {
	deps, _ := newTestDeps(t)
	srv := newTestServer(t, deps, &Config{AuthToken: "s3cret"})

	assert.Equal(t, http.StatusUnauthorized, get(t, srv.URL+"/api/v1/runs", "").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, get(t, srv.URL+"/api/v1/runs", "wrong").StatusCode)
	assert.Equal(t, http.StatusOK, get(t, srv.URL+"/api/v1/runs", "s3cret").StatusCode)

	// Health endpoints stay open.
	assert.Equal(t, http.StatusOK, get(t, srv.URL+"/healthz", "").StatusCode)
}

func TestRateLimit(t *testing.T) {
	deps, _ := newTestDeps(t)
	srv := newTestServer(t, deps, &Config{RequestsPerMinute: 2})

	assert.Equal(t, http.StatusOK, get(t, srv.URL+"/api/v1/runs", "").StatusCode)
	assert.Equal(t, http.StatusOK, get(t, srv.URL+"/api/v1/runs", "").StatusCode)

	resp := get(t, srv.URL+"/api/v1/runs", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "60", resp.Header.Get("Retry-After"))
}

func TestRateLimiter_WindowResets(t *testing.T) {
	rl := newRateLimiter(1)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	ok, _ := rl.take("a")
	assert.True(t, ok)

	now = now.Add(15 * time.Second)
	ok, wait := rl.take("a")
	assert.False(t, ok)
	assert.Equal(t, 45*time.Second, wait)

	ok, _ = rl.take("b")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	ok, _ = rl.take("a")
	assert.True(t, ok)
}

func TestRateLimiter_SweepsExpiredWindows(t *testing.T) {
	rl := newRateLimiter(5)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for _, host := range []string{"a", "b", "c"} {
		rl.take(host)
	}
	assert.Equal(t, 3, rl.clients())

	now = now.Add(time.Minute)
	rl.take("d")
	assert.Equal(t, 1, rl.clients())

	rl.reset()
	assert.Equal(t, 0, rl.clients())
}

// ==================== Request ID Tests ====================

func TestRequestID_KeepsClientUUID(t *testing.T) {
	srv := newTestServer(t, Deps{}, nil)

	id := "0f8fad5b-d9cb-469f-a165-70867728950e"
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", id)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, id, resp.Header.Get("X-Request-ID"))

	req.Header.Set("X-Request-ID", "not a uuid")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	got := resp2.Header.Get("X-Request-ID")
	assert.NotEqual(t, "not a uuid", got)
	_, err = uuid.Parse(got)
	assert.NoError(t, err)
}

func TestErrorResponse_CarriesRequestID(t *testing.T) {
	deps, _ := newTestDeps(t)
	srv := newTestServer(t, deps, nil)

	resp := get(t, srv.URL+"/api/v1/listings/999/sample", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	body := decode[ErrorResponse](t, resp)
	assert.Equal(t, "not_found", body.Error)
	assert.Equal(t, resp.Header.Get("X-Request-ID"), body.RequestID)
}

func TestRecovery(t *testing.T) {
	srv := newTestServer(t, Deps{Samples: panicSamples{}}, nil)

	resp := get(t, srv.URL+"/api/v1/listings", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	body := decode[ErrorResponse](t, resp)
	assert.Equal(t, "internal_error", body.Error)
	assert.Equal(t, resp.Header.Get("X-Request-ID"), body.RequestID)
}
