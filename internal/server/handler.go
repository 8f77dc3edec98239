package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/kilupskalvis/vlnload/internal/corpus"
	"github.com/kilupskalvis/vlnload/internal/dataset"
	"github.com/kilupskalvis/vlnload/internal/features"
	"github.com/kilupskalvis/vlnload/internal/models"
	"github.com/kilupskalvis/vlnload/internal/trajectory"
)

// Samples assembles samples for inspection.
type Samples interface {
	Len() int
	ListingID(index int) (models.ListingID, error)
	Assemble(listing models.ListingID) (*dataset.Sample, *dataset.Trace, error)
}

var _ Samples = (*dataset.Dataset)(nil)

// RunLister lists recorded runs.
type RunLister interface {
	ListRuns(limit int) ([]*models.Run, error)
}

// TokenNamer maps token ids back to vocabulary entries.
type TokenNamer interface {
	Token(id int64) string
}

// Deps are the collaborators served by the handler. Runs and Tokens are optional.
type Deps struct {
	Samples Samples
	Runs    RunLister
	Tokens  TokenNamer
}

// Config holds configurable limits for the server.
type Config struct {
	RequestsPerMinute int    // per-client rate limit, 0 disables
	AuthToken         string // bearer token for /api/v1, empty disables auth
	MaxPageSize       int
}

// DefaultConfig returns reasonable defaults.
func DefaultConfig() *Config {
	return &Config{
		RequestsPerMinute: 600,
		MaxPageSize:       1000,
	}
}

// Handler creates the HTTP handler with all routes and middleware.
// The returned cleanup function drops rate limiter state and should be called
// on server shutdown.
func Handler(deps Deps, cfg *Config, logger *slog.Logger) (http.Handler, func()) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = DefaultConfig().MaxPageSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	rl := newRateLimiter(cfg.RequestsPerMinute)

	// Execution order: auth -> rl -> handler
	mws := []func(http.Handler) http.Handler{rl.middleware}
	if cfg.AuthToken != "" {
		mws = append([]func(http.Handler) http.Handler{bearerAuth(cfg.AuthToken)}, mws...)
	}
	api := func(h http.HandlerFunc) http.Handler {
		return applyMiddleware(h, mws...)
	}

	h := &handler{deps: deps, cfg: cfg, logger: logger}

	mux := http.NewServeMux()

	// Health endpoints (no auth)
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", h.readyz)

	mux.Handle("GET /api/v1/listings", api(h.listListings))
	mux.Handle("GET /api/v1/listings/{id}/sample", api(h.getSample))
	mux.Handle("GET /api/v1/runs", api(h.listRuns))

	// Execution order: request id -> logging -> recovery -> mux
	handler := applyMiddleware(mux,
		requestIDMiddleware,
		loggingMiddleware(logger),
		recoveryMiddleware(logger),
	)

	cleanup := func() {
		rl.reset()
	}

	return handler, cleanup
}

// applyMiddleware applies middleware in reverse order so the first in the list runs first.
func applyMiddleware(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

type handler struct {
	deps   Deps
	cfg    *Config
	logger *slog.Logger
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *handler) readyz(w http.ResponseWriter, _ *http.Request) {
	if h.deps.Samples == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready: dataset unavailable"))
		return
	}
	if h.deps.Runs != nil {
		if _, err := h.deps.Runs.ListRuns(1); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready: run log unavailable"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// ListingsResponse is one page of dataset listings.
type ListingsResponse struct {
	Total    int                `json:"total"`
	Offset   int                `json:"offset"`
	Listings []models.ListingID `json:"listings"`
}

func (h *handler) listListings(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	limit = min(limit, h.cfg.MaxPageSize)

	total := h.deps.Samples.Len()
	resp := ListingsResponse{Total: total, Offset: offset, Listings: []models.ListingID{}}
	for i := offset; i < total && i < offset+limit; i++ {
		id, err := h.deps.Samples.ListingID(i)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		resp.Listings = append(resp.Listings, id)
	}
	writeJSON(w, http.StatusOK, resp)
}

// SampleResponse describes one freshly assembled sample.
type SampleResponse struct {
	Trace          *dataset.Trace       `json:"trace"`
	Shapes         []dataset.FieldShape `json:"shapes"`
	OrderingTarget [][]int64            `json:"ordering_target"`
	InstrTokens    [][]int64            `json:"instr_tokens"`
	TokenStrings   [][]string           `json:"token_strings,omitempty"`
}

func (h *handler) getSample(w http.ResponseWriter, r *http.Request) {
	listing, err := models.ParseListingID(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	sample, trace, err := h.deps.Samples.Assemble(listing)
	if err != nil {
		switch {
		case errors.Is(err, corpus.ErrUnknownListing), errors.Is(err, trajectory.ErrUnknownListing):
			writeError(w, r, http.StatusNotFound, "not_found", err.Error())
		case errors.Is(err, trajectory.ErrNotEnoughImages), errors.Is(err, features.ErrFeatureNotFound):
			writeError(w, r, http.StatusUnprocessableEntity, "unprocessable", err.Error())
		default:
			h.logger.Error("assemble sample", "error", err, "listing", listing, "request_id", RequestID(r.Context()))
			writeError(w, r, http.StatusInternalServerError, "internal_error", err.Error())
		}
		return
	}

	resp := SampleResponse{
		Trace:          trace,
		Shapes:         sample.Shapes(),
		OrderingTarget: rows(sample.OrderingTarget.Shape, sample.OrderingTarget.Data),
		InstrTokens:    rows(sample.InstrTokens.Shape, sample.InstrTokens.Data),
	}
	if h.deps.Tokens != nil {
		for _, row := range resp.InstrTokens {
			names := make([]string, 0, len(row))
			for _, id := range row {
				if id <= 0 {
					break
				}
				names = append(names, h.deps.Tokens.Token(id))
			}
			resp.TokenStrings = append(resp.TokenStrings, names)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) listRuns(w http.ResponseWriter, r *http.Request) {
	if h.deps.Runs == nil {
		writeJSON(w, http.StatusOK, []*models.Run{})
		return
	}
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	runs, err := h.deps.Runs.ListRuns(min(limit, h.cfg.MaxPageSize))
	if err != nil {
		h.logger.Error("list runs", "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	if runs == nil {
		runs = []*models.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// --- Helpers ---

// rows splits a rank-2 tensor's data into its rows.
func rows(shape []int, data []int64) [][]int64 {
	out := [][]int64{}
	if len(shape) != 2 || shape[1] == 0 {
		return out
	}
	for start := 0; start+shape[1] <= len(data); start += shape[1] {
		out = append(out, data[start:start+shape[1]])
	}
	return out
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message, RequestID: RequestID(r.Context())})
}
