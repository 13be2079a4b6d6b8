package bridge

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"whispertune/internal/collator"
	"whispertune/internal/features"
	"whispertune/internal/logging"
	"whispertune/internal/metrics"
	"whispertune/internal/store"
)

const maxRequestBytes = 64 << 20

// ExampleStore is the read side of the prepared-example store.
type ExampleStore interface {
	Split(ctx context.Context, split string) (store.SplitInfo, error)
	Examples(ctx context.Context, split string, indices []int) ([]store.PreparedExample, error)
}

// CollateRequest selects the examples of one batch.
type CollateRequest struct {
	Split   string `json:"split"`
	Indices []int  `json:"indices"`
}

// MetricsRequest carries generated ids and the matching label ids. Label
// positions may hold the ignore index.
type MetricsRequest struct {
	Predictions [][]int `json:"predictions"`
	LabelIDs    [][]int `json:"label_ids"`
}

// SplitResponse describes a prepared split.
type SplitResponse struct {
	Split string `json:"split"`
	Size  int    `json:"size"`
}

// Stats counts served requests.
type Stats struct {
	Batches     int64
	Examples    int64
	MetricCalls int64
}

// Option configures a Server.
type Option func(*Server)

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logging.NewComponentLogger(logger, "bridge")
	}
}

// WithMaxBatch caps the number of indices per collate request.
func WithMaxBatch(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBatch = n
		}
	}
}

// Server is the runtime callback server.
type Server struct {
	bind     string
	token    string
	examples ExampleStore
	collator *collator.Collator
	decoder  metrics.Decoder
	logger   *slog.Logger
	maxBatch int
	handler  http.Handler

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server

	batches     atomic.Int64
	served      atomic.Int64
	metricCalls atomic.Int64
}

// New builds a server. token must be non-empty; requests without a matching
// bearer token are rejected.
func New(bind, token string, examples ExampleStore, coll *collator.Collator, dec metrics.Decoder, opts ...Option) (*Server, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("bridge token is required")
	}
	if examples == nil || coll == nil || dec == nil {
		return nil, errors.New("bridge requires an example store, a collator and a decoder")
	}
	s := &Server{
		bind:     bind,
		token:    token,
		examples: examples,
		collator: coll,
		decoder:  dec,
		logger:   logging.NewNop(),
		maxBatch: 1024,
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /v1/splits/{split}", s.handleSplit)
	mux.HandleFunc("POST /v1/collate", s.handleCollate)
	mux.HandleFunc("POST /v1/metrics", s.handleMetrics)
	s.handler = s.authenticate(mux)
	return s, nil
}

// Handler returns the authenticated route set.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the bind address and serves until ctx is done or
// Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return errors.New("bridge already started")
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("bridge listen: %w", err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	srv := s.server

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(s.logger, "bridge server error", "bridge_serve_failed", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("bridge listening",
		logging.String(logging.FieldEventType, "bridge_started"),
		logging.String("address", listener.Addr().String()),
	)
	return nil
}

// URL returns the base URL of a started server, or "".
func (s *Server) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return "http://" + s.listener.Addr().String()
}

// Token returns the bearer token clients must present.
func (s *Server) Token() string {
	return s.token
}

// Shutdown stops a started server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	stats := s.Stats()
	s.logger.Info("bridge stopped",
		logging.String(logging.FieldEventType, "bridge_stopped"),
		logging.Int64("batches", stats.Batches),
		logging.Int64("examples", stats.Examples),
		logging.Int64("metric_calls", stats.MetricCalls),
	)
	return srv.Shutdown(ctx)
}

// Stats returns request counters.
func (s *Server) Stats() Stats {
	return Stats{
		Batches:     s.batches.Load(),
		Examples:    s.served.Load(),
		MetricCalls: s.metricCalls.Load(),
	}
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	want := []byte("Bearer " + s.token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get("Authorization"))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			s.writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSplit(w http.ResponseWriter, r *http.Request) {
	split := r.PathValue("split")
	info, err := s.examples.Split(r.Context(), split)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, SplitResponse{Split: info.Split, Size: info.Count})
}

func (s *Server) handleCollate(w http.ResponseWriter, r *http.Request) {
	var req CollateRequest
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.Indices) == 0 {
		s.writeError(w, http.StatusBadRequest, collator.ErrEmptyBatch.Error())
		return
	}
	if len(req.Indices) > s.maxBatch {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("batch of %d exceeds limit %d", len(req.Indices), s.maxBatch))
		return
	}
	info, err := s.examples.Split(r.Context(), req.Split)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	for _, idx := range req.Indices {
		if idx < 0 || idx >= info.Count {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("index %d out of range for split %s (size %d)", idx, req.Split, info.Count))
			return
		}
	}

	prepared, err := s.examples.Examples(r.Context(), req.Split, req.Indices)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	batch := make([]collator.Example, len(prepared))
	for i, ex := range prepared {
		batch[i] = collator.Example{Features: features.Matrix(ex.Features), Labels: ex.Labels}
	}
	collated, err := s.collator.Collate(batch)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	w.Header().Set("Content-Type", NPZContentType)
	w.WriteHeader(http.StatusOK)
	if err := WriteBatchNPZ(w, collated); err != nil {
		logging.ErrorWithContext(s.logger, "write batch failed", "bridge_write_failed",
			logging.String(logging.FieldSplit, req.Split),
			logging.Error(err),
		)
		return
	}
	s.batches.Add(1)
	s.served.Add(int64(len(prepared)))
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var req MetricsRequest
	if !s.decode(w, r, &req) {
		return
	}
	result, err := metrics.ComputeMetrics(s.decoder, req.Predictions, req.LabelIDs)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.metricCalls.Add(1)
	s.logger.Info("evaluation scored",
		logging.String(logging.FieldEventType, "bridge_metrics"),
		logging.Int("examples", len(req.Predictions)),
		logging.Float64("wer", result.WER),
	)
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrSplitNotPrepared) {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	logging.ErrorWithContext(s.logger, "store lookup failed", "bridge_store_failed", logging.Error(err))
	s.writeError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
