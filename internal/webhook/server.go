// Package webhook receives results pushed by the processing backend, so a
// result can reach the widget before the poller sees the job complete.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/dropwatch/internal/logger"
	"github.com/dharsanguruparan/dropwatch/internal/signing"
)

const maxBodyBytes = 1 << 20

// Deliverer accepts a raw result payload in any supported shape.
type Deliverer interface {
	DeliverExternal(raw json.RawMessage) error
}

// Server exposes POST /results and GET /healthz.
type Server struct {
	addr    string
	signer  *signing.Signer
	target  Deliverer
	log     *zap.Logger
	server  *http.Server
	handler http.Handler
	once    sync.Once
}

// New constructs a Server. A nil or empty signer disables signature checks.
func New(addr string, signer *signing.Signer, target Deliverer, log *zap.Logger) *Server {
	return &Server{
		addr:   addr,
		signer: signer,
		target: target,
		log:    logger.OrNop(log),
	}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	s.once.Do(func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", s.handleHealth)
		mux.HandleFunc("/results", s.handleResults)
		s.handler = requestIDMiddleware(s.loggingMiddleware(mux))
	})
	return s.handler
}

// Run starts the HTTP server and blocks until the context is cancelled and
// in-flight requests have drained, or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	stop := make(chan struct{})
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		select {
		case <-ctx.Done():
		case <-stop:
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("webhook shutdown", zap.Error(err))
		}
	}()
	s.log.Info("webhook listening", zap.String("address", s.addr))
	err := s.server.ListenAndServe()
	close(stop)
	<-shutdownDone
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}
	if s.signer.Enabled() && !s.signer.Validate(body, r.Header.Get(signing.Header)) {
		s.log.Warn("webhook: bad signature", zap.String("request_id", requestID(r)))
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}
	if err := s.target.DeliverExternal(json.RawMessage(body)); err != nil {
		s.log.Warn("webhook: payload rejected", zap.String("request_id", requestID(r)), zap.Error(err))
		respondJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{
		"status":     "accepted",
		"request_id": requestID(r),
	})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type ctxKey struct{}

func requestID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("webhook request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID(r)),
			zap.Duration("took", time.Since(start)))
	})
}
