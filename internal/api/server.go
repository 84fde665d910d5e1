package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/mixtape-indexer/internal/chain"
	"github.com/JakeFAU/mixtape-indexer/internal/metrics"
	"github.com/JakeFAU/mixtape-indexer/internal/nft"
	"github.com/JakeFAU/mixtape-indexer/internal/progress/sinks"
	"github.com/JakeFAU/mixtape-indexer/internal/store"
)

// IndexedLister lists a chain's indexed contracts.
type IndexedLister interface {
	List(ch chain.Chain) ([]string, error)
}

// DirectoryLoader reads a chain's directory entries.
type DirectoryLoader interface {
	Load(ch chain.Chain) ([]nft.DirectoryEntry, error)
}

// StatusSource reports the scheduler's progress.
type StatusSource interface {
	Snapshot() sinks.Status
}

// Deps are the read models the server exposes.
type Deps struct {
	Chains    *chain.Registry
	Indexed   IndexedLister
	Directory DirectoryLoader
	Status    StatusSource
	// NextRunAt reports when the next cycle is due; optional.
	NextRunAt func() time.Time
	// Ready reports whether downstream dependencies are usable; optional.
	Ready     func(ctx context.Context) error
}

// Server wires HTTP handlers to the indexer's read models.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	s := &Server{deps: deps, logger: logger.Named("api")}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.status)
		r.Get("/chains", s.listChains)
		r.Route("/chains/{chain}", func(r chi.Router) {
			r.Get("/indexed", s.indexed)
			r.Get("/directory", s.directory)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(r.Context()); err != nil {
			s.writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type statusResponse struct {
	sinks.Status
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	var resp statusResponse
	if s.deps.Status != nil {
		resp.Status = s.deps.Status.Snapshot()
	}
	if resp.Chains == nil {
		resp.Chains = []sinks.ChainStatus{}
	}
	if s.deps.NextRunAt != nil {
		if next := s.deps.NextRunAt(); !next.IsZero() {
			resp.NextRunAt = &next
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type chainView struct {
	Name     string `json:"name"`
	Prefix   string `json:"prefix"`
	Standard string `json:"standard"`
}

func (s *Server) listChains(w http.ResponseWriter, _ *http.Request) {
	chains, err := s.deps.Chains.Ordered()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]chainView, 0, len(chains))
	for _, ch := range chains {
		out = append(out, chainView{Name: ch.Name, Prefix: ch.Prefix, Standard: string(ch.Standard)})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"chains": out})
}

func (s *Server) indexed(w http.ResponseWriter, r *http.Request) {
	ch, ok := s.chainParam(w, r)
	if !ok {
		return
	}
	list, err := s.deps.Indexed.List(ch)
	if err != nil {
		s.logger.Error("list indexed failed", zap.String("chain", ch.Name), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to read indexed set")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"chain": ch.Name, "collections": list})
}

func (s *Server) directory(w http.ResponseWriter, r *http.Request) {
	ch, ok := s.chainParam(w, r)
	if !ok {
		return
	}
	entries, err := s.deps.Directory.Load(ch)
	if err != nil {
		status, msg := http.StatusInternalServerError, "failed to read directory"
		if errors.Is(err, store.ErrCorruptDirectory) {
			status, msg = http.StatusConflict, "directory file is corrupt"
		}
		s.logger.Error("load directory failed", zap.String("chain", ch.Name), zap.Error(err))
		s.writeError(w, status, msg)
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) chainParam(w http.ResponseWriter, r *http.Request) (chain.Chain, bool) {
	name := chi.URLParam(r, "chain")
	ch, ok := s.deps.Chains.Get(name)
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown chain "+name)
		return chain.Chain{}, false
	}
	return ch, true
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Debug("request completed",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
