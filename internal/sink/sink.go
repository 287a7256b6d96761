// Package sink is a small upload endpoint that accepts Content-Range PUTs
// and writes them into a directory, one subdirectory per tenant.
package sink

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/stefando/resumableupload/internal/auth"
)

// DefaultTenant stores uploads that carry no tenant claim.
const DefaultTenant = "public"

// Range is one received Content-Range.
type Range struct {
	Begin int64 `json:"begin"`
	End   int64 `json:"end"`
	Total int64 `json:"total"`
}

// Server writes received chunks to disk.
type Server struct {
	dir      string
	log      *zap.Logger
	verifier auth.TokenVerifier

	mu       sync.Mutex
	received map[string][]Range
}

// New creates a server rooted at dir.
func New(dir string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{dir: dir, log: log, received: map[string][]Range{}}
}

// RequireVerified makes the router reject tokens that v does not accept.
// Without a verifier the tenant is read from unverified claims.
func (s *Server) RequireVerified(v auth.TokenVerifier) *Server {
	s.verifier = v
	return s
}

// Router wires the routes and middleware.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/files", func(r chi.Router) {
		if s.verifier != nil {
			r.Use(auth.VerifyingMiddleware(s.verifier, s.log))
		} else {
			r.Use(auth.TenantMiddleware(s.log))
		}
		r.Put("/{name}", s.handlePut)
		r.Get("/{name}", s.handleStat)
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request served",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("took", time.Since(start)),
			zap.String("requestId", middleware.GetReqID(r.Context())))
	})
}

// Received returns the ranges accepted for tenant/name in arrival order.
func (s *Server) Received(tenant, name string) []Range {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Range(nil), s.received[tenant+"/"+name]...)
}

// Path returns where tenant/name is stored.
func (s *Server) Path(tenant, name string) string {
	return filepath.Join(s.dir, tenant, name)
}

// validSegment reports whether v is usable as a single path element.
func validSegment(v string) bool {
	return v != "" && v != "." && v != ".." && !strings.ContainsAny(v, `/\`) && !strings.ContainsRune(v, 0)
}

func targetOf(r *http.Request) (tenant, name string, err error) {
	tenant = tenantOf(r)
	name = chi.URLParam(r, "name")
	if !validSegment(tenant) {
		return "", "", fmt.Errorf("invalid tenant %q", tenant)
	}
	if !validSegment(name) {
		return "", "", fmt.Errorf("invalid file name %q", name)
	}
	return tenant, name, nil
}

func tenantOf(r *http.Request) string {
	if tenant, ok := auth.GetTenantID(r.Context()); ok {
		return tenant
	}
	return DefaultTenant
}

// ParseContentRange reads "bytes b-e/total" or "bytes */total".
func ParseContentRange(header string) (Range, error) {
	var rng Range
	if _, err := fmt.Sscanf(header, "bytes */%d", &rng.Total); err == nil {
		rng.End = -1
		return rng, nil
	}
	if _, err := fmt.Sscanf(header, "bytes %d-%d/%d", &rng.Begin, &rng.End, &rng.Total); err != nil {
		return Range{}, fmt.Errorf("malformed content range %q", header)
	}
	if rng.Begin < 0 || rng.End < rng.Begin || rng.End >= rng.Total {
		return Range{}, fmt.Errorf("content range %q out of bounds", header)
	}
	return rng, nil
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	tenant, name, err := targetOf(r)
	if err != nil {
		s.log.Warn("rejected upload target", zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rng, err := ParseContentRange(r.Header.Get("Content-Range"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// one byte over the declared length is enough to detect an oversized body
	want := rng.End - rng.Begin + 1
	body, err := io.ReadAll(io.LimitReader(r.Body, want+1))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	if int64(len(body)) != want {
		http.Error(w, "Body length does not match content range", http.StatusBadRequest)
		return
	}

	path := s.Path(tenant, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		s.log.Error("failed to create tenant directory", zap.Error(err))
		http.Error(w, "Failed to store chunk", http.StatusInternalServerError)
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		s.log.Error("failed to open upload target", zap.Error(err))
		http.Error(w, "Failed to store chunk", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	if _, err := f.WriteAt(body, rng.Begin); err != nil {
		s.log.Error("failed to write chunk", zap.Error(err))
		http.Error(w, "Failed to store chunk", http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	s.received[tenant+"/"+name] = append(s.received[tenant+"/"+name], rng)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"name":      name,
		"tenant_id": tenant,
		"received":  len(body),
	})
}

func (s *Server) handleStat(w http.ResponseWriter, r *http.Request) {
	tenant, name, err := targetOf(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	info, err := os.Stat(s.Path(tenant, name))
	if err != nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":      name,
		"tenant_id": tenant,
		"size":      info.Size(),
		"ranges":    s.Received(tenant, name),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
