package provchain

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 1000
)

// Server exposes the chain query surface consumed by the status dashboard:
// chain length and head, entry pages, single entries, on-demand verification
// and the artifact bytes behind an entry.
type Server struct {
	store     Store
	verifier  *Verifier
	artifacts ArtifactResolver
	log       *logrus.Logger
}

// NewServer wires the query surface over a store, a verifier and an artifact
// resolver.
func NewServer(st Store, v *Verifier, artifacts ArtifactResolver, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.New()
	}
	return &Server{store: st, verifier: v, artifacts: artifacts, log: log}
}

// SetupRoutes configures HTTP routes on the given mux.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/status", s.HandleStatus)
	mux.HandleFunc("/api/chain", s.HandleChain)
	mux.HandleFunc("/api/chain/", s.HandleEntry)
	mux.HandleFunc("/api/verify", s.HandleVerify)
	mux.HandleFunc("/api/frame/latest", s.HandleLatestFrame)
	mux.HandleFunc("/api/frame/", s.HandleFrame)
}

// Handler returns the configured route handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return mux
}

// ListenAndServe starts the status API server on addr.
func (s *Server) ListenAndServe(addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return server.ListenAndServe()
}

// HandleStatus handles GET /api/status.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	length, err := s.store.Len()
	if err != nil {
		s.storageFailure(w, err)
		return
	}
	head, ok, err := s.store.Head()
	if err != nil {
		s.storageFailure(w, err)
		return
	}

	resp := map[string]any{
		"status":       "online",
		"timestamp":    time.Now().UTC().Format(time.RFC3339Nano),
		"chain_length": length,
	}
	if ok {
		resp["head"] = map[string]any{
			"index":      head.Index,
			"timestamp":  head.Timestamp,
			"entry_hash": head.EntryHash,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleChain handles GET /api/chain with offset/limit pagination.
func (s *Server) HandleChain(w http.ResponseWriter, r *http.Request) {
	length, err := s.store.Len()
	if err != nil {
		s.storageFailure(w, err)
		return
	}

	offset := queryUint(r, "offset", 0)
	limit := queryUint(r, "limit", defaultPageLimit)
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	entries, err := s.store.ReadRange(offset, offset+limit)
	if err != nil {
		s.storageFailure(w, err)
		return
	}
	if entries == nil {
		entries = []ChainEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":   length,
		"offset":  offset,
		"limit":   limit,
		"entries": entries,
	})
}

// HandleEntry handles GET /api/chain/{index}.
func (s *Server) HandleEntry(w http.ResponseWriter, r *http.Request) {
	index, ok := pathIndex(w, r, "/api/chain/")
	if !ok {
		return
	}
	entry, err := s.store.ReadAt(index)
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "entry not found")
		return
	}
	if err != nil {
		s.storageFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// HandleVerify handles GET/POST /api/verify: runs a full verification and
// returns the result document.
func (s *Server) HandleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	result, err := s.verifier.Verify(r.Context(), 0)
	if err != nil {
		s.storageFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleLatestFrame handles GET /api/frame/latest.
func (s *Server) HandleLatestFrame(w http.ResponseWriter, r *http.Request) {
	head, ok, err := s.store.Head()
	if err != nil {
		s.storageFailure(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no artifacts ingested yet")
		return
	}
	s.serveArtifact(w, head)
}

// HandleFrame handles GET /api/frame/{index}.
func (s *Server) HandleFrame(w http.ResponseWriter, r *http.Request) {
	index, ok := pathIndex(w, r, "/api/frame/")
	if !ok {
		return
	}
	entry, err := s.store.ReadAt(index)
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "entry not found")
		return
	}
	if err != nil {
		s.storageFailure(w, err)
		return
	}
	s.serveArtifact(w, entry)
}

func (s *Server) serveArtifact(w http.ResponseWriter, e ChainEntry) {
	data, err := s.artifacts.Resolve(e.ArtifactRef)
	if errors.Is(err, ErrArtifactMissing) {
		writeError(w, http.StatusNotFound, "artifact not found")
		return
	}
	if err != nil {
		s.storageFailure(w, err)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) storageFailure(w http.ResponseWriter, err error) {
	s.log.WithError(err).Error("storage failure")
	writeError(w, http.StatusInternalServerError, "storage unavailable")
}

func pathIndex(w http.ResponseWriter, r *http.Request, prefix string) (uint64, bool) {
	raw := strings.TrimPrefix(r.URL.Path, prefix)
	index, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid index")
		return 0, false
	}
	return index, true
}

func queryUint(r *http.Request, name string, fallback uint64) uint64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
