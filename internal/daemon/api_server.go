package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"uwrangler/internal/config"
	"uwrangler/internal/logging"
	"uwrangler/internal/store"
	"uwrangler/internal/stream"
	"uwrangler/internal/uwerr"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api"),
		daemon: d,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", srv.handleStatus)
	mux.HandleFunc("/api/media", srv.handleMedia)
	mux.HandleFunc("/api/media/", srv.handleMediaItem)
	mux.HandleFunc("/api/jobs", srv.handleJobs)
	mux.HandleFunc("/api/activity", srv.handleActivity)
	mux.HandleFunc("/api/scan", srv.handleScan)

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

type mediaListResponse struct {
	Entries    []mediaEntry `json:"entries"`
	Page       int          `json:"page"`
	PerPage    int          `json:"per_page"`
	TotalItems int          `json:"total_items"`
	TotalPages int          `json:"total_pages"`
}

type mediaEntry struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Filename      string   `json:"filename"`
	Kind          string   `json:"kind"`
	ByteSize      int64    `json:"byte_size"`
	FirstSeen     string   `json:"first_seen"`
	Geometries    []string `json:"geometries"`
	ArtifactCount int      `json:"artifact_count"`
	ArtifactBytes int64    `json:"artifact_bytes"`
	ServedTotal   int64    `json:"served_total"`
	JobStatus     string   `json:"job_status,omitempty"`
	JobError      string   `json:"job_error,omitempty"`
}

func (s *apiServer) handleMedia(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	query := r.URL.Query()
	page, _ := strconv.Atoi(query.Get("page"))
	perPage, _ := strconv.Atoi(query.Get("per_page"))
	if perPage <= 0 {
		perPage = s.daemon.cfg.Listing.ItemsPerPage
	}
	listQuery := store.ListQuery{
		Search:  strings.TrimSpace(query.Get("search")),
		SortBy:  store.SortKey(query.Get("sort")),
		Desc:    query.Get("desc") == "1" || strings.EqualFold(query.Get("desc"), "true"),
		Page:    page,
		PerPage: perPage,
	}

	result, err := s.daemon.store.List(r.Context(), listQuery)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := mediaListResponse{
		Entries:    make([]mediaEntry, 0, len(result.Entries)),
		Page:       result.Page,
		PerPage:    result.PerPage,
		TotalItems: result.TotalItems,
		TotalPages: result.TotalPages,
	}
	for _, entry := range result.Entries {
		resp.Entries = append(resp.Entries, mediaEntry{
			ID:            entry.Source.ID,
			Name:          entry.Source.Name,
			Filename:      entry.Source.Filename,
			Kind:          string(entry.Source.Kind),
			ByteSize:      entry.Source.ByteSize,
			FirstSeen:     entry.Source.FirstSeen.UTC().Format(time.RFC3339),
			Geometries:    entry.Geometries,
			ArtifactCount: entry.ArtifactCount,
			ArtifactBytes: entry.ArtifactBytes,
			ServedTotal:   entry.ServedTotal,
			JobStatus:     entry.JobStatus,
			JobError:      entry.JobError,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleMediaItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/media/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		s.writeError(w, http.StatusNotFound, "media not found")
		return
	}

	switch {
	case r.Method == http.MethodDelete && action == "":
		s.deleteMedia(w, r, id)
	case r.Method == http.MethodPost && action == "convert":
		s.convertMedia(w, r, id)
	case r.Method == http.MethodGet && action == "":
		src, err := s.daemon.store.GetSource(r.Context(), id)
		if errors.Is(err, uwerr.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "media not found")
			return
		}
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, src)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) deleteMedia(w http.ResponseWriter, r *http.Request, id string) {
	err := s.daemon.store.DeleteSource(r.Context(), id)
	if errors.Is(err, uwerr.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "media not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

// convertMedia queues a fresh conversion for one source, regardless of the
// artifacts it already has.
func (s *apiServer) convertMedia(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := s.daemon.store.GetSource(r.Context(), id); err != nil {
		if errors.Is(err, uwerr.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "media not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	job, err := s.daemon.store.EnqueueJob(r.Context(), "api", id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, job)
}

func (s *apiServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	jobs, err := s.daemon.store.ListJobs(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string][]*store.Job{"jobs": jobs})
}

func (s *apiServer) handleActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	events := s.daemon.streamSrv.Activity().Recent()
	s.writeJSON(w, http.StatusOK, map[string][]stream.Event{"events": events})
}

func (s *apiServer) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.daemon.ScanNow()
	s.writeJSON(w, http.StatusAccepted, map[string]string{"scan": "requested"})
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("encode api response failed", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
