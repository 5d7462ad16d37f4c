package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"bizbuysell-scraper/config"
	"bizbuysell-scraper/models"
	"bizbuysell-scraper/storage"
	"bizbuysell-scraper/utils"
)

// Server exposes the store's read-only query surface to collaborators.
// It feeds the store nothing but read requests plus user-action notes;
// the crawl state machine is driven exclusively by the scheduler.
type Server struct {
	cfg    *config.Config
	logger *utils.Logger
	store  *storage.Store
}

// New creates the API server.
func New(cfg *config.Config, logger *utils.Logger, store *storage.Store) *Server {
	return &Server{cfg: cfg, logger: logger, store: store}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/listings", s.handleListListings)
	r.Get("/listings/{id}", s.handleGetListing)
	r.Post("/listings/{id}/actions", s.handleRecordAction)
	r.Post("/listings/{id}/inactive", s.handleMarkInactive)
	r.Get("/runs", s.handleRecentRuns)
	r.Get("/stats", s.handleStats)
	r.Post("/export", s.handleExport)

	return r
}

func (s *Server) handleListListings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.ListingFilter{
		State: q.Get("state"),
		City:  q.Get("city"),
	}

	if v := q.Get("min_price"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			filter.MinPrice = &n
		}
	}
	if v := q.Get("max_price"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			filter.MaxPrice = &n
		}
	}
	if v := q.Get("is_retirement"); v != "" {
		b := v == "true" || v == "1"
		filter.IsRetirement = &b
	}
	// Active-only by default; is_active=all disables the filter.
	if v := q.Get("is_active"); v != "all" {
		active := v != "false" && v != "0"
		filter.IsActive = &active
	}

	listings, err := s.store.ListListings(filter)
	if err != nil {
		s.serverError(w, err)
		return
	}
	if listings == nil {
		listings = []*models.Listing{}
	}
	s.respond(w, http.StatusOK, listings)
}

func (s *Server) handleGetListing(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.clientError(w, http.StatusBadRequest, "invalid listing id")
		return
	}

	listing, err := s.store.GetListingByID(id)
	if errors.Is(err, storage.ErrNotFound) {
		s.clientError(w, http.StatusNotFound, "listing not found")
		return
	}
	if err != nil {
		s.serverError(w, err)
		return
	}

	type response struct {
		*models.Listing
		Details *models.ListingDetail `json:"details"`
	}
	resp := response{Listing: listing}

	detail, err := s.store.GetListingDetail(id)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.serverError(w, err)
		return
	}
	resp.Details = detail

	s.respond(w, http.StatusOK, resp)
}

func (s *Server) handleRecordAction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.clientError(w, http.StatusBadRequest, "invalid listing id")
		return
	}

	var body struct {
		Action string `json:"action"`
		Notes  string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Action == "" {
		s.clientError(w, http.StatusBadRequest, "action is required")
		return
	}

	if _, err := s.store.GetListingByID(id); errors.Is(err, storage.ErrNotFound) {
		s.clientError(w, http.StatusNotFound, "listing not found")
		return
	} else if err != nil {
		s.serverError(w, err)
		return
	}

	action, err := s.store.RecordUserAction(id, body.Action, body.Notes)
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.respond(w, http.StatusCreated, action)
}

// handleMarkInactive flags a listing by external id. This is the external
// maintenance entry point; scheduled passes never mark listings inactive.
func (s *Server) handleMarkInactive(w http.ResponseWriter, r *http.Request) {
	externalID := chi.URLParam(r, "id")

	err := s.store.MarkListingInactive(externalID)
	if errors.Is(err, storage.ErrNotFound) {
		s.clientError(w, http.StatusNotFound, "listing not found")
		return
	}
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"status": "inactive"})
}

func (s *Server) handleRecentRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	runs, err := s.store.RecentRuns(limit)
	if err != nil {
		s.serverError(w, err)
		return
	}
	if runs == nil {
		runs = []*models.ScrapeRun{}
	}
	s.respond(w, http.StatusOK, runs)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats()
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.respond(w, http.StatusOK, stats)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OnlyRetirement bool   `json:"only_retirement"`
		ActiveOnly     *bool  `json:"active_only"`
		Path           string `json:"path"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	path := body.Path
	if path == "" {
		path = s.cfg.CSVOutputPath
	}
	activeOnly := true
	if body.ActiveOnly != nil {
		activeOnly = *body.ActiveOnly
	}

	count, err := s.store.ExportCSV(path, body.OnlyRetirement, activeOnly)
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"path": path, "rows": count})
}

func (s *Server) respond(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("[api] Encode response: %v", err)
	}
}

func (s *Server) clientError(w http.ResponseWriter, status int, msg string) {
	s.respond(w, status, map[string]string{"error": msg})
}

func (s *Server) serverError(w http.ResponseWriter, err error) {
	s.logger.Error("[api] %v", err)
	s.respond(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}
