package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/joisarv/civic/internal/imagestore"
	"github.com/joisarv/civic/internal/lifecycle"
	"github.com/joisarv/civic/internal/models"
	"github.com/joisarv/civic/internal/stats"
	"github.com/joisarv/civic/internal/store"
)

// maxUploadBytes caps report image uploads.
const maxUploadBytes = 10 << 20

// Server provides the REST API handlers.
type Server struct {
	store  store.Store
	engine *lifecycle.Engine
	images *imagestore.Store
	logger *slog.Logger
}

// NewServer creates a new API server.
func NewServer(s store.Store, engine *lifecycle.Engine, images *imagestore.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:  s,
		engine: engine,
		images: images,
		logger: logger,
	}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/reports", s.submitReport)
	mux.HandleFunc("GET /api/v1/track/{code}", s.trackByCode)

	mux.HandleFunc("GET /api/v1/departments", s.listDepartments)
	mux.HandleFunc("GET /api/v1/departments/{id}/issues", s.listDepartmentIssues)

	mux.HandleFunc("POST /api/v1/issues/{id}/duration", s.commitDuration)
	mux.HandleFunc("POST /api/v1/issues/{id}/updates", s.postDayUpdate)
	mux.HandleFunc("POST /api/v1/issues/{id}/resolve", s.resolve)

	mux.HandleFunc("GET /api/v1/status", s.statusOverview)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps the error taxonomy onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var (
		validation *models.ValidationError
		illegal    *models.IllegalTransitionError
		sequence   *models.SequenceViolationError
		notFound   *models.NotFoundError
		config     *models.ConfigurationError
	)
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &sequence):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &illegal):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &config):
		// Operational gap, not a user problem. Log loudly.
		s.logger.Error("configuration error", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		s.logger.Error("internal error", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// --- Reports ---

type submitReportResponse struct {
	Accepted     bool    `json:"accepted"`
	TrackingCode string  `json:"tracking_code"`
	Department   string  `json:"department,omitempty"`
	Confidence   float64 `json:"confidence"`
	Message      string  `json:"message"`
}

func (s *Server) submitReport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("parse multipart form: %v", err))
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "image file is required")
		return
	}
	defer file.Close()

	image, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("read image: %v", err))
		return
	}

	ref, err := s.images.Save(header.Filename, bytes.NewReader(image))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	result, err := s.engine.Intake(r.Context(), lifecycle.IntakeRequest{
		Image:         image,
		MediaType:     imagestore.MediaType(ref),
		ImageRef:      ref,
		ReporterEmail: r.FormValue("contact"),
		Address:       r.FormValue("address"),
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	resp := submitReportResponse{
		Accepted:     result.Accepted,
		TrackingCode: result.TrackingCode,
		Department:   result.Department,
		Confidence:   result.Confidence,
	}
	if result.Accepted {
		resp.Message = fmt.Sprintf("Issue submitted successfully. Assigned department: %s", result.Department)
		writeJSON(w, http.StatusCreated, resp)
		return
	}
	resp.Message = "Not a valid image for civic issue reporting."
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) trackByCode(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	issue, err := s.engine.TrackByCode(r.Context(), code)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

// --- Departments ---

func (s *Server) listDepartments(w http.ResponseWriter, r *http.Request) {
	depts, err := s.store.ListDepartments(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, depts)
}

func (s *Server) listDepartmentIssues(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	status := models.IssueStatus(r.URL.Query().Get("status"))

	issues, err := s.engine.ListDepartmentIssues(r.Context(), id, status)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issues)
}

// --- Lifecycle transitions ---

func (s *Server) commitDuration(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req struct {
		Days int `json:"days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	issue, err := s.engine.CommitDuration(r.Context(), id, req.Days)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

func (s *Server) postDayUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req struct {
		Day         int    `json:"day"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	issue, err := s.engine.PostDayUpdate(r.Context(), id, req.Day, req.Description)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

func (s *Server) resolve(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req struct {
		Decision  string `json:"decision"`
		ExtraDays int    `json:"extra_days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	issue, err := s.engine.Resolve(r.Context(), id, lifecycle.Decision(req.Decision), req.ExtraDays)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

// --- Status ---

func (s *Server) statusOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := stats.Overview(r.Context(), s.store)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}
