package consultation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	maxUploadBytes = 10 << 20
	reportFileName = "gendoc_report.pdf"
)

// ReportService renders and delivers the PDF report for a session.
type ReportService interface {
	Render(s Session) ([]byte, error)
	Share(ctx context.Context, s Session) error
}

type Handler struct {
	svc     Service
	repo    Repository
	reports ReportService
	log     *slog.Logger
}

func NewHandler(svc Service, repo Repository, reports ReportService, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, repo: repo, reports: reports, log: log}
}

type sessionView struct {
	Session
	ChatActive bool `json:"chat_active"`
}

type LocationRequest struct {
	LocationCode string `json:"location_code"`
}

type ChatRequest struct {
	Question string `json:"question"`
}

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	s := h.svc.NewSession()
	if err := h.repo.Create(r.Context(), s); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": s.ID.String()})
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	s, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view(s))
}

// Analyze accepts the multipart form with the image and patient fields.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes+(1<<20))
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, r, ErrImageTooLarge)
			return
		}
		writeJSONError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	profile, err := parseProfile(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	img, err := readImage(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	s, err := h.repo.Update(r.Context(), id, func(s Session) (Session, error) {
		return h.svc.Analyze(r.Context(), s, profile, img)
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view(s))
}

func (h *Handler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	var req LocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request")
		return
	}
	s, err := h.repo.Update(r.Context(), id, func(s Session) (Session, error) {
		return h.svc.UpdateLocation(r.Context(), s, req.LocationCode)
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view(s))
}

func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request")
		return
	}
	s, err := h.repo.Update(r.Context(), id, func(s Session) (Session, error) {
		return h.svc.Ask(r.Context(), s, req.Question)
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view(s))
}

// Report streams a freshly rendered PDF; nothing is cached.
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	s, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if s.Analysis == "" {
		h.writeError(w, r, ErrNoAnalysis)
		return
	}
	data, err := h.reports.Render(s)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("render report: %w", err))
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, reportFileName))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *Handler) ShareReport(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	s, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if s.Analysis == "" {
		h.writeError(w, r, ErrNoAnalysis)
		return
	}
	if err := h.reports.Share(r.Context(), s); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

// RegisterRoutes mounts the session API. limit wraps the routes that call the
// generative model; it may be nil.
func RegisterRoutes(r chi.Router, h *Handler, limit func(http.Handler) http.Handler) {
	if limit == nil {
		limit = func(next http.Handler) http.Handler { return next }
	}
	r.Post("/sessions", h.CreateSession)
	r.Route("/sessions/{id}", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.With(limit).Post("/analyze", h.Analyze)
		r.With(limit).Post("/chat", h.Chat)
		r.Put("/location", h.UpdateLocation)
		r.Get("/report", h.Report)
		r.Post("/report/share", h.ShareReport)
	})
}

func parseProfile(r *http.Request) (PatientProfile, error) {
	age, err := strconv.Atoi(strings.TrimSpace(r.FormValue("age")))
	if err != nil {
		return PatientProfile{}, fmt.Errorf("%w: age must be a whole number", ErrInvalidProfile)
	}
	duration, err := strconv.Atoi(strings.TrimSpace(r.FormValue("duration_days")))
	if err != nil {
		return PatientProfile{}, fmt.Errorf("%w: duration_days must be a whole number", ErrInvalidProfile)
	}
	gender, err := ParseGender(r.FormValue("gender"))
	if err != nil {
		return PatientProfile{}, err
	}
	p := PatientProfile{
		Age:                 age,
		Gender:              gender,
		SymptomDurationDays: duration,
		FeverPresent:        parseCheckbox(r.FormValue("fever")),
		LocationCode:        strings.TrimSpace(r.FormValue("location_code")),
	}
	return p, p.Validate()
}

func parseCheckbox(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

// readImage reads the uploaded file and sniffs its type; the declared
// Content-Type of the part is ignored.
func readImage(r *http.Request) (Image, error) {
	file, header, err := r.FormFile("image")
	if err != nil {
		return Image{}, fmt.Errorf("%w: missing image file", ErrUnsupportedImage)
	}
	defer file.Close()
	if header.Size > maxUploadBytes {
		return Image{}, ErrImageTooLarge
	}

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		return Image{}, fmt.Errorf("read image: %w", err)
	}
	if len(data) > maxUploadBytes {
		return Image{}, ErrImageTooLarge
	}
	mtype := mimetype.Detect(data)
	if !SupportedImageType(mtype.String()) {
		return Image{}, fmt.Errorf("%w: %s (PNG or JPEG only)", ErrUnsupportedImage, mtype.String())
	}
	return Image{Data: data, MIMEType: mtype.String()}, nil
}

func sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid session id")
		return uuid.Nil, false
	}
	return id, true
}

func view(s Session) sessionView {
	if s.Specialists == nil {
		s.Specialists = []Specialist{}
	}
	if s.History == nil {
		s.History = []Message{}
	}
	return sessionView{Session: s, ChatActive: s.ChatActive()}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"
	switch {
	case errors.Is(err, ErrSessionNotFound):
		status, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, ErrInvalidProfile), errors.Is(err, ErrUnsupportedImage), errors.Is(err, ErrEmptyQuestion):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, ErrImageTooLarge):
		status, msg = http.StatusRequestEntityTooLarge, err.Error()
	case errors.Is(err, ErrNoAnalysis), errors.Is(err, ErrNoActiveChat):
		status, msg = http.StatusConflict, err.Error()
	case errors.Is(err, ErrSharingDisabled):
		status, msg = http.StatusServiceUnavailable, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		status, msg = http.StatusGatewayTimeout, "the model or places service did not respond in time"
	case errors.Is(err, ErrUpstream):
		status, msg = http.StatusBadGateway, err.Error()
	}
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSONError(w, status, msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
