package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
)

// Handler exposes the attempt lifecycle over JSON HTTP. The caller's identity
// arrives in X-User-Id from the external auth layer; this service trusts it.
type Handler struct {
	service *app.AttemptService
}

func NewHandler(service *app.AttemptService) *Handler {
	return &Handler{service: service}
}

// Register mounts the routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/courses/{courseID}/lessons/{lessonID}/attempts", h.startAttempt)
	mux.HandleFunc("GET /api/v1/courses/{courseID}/lessons/{lessonID}/quiz", h.getQuizView)
	mux.HandleFunc("GET /api/v1/courses/{courseID}/lessons/{lessonID}/attempts", h.getHistory)
	mux.HandleFunc("POST /api/v1/attempts/{attemptID}/submit", h.submitAttempt)
	mux.HandleFunc("GET /api/v1/attempts/{attemptID}/results", h.getResults)
}

func (h *Handler) startAttempt(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	started, err := h.service.StartAttempt(r.Context(), userID, r.PathValue("courseID"), r.PathValue("lessonID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, started)
}

func (h *Handler) getQuizView(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	view, err := h.service.GetQuizView(r.Context(), userID, r.PathValue("courseID"), r.PathValue("lessonID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) getHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	history, err := h.service.GetAttemptHistory(r.Context(), userID, r.PathValue("lessonID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

type submitRequest struct {
	Answers []domain.AnswerSubmission `json:"answers"`
}

func (h *Handler) submitAttempt(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ErrInvalidSubmission)
		return
	}
	result, err := h.service.SubmitAttempt(r.Context(), userID, r.PathValue("attemptID"), req.Answers)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) getResults(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	result, err := h.service.GetResults(r.Context(), userID, r.PathValue("attemptID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func callerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing X-User-Id"})
		return "", false
	}
	return userID, true
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrCourseNotFound),
		errors.Is(err, domain.ErrLessonNotFound),
		errors.Is(err, domain.ErrAttemptNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrNotAQuiz),
		errors.Is(err, domain.ErrInvalidSubmission):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrAlreadyFinalized),
		errors.Is(err, domain.ErrAttemptConflict),
		errors.Is(err, domain.ErrAttemptInProgress):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrAttemptExpired):
		status = http.StatusGone
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
		writeJSON(w, status, errorBody{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("write response failed")
	}
}
