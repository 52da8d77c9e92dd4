package api

import (
	"math"
	"net/http"
	"strconv"

	"github.com/goodtune/classlog/internal/attendance"
	"github.com/goodtune/classlog/internal/liveness"
	"github.com/goodtune/classlog/internal/storage"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// SessionHandler handles session lifecycle and token display requests.
type SessionHandler struct {
	service    *attendance.Service
	controller *liveness.Controller
	qr         *qrRenderer
	logger     zerolog.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(service *attendance.Service, controller *liveness.Controller, qr *qrRenderer, logger zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		service:    service,
		controller: controller,
		qr:         qr,
		logger:     logger.With().Str("handler", "session").Logger(),
	}
}

type createSessionRequest struct {
	GroupID   string `json:"group_id"`
	SubjectID string `json:"subject_id"`
	TeacherID string `json:"teacher_id"`
	Name      string `json:"name"`
}

// TokenResponse is the current token of a rotating session.
type TokenResponse struct {
	SessionID        string `json:"session_id"`
	Payload          string `json:"payload"`
	IssuedAt         int64  `json:"issued_at"`
	ExpiresInSeconds int    `json:"expires_in_seconds"`
}

func tokenResponse(h *liveness.RotationHandle) TokenResponse {
	token := h.Token()
	return TokenResponse{
		SessionID:        token.SessionID,
		Payload:          token.Payload(),
		IssuedAt:         token.IssuedAt,
		ExpiresInSeconds: int(math.Ceil(h.ExpiresIn().Seconds())),
	}
}

// Create persists a session and starts its rotation.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	session, handle, err := h.service.StartSession(r.Context(), storage.Session{
		GroupID:   req.GroupID,
		SubjectID: req.SubjectID,
		TeacherID: req.TeacherID,
		Name:      req.Name,
	})
	if err != nil {
		writeServiceError(w, h.logger, err, "Session not found")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"session": session,
		"token":   tokenResponse(handle),
	})
}

// Stop ends a session's rotation and closes it to scans.
func (h *SessionHandler) Stop(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.service.StopSession(r.Context(), id); err != nil {
		writeServiceError(w, h.logger, err, "Session not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Session stopped",
	})
}

// handle returns the running rotation for a session, resuming it when this
// process is not rotating an active session yet.
func (h *SessionHandler) handle(w http.ResponseWriter, r *http.Request) (*liveness.RotationHandle, bool) {
	id := mux.Vars(r)["id"]

	handle, err := h.controller.StartSession(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "Session not found")
		return nil, false
	}
	return handle, true
}

// Token returns the current payload and the time left before it rotates.
func (h *SessionHandler) Token(w http.ResponseWriter, r *http.Request) {
	handle, ok := h.handle(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse(handle))
}

// QR renders the current payload as a PNG image.
func (h *SessionHandler) QR(w http.ResponseWriter, r *http.Request) {
	handle, ok := h.handle(w, r)
	if !ok {
		return
	}

	png, err := h.qr.Render(handle.Payload())
	if err != nil {
		h.logger.Error().Err(err).Str("session_id", handle.SessionID()).Msg("Failed to render QR code")
		writeError(w, http.StatusInternalServerError, "Failed to render QR code")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// Report returns the roster and statuses for a session.
func (h *SessionHandler) Report(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	report, err := h.service.SessionReport(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "Session not found")
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// ListGroup returns a group's sessions with their attendance averages,
// optionally filtered by ?subject= and ?teacher=.
func (h *SessionHandler) ListGroup(w http.ResponseWriter, r *http.Request) {
	group := mux.Vars(r)["group"]
	query := r.URL.Query()

	sessions, err := h.service.GroupSessions(r.Context(), group, query.Get("subject"), query.Get("teacher"))
	if err != nil {
		writeServiceError(w, h.logger, err, "Group not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// TeacherGroups returns the group and subject pairs a teacher has run
// sessions for.
func (h *SessionHandler) TeacherGroups(w http.ResponseWriter, r *http.Request) {
	teacher := mux.Vars(r)["id"]

	assignments, err := h.service.TeacherAssignments(r.Context(), teacher)
	if err != nil {
		writeServiceError(w, h.logger, err, "Teacher not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"groups": assignments,
		"count":  len(assignments),
	})
}
