package api

import (
	"net/http"

	"github.com/goodtune/classlog/internal/attendance"
	"github.com/goodtune/classlog/internal/storage"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// AttendanceHandler handles scans, manual marks and student reports.
type AttendanceHandler struct {
	service *attendance.Service
	logger  zerolog.Logger
}

// NewAttendanceHandler creates a new attendance handler.
func NewAttendanceHandler(service *attendance.Service, logger zerolog.Logger) *AttendanceHandler {
	return &AttendanceHandler{
		service: service,
		logger:  logger.With().Str("handler", "attendance").Logger(),
	}
}

// scanRequest accepts both snake_case and the camelCase used by existing
// mobile clients.
type scanRequest struct {
	StudentID      string `json:"student_id"`
	StudentIDCamel string `json:"studentId"`
	Payload        string `json:"payload"`
}

func (r scanRequest) studentID() string {
	if r.StudentID != "" {
		return r.StudentID
	}
	return r.StudentIDCamel
}

// ScanResponse reports the outcome of one scan attempt.
type ScanResponse struct {
	Success bool               `json:"success"`
	Outcome attendance.Outcome `json:"outcome"`
	Message string             `json:"message"`
}

// Scan validates a scanned payload. Every outcome is a 200; only store
// failures produce an error status.
func (h *AttendanceHandler) Scan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	// An empty or garbled payload is a MALFORMED_PAYLOAD outcome, not a bad request.
	if req.studentID() == "" {
		writeError(w, http.StatusBadRequest, "student_id is required")
		return
	}

	outcome, err := h.service.Scan(r.Context(), req.studentID(), req.Payload)
	if err != nil {
		writeServiceError(w, h.logger, err, "Session not found")
		return
	}

	writeJSON(w, http.StatusOK, ScanResponse{
		Success: outcome == attendance.OutcomeSuccess,
		Outcome: outcome,
		Message: outcome.Message(),
	})
}

type markRequest struct {
	StudentID string         `json:"student_id"`
	SessionID string         `json:"session_id"`
	Status    storage.Status `json:"status"`
}

// Mark records or overrides a student's status.
func (h *AttendanceHandler) Mark(w http.ResponseWriter, r *http.Request) {
	var req markRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	created, err := h.service.Mark(r.Context(), req.StudentID, req.SessionID, req.Status)
	if err != nil {
		writeServiceError(w, h.logger, err, "Session not found")
		return
	}

	message := "Attendance updated successfully."
	if created {
		message = "Attendance marked successfully."
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"created": created,
		"message": message,
	})
}

// Stats returns a student's history and per-subject statistics.
func (h *AttendanceHandler) Stats(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	report, err := h.service.StudentReport(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "Student not found")
		return
	}

	writeJSON(w, http.StatusOK, report)
}

type studentRequest struct {
	Name     string   `json:"name"`
	GroupID  string   `json:"group_id"`
	Subjects []string `json:"subjects"`
}

// UpsertStudent creates or updates a roster entry.
func (h *AttendanceHandler) UpsertStudent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req studentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	student := storage.Student{ID: id, Name: req.Name, GroupID: req.GroupID, Subjects: req.Subjects}
	if err := h.service.UpsertStudent(r.Context(), student); err != nil {
		writeServiceError(w, h.logger, err, "Student not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Student saved",
	})
}

// ListGroupStudents returns a group's roster.
func (h *AttendanceHandler) ListGroupStudents(w http.ResponseWriter, r *http.Request) {
	group := mux.Vars(r)["group"]

	students, err := h.service.GroupStudents(r.Context(), group)
	if err != nil {
		writeServiceError(w, h.logger, err, "Group not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"students": students,
		"count":    len(students),
	})
}
