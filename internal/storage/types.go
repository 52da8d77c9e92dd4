package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Status is the attendance state recorded for a student in a session.
type Status string

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
	StatusLate    Status = "late"
)

// ParseStatus normalizes s to a known Status.
func ParseStatus(s string) (Status, error) {
	normalized := Status(strings.ToLower(strings.TrimSpace(s)))

	switch normalized {
	case StatusPresent, StatusAbsent, StatusLate:
		return normalized, nil
	default:
		return "", fmt.Errorf("invalid status: %s (must be present, absent, or late)", s)
	}
}

// Attended reports whether the status counts towards attendance.
func (s Status) Attended() bool {
	return s == StatusPresent || s == StatusLate
}

// UnmarshalJSON implements json.Unmarshaler to normalize status to lowercase.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Session is one teacher-initiated attendance window for a group, subject and date.
type Session struct {
	ID            string    `json:"id" db:"id"`
	GroupID       string    `json:"group_id" db:"group_id"`
	SubjectID     string    `json:"subject_id" db:"subject_id"`
	TeacherID     string    `json:"teacher_id" db:"teacher_id"`
	Name          string    `json:"name" db:"name"`
	Date          string    `json:"date" db:"date"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	LastRenewedAt time.Time `json:"last_renewed_at" db:"last_renewed_at"`
	Active        bool      `json:"active" db:"active"`
}

// WatermarkMillis returns LastRenewedAt in milliseconds since the epoch.
func (s *Session) WatermarkMillis() int64 {
	return s.LastRenewedAt.UnixMilli()
}

// AttendanceEvent is the single attendance record for a (student, session) pair.
type AttendanceEvent struct {
	StudentID string    `json:"student_id" db:"student_id"`
	SessionID string    `json:"session_id" db:"session_id"`
	SubjectID string    `json:"subject_id" db:"subject_id"`
	Date      string    `json:"date" db:"date"`
	Time      string    `json:"time" db:"time"`
	Status    Status    `json:"status" db:"status"`
	MarkedAt  time.Time `json:"marked_at" db:"marked_at"`
}

// Assignment is a (group, subject) pair a teacher runs sessions for.
type Assignment struct {
	GroupID   string `json:"group_id" db:"group_id"`
	SubjectID string `json:"subject_id" db:"subject_id"`
}

// Student is a roster entry.
type Student struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	GroupID  string   `json:"group_id"`
	Subjects []string `json:"subjects"`
}

// StampEvent fills Date, Time and MarkedAt from t.
func StampEvent(ev *AttendanceEvent, t time.Time) {
	ev.Date = t.Format("2006-01-02")
	ev.Time = t.Format("15:04:05")
	ev.MarkedAt = t
}
