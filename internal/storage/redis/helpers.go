package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/classlog/internal/storage"
)

// parseSession converts a Redis hash to Session
func parseSession(data map[string]string) (*storage.Session, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	createdAt, err := time.Parse(time.RFC3339Nano, data["created_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	renewedMillis, err := strconv.ParseInt(data["last_renewed_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse last_renewed_at: %w", err)
	}

	active, err := strconv.ParseBool(data["active"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse active: %w", err)
	}

	return &storage.Session{
		ID:            data["id"],
		GroupID:       data["group_id"],
		SubjectID:     data["subject_id"],
		TeacherID:     data["teacher_id"],
		Name:          data["name"],
		Date:          data["date"],
		CreatedAt:     createdAt,
		LastRenewedAt: time.UnixMilli(renewedMillis).UTC(),
		Active:        active,
	}, nil
}

// parseEvent converts a Redis hash to AttendanceEvent
func parseEvent(data map[string]string) (*storage.AttendanceEvent, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	markedAt, err := time.Parse(time.RFC3339Nano, data["marked_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse marked_at: %w", err)
	}

	status, err := storage.ParseStatus(data["status"])
	if err != nil {
		return nil, err
	}

	return &storage.AttendanceEvent{
		StudentID: data["student_id"],
		SessionID: data["session_id"],
		SubjectID: data["subject_id"],
		Date:      data["date"],
		Time:      data["time"],
		Status:    status,
		MarkedAt:  markedAt,
	}, nil
}

// parseStudent converts a Redis hash to Student
func parseStudent(data map[string]string) (*storage.Student, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	return &storage.Student{
		ID:       data["id"],
		Name:     data["name"],
		GroupID:  data["group_id"],
		Subjects: storage.SplitSubjects(data["subjects"]),
	}, nil
}

// eventArgs flattens an event into the ARGV layout shared by the attendance
// scripts
func eventArgs(event storage.AttendanceEvent) []interface{} {
	return []interface{}{
		event.StudentID,
		event.SessionID,
		event.SubjectID,
		event.Date,
		event.Time,
		string(event.Status),
		event.MarkedAt.Format(time.RFC3339Nano),
	}
}
