package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// ErrInvalidID is returned when an identifier cannot be stored safely.
var ErrInvalidID = errors.New("storage: invalid identifier")

// ErrAlreadyMarked is returned when an attendance event already exists for a
// (student, session) pair and the write was insert-only.
var ErrAlreadyMarked = errors.New("storage: attendance already marked")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Ping(ctx context.Context) error
	Sessions() SessionStore
	Attendance() AttendanceStore
	Students() StudentStore
}

// SessionStore manages attendance sessions and their rotation watermark.
type SessionStore interface {
	// CreateSession persists a new active session. ID, CreatedAt and
	// LastRenewedAt are assigned by the store when empty.
	CreateSession(ctx context.Context, session Session) (*Session, error)
	GetSession(ctx context.Context, id string) (*Session, error)
	// SetLastRenewedAt advances the watermark. Older values are ignored so
	// the watermark never moves backwards.
	SetLastRenewedAt(ctx context.Context, id string, renewedAt time.Time) error
	Deactivate(ctx context.Context, id string) error
	// ListSessions returns the sessions of a group, optionally restricted to
	// one subject when subjectID is not empty.
	ListSessions(ctx context.Context, groupID, subjectID string) ([]Session, error)
	ListActiveSessions(ctx context.Context) ([]Session, error)
	// ListTeacherAssignments returns the distinct (group, subject) pairs a
	// teacher has created sessions for, ordered by group then subject.
	ListTeacherAssignments(ctx context.Context, teacherID string) ([]Assignment, error)
}

// AttendanceStore manages the attendance log.
type AttendanceStore interface {
	// RecordAttendance inserts an event and returns ErrAlreadyMarked when the
	// pair already has one.
	RecordAttendance(ctx context.Context, event AttendanceEvent) error
	// MarkAttendance inserts or overwrites the event for the pair and reports
	// whether a new row was created.
	MarkAttendance(ctx context.Context, event AttendanceEvent) (bool, error)
	ListEvents(ctx context.Context, studentID string) ([]AttendanceEvent, error)
	ListSessionEvents(ctx context.Context, sessionID string) ([]AttendanceEvent, error)
}

// StudentStore manages the roster.
type StudentStore interface {
	UpsertStudent(ctx context.Context, student Student) error
	GetStudent(ctx context.Context, id string) (*Student, error)
	ListGroupStudents(ctx context.Context, groupID string) ([]Student, error)
}
