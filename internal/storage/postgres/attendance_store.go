package postgres

import (
	"context"

	"github.com/goodtune/classlog/internal/storage"
	"github.com/jmoiron/sqlx"
)

const eventColumns = `student_id, session_id, subject_id, date, "time", status, marked_at`

type attendanceStore struct {
	db *sqlx.DB
}

// RecordAttendance relies on the (session_id, student_id) unique constraint
func (s *attendanceStore) RecordAttendance(ctx context.Context, event storage.AttendanceEvent) error {
	if err := storage.ValidateEvent(event); err != nil {
		return err
	}

	query := `
		INSERT INTO attendance (` + eventColumns + `)
		VALUES (:student_id, :session_id, :subject_id, :date, :time, :status, :marked_at)
		ON CONFLICT (session_id, student_id) DO NOTHING
	`
	res, err := s.db.NamedExecContext(ctx, query, event)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrAlreadyMarked
	}
	return nil
}

func (s *attendanceStore) MarkAttendance(ctx context.Context, event storage.AttendanceEvent) (bool, error) {
	if err := storage.ValidateEvent(event); err != nil {
		return false, err
	}

	// xmax is zero only for freshly inserted rows
	query := `
		INSERT INTO attendance (` + eventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id, student_id) DO UPDATE SET
			subject_id = EXCLUDED.subject_id,
			date = EXCLUDED.date,
			"time" = EXCLUDED."time",
			status = EXCLUDED.status,
			marked_at = EXCLUDED.marked_at
		RETURNING (xmax = 0) AS inserted
	`

	var inserted bool
	err := s.db.QueryRowxContext(ctx, query,
		event.StudentID, event.SessionID, event.SubjectID,
		event.Date, event.Time, string(event.Status), event.MarkedAt,
	).Scan(&inserted)
	if err != nil {
		return false, err
	}
	return inserted, nil
}

func (s *attendanceStore) ListEvents(ctx context.Context, studentID string) ([]storage.AttendanceEvent, error) {
	events := []storage.AttendanceEvent{}
	err := s.db.SelectContext(ctx, &events,
		`SELECT `+eventColumns+` FROM attendance WHERE student_id = $1 ORDER BY marked_at DESC`,
		studentID,
	)
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (s *attendanceStore) ListSessionEvents(ctx context.Context, sessionID string) ([]storage.AttendanceEvent, error) {
	events := []storage.AttendanceEvent{}
	err := s.db.SelectContext(ctx, &events,
		`SELECT `+eventColumns+` FROM attendance WHERE session_id = $1 ORDER BY marked_at DESC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	return events, nil
}
