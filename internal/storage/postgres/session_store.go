package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/goodtune/classlog/internal/storage"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const sessionColumns = `id, group_id, subject_id, teacher_id, name, date, created_at, last_renewed_at, active`

type sessionStore struct {
	db *sqlx.DB
}

func (s *sessionStore) CreateSession(ctx context.Context, session storage.Session) (*storage.Session, error) {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if err := storage.ValidateSession(session); err != nil {
		return nil, err
	}

	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	if session.LastRenewedAt.IsZero() {
		session.LastRenewedAt = session.CreatedAt
	}
	if session.Date == "" {
		session.Date = session.CreatedAt.Format("2006-01-02")
	}
	session.Active = true

	query := `
		INSERT INTO sessions (` + sessionColumns + `)
		VALUES (:id, :group_id, :subject_id, :teacher_id, :name, :date, :created_at, :last_renewed_at, :active)
	`
	if _, err := s.db.NamedExecContext(ctx, query, session); err != nil {
		return nil, err
	}

	return &session, nil
}

func (s *sessionStore) GetSession(ctx context.Context, id string) (*storage.Session, error) {
	var session storage.Session
	err := s.db.GetContext(ctx, &session, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// SetLastRenewedAt uses GREATEST so the watermark never moves backwards
func (s *sessionStore) SetLastRenewedAt(ctx context.Context, id string, renewedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_renewed_at = GREATEST(last_renewed_at, $2) WHERE id = $1`,
		id, renewedAt.UTC(),
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sessionStore) Deactivate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sessionStore) ListSessions(ctx context.Context, groupID, subjectID string) ([]storage.Session, error) {
	sessions := []storage.Session{}

	var err error
	if subjectID == "" {
		err = s.db.SelectContext(ctx, &sessions,
			`SELECT `+sessionColumns+` FROM sessions WHERE group_id = $1 ORDER BY created_at DESC`,
			groupID,
		)
	} else {
		err = s.db.SelectContext(ctx, &sessions,
			`SELECT `+sessionColumns+` FROM sessions WHERE group_id = $1 AND subject_id = $2 ORDER BY created_at DESC`,
			groupID, subjectID,
		)
	}
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (s *sessionStore) ListTeacherAssignments(ctx context.Context, teacherID string) ([]storage.Assignment, error) {
	assignments := []storage.Assignment{}
	err := s.db.SelectContext(ctx, &assignments,
		`SELECT DISTINCT group_id, subject_id FROM sessions WHERE teacher_id = $1 ORDER BY group_id, subject_id`,
		teacherID,
	)
	if err != nil {
		return nil, err
	}
	return assignments, nil
}

func (s *sessionStore) ListActiveSessions(ctx context.Context) ([]storage.Session, error) {
	sessions := []storage.Session{}
	err := s.db.SelectContext(ctx, &sessions,
		`SELECT `+sessionColumns+` FROM sessions WHERE active ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
