package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/goodtune/classlog/internal/storage"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type studentStore struct {
	db *sqlx.DB
}

type studentRow struct {
	ID       string         `db:"id"`
	Name     string         `db:"name"`
	GroupID  string         `db:"group_id"`
	Subjects pq.StringArray `db:"subjects"`
}

func (r studentRow) toStudent() storage.Student {
	return storage.Student{
		ID:       r.ID,
		Name:     r.Name,
		GroupID:  r.GroupID,
		Subjects: storage.NormalizeSubjects(r.Subjects),
	}
}

func (s *studentStore) UpsertStudent(ctx context.Context, student storage.Student) error {
	if err := storage.ValidateStudent(student); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO students (id, name, group_id, subjects)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			group_id = EXCLUDED.group_id,
			subjects = EXCLUDED.subjects
	`, student.ID, student.Name, student.GroupID, pq.Array(storage.NormalizeSubjects(student.Subjects)))
	return err
}

func (s *studentStore) GetStudent(ctx context.Context, id string) (*storage.Student, error) {
	var row studentRow
	err := s.db.GetContext(ctx, &row, `SELECT id, name, group_id, subjects FROM students WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	student := row.toStudent()
	return &student, nil
}

func (s *studentStore) ListGroupStudents(ctx context.Context, groupID string) ([]storage.Student, error) {
	var rows []studentRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, name, group_id, subjects FROM students WHERE group_id = $1 ORDER BY id`,
		groupID,
	)
	if err != nil {
		return nil, err
	}

	students := make([]storage.Student, 0, len(rows))
	for _, r := range rows {
		students = append(students, r.toStudent())
	}
	return students, nil
}
