package redis

import (
	"context"
	"sort"

	"github.com/goodtune/classlog/internal/storage"
	"github.com/redis/go-redis/v9"
)

type studentStore struct {
	client *redis.Client
	keys   keys
}

// UpsertStudent creates or updates a roster entry
func (s *studentStore) UpsertStudent(ctx context.Context, student storage.Student) error {
	if err := storage.ValidateStudent(student); err != nil {
		return err
	}

	script := redis.NewScript(upsertStudentScript)

	keys := []string{s.keys.student(student.ID), s.keys.groupStudents(student.GroupID)}
	args := []interface{}{
		student.ID,
		student.Name,
		student.GroupID,
		storage.JoinSubjects(student.Subjects),
		s.keys.prefix,
	}

	return script.Run(ctx, s.client, keys, args...).Err()
}

// GetStudent retrieves a roster entry by ID
func (s *studentStore) GetStudent(ctx context.Context, id string) (*storage.Student, error) {
	data, err := s.client.HGetAll(ctx, s.keys.student(id)).Result()
	if err != nil {
		return nil, err
	}

	return parseStudent(data)
}

// ListGroupStudents returns the students of a group ordered by ID
func (s *studentStore) ListGroupStudents(ctx context.Context, groupID string) ([]storage.Student, error) {
	if err := storage.ValidateID("group id", groupID); err != nil {
		return nil, err
	}

	ids, err := s.client.SMembers(ctx, s.keys.groupStudents(groupID)).Result()
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return []storage.Student{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))

	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.keys.student(id))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	students := make([]storage.Student, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}

		student, err := parseStudent(data)
		if err == nil {
			students = append(students, *student)
		}
	}

	sort.Slice(students, func(i, j int) bool { return students[i].ID < students[j].ID })
	return students, nil
}
