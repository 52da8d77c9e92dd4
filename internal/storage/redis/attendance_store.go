package redis

import (
	"context"

	"github.com/goodtune/classlog/internal/storage"
	"github.com/redis/go-redis/v9"
)

type attendanceStore struct {
	client *redis.Client
	keys   keys
}

func (s *attendanceStore) eventKeys(event storage.AttendanceEvent) []string {
	return []string{
		s.keys.event(event.SessionID, event.StudentID),
		s.keys.studentEvents(event.StudentID),
		s.keys.sessionEvents(event.SessionID),
	}
}

// RecordAttendance inserts an event unless the pair is already marked
func (s *attendanceStore) RecordAttendance(ctx context.Context, event storage.AttendanceEvent) error {
	if err := storage.ValidateEvent(event); err != nil {
		return err
	}

	script := redis.NewScript(recordAttendanceScript)

	inserted, err := script.Run(ctx, s.client, s.eventKeys(event), eventArgs(event)...).Int()
	if err != nil {
		return err
	}
	if inserted == 0 {
		return storage.ErrAlreadyMarked
	}

	return nil
}

// MarkAttendance inserts or overwrites the event for the pair
func (s *attendanceStore) MarkAttendance(ctx context.Context, event storage.AttendanceEvent) (bool, error) {
	if err := storage.ValidateEvent(event); err != nil {
		return false, err
	}

	script := redis.NewScript(markAttendanceScript)

	created, err := script.Run(ctx, s.client, s.eventKeys(event), eventArgs(event)...).Int()
	if err != nil {
		return false, err
	}

	return created == 1, nil
}

// ListEvents returns a student's events, newest first
func (s *attendanceStore) ListEvents(ctx context.Context, studentID string) ([]storage.AttendanceEvent, error) {
	sessionIDs, err := s.client.SMembers(ctx, s.keys.studentEvents(studentID)).Result()
	if err != nil {
		return nil, err
	}

	eventKeys := make([]string, len(sessionIDs))
	for i, sessionID := range sessionIDs {
		eventKeys[i] = s.keys.event(sessionID, studentID)
	}

	return s.fetch(ctx, eventKeys)
}

// ListSessionEvents returns the events recorded for a session, newest first
func (s *attendanceStore) ListSessionEvents(ctx context.Context, sessionID string) ([]storage.AttendanceEvent, error) {
	studentIDs, err := s.client.SMembers(ctx, s.keys.sessionEvents(sessionID)).Result()
	if err != nil {
		return nil, err
	}

	eventKeys := make([]string, len(studentIDs))
	for i, studentID := range studentIDs {
		eventKeys[i] = s.keys.event(sessionID, studentID)
	}

	return s.fetch(ctx, eventKeys)
}

func (s *attendanceStore) fetch(ctx context.Context, eventKeys []string) ([]storage.AttendanceEvent, error) {
	if len(eventKeys) == 0 {
		return []storage.AttendanceEvent{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(eventKeys))

	for i, key := range eventKeys {
		cmds[i] = pipe.HGetAll(ctx, key)
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	events := make([]storage.AttendanceEvent, 0, len(eventKeys))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}

		event, err := parseEvent(data)
		if err == nil {
			events = append(events, *event)
		}
	}

	storage.SortEventsNewestFirst(events)
	return events, nil
}
