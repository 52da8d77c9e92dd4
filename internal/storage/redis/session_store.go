package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goodtune/classlog/internal/storage"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type sessionStore struct {
	client *redis.Client
	keys   keys
}

// CreateSession persists a new active session and indexes it
func (s *sessionStore) CreateSession(ctx context.Context, session storage.Session) (*storage.Session, error) {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if err := storage.ValidateSession(session); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.LastRenewedAt.IsZero() {
		session.LastRenewedAt = session.CreatedAt
	}
	if session.Date == "" {
		session.Date = session.CreatedAt.Format("2006-01-02")
	}
	session.Active = true

	script := redis.NewScript(createSessionScript)

	keys := []string{
		s.keys.session(session.ID),
		s.keys.activeSessions(),
		s.keys.groupSessions(session.GroupID),
		s.keys.subjectSessions(session.GroupID, session.SubjectID),
		s.keys.teacherAssignments(session.TeacherID),
	}
	args := []interface{}{
		session.ID,
		session.GroupID,
		session.SubjectID,
		session.TeacherID,
		session.Name,
		session.Date,
		session.CreatedAt.Format(time.RFC3339Nano),
		session.LastRenewedAt.UnixMilli(),
	}

	created, err := script.Run(ctx, s.client, keys, args...).Int()
	if err != nil {
		return nil, err
	}
	if created == 0 {
		return nil, fmt.Errorf("session %s already exists", session.ID)
	}

	return &session, nil
}

// GetSession retrieves a session by ID
func (s *sessionStore) GetSession(ctx context.Context, id string) (*storage.Session, error) {
	data, err := s.client.HGetAll(ctx, s.keys.session(id)).Result()
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	return parseSession(data)
}

// SetLastRenewedAt advances the rotation watermark of a session
func (s *sessionStore) SetLastRenewedAt(ctx context.Context, id string, renewedAt time.Time) error {
	script := redis.NewScript(renewSessionScript)

	found, err := script.Run(ctx, s.client, []string{s.keys.session(id)}, renewedAt.UnixMilli()).Int()
	if err != nil {
		return err
	}
	if found == 0 {
		return storage.ErrNotFound
	}

	return nil
}

// Deactivate marks a session as no longer accepting scans
func (s *sessionStore) Deactivate(ctx context.Context, id string) error {
	script := redis.NewScript(deactivateSessionScript)

	keys := []string{s.keys.session(id), s.keys.activeSessions()}

	found, err := script.Run(ctx, s.client, keys, id).Int()
	if err != nil {
		return err
	}
	if found == 0 {
		return storage.ErrNotFound
	}

	return nil
}

// ListSessions returns the sessions of a group, optionally for one subject
func (s *sessionStore) ListSessions(ctx context.Context, groupID, subjectID string) ([]storage.Session, error) {
	if err := storage.ValidateID("group id", groupID); err != nil {
		return nil, err
	}
	if err := storage.ValidateID("subject id", subjectID); err != nil {
		return nil, err
	}

	indexKey := s.keys.groupSessions(groupID)
	if subjectID != "" {
		indexKey = s.keys.subjectSessions(groupID, subjectID)
	}

	return s.listIndexed(ctx, indexKey)
}

// ListActiveSessions returns all active sessions
func (s *sessionStore) ListActiveSessions(ctx context.Context) ([]storage.Session, error) {
	return s.listIndexed(ctx, s.keys.activeSessions())
}

// ListTeacherAssignments returns the groups and subjects a teacher has run
// sessions for
func (s *sessionStore) ListTeacherAssignments(ctx context.Context, teacherID string) ([]storage.Assignment, error) {
	if err := storage.ValidateID("teacher id", teacherID); err != nil {
		return nil, err
	}

	members, err := s.client.SMembers(ctx, s.keys.teacherAssignments(teacherID)).Result()
	if err != nil {
		return nil, err
	}

	assignments := make([]storage.Assignment, 0, len(members))
	for _, member := range members {
		group, subject, ok := strings.Cut(member, ":")
		if !ok {
			continue
		}
		assignments = append(assignments, storage.Assignment{GroupID: group, SubjectID: subject})
	}

	storage.SortAssignments(assignments)
	return assignments, nil
}

func (s *sessionStore) listIndexed(ctx context.Context, indexKey string) ([]storage.Session, error) {
	sessionIDs, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, err
	}

	if len(sessionIDs) == 0 {
		return []storage.Session{}, nil
	}

	// Use pipeline for efficient batch retrieval
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(sessionIDs))

	for i, id := range sessionIDs {
		cmds[i] = pipe.HGetAll(ctx, s.keys.session(id))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	sessions := make([]storage.Session, 0, len(sessionIDs))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}

		session, err := parseSession(data)
		if err == nil {
			sessions = append(sessions, *session)
		}
	}

	storage.SortSessionsNewestFirst(sessions)
	return sessions, nil
}
