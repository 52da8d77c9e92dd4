package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/classlog/internal/config"
	"github.com/goodtune/classlog/internal/storage"
	"github.com/redis/go-redis/v9"
)

// Store implements the storage.Store interface using Redis
type Store struct {
	client          *redis.Client
	sessionStore    *sessionStore
	attendanceStore *attendanceStore
	studentStore    *studentStore
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig) (*Store, error) {
	// Parse timeouts
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Determine address
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	// Ping to verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	k := keys{prefix: cfg.KeyPrefix}
	if k.prefix == "" {
		k.prefix = "classlog"
	}

	store := &Store{
		client:          client,
		sessionStore:    &sessionStore{client: client, keys: k},
		attendanceStore: &attendanceStore{client: client, keys: k},
		studentStore:    &studentStore{client: client, keys: k},
	}

	return store, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks that Redis is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Sessions returns the SessionStore implementation
func (s *Store) Sessions() storage.SessionStore {
	return s.sessionStore
}

// Attendance returns the AttendanceStore implementation
func (s *Store) Attendance() storage.AttendanceStore {
	return s.attendanceStore
}

// Students returns the StudentStore implementation
func (s *Store) Students() storage.StudentStore {
	return s.studentStore
}

// keys builds the Redis key layout:
//
//	{prefix}:session:{id}                              hash
//	{prefix}:sessions:active                           set of session ids
//	{prefix}:sessions:group:{group}                    set of session ids
//	{prefix}:sessions:group:{group}:subject:{subject}  set of session ids
//	{prefix}:teacher:{teacher}:assignments             set of "{group}:{subject}"
//	{prefix}:attendance:{session}:{student}            hash
//	{prefix}:attendance:student:{student}              set of session ids
//	{prefix}:attendance:session:{session}              set of student ids
//	{prefix}:student:{id}                              hash
//	{prefix}:students:group:{group}                    set of student ids
//
// Identifiers never contain ':' (see storage.ValidateID), so no two layouts
// can produce the same key.
type keys struct {
	prefix string
}

func (k keys) session(id string) string {
	return fmt.Sprintf("%s:session:%s", k.prefix, id)
}

func (k keys) activeSessions() string {
	return k.prefix + ":sessions:active"
}

func (k keys) groupSessions(groupID string) string {
	return fmt.Sprintf("%s:sessions:group:%s", k.prefix, groupID)
}

func (k keys) subjectSessions(groupID, subjectID string) string {
	return fmt.Sprintf("%s:sessions:group:%s:subject:%s", k.prefix, groupID, subjectID)
}

func (k keys) teacherAssignments(teacherID string) string {
	return fmt.Sprintf("%s:teacher:%s:assignments", k.prefix, teacherID)
}

func (k keys) event(sessionID, studentID string) string {
	return fmt.Sprintf("%s:attendance:%s:%s", k.prefix, sessionID, studentID)
}

func (k keys) studentEvents(studentID string) string {
	return fmt.Sprintf("%s:attendance:student:%s", k.prefix, studentID)
}

func (k keys) sessionEvents(sessionID string) string {
	return fmt.Sprintf("%s:attendance:session:%s", k.prefix, sessionID)
}

func (k keys) student(id string) string {
	return fmt.Sprintf("%s:student:%s", k.prefix, id)
}

func (k keys) groupStudents(groupID string) string {
	return fmt.Sprintf("%s:students:group:%s", k.prefix, groupID)
}
