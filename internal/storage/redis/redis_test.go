package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goodtune/classlog/internal/config"
	"github.com/goodtune/classlog/internal/storage"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	// miniredis.Addr() returns "host:port", so Port stays 0
	cfg := config.RedisConfig{
		Host:         mr.Addr(),
		Port:         0,
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
		KeyPrefix:    "test",
	}

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}

	return store, mr
}

func TestOpen_InvalidTimeout(t *testing.T) {
	_, err := Open(config.RedisConfig{Host: "localhost", DialTimeout: "soon"})
	if err == nil {
		t.Fatal("Expected error for invalid dial_timeout, got nil")
	}
}

func TestSessionStore_CreateAndGet(t *testing.T) {
	store, mr := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	sessions := store.Sessions()

	created, err := sessions.CreateSession(ctx, storage.Session{
		GroupID:   "g1",
		SubjectID: "math",
		TeacherID: "t1",
		Name:      "Algebra",
	})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if created.ID == "" {
		t.Fatal("Expected generated session ID")
	}
	if !created.Active {
		t.Error("Expected new session to be active")
	}
	if created.Date != created.CreatedAt.Format("2006-01-02") {
		t.Errorf("Expected date from CreatedAt, got %s", created.Date)
	}

	retrieved, err := sessions.GetSession(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}

	if retrieved.SubjectID != "math" {
		t.Errorf("Expected SubjectID math, got %s", retrieved.SubjectID)
	}
	if retrieved.WatermarkMillis() != created.WatermarkMillis() {
		t.Errorf("Expected watermark %d, got %d", created.WatermarkMillis(), retrieved.WatermarkMillis())
	}

	if !mr.Exists("test:session:" + created.ID) {
		t.Error("Expected session hash under the configured prefix")
	}
}

func TestSessionStore_CreateRejectsUnderscore(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	_, err := store.Sessions().CreateSession(context.Background(), storage.Session{ID: "bad_id", GroupID: "g1"})
	if err == nil {
		t.Fatal("Expected error for session id containing '_'")
	}
}

func TestStore_RejectsColonInIDs(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()

	_, err := store.Sessions().CreateSession(ctx, storage.Session{ID: "s1", GroupID: "g1:subject:math", SubjectID: "x"})
	if !errors.Is(err, storage.ErrInvalidID) {
		t.Errorf("Expected ErrInvalidID for group id with ':', got %v", err)
	}
	_, err = store.Sessions().CreateSession(ctx, storage.Session{ID: "s:1", GroupID: "g1"})
	if !errors.Is(err, storage.ErrInvalidID) {
		t.Errorf("Expected ErrInvalidID for session id with ':', got %v", err)
	}
	if _, err := store.Sessions().ListSessions(ctx, "g1:subject", "math"); !errors.Is(err, storage.ErrInvalidID) {
		t.Errorf("Expected ErrInvalidID from ListSessions, got %v", err)
	}

	err = store.Attendance().RecordAttendance(ctx, storage.AttendanceEvent{StudentID: "stu:1", SessionID: "s1"})
	if !errors.Is(err, storage.ErrInvalidID) {
		t.Errorf("Expected ErrInvalidID for student id with ':', got %v", err)
	}
	if err := store.Students().UpsertStudent(ctx, storage.Student{ID: "stu1", GroupID: "g:1"}); !errors.Is(err, storage.ErrInvalidID) {
		t.Errorf("Expected ErrInvalidID for student group with ':', got %v", err)
	}
	if _, err := store.Students().ListGroupStudents(ctx, "g:1"); !errors.Is(err, storage.ErrInvalidID) {
		t.Errorf("Expected ErrInvalidID from ListGroupStudents, got %v", err)
	}

	// g1 with subject "a:b" and g1:a with subject "b" would share an index key.
	if _, err := store.Sessions().CreateSession(ctx, storage.Session{ID: "s2", GroupID: "g1", SubjectID: "a:b"}); !errors.Is(err, storage.ErrInvalidID) {
		t.Errorf("Expected ErrInvalidID for subject id with ':', got %v", err)
	}
}

func TestSessionStore_ListTeacherAssignments(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	sessions := store.Sessions()

	for _, s := range []storage.Session{
		{ID: "s1", GroupID: "g2", SubjectID: "math", TeacherID: "t1"},
		{ID: "s2", GroupID: "g1", SubjectID: "physics", TeacherID: "t1"},
		{ID: "s3", GroupID: "g1", SubjectID: "math", TeacherID: "t1"},
		{ID: "s4", GroupID: "g1", SubjectID: "math", TeacherID: "t1"},
		{ID: "s5", GroupID: "g3", SubjectID: "art", TeacherID: "t2"},
		{ID: "s6", GroupID: "g4", SubjectID: "art"},
	} {
		if _, err := sessions.CreateSession(ctx, s); err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}
	}

	assignments, err := sessions.ListTeacherAssignments(ctx, "t1")
	if err != nil {
		t.Fatalf("ListTeacherAssignments failed: %v", err)
	}
	expected := []storage.Assignment{
		{GroupID: "g1", SubjectID: "math"},
		{GroupID: "g1", SubjectID: "physics"},
		{GroupID: "g2", SubjectID: "math"},
	}
	if len(assignments) != len(expected) {
		t.Fatalf("Expected %d assignments, got %v", len(expected), assignments)
	}
	for i := range expected {
		if assignments[i] != expected[i] {
			t.Errorf("Expected assignment %d to be %v, got %v", i, expected[i], assignments[i])
		}
	}

	none, err := sessions.ListTeacherAssignments(ctx, "nobody")
	if err != nil {
		t.Fatalf("ListTeacherAssignments failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("Expected no assignments, got %v", none)
	}
}

func TestSessionStore_GetMissing(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	_, err := store.Sessions().GetSession(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSessionStore_SetLastRenewedAtIsMonotonic(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	sessions := store.Sessions()

	base := time.UnixMilli(1_700_000_000_000).UTC()
	created, err := sessions.CreateSession(ctx, storage.Session{
		ID:            "s1",
		GroupID:       "g1",
		SubjectID:     "math",
		CreatedAt:     base,
		LastRenewedAt: base,
	})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if err := sessions.SetLastRenewedAt(ctx, created.ID, base.Add(20*time.Second)); err != nil {
		t.Fatalf("SetLastRenewedAt failed: %v", err)
	}
	// An out-of-order write must not move the watermark backwards
	if err := sessions.SetLastRenewedAt(ctx, created.ID, base.Add(10*time.Second)); err != nil {
		t.Fatalf("SetLastRenewedAt failed: %v", err)
	}

	retrieved, err := sessions.GetSession(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}

	want := base.Add(20 * time.Second).UnixMilli()
	if retrieved.WatermarkMillis() != want {
		t.Errorf("Expected watermark %d, got %d", want, retrieved.WatermarkMillis())
	}

	err = sessions.SetLastRenewedAt(ctx, "missing", base)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing session, got %v", err)
	}
}

func TestSessionStore_DeactivateAndList(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	sessions := store.Sessions()

	base := time.Now().UTC()
	fixtures := []storage.Session{
		{ID: "s1", GroupID: "g1", SubjectID: "math", CreatedAt: base.Add(-2 * time.Hour)},
		{ID: "s2", GroupID: "g1", SubjectID: "math", CreatedAt: base.Add(-time.Hour)},
		{ID: "s3", GroupID: "g1", SubjectID: "physics", CreatedAt: base},
		{ID: "s4", GroupID: "g2", SubjectID: "math", CreatedAt: base},
	}
	for _, fx := range fixtures {
		if _, err := sessions.CreateSession(ctx, fx); err != nil {
			t.Fatalf("CreateSession(%s) failed: %v", fx.ID, err)
		}
	}

	if err := sessions.Deactivate(ctx, "s1"); err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}
	if err := sessions.Deactivate(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	active, err := sessions.ListActiveSessions(ctx)
	if err != nil {
		t.Fatalf("ListActiveSessions failed: %v", err)
	}
	if len(active) != 3 {
		t.Errorf("Expected 3 active sessions, got %d", len(active))
	}
	for _, s := range active {
		if s.ID == "s1" {
			t.Error("Deactivated session s1 listed as active")
		}
	}

	math, err := sessions.ListSessions(ctx, "g1", "math")
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(math) != 2 {
		t.Fatalf("Expected 2 math sessions in g1, got %d", len(math))
	}
	if math[0].ID != "s2" || math[1].ID != "s1" {
		t.Errorf("Expected newest first [s2 s1], got [%s %s]", math[0].ID, math[1].ID)
	}
	if math[1].Active {
		t.Error("Expected s1 to be inactive")
	}

	group, err := sessions.ListSessions(ctx, "g1", "")
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(group) != 3 {
		t.Errorf("Expected 3 sessions in g1, got %d", len(group))
	}
}

func TestAttendanceStore_RecordOnce(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	attendance := store.Attendance()

	event := storage.AttendanceEvent{
		StudentID: "stu1",
		SessionID: "s1",
		SubjectID: "math",
		Status:    storage.StatusPresent,
	}
	storage.StampEvent(&event, time.Now().UTC())

	if err := attendance.RecordAttendance(ctx, event); err != nil {
		t.Fatalf("RecordAttendance failed: %v", err)
	}

	err := attendance.RecordAttendance(ctx, event)
	if !errors.Is(err, storage.ErrAlreadyMarked) {
		t.Fatalf("Expected ErrAlreadyMarked, got %v", err)
	}

	events, err := attendance.ListEvents(ctx, "stu1")
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if events[0].Status != storage.StatusPresent {
		t.Errorf("Expected status present, got %s", events[0].Status)
	}
	if events[0].Date != event.Date {
		t.Errorf("Expected date %s, got %s", event.Date, events[0].Date)
	}
}

func TestAttendanceStore_MarkOverwrites(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	attendance := store.Attendance()

	event := storage.AttendanceEvent{StudentID: "stu1", SessionID: "s1", SubjectID: "math", Status: storage.StatusAbsent}
	storage.StampEvent(&event, time.Now().UTC())

	created, err := attendance.MarkAttendance(ctx, event)
	if err != nil {
		t.Fatalf("MarkAttendance failed: %v", err)
	}
	if !created {
		t.Error("Expected first mark to create the event")
	}

	event.Status = storage.StatusLate
	created, err = attendance.MarkAttendance(ctx, event)
	if err != nil {
		t.Fatalf("MarkAttendance failed: %v", err)
	}
	if created {
		t.Error("Expected second mark to overwrite, not create")
	}

	events, err := attendance.ListSessionEvents(ctx, "s1")
	if err != nil {
		t.Fatalf("ListSessionEvents failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if events[0].Status != storage.StatusLate {
		t.Errorf("Expected status late, got %s", events[0].Status)
	}
}

func TestAttendanceStore_ListEmpty(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	events, err := store.Attendance().ListEvents(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("Expected no events, got %d", len(events))
	}
}

func TestStudentStore_UpsertMovesGroup(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	students := store.Students()

	student := storage.Student{ID: "stu1", Name: "Ada", GroupID: "g1", Subjects: []string{" math ", "", "physics"}}
	if err := students.UpsertStudent(ctx, student); err != nil {
		t.Fatalf("UpsertStudent failed: %v", err)
	}

	retrieved, err := students.GetStudent(ctx, "stu1")
	if err != nil {
		t.Fatalf("GetStudent failed: %v", err)
	}
	if len(retrieved.Subjects) != 2 || retrieved.Subjects[0] != "math" || retrieved.Subjects[1] != "physics" {
		t.Errorf("Expected subjects [math physics], got %v", retrieved.Subjects)
	}

	student.GroupID = "g2"
	if err := students.UpsertStudent(ctx, student); err != nil {
		t.Fatalf("UpsertStudent failed: %v", err)
	}

	g1, err := students.ListGroupStudents(ctx, "g1")
	if err != nil {
		t.Fatalf("ListGroupStudents failed: %v", err)
	}
	if len(g1) != 0 {
		t.Errorf("Expected g1 to be empty after move, got %d", len(g1))
	}

	g2, err := students.ListGroupStudents(ctx, "g2")
	if err != nil {
		t.Fatalf("ListGroupStudents failed: %v", err)
	}
	if len(g2) != 1 || g2[0].Name != "Ada" {
		t.Errorf("Expected Ada in g2, got %v", g2)
	}

	if _, err := students.GetStudent(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
